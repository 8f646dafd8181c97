package eventlog_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/document"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/eventlog"
	"github.com/eventledger/eventledger/hashchain"
	"github.com/eventledger/eventledger/model"
)

func newDoc(t *testing.T, active model.StreamInformation) (*model.ObjectDocument, *document.Store) {
	t.Helper()
	ds := document.New(memblob.New(), "blob", nil, true)
	doc, err := ds.Create(context.Background(), "order", "o-1", active)
	require.NoError(t, err)
	return doc, ds
}

func makeEvents(n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.Event{Timestamp: "2026-08-01T00:00:00Z", EventType: "placed", Payload: fmt.Sprintf("{\"i\":%d}", i)}
	}
	return out
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	doc, ds := newDoc(t, model.StreamInformation{StreamIdentifier: "o-1", DataStore: "blob"})
	es := eventlog.New(ds.Blob, "blob", nil)

	tokens, err := es.Append(ctx, doc, makeEvents(3))
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	require.Equal(t, int64(0), tokens[0].Version)
	require.Equal(t, int64(2), tokens[2].Version)
	require.Equal(t, int64(2), doc.Active.CurrentStreamVersion)

	events, err := es.Read(ctx, *doc, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(0), events[0].EventVersion)
	require.Equal(t, int64(2), events[2].EventVersion)
}

func TestAppendTwiceContinuesVersioning(t *testing.T) {
	ctx := context.Background()
	doc, ds := newDoc(t, model.StreamInformation{StreamIdentifier: "o-1", DataStore: "blob"})
	es := eventlog.New(ds.Blob, "blob", nil)

	_, err := es.Append(ctx, doc, makeEvents(2))
	require.NoError(t, err)
	require.NoError(t, ds.Set(ctx, doc))

	tokens, err := es.Append(ctx, doc, makeEvents(2))
	require.NoError(t, err)
	require.Equal(t, int64(2), tokens[0].Version)
	require.Equal(t, int64(3), tokens[1].Version)
	require.NoError(t, ds.Set(ctx, doc))

	events, err := es.Read(ctx, *doc, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 4)
}

// TestAppendSurvivesThirdRoundAfterTwoSets exercises a second and third
// Append to an already-existing, already-written stream with a real
// document.Store.Set persisted in between each one: the stream blob's
// lastObjectDocumentHash stamped by one Append must equal the document's
// actual hash once Set persists it, or the following Append's hash-chain
// check rejects it as KindHashChainBroken.
func TestAppendSurvivesThirdRoundAfterTwoSets(t *testing.T) {
	ctx := context.Background()
	doc, ds := newDoc(t, model.StreamInformation{StreamIdentifier: "o-1", DataStore: "blob"})
	es := eventlog.New(ds.Blob, "blob", nil)

	_, err := es.Append(ctx, doc, makeEvents(1))
	require.NoError(t, err)
	require.NoError(t, ds.Set(ctx, doc))

	_, err = es.Append(ctx, doc, makeEvents(1))
	require.NoError(t, err)
	require.NoError(t, ds.Set(ctx, doc))

	_, err = es.Append(ctx, doc, makeEvents(1))
	require.NoError(t, err, "a third append to the same stream must still link to the hash Set last persisted")
	require.NoError(t, ds.Set(ctx, doc))

	events, err := es.Read(ctx, *doc, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(0), events[0].EventVersion)
	require.Equal(t, int64(2), events[2].EventVersion)
}

func TestAppendRejectsBrokenHashChain(t *testing.T) {
	ctx := context.Background()
	doc, ds := newDoc(t, model.StreamInformation{StreamIdentifier: "o-1", DataStore: "blob"})
	es := eventlog.New(ds.Blob, "blob", nil)

	_, err := es.Append(ctx, doc, makeEvents(1))
	require.NoError(t, err)

	forged := *doc
	forged.Hash = "not-the-real-hash"
	_, err = es.Append(ctx, &forged, makeEvents(1))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindHashChainBroken))
}

func TestAppendChunkRoll(t *testing.T) {
	ctx := context.Background()
	active := model.StreamInformation{
		StreamIdentifier: "o-1",
		DataStore:        "blob",
		ChunkSettings:    &model.ChunkSettings{EnableChunks: true, ChunkSize: 100},
	}
	doc, ds := newDoc(t, active)
	es := eventlog.New(ds.Blob, "blob", nil)

	tokens, err := es.Append(ctx, doc, makeEvents(150))
	require.NoError(t, err)
	require.Len(t, tokens, 150)
	require.Len(t, doc.Active.StreamChunks, 2)
	require.Equal(t, int64(0), doc.Active.StreamChunks[0].FirstEventVersion)
	require.Equal(t, int64(99), doc.Active.StreamChunks[0].LastEventVersion)
	require.Equal(t, int64(100), doc.Active.StreamChunks[1].FirstEventVersion)
	require.Equal(t, int64(149), doc.Active.StreamChunks[1].LastEventVersion)

	require.NoError(t, ds.Set(ctx, doc))

	chunk0 := uint32(0)
	eventsInChunk0, err := es.Read(ctx, *doc, nil, nil, &chunk0)
	require.NoError(t, err)
	require.Len(t, eventsInChunk0, 100)

	chunk1 := uint32(1)
	eventsInChunk1, err := es.Read(ctx, *doc, nil, nil, &chunk1)
	require.NoError(t, err)
	require.Len(t, eventsInChunk1, 50)
}

func TestReadMissingStreamReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	b := memblob.New()
	require.NoError(t, b.CreateContainerIfAbsent(ctx, "order"))
	es := eventlog.New(b, "blob", nil)

	events, err := es.Read(ctx, model.ObjectDocument{
		ObjectName: "order",
		Active:     model.StreamInformation{StreamIdentifier: "never-appended"},
	}, nil, nil, nil)
	require.NoError(t, err)
	require.Nil(t, events)
}

func TestHashchainSentinelLinksToAnyDocumentHash(t *testing.T) {
	// Checks hashchain.LinksTo's "*" sentinel directly; no Append call and
	// no document store are involved.
	require.True(t, hashchain.LinksTo(model.HashAnySentinel, "anything"))
}
