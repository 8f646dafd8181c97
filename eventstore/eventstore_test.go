package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/document"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/eventlog"
	"github.com/eventledger/eventledger/eventstore"
	"github.com/eventledger/eventledger/model"
	"github.com/eventledger/eventledger/objectid"
	"github.com/eventledger/eventledger/projection"
	"github.com/eventledger/eventledger/snapshot"
	"github.com/eventledger/eventledger/storetype"
	"github.com/eventledger/eventledger/tagindex"
)

func newFacade(t *testing.T) (*eventstore.Store, *memblob.Store) {
	t.Helper()
	b := memblob.New()
	ctx := context.Background()
	require.NoError(t, b.CreateContainerIfAbsent(ctx, "document-tags"))
	require.NoError(t, b.CreateContainerIfAbsent(ctx, "stream-tags"))
	require.NoError(t, b.CreateContainerIfAbsent(ctx, "projections"))

	docs := storetype.NewRegistry[*document.Store]("blob")
	docs.Register("blob", document.New(b, "blob", nil, true))

	events := storetype.NewRegistry[*eventlog.Store]("blob")
	events.Register("blob", eventlog.New(b, "blob", nil))

	snaps := storetype.NewRegistry[*snapshot.Store]("blob")
	snaps.Register("blob", snapshot.New(b, nil))

	tags := storetype.NewRegistry[*tagindex.Store]("blob")
	docTags := tagindex.New(b, "document-tags", nil)
	streamTags := tagindex.New(b, "stream-tags", nil)
	tags.Register("blob", docTags)
	tags.Register("stream-blob", streamTags)

	regs := eventstore.Registries{Documents: docs, Events: events, Tags: tags, Snapshots: snaps}
	store := eventstore.New(regs, projection.New(b, nil), objectid.New(b), nil)
	return store, b
}

func activeStream(id string) model.StreamInformation {
	return model.StreamInformation{
		StreamIdentifier:   id,
		DataStore:          "blob",
		SnapShotStore:      "blob",
		DocumentTagStore:   "blob",
		StreamTagStore:     "stream-blob",
	}
}

func TestAppendAndReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	doc, err := store.CreateObject(ctx, "Order", "o-1", activeStream("s-1"))
	require.NoError(t, err)

	tokens, err := store.AppendEvents(ctx, doc, []model.Event{
		{EventType: "created", Payload: `{}`},
		{EventType: "shipped", Payload: `{}`},
	})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, int64(0), tokens[0].Version)
	require.Equal(t, int64(1), tokens[1].Version)

	events, err := store.ReadEvents(ctx, *doc, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)

	_, replayed, err := store.ReplayFrom(ctx, *doc)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
}

func TestAppendAcrossChunkRoll(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	stream := activeStream("s-1")
	stream.ChunkSettings = &model.ChunkSettings{EnableChunks: true, ChunkSize: 2}
	doc, err := store.CreateObject(ctx, "Order", "o-1", stream)
	require.NoError(t, err)

	_, err = store.AppendEvents(ctx, doc, []model.Event{
		{EventType: "a", Payload: "1"},
		{EventType: "b", Payload: "2"},
		{EventType: "c", Payload: "3"},
	})
	require.NoError(t, err)
	require.Len(t, doc.Active.StreamChunks, 2)

	events, err := store.ReadEvents(ctx, *doc, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(2), events[0].EventVersion)
}

func TestMigrateStreamPreservesAppendAbility(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	doc, err := store.CreateObject(ctx, "Order", "o-1", activeStream("s-1"))
	require.NoError(t, err)

	_, err = store.AppendEvents(ctx, doc, []model.Event{{EventType: "created", Payload: "{}"}})
	require.NoError(t, err)

	require.NoError(t, store.MigrateStream(ctx, doc, activeStream("s-2")))
	require.Len(t, doc.TerminatedStreams, 1)
	require.Equal(t, int64(-1), doc.Active.CurrentStreamVersion)

	tokens, err := store.AppendEvents(ctx, doc, []model.Event{{EventType: "resumed", Payload: "{}"}})
	require.NoError(t, err)
	require.Equal(t, int64(0), tokens[0].Version)
}

func TestTagAndUntagObjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	doc, err := store.CreateObject(ctx, "Order", "o-1", activeStream("s-1"))
	require.NoError(t, err)

	require.NoError(t, store.TagObject(ctx, *doc, "vip"))
	require.NoError(t, store.TagObject(ctx, *doc, "vip"))

	ids, err := store.ObjectsByTag(ctx, doc.Active, "vip")
	require.NoError(t, err)
	require.Equal(t, []string{"o-1"}, ids)

	require.NoError(t, store.UntagObject(ctx, *doc, "vip"))
	ids, err = store.ObjectsByTag(ctx, doc.Active, "vip")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestTakeSnapshotThenReplayFromSkipsEarlierEvents(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	doc, err := store.CreateObject(ctx, "Order", "o-1", activeStream("s-1"))
	require.NoError(t, err)

	_, err = store.AppendEvents(ctx, doc, []model.Event{
		{EventType: "a", Payload: "1"},
		{EventType: "b", Payload: "2"},
		{EventType: "c", Payload: "3"},
	})
	require.NoError(t, err)

	_, err = store.TakeSnapshot(ctx, doc, "totals", 1, []byte(`{"sum":2}`))
	require.NoError(t, err)

	rec, tail, err := store.ReplayFrom(ctx, *doc)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, tail, 1)
	require.Equal(t, int64(2), tail[0].EventVersion)
}

func TestGetObjectMissingReturnsDocumentNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	_, err := store.GetObject(ctx, "Order", "never", "blob")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindDocumentNotFound))
}

func TestStartProjectionRebuildFencesSecondCaller(t *testing.T) {
	ctx := context.Background()
	store, _ := newFacade(t)

	doc, err := store.CreateObject(ctx, "Order", "o-1", activeStream("s-1"))
	require.NoError(t, err)

	_, err = store.StartProjectionRebuild(ctx, *doc, "totals", "fp-1")
	require.NoError(t, err)

	_, err = store.StartProjectionRebuild(ctx, *doc, "totals", "fp-1")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidToken))
}
