package document_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/document"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/model"
)

func newStore(t *testing.T) *document.Store {
	t.Helper()
	return document.New(memblob.New(), "blob", nil, true)
}

func activeStream(id string) model.StreamInformation {
	return model.StreamInformation{StreamIdentifier: id, StreamType: "blob", DataStore: "blob"}
}

func TestCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	doc, err := store.Create(ctx, "order", "o-1", activeStream("o-1"))
	require.NoError(t, err)
	require.NotEmpty(t, doc.Hash)
	require.NotEmpty(t, doc.ETag)

	got, err := store.Get(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Equal(t, doc.Hash, got.Hash)
	require.Equal(t, doc.Active.StreamIdentifier, got.Active.StreamIdentifier)
}

func TestCreateConflict(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Create(ctx, "order", "o-1", activeStream("o-1"))
	require.NoError(t, err)

	_, err = store.Create(ctx, "order", "o-1", activeStream("o-1"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConcurrencyConflict))
}

func TestGetMissingReturnsDocumentNotFound(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.Get(ctx, "order", "missing")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindDocumentNotFound))
}

func TestSetRejectsStaleETag(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	doc, err := store.Create(ctx, "order", "o-1", activeStream("o-1"))
	require.NoError(t, err)

	stale, err := store.Get(ctx, "order", "o-1")
	require.NoError(t, err)

	doc.Active.CurrentStreamVersion = 1
	require.NoError(t, store.Set(ctx, doc))

	stale.Active.CurrentStreamVersion = 2
	err = store.Set(ctx, stale)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConcurrencyConflict))
}

func TestUpdateActiveConfigurationMigratesStream(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	doc, err := store.Create(ctx, "order", "o-1", activeStream("o-1"))
	require.NoError(t, err)
	doc.Active.CurrentStreamVersion = 5

	err = store.UpdateActiveConfiguration(ctx, doc, activeStream("o-1-v2"))
	require.NoError(t, err)

	require.Equal(t, "o-1-v2", doc.Active.StreamIdentifier)
	require.Equal(t, int64(-1), doc.Active.CurrentStreamVersion)
	require.Len(t, doc.TerminatedStreams, 1)
	require.Equal(t, "o-1", doc.TerminatedStreams[0].StreamIdentifier)
	require.Equal(t, int64(5), doc.TerminatedStreams[0].CurrentStreamVersion)

	reloaded, err := store.Get(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Equal(t, "o-1-v2", reloaded.Active.StreamIdentifier)
}

func TestUpdateActiveConfigurationRejectsSameStreamIdentifier(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	doc, err := store.Create(ctx, "order", "o-1", activeStream("o-1"))
	require.NoError(t, err)

	err = store.UpdateActiveConfiguration(ctx, doc, activeStream("o-1"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindArgumentInvalid))
}
