package tagindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/tagindex"
)

func newStore(t *testing.T) *tagindex.Store {
	t.Helper()
	b := memblob.New()
	require.NoError(t, b.CreateContainerIfAbsent(context.Background(), "document-tags"))
	return tagindex.New(b, "document-tags", nil)
}

func TestSetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Set(ctx, "vip", "o-1"))
	require.NoError(t, store.Set(ctx, "vip", "o-1"))

	ids, err := store.Get(ctx, "vip")
	require.NoError(t, err)
	require.Equal(t, []string{"o-1"}, ids)
}

func TestSetAddsMultipleAndSortsResult(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Set(ctx, "vip", "o-2"))
	require.NoError(t, store.Set(ctx, "vip", "o-1"))

	ids, err := store.Get(ctx, "vip")
	require.NoError(t, err)
	require.Equal(t, []string{"o-1", "o-2"}, ids)
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Set(ctx, "vip", "o-1"))
	require.NoError(t, store.Remove(ctx, "vip", "o-1"))
	require.NoError(t, store.Remove(ctx, "vip", "o-1"))

	ids, err := store.Get(ctx, "vip")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestGetUnknownTagReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	ids, err := store.Get(ctx, "never-used")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestSetRejectsUnsafeTagName(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	err := store.Set(ctx, "../escape", "o-1")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindArgumentInvalid))
}
