package objectid_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/objectid"
)

func seedObjects(t *testing.T, b *memblob.Store, objectName string, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.CreateContainerIfAbsent(ctx, objectName))
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("%s/o-%03d.json", objectName, i)
		_, err := b.UploadBytes(ctx, path, []byte(`{}`), "application/json", blob.Conditions{})
		require.NoError(t, err)
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	b := memblob.New()
	seedObjects(t, b, "order", 1)
	p := objectid.New(b)

	ok, err := p.Exists(ctx, "order", "o-000")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Exists(ctx, "order", "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetObjectIdsPaginates(t *testing.T) {
	ctx := context.Background()
	b := memblob.New()
	seedObjects(t, b, "order", 5)
	p := objectid.New(b)

	var all []string
	continuation := ""
	for {
		ids, next, err := p.GetObjectIds(ctx, "order", continuation, 2)
		require.NoError(t, err)
		all = append(all, ids...)
		if next == "" {
			break
		}
		continuation = next
	}
	require.Len(t, all, 5)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	b := memblob.New()
	seedObjects(t, b, "order", 7)
	p := objectid.New(b)

	n, err := p.Count(ctx, "order")
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestCountAllAcrossObjectNames(t *testing.T) {
	ctx := context.Background()
	b := memblob.New()
	seedObjects(t, b, "order", 3)
	seedObjects(t, b, "invoice", 6)
	p := objectid.New(b)

	counts, err := objectid.CountAll(ctx, p, []string{"order", "invoice"}, 4)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"order": 3, "invoice": 6}, counts)
}
