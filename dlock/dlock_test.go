package dlock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/dlock"
)

func newBlob(t *testing.T) *memblob.Store {
	t.Helper()
	b := memblob.New()
	require.NoError(t, b.CreateContainerIfAbsent(context.Background(), "locks"))
	return b
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBlob(t)

	lk, err := dlock.Acquire(ctx, b, "locks/order-1", 2, nil)
	require.NoError(t, err)
	require.NoError(t, lk.Err())
	require.NoError(t, lk.Release(ctx))
}

func TestSecondAcquireBlocksUntilFirstReleases(t *testing.T) {
	ctx := context.Background()
	b := newBlob(t)

	first, err := dlock.Acquire(ctx, b, "locks/order-1", 2, nil)
	require.NoError(t, err)

	var gotSecond int32
	done := make(chan struct{})
	go func() {
		second, err := dlock.Acquire(ctx, b, "locks/order-1", 2, nil)
		require.NoError(t, err)
		atomic.StoreInt32(&gotSecond, 1)
		require.NoError(t, second.Release(ctx))
		close(done)
	}()

	// The second acquirer must still be blocked shortly after the first
	// holds the lease.
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&gotSecond))

	require.NoError(t, first.Release(ctx))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second Acquire never completed after first Release")
	}
}

func TestAcquireFailsWhenContextCanceled(t *testing.T) {
	b := newBlob(t)

	holder, err := dlock.Acquire(context.Background(), b, "locks/order-1", 2, nil)
	require.NoError(t, err)
	defer holder.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = dlock.Acquire(ctx, b, "locks/order-1", 2, nil)
	require.Error(t, err)
}
