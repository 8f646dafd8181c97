package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/projection"
)

func newCoordinator(t *testing.T) *projection.Coordinator {
	t.Helper()
	b := memblob.New()
	require.NoError(t, b.CreateContainerIfAbsent(context.Background(), "projections"))
	return projection.New(b, nil)
}

func TestStartRebuildAndCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := c.StartRebuild(ctx, "Order", "o-1", "totals", "fp-1", now)
	require.NoError(t, err)
	require.NotEmpty(t, token.ID)

	cp, err := c.Get(ctx, "Order", "o-1", "totals")
	require.NoError(t, err)
	require.Equal(t, projection.StatusRebuilding, cp.Status)

	require.NoError(t, c.Checkpoint(ctx, "Order", "o-1", "totals", token, 5, []byte(`{"sum":1}`), now.Add(time.Second)))
	require.NoError(t, c.Complete(ctx, "Order", "o-1", "totals", token, now.Add(2*time.Second)))

	cp, err = c.Get(ctx, "Order", "o-1", "totals")
	require.NoError(t, err)
	require.Equal(t, projection.StatusComplete, cp.Status)
	require.Nil(t, cp.Token)
	require.Equal(t, int64(5), cp.LastVersion)
}

func TestStartRebuildRejectsLiveConcurrentToken(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.StartRebuild(ctx, "Order", "o-1", "totals", "fp-1", now)
	require.NoError(t, err)

	_, err = c.StartRebuild(ctx, "Order", "o-1", "totals", "fp-1", now.Add(time.Second))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidToken))
}

func TestStartRebuildSupersedesExpiredToken(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	c.TokenTTL = time.Minute
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := c.StartRebuild(ctx, "Order", "o-1", "totals", "fp-1", now)
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	second, err := c.StartRebuild(ctx, "Order", "o-1", "totals", "fp-2", later)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// the first, fenced-off token can no longer write.
	err = c.Checkpoint(ctx, "Order", "o-1", "totals", first, 1, nil, later)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidToken))
}

func TestHeartbeatRejectsStaleTokenAfterFail(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := c.StartRebuild(ctx, "Order", "o-1", "totals", "fp-1", now)
	require.NoError(t, err)
	require.NoError(t, c.Fail(ctx, "Order", "o-1", "totals", token, now.Add(time.Second)))

	err = c.Heartbeat(ctx, "Order", "o-1", "totals", token, now.Add(2*time.Second))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindInvalidToken))

	cp, err := c.Get(ctx, "Order", "o-1", "totals")
	require.NoError(t, err)
	require.Equal(t, projection.StatusFailed, cp.Status)
}

func TestGetOnUnknownProjectionReturnsIdle(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)

	cp, err := c.Get(ctx, "Order", "o-never", "totals")
	require.NoError(t, err)
	require.Equal(t, projection.StatusIdle, cp.Status)
	require.Nil(t, cp.Token)
}
