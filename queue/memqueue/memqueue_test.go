package memqueue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/queue/memqueue"
)

func TestEnqueueReserveMarkExtracted(t *testing.T) {
	ctx := context.Background()
	s := memqueue.New()

	require.NoError(t, s.Enqueue(ctx, queue.Signal{ID: "sig_1", Module: "auth", CreatedAt: 1}))

	claimed, err := s.Reserve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, queue.StatusExtracting, claimed[0].Status)

	require.NoError(t, s.MarkExtracted(ctx, "sig_1", "fp-1", "dec_1"))

	id, found, err := s.CacheLookup(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dec_1", id)
}

func TestReserveDoesNotDoubleClaim(t *testing.T) {
	ctx := context.Background()
	s := memqueue.New()
	require.NoError(t, s.Enqueue(ctx, queue.Signal{ID: "sig_1", CreatedAt: 1}))

	first, err := s.Reserve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.Reserve(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestMarkFailedDeadTransition(t *testing.T) {
	ctx := context.Background()
	s := memqueue.New()
	require.NoError(t, s.Enqueue(ctx, queue.Signal{ID: "sig_1", CreatedAt: 1}))
	_, err := s.Reserve(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, "sig_1", 500, false))
	d, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Failed)

	// Failed signals are eligible for re-reservation.
	claimed, err := s.Reserve(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.MarkFailed(ctx, "sig_1", 0, true))
	d, err = s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Dead)
	assert.Equal(t, 0, d.Failed)
}

func TestRevertAndRepair(t *testing.T) {
	ctx := context.Background()
	s := memqueue.New()
	require.NoError(t, s.Enqueue(ctx, queue.Signal{ID: "sig_1", CreatedAt: 1}))
	require.NoError(t, s.Enqueue(ctx, queue.Signal{ID: "sig_2", CreatedAt: 2}))
	_, err := s.Reserve(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, s.Revert(ctx, "sig_1"))
	d, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Pending)
	assert.Equal(t, 1, d.Extracting)

	require.NoError(t, s.Repair(ctx))
	d, err = s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Pending)
	assert.Equal(t, 0, d.Extracting)
}

func TestMarkExtractedUnknownID(t *testing.T) {
	s := memqueue.New()
	err := s.MarkExtracted(context.Background(), "sig_missing", "fp", "dec_1")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}
