package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/health"
	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/queue/memqueue"
)

func TestCheckReportsGraphReachableAndQueueDepth(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	q := memqueue.New()
	require.NoError(t, q.Enqueue(ctx, queue.Signal{ID: "sig_1", Status: queue.StatusPending}))

	c := health.New(health.Options{Graph: g, Queue: q, L3Enabled: true})
	snap, err := c.Check(ctx)
	require.NoError(t, err)

	assert.True(t, snap.GraphReachable)
	assert.Equal(t, 1, snap.QueueDepth.Pending)
	assert.True(t, snap.L3Enabled)
	assert.Zero(t, snap.LastExtractionAge)
}

func TestCheckReportsExtractionAgeAfterNote(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	q := memqueue.New()

	now := time.Unix(1000, 0)
	c := health.New(health.Options{Graph: g, Queue: q, Now: func() time.Time { return now }})
	c.NoteExtraction()

	now = now.Add(90 * time.Second)
	snap, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, snap.LastExtractionAge)
}
