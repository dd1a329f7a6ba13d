package extractor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/extractor"
	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/llm"
	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/queue/memqueue"
)

type fakeExtractor struct {
	drafts []llm.Draft
	err    error
}

func (f *fakeExtractor) Extract(context.Context, []llm.SignalInput) ([]llm.Draft, error) {
	return f.drafts, f.err
}

func fixedClock() time.Time { return time.Unix(5000, 0) }

func TestRunDisabledWithoutLLM(t *testing.T) {
	e := extractor.New(extractor.Options{Queue: memqueue.New(), Graph: memstore.New()})
	assert.False(t, e.Enabled())

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, extractor.Result{}, res)
}

func TestRunCreatesDecisionOnSuccess(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	g := memstore.New()
	require.NoError(t, q.Enqueue(ctx, queue.Signal{ID: "sig_1", Module: "auth", CreatedAt: 1}))

	fake := &fakeExtractor{drafts: []llm.Draft{
		{SignalID: "sig_1", DecisionStatement: "Use JWT for auth", Confidence: 0.7, Module: "auth"},
	}}
	e := extractor.New(extractor.Options{Queue: q, Graph: g, LLM: fake, Now: fixedClock})

	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reserved)
	assert.Equal(t, 1, res.Extracted)

	decisions, err := g.ListDecisionsByModule(ctx, "auth", 0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "Use JWT for auth", decisions[0].Statement)

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Depth{}, d)
}

func TestRunDedupesAgainstExtractionCache(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	g := memstore.New()
	require.NoError(t, q.Enqueue(ctx, queue.Signal{ID: "sig_1", Module: "auth", CreatedAt: 1}))
	require.NoError(t, q.Enqueue(ctx, queue.Signal{ID: "sig_2", Module: "auth", CreatedAt: 2}))

	statement := "Use JWT for session auth"
	fake := &fakeExtractor{drafts: []llm.Draft{
		{SignalID: "sig_1", DecisionStatement: statement, Confidence: 0.7, Module: "auth"},
		{SignalID: "sig_2", DecisionStatement: statement, Confidence: 0.7, Module: "auth"},
	}}
	e := extractor.New(extractor.Options{Queue: q, Graph: g, LLM: fake, Now: fixedClock})

	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, 1, res.Deduped)

	decisions, err := g.ListDecisionsByModule(ctx, "auth", 0)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestRunMarksFailedOnProviderError(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	g := memstore.New()
	require.NoError(t, q.Enqueue(ctx, queue.Signal{ID: "sig_1", CreatedAt: 1}))

	fake := &fakeExtractor{err: errors.New("quota exceeded")}
	e := extractor.New(extractor.Options{Queue: q, Graph: g, LLM: fake, Now: fixedClock})

	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Failed)
}

func TestRunMarksDeadAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	g := memstore.New()
	require.NoError(t, q.Enqueue(ctx, queue.Signal{ID: "sig_1", Attempts: 4, CreatedAt: 1}))

	fake := &fakeExtractor{err: errors.New("quota exceeded")}
	e := extractor.New(extractor.Options{Queue: q, Graph: g, LLM: fake, Now: fixedClock})

	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dead)

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Dead)
}
