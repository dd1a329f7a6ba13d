// Package extractor implements the Batch Extractor (L3): it dequeues
// pending signals, sends them to an external LLM as a single batch, and
// writes the resulting Decision nodes (spec §4.3).
package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/llm"
	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/telemetry"
)

// DefaultBatchSize is the default number of signals pulled per run
// (spec §6 config defaults).
const DefaultBatchSize = 10

// maxAttempts caps retries before a signal is marked dead (spec §4.3:
// "max 5 attempts; afterwards dead").
const maxAttempts = 5

// baseBackoff and maxBackoff bound the exponential retry schedule (spec
// §4.3: "exponential backoff, cap 24h").
const (
	baseBackoff = time.Minute
	maxBackoff  = 24 * time.Hour
)

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Extractor drains the signal queue in batches, deduplicates against the
// extraction cache, and turns novel signals into Decision nodes.
type Extractor struct {
	queue     queue.Store
	graph     graph.Store
	llm       llm.Extractor
	batchSize int
	now       Clock
	log       telemetry.Logger
	tracer    telemetry.Tracer
}

// Options configures an Extractor.
type Options struct {
	Queue     queue.Store
	Graph     graph.Store
	LLM       llm.Extractor
	BatchSize int
	Now       Clock
	Logger    telemetry.Logger
	// Tracer spans the external LLM call so extraction latency shows up
	// in traces, not just the scheduler's timer metric (SPEC_FULL.md §2
	// EXPANSION). Defaults to a no-op tracer.
	Tracer telemetry.Tracer
}

// New builds an Extractor. LLM may be nil, in which case Run always
// reports that L3 is disabled (spec §4.3: "when no LLM credential is
// configured, L3 is disabled").
func New(opts Options) *Extractor {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &Extractor{
		queue:     opts.Queue,
		graph:     opts.Graph,
		llm:       opts.LLM,
		batchSize: batchSize,
		now:       now,
		log:       log,
		tracer:    tracer,
	}
}

// Enabled reports whether an LLM provider is configured.
func (e *Extractor) Enabled() bool {
	return e.llm != nil
}

// Result summarizes one Run invocation for callers that report metrics.
type Result struct {
	Reserved  int
	Deduped   int
	Extracted int
	Failed    int
	Dead      int
}

// Run reserves up to the configured batch size of pending signals,
// skips any whose fingerprint already exists in the extraction cache,
// sends the rest to the LLM as one request, and persists the outcome of
// each signal. It is safe to call concurrently with itself only if the
// underlying queue.Store serializes Reserve, which all provided
// implementations do.
func (e *Extractor) Run(ctx context.Context) (Result, error) {
	var res Result
	if !e.Enabled() {
		return res, nil
	}

	claimed, err := e.queue.Reserve(ctx, e.batchSize)
	if err != nil {
		return res, err
	}
	res.Reserved = len(claimed)
	if len(claimed) == 0 {
		return res, nil
	}

	batch := make([]llm.SignalInput, len(claimed))
	for i, sig := range claimed {
		batch[i] = llm.SignalInput{ID: sig.ID, SourcePrompt: sig.SourcePrompt, SourceResponse: sig.SourceResponse}
	}

	spanCtx, span := e.tracer.Start(ctx, "extractor.llm_extract")
	drafts, err := e.llm.Extract(spanCtx, batch)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	if err != nil {
		for _, sig := range claimed {
			dead, failErr := e.fail(ctx, sig)
			if failErr != nil {
				e.log.Error(ctx, "extractor: mark signal failed failed", "signal_id", sig.ID, "error", failErr)
			}
			if dead {
				res.Dead++
			}
		}
		res.Failed = len(claimed)
		return res, nil
	}

	draftsByID := make(map[string]llm.Draft, len(drafts))
	for _, d := range drafts {
		draftsByID[d.SignalID] = d
	}

	for _, sig := range claimed {
		d, ok := draftsByID[sig.ID]
		if !ok {
			dead, failErr := e.fail(ctx, sig)
			if failErr != nil {
				e.log.Error(ctx, "extractor: mark signal failed failed", "signal_id", sig.ID, "error", failErr)
			}
			if dead {
				res.Dead++
			}
			res.Failed++
			continue
		}

		module := moduleOrFallback(d.Module, sig.Module)
		fp := fingerprint(d.DecisionStatement, string(module))

		if _, found, err := e.queue.CacheLookup(ctx, fp); err == nil && found {
			res.Deduped++
			if err := e.queue.MarkExtracted(ctx, sig.ID, fp, ""); err != nil {
				e.log.Error(ctx, "extractor: mark deduped signal extracted failed", "signal_id", sig.ID, "error", err)
			}
			continue
		}

		dec := &graphmodel.Decision{
			ID:           graphmodel.NewDecisionID(),
			Statement:    d.DecisionStatement,
			Alternatives: d.Alternatives,
			Confidence:   d.Confidence,
			Module:       module,
			CreatedAt:    e.now().Unix(),
			CreatedBy:    "l3",
			Outcome:      graphmodel.OutcomePending,
		}
		if err := e.graph.PutDecision(ctx, dec); err != nil {
			e.log.Error(ctx, "extractor: put decision failed", "signal_id", sig.ID, "error", err)
			dead, failErr := e.fail(ctx, sig)
			if failErr != nil {
				e.log.Error(ctx, "extractor: mark signal failed failed", "signal_id", sig.ID, "error", failErr)
			}
			if dead {
				res.Dead++
			}
			res.Failed++
			continue
		}
		if err := e.queue.MarkExtracted(ctx, sig.ID, fp, dec.ID); err != nil {
			e.log.Error(ctx, "extractor: mark signal extracted failed", "signal_id", sig.ID, "error", err)
			continue
		}
		res.Extracted++
	}

	return res, nil
}

// fail marks sig failed or, once it has exhausted maxAttempts, dead
// (spec §4.3: "max 5 attempts; afterwards dead"). The returned bool
// reports whether sig was marked dead, so Run can fold it into its
// Result.Dead count.
func (e *Extractor) fail(ctx context.Context, sig queue.Signal) (dead bool, err error) {
	attempts := sig.Attempts + 1
	if attempts >= maxAttempts {
		return true, e.queue.MarkFailed(ctx, sig.ID, 0, true)
	}
	delay := backoff(attempts)
	return false, e.queue.MarkFailed(ctx, sig.ID, e.now().Add(delay).Unix(), false)
}

// backoff returns 2^(attempts-1) minutes, capped at maxBackoff.
func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func moduleOrFallback(draftModule, signalModule string) graphmodel.Module {
	if draftModule != "" {
		return graphmodel.Module(draftModule)
	}
	return graphmodel.Module(signalModule)
}

// fingerprint computes the normalized dedup key described in spec §4.3:
// lowercased, whitespace-collapsed text plus module.
func fingerprint(text, module string) string {
	fields := strings.Fields(strings.ToLower(text))
	return strings.Join(fields, " ") + "|" + strings.ToLower(module)
}
