package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/calibration"
	"github.com/actiquest-dev/membria/extractor"
	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/health"
	"github.com/actiquest-dev/membria/queue/memqueue"
	"github.com/actiquest-dev/membria/skill"
)

func fixedSchedulerClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestOnTickRunsHealthCheckOnFirstTick(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	q := memqueue.New()
	h := health.New(health.Options{Graph: g, Queue: q})

	s := New(Options{
		Health:         h,
		HealthInterval: time.Minute,
		Now:            fixedSchedulerClock(time.Unix(100, 0)),
	})

	assert.True(t, s.lastHealth.IsZero())
	s.onTick(ctx)
	assert.False(t, s.lastHealth.IsZero())
}

func TestOnTickSkipsExtractionBeforeIntervalElapses(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	ex := extractor.New(extractor.Options{Queue: memqueue.New(), Graph: memstore.New()})

	s := New(Options{
		Extractor:       ex,
		ExtractInterval: time.Hour,
		Now:             fixedSchedulerClock(now),
	})
	s.onTick(ctx)
	first := s.lastExtract
	require.False(t, first.IsZero())

	s.now = fixedSchedulerClock(now.Add(time.Minute))
	s.onTick(ctx)
	assert.Equal(t, first, s.lastExtract, "must not re-run extraction before the interval elapses")
}

func TestNotifyOutcomeIsAppliedOnDrain(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
		ID: "dec_1", Module: graphmodel.ModuleAuth, Outcome: graphmodel.OutcomeSuccess, Confidence: 0.7,
	}))
	cal := calibration.New(g, func() time.Time { return time.Unix(5, 0) }, nil)

	s := New(Options{Calibration: cal})
	s.NotifyOutcome(graphmodel.ModuleAuth, graphmodel.OutcomeSuccess, 0.7)
	s.drainEvents(ctx)

	p, err := g.GetCalibrationProfile(ctx, graphmodel.ModuleAuth)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha)
}

func TestNotifySkillEligibleCoalescesDuplicates(t *testing.T) {
	s := New(Options{})
	s.NotifySkillEligible(context.Background(), graphmodel.ModuleAuth)
	s.NotifySkillEligible(context.Background(), graphmodel.ModuleAuth)

	assert.Len(t, s.skillEvents, 1)
}

func TestHandleSkillEligibleGeneratesSkillAndClearsPending(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
		ID: "dec_1", Module: graphmodel.ModuleAuth, Outcome: graphmodel.OutcomeSuccess, Statement: "Use JWT",
	}))
	gen := skill.New(g, func() time.Time { return time.Unix(9, 0) })

	s := New(Options{Skill: gen})
	s.NotifySkillEligible(ctx, graphmodel.ModuleAuth)
	s.drainEvents(ctx)

	current, err := g.CurrentSkill(ctx, graphmodel.ModuleAuth)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)

	s.pendingMu.Lock()
	_, stillPending := s.pendingSkill[graphmodel.ModuleAuth]
	s.pendingMu.Unlock()
	assert.False(t, stillPending)
}

func TestDrainProcessesQueuedEventsWithinGrace(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
		ID: "dec_1", Module: graphmodel.ModuleAPI, Outcome: graphmodel.OutcomeFailure, Confidence: 0.5,
	}))
	cal := calibration.New(g, func() time.Time { return time.Unix(5, 0) }, nil)

	s := New(Options{Calibration: cal})
	s.NotifyOutcome(graphmodel.ModuleAPI, graphmodel.OutcomeFailure, 0.5)
	s.drain(100 * time.Millisecond)

	p, err := g.GetCalibrationProfile(ctx, graphmodel.ModuleAPI)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Beta)
}

func TestRunExitsOnContextCancelAfterDrainingQueuedEvents(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
		ID: "dec_1", Module: graphmodel.ModuleInfra, Outcome: graphmodel.OutcomeSuccess, Confidence: 0.6,
	}))
	cal := calibration.New(g, func() time.Time { return time.Unix(5, 0) }, nil)

	s := New(Options{Calibration: cal, Tick: 5 * time.Millisecond, GraceTimeout: 200 * time.Millisecond})
	s.NotifyOutcome(graphmodel.ModuleInfra, graphmodel.OutcomeSuccess, 0.6)

	runCtx, cancel := context.WithCancel(ctx)
	cancel()

	err := s.Run(runCtx)
	require.NoError(t, err)

	p, err := g.GetCalibrationProfile(ctx, graphmodel.ModuleInfra)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha)
}
