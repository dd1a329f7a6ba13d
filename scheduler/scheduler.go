// Package scheduler runs the daemon's single cooperative background
// worker: a 1-second tick loop that fires periodic batch extraction and
// health checks, and drains outcome/eligibility events posted by other
// components (spec §4.11).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/actiquest-dev/membria/calibration"
	"github.com/actiquest-dev/membria/extractor"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/health"
	"github.com/actiquest-dev/membria/skill"
	"github.com/actiquest-dev/membria/telemetry"
)

// DefaultTick is the loop's polling granularity (spec §4.11: "tick = 1
// second").
const DefaultTick = time.Second

// eventQueueSize bounds the outcome/eligibility event channels. Both are
// drained once per tick well before this fills under any realistic
// outcome-reporting rate; a full channel means NotifyOutcome/
// NotifySkillEligible drop the event and log, rather than block the
// caller.
const eventQueueSize = 256

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

type outcomeEvent struct {
	domain     graphmodel.Module
	outcome    graphmodel.DecisionOutcome
	confidence float64
}

// Scheduler owns the extraction/health tickers and the outcome and skill
// eligibility event queues, processing one item at a time so none of its
// dependencies need their own goroutine (spec §5: "Scheduler — a
// dedicated worker running the 1-second tick loop").
type Scheduler struct {
	extractor   *extractor.Extractor
	calibration *calibration.Engine
	skill       *skill.Generator
	health      *health.Checker
	log         telemetry.Logger
	metrics     telemetry.Metrics

	now             Clock
	tick            time.Duration
	extractInterval time.Duration
	healthInterval  time.Duration
	grace           time.Duration

	lastExtract time.Time
	lastHealth  time.Time

	outcomeEvents chan outcomeEvent
	skillEvents   chan graphmodel.Module

	pendingMu    sync.Mutex
	pendingSkill map[graphmodel.Module]bool
}

// Options configures a Scheduler.
type Options struct {
	Extractor       *extractor.Extractor
	Calibration     *calibration.Engine
	Skill           *skill.Generator
	Health          *health.Checker
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
	Now             Clock
	Tick            time.Duration
	ExtractInterval time.Duration
	HealthInterval  time.Duration
	GraceTimeout    time.Duration
}

// New builds a Scheduler. Tick defaults to DefaultTick.
func New(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Scheduler{
		extractor:       opts.Extractor,
		calibration:     opts.Calibration,
		skill:           opts.Skill,
		health:          opts.Health,
		log:             log,
		metrics:         metrics,
		now:             now,
		tick:            tick,
		extractInterval: opts.ExtractInterval,
		healthInterval:  opts.HealthInterval,
		grace:           opts.GraceTimeout,
		outcomeEvents:   make(chan outcomeEvent, eventQueueSize),
		skillEvents:     make(chan graphmodel.Module, eventQueueSize),
		pendingSkill:    make(map[graphmodel.Module]bool),
	}
}

// NotifyOutcome queues domain's calibration refresh for the next tick,
// triggered by the Tool Protocol Endpoint's `link_outcome` handler once a
// Decision reaches a terminal outcome.
func (s *Scheduler) NotifyOutcome(domain graphmodel.Module, outcome graphmodel.DecisionOutcome, declaredConfidence float64) {
	select {
	case s.outcomeEvents <- outcomeEvent{domain: domain, outcome: outcome, confidence: declaredConfidence}:
	default:
		s.log.Warn(context.Background(), "scheduler: outcome event queue full, dropping", "domain", domain)
	}
}

// NotifySkillEligible queues domain for skill regeneration on the next
// tick. It matches calibration.EligibilityNotifier's signature, so it can
// be passed directly as calibration.New's onReady argument. Duplicate
// requests for the same domain before it has been processed are
// coalesced into one.
func (s *Scheduler) NotifySkillEligible(_ context.Context, domain graphmodel.Module) {
	s.pendingMu.Lock()
	already := s.pendingSkill[domain]
	if !already {
		s.pendingSkill[domain] = true
	}
	s.pendingMu.Unlock()
	if already {
		return
	}

	select {
	case s.skillEvents <- domain:
	default:
		s.log.Warn(context.Background(), "scheduler: skill event queue full, dropping", "domain", domain)
		s.pendingMu.Lock()
		delete(s.pendingSkill, domain)
		s.pendingMu.Unlock()
	}
}

// Run drives the tick loop until ctx is cancelled, then drains queued
// events for up to the configured grace period before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain(s.grace)
			return nil
		case <-ticker.C:
			s.onTick(ctx)
		}
	}
}

func (s *Scheduler) onTick(ctx context.Context) {
	s.drainEvents(ctx)

	now := s.now()
	if s.extractInterval > 0 && now.Sub(s.lastExtract) >= s.extractInterval {
		s.runExtraction(ctx)
		s.lastExtract = now
	}
	if s.healthInterval > 0 && now.Sub(s.lastHealth) >= s.healthInterval {
		s.runHealthCheck(ctx)
		s.lastHealth = now
	}
}

// drainEvents processes every outcome and skill-eligibility event queued
// since the last tick, one at a time.
func (s *Scheduler) drainEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.outcomeEvents:
			s.handleOutcome(ctx, ev)
			continue
		case domain := <-s.skillEvents:
			s.handleSkillEligible(ctx, domain)
			continue
		default:
			return
		}
	}
}

// drain processes any remaining queued events for up to timeout, used
// during shutdown (spec §4.11: "drains in-flight work with a bounded
// grace period").
func (s *Scheduler) drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.outcomeEvents:
			s.handleOutcome(ctx, ev)
		case domain := <-s.skillEvents:
			s.handleSkillEligible(ctx, domain)
		default:
			return
		}
	}
}

func (s *Scheduler) handleOutcome(ctx context.Context, ev outcomeEvent) {
	if s.calibration == nil {
		return
	}
	if _, err := s.calibration.Update(ctx, ev.domain, ev.outcome, ev.confidence); err != nil {
		s.log.Error(ctx, "scheduler: calibration update failed", "domain", ev.domain, "error", err)
	}
}

func (s *Scheduler) handleSkillEligible(ctx context.Context, domain graphmodel.Module) {
	s.pendingMu.Lock()
	delete(s.pendingSkill, domain)
	s.pendingMu.Unlock()

	if s.skill == nil {
		return
	}
	if _, err := s.skill.Generate(ctx, domain); err != nil {
		s.log.Error(ctx, "scheduler: skill generation failed", "domain", domain, "error", err)
	}
}

func (s *Scheduler) runExtraction(ctx context.Context) {
	if s.extractor == nil || !s.extractor.Enabled() {
		return
	}
	start := s.now()
	res, err := s.extractor.Run(ctx)
	s.metrics.RecordTimer("membria.extractor.latency", s.now().Sub(start))
	if err != nil {
		s.log.Error(ctx, "scheduler: batch extraction failed", "error", err)
		return
	}
	s.metrics.IncCounter("membria.extractor.extracted", float64(res.Extracted))
	s.metrics.IncCounter("membria.extractor.failed", float64(res.Failed))
	s.metrics.IncCounter("membria.extractor.dead", float64(res.Dead))
	if s.health != nil {
		s.health.NoteExtraction()
	}
}

func (s *Scheduler) runHealthCheck(ctx context.Context) {
	if s.health == nil {
		return
	}
	snap, err := s.health.Check(ctx)
	if err != nil {
		s.log.Error(ctx, "scheduler: health check failed", "error", err)
		return
	}
	s.metrics.RecordGauge("membria.queue.pending", float64(snap.QueueDepth.Pending))
	s.metrics.RecordGauge("membria.queue.dead", float64(snap.DeadSignals))
	if !snap.GraphReachable {
		s.log.Warn(ctx, "scheduler: graph store unreachable")
	}
}
