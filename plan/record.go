package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
)

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Recorder persists an approved plan as a PlanRecord plus one Decision
// per step and an Engram checkpointing the planning session, backing the
// `record_plan` tool (spec §6: "steps[], domain, confidence,
// duration_estimate, warnings_shown, warnings_heeded" -> "engram id,
// decision ids").
type Recorder struct {
	graph graph.Store
	now   Clock
}

// NewRecorder builds a Recorder. now defaults to time.Now.
func NewRecorder(g graph.Store, now Clock) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{graph: g, now: now}
}

// RecordInput is the `record_plan` tool's argument set.
type RecordInput struct {
	Steps            []string
	Domain           graphmodel.Module
	Confidence       float64
	DurationEstimate float64
	WarningsShown    int
	WarningsHeeded   int
	SessionID        string
}

// RecordResult is the `record_plan` tool's return value.
type RecordResult struct {
	EngramID    string
	DecisionIDs []string
}

// Record creates one pending Decision per step, an Engram checkpointing
// the planning session, and a PlanRecord snapshot for the Plan Context
// Builder's "past plans" section.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (RecordResult, error) {
	now := r.now().Unix()

	decisionIDs := make([]string, 0, len(in.Steps))
	for _, step := range in.Steps {
		d := &graphmodel.Decision{
			ID:         graphmodel.NewDecisionID(),
			SessionID:  in.SessionID,
			Statement:  step,
			Confidence: in.Confidence,
			Module:     in.Domain,
			CreatedAt:  now,
			CreatedBy:  "plan",
			Outcome:    graphmodel.OutcomePending,
		}
		if err := r.graph.PutDecision(ctx, d); err != nil {
			return RecordResult{}, fmt.Errorf("plan: put decision: %w", err)
		}
		decisionIDs = append(decisionIDs, d.ID)
	}

	eng := &graphmodel.Engram{
		ID:                 graphmodel.NewEngramID(),
		SessionID:          in.SessionID,
		CreatedAt:          now,
		DecisionsExtracted: len(decisionIDs),
	}
	if err := r.graph.PutEngram(ctx, eng); err != nil {
		return RecordResult{}, fmt.Errorf("plan: put engram: %w", err)
	}

	rec := &graphmodel.PlanRecord{
		ID:               graphmodel.NewPlanRecordID(),
		Domain:           in.Domain,
		Steps:            in.Steps,
		Confidence:       in.Confidence,
		DurationEstimate: in.DurationEstimate,
		WarningsShown:    in.WarningsShown,
		WarningsHeeded:   in.WarningsHeeded,
		EngramID:         eng.ID,
		DecisionIDs:      decisionIDs,
		CreatedAt:        now,
	}
	if err := r.graph.PutPlanRecord(ctx, rec); err != nil {
		return RecordResult{}, fmt.Errorf("plan: put plan record: %w", err)
	}

	return RecordResult{EngramID: eng.ID, DecisionIDs: decisionIDs}, nil
}
