// Package engram implements the Engram Capturer (spec §4.4): it turns a
// commit event into an Engram checkpoint node, best-effort links recent
// Decisions made in the same session, and records CodeChange nodes for
// the commit.
package engram

import (
	"context"
	"time"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/telemetry"
)

// lookbackWindow bounds how far back a commit may reach to link Decisions
// made in the same session (spec §4.4: "recent (<=24h)").
const lookbackWindow = 24 * time.Hour

// CommitEvent is a commit record delivered either synchronously via a
// tool call or read from the drop directory (spec §4.4, §6 "Commit
// ingestion").
type CommitEvent struct {
	SHA             string
	Branch          string
	Message         string
	Author          string
	Timestamp       int64
	Files           []string
	LinesAdded      int
	LinesRemoved    int
	SessionID       string
	SessionDuration int64
	AgentType       string
	AgentModel      string
}

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Capturer turns commit events into Engram and CodeChange nodes.
type Capturer struct {
	graph graph.Store
	now   Clock
	log   telemetry.Logger
}

// Options configures a Capturer.
type Options struct {
	Graph  graph.Store
	Now    Clock
	Logger telemetry.Logger
}

// New builds a Capturer.
func New(opts Options) *Capturer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Capturer{graph: opts.Graph, now: now, log: log}
}

// Result summarizes one Capture invocation.
type Result struct {
	Engram          *graphmodel.Engram
	CodeChange      *graphmodel.CodeChange
	LinkedDecisions int
}

// Capture creates an Engram node for ev and attempts to link recent
// Decisions made in the same session, and a CodeChange node for the
// commit. Linking is best-effort: a failure to find or update Decisions
// does not prevent the Engram node's creation (spec §4.4).
func (c *Capturer) Capture(ctx context.Context, ev CommitEvent) (Result, error) {
	eng := &graphmodel.Engram{
		ID:              graphmodel.NewEngramID(),
		SessionID:       ev.SessionID,
		CommitID:        ev.SHA,
		CommitMessage:   ev.Message,
		Branch:          ev.Branch,
		CreatedAt:       c.now().Unix(),
		SessionDuration: ev.SessionDuration,
		AgentType:       ev.AgentType,
		AgentModel:      ev.AgentModel,
		FilesChanged:    len(ev.Files),
		LinesAdded:      ev.LinesAdded,
		LinesRemoved:    ev.LinesRemoved,
	}

	var linkedIDs []string
	if ev.SessionID != "" {
		since := c.now().Add(-lookbackWindow).Unix()
		decisions, err := c.graph.ListDecisionsBySession(ctx, ev.SessionID, since)
		if err != nil {
			c.log.Warn(ctx, "engram: list decisions by session failed", "session_id", ev.SessionID, "error", err)
		} else {
			for _, d := range decisions {
				d.EngramID = &eng.ID
				d.CommitID = &ev.SHA
				if err := c.graph.PutDecision(ctx, d); err != nil {
					c.log.Warn(ctx, "engram: link decision to engram failed", "decision_id", d.ID, "error", err)
					continue
				}
				linkedIDs = append(linkedIDs, d.ID)
			}
		}
	}
	eng.DecisionsExtracted = len(linkedIDs)

	if err := c.graph.PutEngram(ctx, eng); err != nil {
		return Result{}, err
	}

	change := &graphmodel.CodeChange{
		ID:           graphmodel.NewCodeChangeID(),
		CommitID:     ev.SHA,
		FilesChanged: ev.Files,
		DiffAdded:    ev.LinesAdded,
		DiffRemoved:  ev.LinesRemoved,
		Timestamp:    eng.CreatedAt,
		Author:       ev.Author,
	}
	// Multiple decisions may land in one commit; the CodeChange node
	// tracks only the primary one, mirroring the spec's nullable
	// singular DecisionID — the rest keep their link via CommitID.
	if len(linkedIDs) > 0 {
		change.DecisionID = &linkedIDs[0]
	}
	if err := c.graph.PutCodeChange(ctx, change); err != nil {
		c.log.Warn(ctx, "engram: put code change failed", "commit_id", ev.SHA, "error", err)
	}

	return Result{Engram: eng, CodeChange: change, LinkedDecisions: len(linkedIDs)}, nil
}
