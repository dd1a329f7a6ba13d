// Package graph defines the persistence layer interface for the reasoning
// graph (spec §3 "Ownership": "the Graph Store exclusively owns all nodes
// and edges"). Available implementations:
//
//   - memstore: in-memory store for tests, local development, and as the
//     default when no graph backend is configured.
//   - redisstore: Redis-backed store for durable, multi-process
//     deployments.
//
// Implementations must be safe for concurrent use and must serialize
// mutations through a single logical writer per spec §5 ("single-writer:
// all mutations serialized through a dedicated writer task or equivalent
// exclusive lock; any reader may run concurrently with any other
// reader").
package graph

import (
	"context"
	"errors"

	"github.com/actiquest-dev/membria/graphmodel"
)

// ErrNotFound is returned when a requested node does not exist.
var ErrNotFound = errors.New("graph: node not found")

// Store is the typed node/edge store with indexed lookups and traversal
// queries required by every other component (spec §2 "Graph Store").
//
// Node mutation methods overwrite-or-insert by ID ("upsert"); callers
// enforce lifecycle invariants (e.g. Decision immutability once terminal)
// before calling Put* — the store itself does not reject a write based on
// prior state, matching the teacher's thin store interfaces that validate
// shape, not domain invariants.
type Store interface {
	// Decisions

	PutDecision(ctx context.Context, d *graphmodel.Decision) error
	GetDecision(ctx context.Context, id string) (*graphmodel.Decision, error)
	ListDecisionsByModule(ctx context.Context, module graphmodel.Module, limit int) ([]*graphmodel.Decision, error)
	ListDecisionsByOutcome(ctx context.Context, module graphmodel.Module, outcomes []graphmodel.DecisionOutcome, limit int) ([]*graphmodel.Decision, error)
	ListTerminalDecisions(ctx context.Context, module graphmodel.Module) ([]*graphmodel.Decision, error)
	// ListDecisionsBySession returns Decisions recorded under sessionID
	// with CreatedAt >= sinceUnix, used by the Engram Capturer to
	// best-effort link a commit to the decisions made in that session
	// (spec §4.4).
	ListDecisionsBySession(ctx context.Context, sessionID string, sinceUnix int64) ([]*graphmodel.Decision, error)

	// Engrams

	PutEngram(ctx context.Context, e *graphmodel.Engram) error
	GetEngram(ctx context.Context, id string) (*graphmodel.Engram, error)
	ListRecentEngrams(ctx context.Context, sinceUnix int64) ([]*graphmodel.Engram, error)

	// Code changes

	PutCodeChange(ctx context.Context, c *graphmodel.CodeChange) error
	GetCodeChange(ctx context.Context, id string) (*graphmodel.CodeChange, error)

	// Outcomes

	PutOutcome(ctx context.Context, o *graphmodel.Outcome) error
	GetOutcome(ctx context.Context, id string) (*graphmodel.Outcome, error)

	// Negative knowledge and antipatterns

	PutNegativeKnowledge(ctx context.Context, nk *graphmodel.NegativeKnowledge) error
	ListNegativeKnowledgeByDomain(ctx context.Context, domain graphmodel.Module) ([]*graphmodel.NegativeKnowledge, error)

	PutAntiPattern(ctx context.Context, ap *graphmodel.AntiPattern) error
	ListAntiPatternsByCategory(ctx context.Context, category graphmodel.Module) ([]*graphmodel.AntiPattern, error)

	// Calibration profiles

	PutCalibrationProfile(ctx context.Context, p *graphmodel.CalibrationProfile) error
	GetCalibrationProfile(ctx context.Context, domain graphmodel.Module) (*graphmodel.CalibrationProfile, error)

	// Skills

	PutSkill(ctx context.Context, s *graphmodel.Skill) error
	GetSkill(ctx context.Context, id string) (*graphmodel.Skill, error)
	// CurrentSkill returns the highest-version Skill for domain, or
	// ErrNotFound if none exists yet.
	CurrentSkill(ctx context.Context, domain graphmodel.Module) (*graphmodel.Skill, error)
	ListSkillVersions(ctx context.Context, domain graphmodel.Module) ([]*graphmodel.Skill, error)

	// Plan records

	PutPlanRecord(ctx context.Context, p *graphmodel.PlanRecord) error
	// ListRecentPlanRecords returns up to limit PlanRecords for domain,
	// most recent first, for the Plan Context Builder's "past plans"
	// section (spec §4.5).
	ListRecentPlanRecords(ctx context.Context, domain graphmodel.Module, limit int) ([]*graphmodel.PlanRecord, error)

	// Edges

	PutEdge(ctx context.Context, e graphmodel.Edge) error
	// EdgesFrom returns outgoing edges of the given type from id, bounded
	// to at most limit results (0 means unlimited). For SIMILAR_TO, the
	// caller is responsible for bounding traversal depth per spec §9
	// (recommended <= 3); this method only returns the direct neighbor
	// set, not a recursive closure.
	EdgesFrom(ctx context.Context, id string, relType graphmodel.RelationType, limit int) ([]graphmodel.Edge, error)
	EdgesTo(ctx context.Context, id string, relType graphmodel.RelationType, limit int) ([]graphmodel.Edge, error)

	// Ping reports whether the backend is reachable, used by the health
	// check (spec §4.11).
	Ping(ctx context.Context) error
}
