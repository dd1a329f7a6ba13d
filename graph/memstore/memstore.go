// Package memstore provides an in-memory implementation of graph.Store.
//
// This implementation is suitable for development, testing, and
// single-process deployments where persistence across restarts is not
// required.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
)

// Store is an in-memory implementation of graph.Store. It is safe for
// concurrent use; all mutations take the write lock so they are
// serialized, matching the single-writer discipline required by spec §5,
// while reads take the read lock and may run concurrently with one
// another.
type Store struct {
	mu sync.RWMutex

	decisions    map[string]*graphmodel.Decision
	engrams      map[string]*graphmodel.Engram
	codeChanges  map[string]*graphmodel.CodeChange
	outcomes     map[string]*graphmodel.Outcome
	negKnowledge map[string]*graphmodel.NegativeKnowledge
	antiPatterns map[string]*graphmodel.AntiPattern
	calibration  map[graphmodel.Module]*graphmodel.CalibrationProfile
	skills       map[string]*graphmodel.Skill
	plans        map[string]*graphmodel.PlanRecord
	edges        []graphmodel.Edge
}

// Compile-time check that Store implements graph.Store.
var _ graph.Store = (*Store)(nil)

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{
		decisions:    make(map[string]*graphmodel.Decision),
		engrams:      make(map[string]*graphmodel.Engram),
		codeChanges:  make(map[string]*graphmodel.CodeChange),
		outcomes:     make(map[string]*graphmodel.Outcome),
		negKnowledge: make(map[string]*graphmodel.NegativeKnowledge),
		antiPatterns: make(map[string]*graphmodel.AntiPattern),
		calibration:  make(map[graphmodel.Module]*graphmodel.CalibrationProfile),
		skills:       make(map[string]*graphmodel.Skill),
		plans:        make(map[string]*graphmodel.PlanRecord),
	}
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// PutDecision upserts a Decision by ID.
func (s *Store) PutDecision(_ context.Context, d *graphmodel.Decision) error {
	cp := *d
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ID] = &cp
	return nil
}

// GetDecision retrieves a Decision by ID.
func (s *Store) GetDecision(_ context.Context, id string) (*graphmodel.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// ListDecisionsByModule returns up to limit Decisions in module, newest
// first. limit <= 0 means unlimited.
func (s *Store) ListDecisionsByModule(_ context.Context, module graphmodel.Module, limit int) ([]*graphmodel.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.Decision
	for _, d := range s.decisions {
		if d.Module == module {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDecisionsByOutcome returns Decisions in module whose outcome is one
// of outcomes, newest first.
func (s *Store) ListDecisionsByOutcome(_ context.Context, module graphmodel.Module, outcomes []graphmodel.DecisionOutcome, limit int) ([]*graphmodel.Decision, error) {
	allowed := make(map[graphmodel.DecisionOutcome]struct{}, len(outcomes))
	for _, o := range outcomes {
		allowed[o] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.Decision
	for _, d := range s.decisions {
		if d.Module != module {
			continue
		}
		if _, ok := allowed[d.Outcome]; !ok {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDecisionsBySession returns Decisions recorded under sessionID with
// CreatedAt >= sinceUnix.
func (s *Store) ListDecisionsBySession(_ context.Context, sessionID string, sinceUnix int64) ([]*graphmodel.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.Decision
	for _, d := range s.decisions {
		if d.SessionID == sessionID && d.CreatedAt >= sinceUnix {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// ListTerminalDecisions returns every Decision in module whose outcome has
// left pending.
func (s *Store) ListTerminalDecisions(ctx context.Context, module graphmodel.Module) ([]*graphmodel.Decision, error) {
	return s.ListDecisionsByOutcome(ctx, module, []graphmodel.DecisionOutcome{
		graphmodel.OutcomeSuccess, graphmodel.OutcomeFailure, graphmodel.OutcomeReworked,
	}, 0)
}

// PutEngram upserts an Engram by ID.
func (s *Store) PutEngram(_ context.Context, e *graphmodel.Engram) error {
	cp := *e
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engrams[e.ID] = &cp
	return nil
}

// GetEngram retrieves an Engram by ID.
func (s *Store) GetEngram(_ context.Context, id string) (*graphmodel.Engram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engrams[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ListRecentEngrams returns Engrams created at or after sinceUnix.
func (s *Store) ListRecentEngrams(_ context.Context, sinceUnix int64) ([]*graphmodel.Engram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.Engram
	for _, e := range s.engrams {
		if e.CreatedAt >= sinceUnix {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// PutCodeChange upserts a CodeChange by ID.
func (s *Store) PutCodeChange(_ context.Context, c *graphmodel.CodeChange) error {
	cp := *c
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeChanges[c.ID] = &cp
	return nil
}

// GetCodeChange retrieves a CodeChange by ID.
func (s *Store) GetCodeChange(_ context.Context, id string) (*graphmodel.CodeChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codeChanges[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// PutOutcome upserts an Outcome by ID.
func (s *Store) PutOutcome(_ context.Context, o *graphmodel.Outcome) error {
	cp := *o
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.ID] = &cp
	return nil
}

// GetOutcome retrieves an Outcome by ID.
func (s *Store) GetOutcome(_ context.Context, id string) (*graphmodel.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// PutNegativeKnowledge upserts a NegativeKnowledge by ID.
func (s *Store) PutNegativeKnowledge(_ context.Context, nk *graphmodel.NegativeKnowledge) error {
	cp := *nk
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negKnowledge[nk.ID] = &cp
	return nil
}

// ListNegativeKnowledgeByDomain returns all NegativeKnowledge for domain.
func (s *Store) ListNegativeKnowledgeByDomain(_ context.Context, domain graphmodel.Module) ([]*graphmodel.NegativeKnowledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.NegativeKnowledge
	for _, nk := range s.negKnowledge {
		if nk.Domain == domain {
			cp := *nk
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PutAntiPattern upserts an AntiPattern by ID.
func (s *Store) PutAntiPattern(_ context.Context, ap *graphmodel.AntiPattern) error {
	cp := *ap
	s.mu.Lock()
	defer s.mu.Unlock()
	s.antiPatterns[ap.ID] = &cp
	return nil
}

// ListAntiPatternsByCategory returns all AntiPatterns whose Category is
// category.
func (s *Store) ListAntiPatternsByCategory(_ context.Context, category graphmodel.Module) ([]*graphmodel.AntiPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.AntiPattern
	for _, ap := range s.antiPatterns {
		if ap.Category == category {
			cp := *ap
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PutCalibrationProfile upserts the CalibrationProfile for its domain.
func (s *Store) PutCalibrationProfile(_ context.Context, p *graphmodel.CalibrationProfile) error {
	cp := *p
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibration[p.Domain] = &cp
	return nil
}

// GetCalibrationProfile retrieves the CalibrationProfile for domain.
func (s *Store) GetCalibrationProfile(_ context.Context, domain graphmodel.Module) (*graphmodel.CalibrationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.calibration[domain]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// PutSkill upserts a Skill by ID.
func (s *Store) PutSkill(_ context.Context, sk *graphmodel.Skill) error {
	cp := *sk
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[sk.ID] = &cp
	return nil
}

// GetSkill retrieves a Skill by ID.
func (s *Store) GetSkill(_ context.Context, id string) (*graphmodel.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	cp := *sk
	return &cp, nil
}

// CurrentSkill returns the highest-version Skill for domain.
func (s *Store) CurrentSkill(_ context.Context, domain graphmodel.Module) (*graphmodel.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *graphmodel.Skill
	for _, sk := range s.skills {
		if sk.Domain != domain {
			continue
		}
		if best == nil || sk.Version > best.Version {
			best = sk
		}
	}
	if best == nil {
		return nil, graph.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// ListSkillVersions returns every Skill version for domain, ascending by
// version.
func (s *Store) ListSkillVersions(_ context.Context, domain graphmodel.Module) ([]*graphmodel.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.Skill
	for _, sk := range s.skills {
		if sk.Domain == domain {
			cp := *sk
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// PutPlanRecord upserts a PlanRecord by ID.
func (s *Store) PutPlanRecord(_ context.Context, p *graphmodel.PlanRecord) error {
	cp := *p
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = &cp
	return nil
}

// ListRecentPlanRecords returns up to limit PlanRecords for domain, newest
// first. limit <= 0 means unlimited.
func (s *Store) ListRecentPlanRecords(_ context.Context, domain graphmodel.Module, limit int) ([]*graphmodel.PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*graphmodel.PlanRecord
	for _, p := range s.plans {
		if p.Domain == domain {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutEdge appends a new directed edge. Edges are append-only; callers that
// want to replace an edge's weight (e.g. recomputed SIMILAR_TO score)
// should call PutEdge again — readers always see the most recently
// inserted edge for a given (From, To, Type) via EdgesFrom/EdgesTo's
// last-write-wins de-duplication.
func (s *Store) PutEdge(_ context.Context, e graphmodel.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.edges {
		if existing.From == e.From && existing.To == e.To && existing.Type == e.Type {
			s.edges[i] = e
			return nil
		}
	}
	s.edges = append(s.edges, e)
	return nil
}

// EdgesFrom returns outgoing edges of relType from id.
func (s *Store) EdgesFrom(_ context.Context, id string, relType graphmodel.RelationType, limit int) ([]graphmodel.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graphmodel.Edge
	for _, e := range s.edges {
		if e.From == id && e.Type == relType {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EdgesTo returns incoming edges of relType to id.
func (s *Store) EdgesTo(_ context.Context, id string, relType graphmodel.RelationType, limit int) ([]graphmodel.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graphmodel.Edge
	for _, e := range s.edges {
		if e.To == id && e.Type == relType {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
