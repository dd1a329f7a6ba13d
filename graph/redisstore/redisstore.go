// Package redisstore provides a Redis-backed implementation of graph.Store.
//
// Nodes are stored as JSON-encoded Redis strings keyed
// "membria:node:<type>:<id>"; per-type ID sets ("membria:idx:<type>:<module>")
// back the "list nodes of type T in module M" queries; edges are stored as
// Redis sorted sets keyed "membria:edge:<relation>:<from>" with member=<to>
// and score=weight, which gives SIMILAR_TO's weighted edges a native home
// and O(log N) edge upserts.
//
// This implementation persists graph state across process restarts,
// suitable for production deployments behind the graph.host/graph.port/
// graph.password configuration keys (spec §6).
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
)

// Store is a Redis-backed implementation of graph.Store.
type Store struct {
	rdb *redis.Client
}

// Compile-time check that Store implements graph.Store.
var _ graph.Store = (*Store)(nil)

// New wraps an already-connected Redis client. The caller owns the
// client's lifecycle (creation, TLS, and Close).
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Ping verifies the Redis connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func nodeKey(kind, id string) string { return fmt.Sprintf("membria:node:%s:%s", kind, id) }
func idxKey(kind string, module graphmodel.Module) string {
	return fmt.Sprintf("membria:idx:%s:%s", kind, module)
}
func edgeKey(relType graphmodel.RelationType, from string) string {
	return fmt.Sprintf("membria:edge:%s:%s", relType, from)
}
func edgeRevKey(relType graphmodel.RelationType, to string) string {
	return fmt.Sprintf("membria:edgerev:%s:%s", relType, to)
}
func sessionIdxKey(sessionID string) string {
	return fmt.Sprintf("membria:idx:decisionsession:%s", sessionID)
}

func putJSON(ctx context.Context, rdb *redis.Client, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redisstore: marshal %s: %w", key, err)
	}
	if err := rdb.Set(ctx, key, b, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", key, err)
	}
	return nil
}

func getJSON(ctx context.Context, rdb *redis.Client, key string, v any) error {
	b, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return graph.ErrNotFound
		}
		return fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("redisstore: unmarshal %s: %w", key, err)
	}
	return nil
}

// PutDecision upserts a Decision, indexes it by module, and (when
// SessionID is set) by session for the Engram Capturer's session-linking
// lookup.
func (s *Store) PutDecision(ctx context.Context, d *graphmodel.Decision) error {
	if err := putJSON(ctx, s.rdb, nodeKey("decision", d.ID), d); err != nil {
		return err
	}
	if err := s.rdb.SAdd(ctx, idxKey("decision", d.Module), d.ID).Err(); err != nil {
		return err
	}
	if d.SessionID == "" {
		return nil
	}
	return s.rdb.ZAdd(ctx, sessionIdxKey(d.SessionID), redis.Z{Score: float64(d.CreatedAt), Member: d.ID}).Err()
}

// GetDecision retrieves a Decision by ID.
func (s *Store) GetDecision(ctx context.Context, id string) (*graphmodel.Decision, error) {
	var d graphmodel.Decision
	if err := getJSON(ctx, s.rdb, nodeKey("decision", id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) loadDecisions(ctx context.Context, ids []string) ([]*graphmodel.Decision, error) {
	out := make([]*graphmodel.Decision, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDecision(ctx, id)
		if err != nil {
			if err == graph.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// ListDecisionsByModule returns up to limit Decisions in module.
func (s *Store) ListDecisionsByModule(ctx context.Context, module graphmodel.Module, limit int) ([]*graphmodel.Decision, error) {
	ids, err := s.rdb.SMembers(ctx, idxKey("decision", module)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list decisions %s: %w", module, err)
	}
	out, err := s.loadDecisions(ctx, ids)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDecisionsBySession returns Decisions recorded under sessionID with
// CreatedAt >= sinceUnix.
func (s *Store) ListDecisionsBySession(ctx context.Context, sessionID string, sinceUnix int64) ([]*graphmodel.Decision, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, sessionIdxKey(sessionID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", sinceUnix),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list decisions by session %s: %w", sessionID, err)
	}
	return s.loadDecisions(ctx, ids)
}

// ListDecisionsByOutcome returns Decisions in module with an outcome in
// outcomes.
func (s *Store) ListDecisionsByOutcome(ctx context.Context, module graphmodel.Module, outcomes []graphmodel.DecisionOutcome, limit int) ([]*graphmodel.Decision, error) {
	all, err := s.ListDecisionsByModule(ctx, module, 0)
	if err != nil {
		return nil, err
	}
	allowed := make(map[graphmodel.DecisionOutcome]struct{}, len(outcomes))
	for _, o := range outcomes {
		allowed[o] = struct{}{}
	}
	var out []*graphmodel.Decision
	for _, d := range all {
		if _, ok := allowed[d.Outcome]; ok {
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTerminalDecisions returns every Decision in module with a terminal
// outcome.
func (s *Store) ListTerminalDecisions(ctx context.Context, module graphmodel.Module) ([]*graphmodel.Decision, error) {
	return s.ListDecisionsByOutcome(ctx, module, []graphmodel.DecisionOutcome{
		graphmodel.OutcomeSuccess, graphmodel.OutcomeFailure, graphmodel.OutcomeReworked,
	}, 0)
}

// PutEngram upserts an Engram.
func (s *Store) PutEngram(ctx context.Context, e *graphmodel.Engram) error {
	if err := putJSON(ctx, s.rdb, nodeKey("engram", e.ID), e); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, "membria:idx:engram:all", redis.Z{Score: float64(e.CreatedAt), Member: e.ID}).Err()
}

// GetEngram retrieves an Engram by ID.
func (s *Store) GetEngram(ctx context.Context, id string) (*graphmodel.Engram, error) {
	var e graphmodel.Engram
	if err := getJSON(ctx, s.rdb, nodeKey("engram", id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListRecentEngrams returns Engrams created at or after sinceUnix.
func (s *Store) ListRecentEngrams(ctx context.Context, sinceUnix int64) ([]*graphmodel.Engram, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, "membria:idx:engram:all", &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", sinceUnix),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list recent engrams: %w", err)
	}
	out := make([]*graphmodel.Engram, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEngram(ctx, id)
		if err != nil {
			if err == graph.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// PutCodeChange upserts a CodeChange.
func (s *Store) PutCodeChange(ctx context.Context, c *graphmodel.CodeChange) error {
	return putJSON(ctx, s.rdb, nodeKey("codechange", c.ID), c)
}

// GetCodeChange retrieves a CodeChange by ID.
func (s *Store) GetCodeChange(ctx context.Context, id string) (*graphmodel.CodeChange, error) {
	var c graphmodel.CodeChange
	if err := getJSON(ctx, s.rdb, nodeKey("codechange", id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutOutcome upserts an Outcome.
func (s *Store) PutOutcome(ctx context.Context, o *graphmodel.Outcome) error {
	return putJSON(ctx, s.rdb, nodeKey("outcome", o.ID), o)
}

// GetOutcome retrieves an Outcome by ID.
func (s *Store) GetOutcome(ctx context.Context, id string) (*graphmodel.Outcome, error) {
	var o graphmodel.Outcome
	if err := getJSON(ctx, s.rdb, nodeKey("outcome", id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// PutNegativeKnowledge upserts a NegativeKnowledge and indexes it by
// domain.
func (s *Store) PutNegativeKnowledge(ctx context.Context, nk *graphmodel.NegativeKnowledge) error {
	if err := putJSON(ctx, s.rdb, nodeKey("nk", nk.ID), nk); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, idxKey("nk", nk.Domain), nk.ID).Err()
}

// ListNegativeKnowledgeByDomain returns all NegativeKnowledge for domain.
func (s *Store) ListNegativeKnowledgeByDomain(ctx context.Context, domain graphmodel.Module) ([]*graphmodel.NegativeKnowledge, error) {
	ids, err := s.rdb.SMembers(ctx, idxKey("nk", domain)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list negative knowledge %s: %w", domain, err)
	}
	out := make([]*graphmodel.NegativeKnowledge, 0, len(ids))
	for _, id := range ids {
		var nk graphmodel.NegativeKnowledge
		if err := getJSON(ctx, s.rdb, nodeKey("nk", id), &nk); err != nil {
			if err == graph.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, &nk)
	}
	return out, nil
}

// PutAntiPattern upserts an AntiPattern and indexes it by category.
func (s *Store) PutAntiPattern(ctx context.Context, ap *graphmodel.AntiPattern) error {
	if err := putJSON(ctx, s.rdb, nodeKey("ap", ap.ID), ap); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, idxKey("ap", ap.Category), ap.ID).Err()
}

// ListAntiPatternsByCategory returns all AntiPatterns whose Category is
// category.
func (s *Store) ListAntiPatternsByCategory(ctx context.Context, category graphmodel.Module) ([]*graphmodel.AntiPattern, error) {
	ids, err := s.rdb.SMembers(ctx, idxKey("ap", category)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list antipatterns %s: %w", category, err)
	}
	out := make([]*graphmodel.AntiPattern, 0, len(ids))
	for _, id := range ids {
		var ap graphmodel.AntiPattern
		if err := getJSON(ctx, s.rdb, nodeKey("ap", id), &ap); err != nil {
			if err == graph.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, &ap)
	}
	return out, nil
}

// PutCalibrationProfile upserts the CalibrationProfile for its domain.
func (s *Store) PutCalibrationProfile(ctx context.Context, p *graphmodel.CalibrationProfile) error {
	return putJSON(ctx, s.rdb, fmt.Sprintf("membria:calibration:%s", p.Domain), p)
}

// GetCalibrationProfile retrieves the CalibrationProfile for domain.
func (s *Store) GetCalibrationProfile(ctx context.Context, domain graphmodel.Module) (*graphmodel.CalibrationProfile, error) {
	var p graphmodel.CalibrationProfile
	if err := getJSON(ctx, s.rdb, fmt.Sprintf("membria:calibration:%s", domain), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutSkill upserts a Skill and tracks its version in the domain's version
// index.
func (s *Store) PutSkill(ctx context.Context, sk *graphmodel.Skill) error {
	if err := putJSON(ctx, s.rdb, nodeKey("skill", sk.ID), sk); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, fmt.Sprintf("membria:idx:skillversion:%s", sk.Domain), redis.Z{
		Score: float64(sk.Version), Member: sk.ID,
	}).Err()
}

// GetSkill retrieves a Skill by ID.
func (s *Store) GetSkill(ctx context.Context, id string) (*graphmodel.Skill, error) {
	var sk graphmodel.Skill
	if err := getJSON(ctx, s.rdb, nodeKey("skill", id), &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// CurrentSkill returns the highest-version Skill for domain.
func (s *Store) CurrentSkill(ctx context.Context, domain graphmodel.Module) (*graphmodel.Skill, error) {
	ids, err := s.rdb.ZRevRangeByScore(ctx, fmt.Sprintf("membria:idx:skillversion:%s", domain), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: current skill %s: %w", domain, err)
	}
	if len(ids) == 0 {
		return nil, graph.ErrNotFound
	}
	return s.GetSkill(ctx, ids[0])
}

// ListSkillVersions returns every Skill version for domain, ascending.
func (s *Store) ListSkillVersions(ctx context.Context, domain graphmodel.Module) ([]*graphmodel.Skill, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, fmt.Sprintf("membria:idx:skillversion:%s", domain), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list skill versions %s: %w", domain, err)
	}
	out := make([]*graphmodel.Skill, 0, len(ids))
	for _, id := range ids {
		sk, err := s.GetSkill(ctx, id)
		if err != nil {
			if err == graph.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, sk)
	}
	return out, nil
}

// PutPlanRecord upserts a PlanRecord and indexes it by domain.
func (s *Store) PutPlanRecord(ctx context.Context, p *graphmodel.PlanRecord) error {
	if err := putJSON(ctx, s.rdb, nodeKey("plan", p.ID), p); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, fmt.Sprintf("membria:idx:plan:%s", p.Domain), redis.Z{
		Score: float64(p.CreatedAt), Member: p.ID,
	}).Err()
}

// ListRecentPlanRecords returns up to limit PlanRecords for domain, newest
// first.
func (s *Store) ListRecentPlanRecords(ctx context.Context, domain graphmodel.Module, limit int) ([]*graphmodel.PlanRecord, error) {
	var ids []string
	var err error
	if limit > 0 {
		ids, err = s.rdb.ZRevRangeByScore(ctx, fmt.Sprintf("membria:idx:plan:%s", domain), &redis.ZRangeBy{
			Min: "-inf", Max: "+inf", Count: int64(limit),
		}).Result()
	} else {
		ids, err = s.rdb.ZRevRangeByScore(ctx, fmt.Sprintf("membria:idx:plan:%s", domain), &redis.ZRangeBy{
			Min: "-inf", Max: "+inf",
		}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: list plan records %s: %w", domain, err)
	}
	out := make([]*graphmodel.PlanRecord, 0, len(ids))
	for _, id := range ids {
		var p graphmodel.PlanRecord
		if err := getJSON(ctx, s.rdb, nodeKey("plan", id), &p); err != nil {
			if err == graph.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

// PutEdge upserts a directed edge. Redis sorted sets naturally
// de-duplicate by member (the "to" node), so re-inserting the same (From,
// To, Type) updates its weight in place.
func (s *Store) PutEdge(ctx context.Context, e graphmodel.Edge) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, edgeKey(e.Type, e.From), redis.Z{Score: e.Weight, Member: e.To})
	pipe.ZAdd(ctx, edgeRevKey(e.Type, e.To), redis.Z{Score: e.Weight, Member: e.From})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: put edge %s->%s (%s): %w", e.From, e.To, e.Type, err)
	}
	return nil
}

// EdgesFrom returns outgoing edges of relType from id, highest weight
// first.
func (s *Store) EdgesFrom(ctx context.Context, id string, relType graphmodel.RelationType, limit int) ([]graphmodel.Edge, error) {
	return s.readEdges(ctx, edgeKey(relType, id), id, relType, limit, true)
}

// EdgesTo returns incoming edges of relType to id, highest weight first.
func (s *Store) EdgesTo(ctx context.Context, id string, relType graphmodel.RelationType, limit int) ([]graphmodel.Edge, error) {
	return s.readEdges(ctx, edgeRevKey(relType, id), id, relType, limit, false)
}

func (s *Store) readEdges(ctx context.Context, key, anchor string, relType graphmodel.RelationType, limit int, anchorIsFrom bool) ([]graphmodel.Edge, error) {
	var zs []redis.Z
	var err error
	if limit > 0 {
		zs, err = s.rdb.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	} else {
		zs, err = s.rdb.ZRevRangeWithScores(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: read edges %s: %w", key, err)
	}
	out := make([]graphmodel.Edge, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		e := graphmodel.Edge{Type: relType, Weight: z.Score}
		if anchorIsFrom {
			e.From, e.To = anchor, member
		} else {
			e.From, e.To = member, anchor
		}
		out = append(out, e)
	}
	return out, nil
}
