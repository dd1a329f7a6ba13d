// Package skill distills a domain's terminal Decisions into a versioned,
// zoned Skill once the Calibration Engine has found that domain eligible
// (spec §4.9).
package skill

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/plan"
)

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Zone thresholds (spec §4.9).
const (
	greenMinSuccess = 0.75
	greenMinSamples = 3
	redMaxSuccess   = 0.30
	redMinSamples   = 10
)

// staleAfter is how long a generated Skill remains current before it is
// considered stale (spec §3: "stale_at (= created_at + 90 days)").
const staleAfter = 90 * 24 * time.Hour

// ErrNoTerminalDecisions is returned when a domain has no terminal
// Decisions to distill a Skill from.
var ErrNoTerminalDecisions = errors.New("skill: no terminal decisions in domain")

// Generator builds a new Skill version from a domain's terminal Decisions.
type Generator struct {
	graph graph.Store
	now   Clock
}

// New builds a Generator. now defaults to time.Now.
func New(g graph.Store, now Clock) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{graph: g, now: now}
}

type group struct {
	statement   string
	successes   int
	total       int
	decisionIDs []string
}

// Generate groups domain's terminal Decisions by normalized statement
// fingerprint, zones and scores each group, and emits a new Skill version
// linked VERSION_OF the domain's current Skill, if any. The prior version
// is left untouched by the store (spec: "the old version remains but is
// no longer current") — CurrentSkill always resolves to the highest
// version.
func (g *Generator) Generate(ctx context.Context, domain graphmodel.Module) (*graphmodel.Skill, error) {
	terminal, err := g.graph.ListTerminalDecisions(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("skill: list terminal decisions: %w", err)
	}
	if len(terminal) == 0 {
		return nil, ErrNoTerminalDecisions
	}

	groups := make(map[string]*group)
	var overallSuccesses int
	for _, d := range terminal {
		fp := plan.Fingerprint(d.Statement)
		grp, ok := groups[fp]
		if !ok {
			grp = &group{statement: d.Statement}
			groups[fp] = grp
		}
		grp.total++
		grp.decisionIDs = append(grp.decisionIDs, d.ID)
		if d.Outcome == graphmodel.OutcomeSuccess {
			grp.successes++
			overallSuccesses++
		}
	}

	fingerprints := make([]string, 0, len(groups))
	for fp := range groups {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	var green, yellow, red []graphmodel.SkillEntry
	var generatedFrom []string
	for _, fp := range fingerprints {
		grp := groups[fp]
		rate := float64(grp.successes) / float64(grp.total)
		entry := graphmodel.SkillEntry{
			Fingerprint: fp,
			Statement:   grp.statement,
			SuccessRate: rate,
			SampleSize:  grp.total,
		}
		switch {
		case rate >= greenMinSuccess && grp.total >= greenMinSamples:
			entry.Zone = graphmodel.ZoneGreen
			green = append(green, entry)
		case rate < redMaxSuccess && grp.total >= redMinSamples:
			entry.Zone = graphmodel.ZoneRed
			red = append(red, entry)
		default:
			entry.Zone = graphmodel.ZoneYellow
			yellow = append(yellow, entry)
		}
		generatedFrom = append(generatedFrom, grp.decisionIDs...)
	}

	overallRate := float64(overallSuccesses) / float64(len(terminal))
	qualityScore := overallRate * (1 - 1/math.Sqrt(float64(len(terminal))))

	version := 1
	var basedOn *string
	prior, err := g.graph.CurrentSkill(ctx, domain)
	switch {
	case err == nil:
		version = prior.Version + 1
		id := prior.ID
		basedOn = &id
	case errors.Is(err, graph.ErrNotFound):
		// first Skill for this domain.
	default:
		return nil, fmt.Errorf("skill: current skill: %w", err)
	}

	createdAt := g.now().Unix()
	s := &graphmodel.Skill{
		ID:            graphmodel.NewSkillID(),
		Domain:        domain,
		Name:          fmt.Sprintf("%s skill v%d", domain, version),
		Version:       version,
		SuccessRate:   overallRate,
		SampleSize:    len(terminal),
		QualityScore:  qualityScore,
		GreenZone:     green,
		YellowZone:    yellow,
		RedZone:       red,
		GeneratedFrom: generatedFrom,
		BasedOn:       basedOn,
		CreatedAt:     createdAt,
		StaleAt:       createdAt + int64(staleAfter.Seconds()),
	}
	if err := g.graph.PutSkill(ctx, s); err != nil {
		return nil, fmt.Errorf("skill: put skill: %w", err)
	}

	if basedOn != nil {
		if err := g.graph.PutEdge(ctx, graphmodel.Edge{From: s.ID, To: *basedOn, Type: graphmodel.RelVersionOf}); err != nil {
			return nil, fmt.Errorf("skill: put version_of edge: %w", err)
		}
	}
	for _, decisionID := range generatedFrom {
		if err := g.graph.PutEdge(ctx, graphmodel.Edge{From: s.ID, To: decisionID, Type: graphmodel.RelGeneratedFrom}); err != nil {
			return nil, fmt.Errorf("skill: put generated_from edge: %w", err)
		}
	}
	return s, nil
}
