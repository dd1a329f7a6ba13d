// Package plan implements the Plan-Mode subsystem: the Plan Context
// Builder assembles a PRE-PLAN packet from the reasoning graph within a
// token budget (spec §4.5), the Validator scans proposed plan steps
// against negative knowledge, antipatterns, and past failures (spec
// §4.6), and the Recorder persists an approved plan as linked Decisions
// (spec §6, `record_plan`).
package plan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
)

// DefaultMaxContextTokens is the PRE-PLAN token budget when the caller
// does not supply one (spec §4.5, §6 `plan.max_context_tokens`).
const DefaultMaxContextTokens = 1500

// charsPerToken is the spec's token estimator: "tokens are estimated at 4
// characters per token" (spec §4.5).
const charsPerToken = 4

// PastPlan summarizes one previously recorded plan for a domain.
type PastPlan struct {
	StepCount        int
	DurationEstimate float64
	ActualDuration   *float64
	ReworkCount      int
}

// FailedApproach is a past Decision whose outcome was failure or
// reworked.
type FailedApproach struct {
	Statement string
	Outcome   graphmodel.DecisionOutcome
}

// SuccessfulPattern groups Decisions with outcome=success by normalized
// statement fingerprint.
type SuccessfulPattern struct {
	Fingerprint string
	Statement   string
	Count       int
}

// CalibrationSnapshot is the domain's CalibrationProfile as surfaced in a
// plan packet, omitted entirely when no profile exists yet.
type CalibrationSnapshot struct {
	SuccessRate   float64
	ConfidenceGap float64
	Trend         graphmodel.Trend
	SampleSize    int
}

// Packet is the PRE-PLAN context assembled by the Builder (spec §4.5).
type Packet struct {
	Domain             graphmodel.Module
	PastPlans          []PastPlan
	FailedApproaches   []FailedApproach
	SuccessfulPatterns []SuccessfulPattern
	Calibration        *CalibrationSnapshot
	ProjectConstraints []string
	Markdown           string
	DroppedSections    []string
}

// Builder assembles Packets from the reasoning graph.
type Builder struct {
	graph       graph.Store
	constraints []string
}

// Options configures a Builder.
type Options struct {
	Graph       graph.Store
	Constraints []string // spec §4.5 "project constraints (from configuration)"
}

// New builds a Builder.
func New(opts Options) *Builder {
	return &Builder{graph: opts.Graph, constraints: opts.Constraints}
}

// Build assembles the packet for domain and scope within maxTokens. A
// maxTokens <= 0 uses DefaultMaxContextTokens. scope is accepted for
// future narrowing (e.g. by subsystem) but is not currently used to
// filter any section; every section is already scoped to domain.
func (b *Builder) Build(ctx context.Context, domain graphmodel.Module, scope string, maxTokens int) (Packet, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	plans, err := b.graph.ListRecentPlanRecords(ctx, domain, 3)
	if err != nil {
		return Packet{}, fmt.Errorf("plan: list past plans: %w", err)
	}
	pastPlans := make([]PastPlan, 0, len(plans))
	for _, p := range plans {
		pastPlans = append(pastPlans, PastPlan{
			StepCount:        len(p.Steps),
			DurationEstimate: p.DurationEstimate,
			ActualDuration:   p.ActualDuration,
			ReworkCount:      reworkCount(ctx, b.graph, p.DecisionIDs),
		})
	}

	failed, err := b.graph.ListDecisionsByOutcome(ctx, domain,
		[]graphmodel.DecisionOutcome{graphmodel.OutcomeFailure, graphmodel.OutcomeReworked}, 5)
	if err != nil {
		return Packet{}, fmt.Errorf("plan: list failed approaches: %w", err)
	}
	failedApproaches := make([]FailedApproach, 0, len(failed))
	for _, d := range failed {
		failedApproaches = append(failedApproaches, FailedApproach{Statement: d.Statement, Outcome: d.Outcome})
	}

	successful, err := b.graph.ListDecisionsByOutcome(ctx, domain, []graphmodel.DecisionOutcome{graphmodel.OutcomeSuccess}, 0)
	if err != nil {
		return Packet{}, fmt.Errorf("plan: list successful patterns: %w", err)
	}
	successfulPatterns := groupByFingerprint(successful, 5)

	var calib *CalibrationSnapshot
	if profile, err := b.graph.GetCalibrationProfile(ctx, domain); err == nil {
		calib = &CalibrationSnapshot{
			SuccessRate:   profile.SuccessRate,
			ConfidenceGap: profile.ConfidenceGap,
			Trend:         profile.Trend,
			SampleSize:    profile.SampleSize,
		}
	} else if err != graph.ErrNotFound {
		return Packet{}, fmt.Errorf("plan: get calibration profile: %w", err)
	}

	pkt := Packet{
		Domain:             domain,
		PastPlans:          pastPlans,
		FailedApproaches:   failedApproaches,
		SuccessfulPatterns: successfulPatterns,
		Calibration:        calib,
		ProjectConstraints: b.constraints,
	}
	fitBudget(&pkt, maxTokens)
	pkt.Markdown = render(pkt)
	return pkt, nil
}

// reworkCount counts how many of a plan's linked Decisions ended up with
// outcome=reworked, one of the fields the "past plans" section surfaces.
func reworkCount(ctx context.Context, store graph.Store, decisionIDs []string) int {
	n := 0
	for _, id := range decisionIDs {
		d, err := store.GetDecision(ctx, id)
		if err != nil {
			continue
		}
		if d.Outcome == graphmodel.OutcomeReworked {
			n++
		}
	}
	return n
}

// groupByFingerprint groups Decisions by normalized statement fingerprint
// and returns up to limit groups, most frequent first.
func groupByFingerprint(decisions []*graphmodel.Decision, limit int) []SuccessfulPattern {
	type group struct {
		statement string
		count     int
	}
	groups := make(map[string]*group)
	var order []string
	for _, d := range decisions {
		fp := Fingerprint(d.Statement)
		g, ok := groups[fp]
		if !ok {
			g = &group{statement: d.Statement}
			groups[fp] = g
			order = append(order, fp)
		}
		g.count++
	}
	out := make([]SuccessfulPattern, 0, len(order))
	for _, fp := range order {
		g := groups[fp]
		out = append(out, SuccessfulPattern{Fingerprint: fp, Statement: g.statement, Count: g.count})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Fingerprint normalizes text for grouping: lowercased, whitespace
// collapsed (spec §4.5 "normalized statement fingerprint"; same
// normalization as the Batch Extractor's dedup fingerprint, spec §4.3).
func Fingerprint(statement string) string {
	return strings.Join(strings.Fields(strings.ToLower(statement)), " ")
}

// estimatedTokens applies the spec's 4-characters-per-token estimator to
// the rendered size of a section's content.
func estimatedTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// fitBudget drops sections in reverse priority order — project
// constraints first, then calibration, then past plans — until the
// packet's rendered size fits maxTokens (spec §4.5). Failed approaches
// and successful patterns are never dropped.
func fitBudget(pkt *Packet, maxTokens int) {
	for estimatedTokens(render(*pkt)) > maxTokens {
		switch {
		case len(pkt.ProjectConstraints) > 0:
			pkt.ProjectConstraints = nil
			pkt.DroppedSections = append(pkt.DroppedSections, "project_constraints")
		case pkt.Calibration != nil:
			pkt.Calibration = nil
			pkt.DroppedSections = append(pkt.DroppedSections, "calibration")
		case len(pkt.PastPlans) > 0:
			pkt.PastPlans = nil
			pkt.DroppedSections = append(pkt.DroppedSections, "past_plans")
		default:
			return
		}
	}
}

// render produces the packet's markdown rendering.
func render(pkt Packet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan context: %s\n\n", pkt.Domain)

	if len(pkt.PastPlans) > 0 {
		b.WriteString("## Past plans\n\n")
		for _, p := range pkt.PastPlans {
			actual := "unmeasured"
			if p.ActualDuration != nil {
				actual = fmt.Sprintf("%.0fs", *p.ActualDuration)
			}
			fmt.Fprintf(&b, "- %d steps, estimate %.0fs, actual %s, %d reworked\n",
				p.StepCount, p.DurationEstimate, actual, p.ReworkCount)
		}
		b.WriteString("\n")
	}

	if len(pkt.FailedApproaches) > 0 {
		b.WriteString("## Failed approaches\n\n")
		for _, f := range pkt.FailedApproaches {
			fmt.Fprintf(&b, "- (%s) %s\n", f.Outcome, f.Statement)
		}
		b.WriteString("\n")
	}

	if len(pkt.SuccessfulPatterns) > 0 {
		b.WriteString("## Successful patterns\n\n")
		for _, s := range pkt.SuccessfulPatterns {
			fmt.Fprintf(&b, "- %s (seen %d times)\n", s.Statement, s.Count)
		}
		b.WriteString("\n")
	}

	if pkt.Calibration != nil {
		fmt.Fprintf(&b, "## Calibration\n\nsuccess_rate=%.2f confidence_gap=%.2f trend=%s sample_size=%d\n\n",
			pkt.Calibration.SuccessRate, pkt.Calibration.ConfidenceGap, pkt.Calibration.Trend, pkt.Calibration.SampleSize)
	}

	if len(pkt.ProjectConstraints) > 0 {
		b.WriteString("## Project constraints\n\n")
		for _, c := range pkt.ProjectConstraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	return b.String()
}
