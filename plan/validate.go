package plan

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
)

// jaccardThreshold is the token-set Jaccard similarity threshold above
// which a step is considered to match a NegativeKnowledge hypothesis
// (spec §4.6, check 1).
const jaccardThreshold = 0.7

// overconfidenceGapThreshold triggers a domain-level warning when the
// calibration profile's confidence_gap exceeds it (spec §4.6).
const overconfidenceGapThreshold = 0.1

// pastFailureSharedWordThreshold is the minimum number of shared content
// words between a step and a past failed Decision (spec §4.6, check 3).
const pastFailureSharedWordThreshold = 2

// WarningKind names which of the Plan Validator's checks produced a
// warning.
type WarningKind string

// Warning kinds.
const (
	KindNegativeKnowledge WarningKind = "negative_knowledge"
	KindAntiPattern       WarningKind = "antipattern"
	KindPastFailure       WarningKind = "past_failure"
	KindOverconfidence    WarningKind = "overconfidence"
)

// Warning is one finding against a proposed plan step. StepIndex is -1
// for the domain-level overconfidence warning, which is not tied to any
// single step.
type Warning struct {
	StepIndex int
	Kind      WarningKind
	Severity  graphmodel.Severity
	Message   string
}

// ValidationResult aggregates the Plan Validator's findings (spec §4.6).
type ValidationResult struct {
	Warnings       []Warning
	HighSeverity   int
	MediumSeverity int
	LowSeverity    int
	CanProceed     bool
}

// Validator scans proposed plan steps against negative knowledge,
// antipatterns, and past failures (spec §4.6).
type Validator struct {
	graph graph.Store
}

// NewValidator builds a Validator.
func NewValidator(g graph.Store) *Validator {
	return &Validator{graph: g}
}

// Validate runs all three per-step checks plus the domain-level
// overconfidence check and aggregates the result. It is deterministic
// given a fixed graph snapshot (spec §8): re-invoking with the same
// arguments returns the same warning list in the same order.
func (v *Validator) Validate(ctx context.Context, steps []string, domain graphmodel.Module) (ValidationResult, error) {
	negKnowledge, err := v.graph.ListNegativeKnowledgeByDomain(ctx, domain)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("plan: list negative knowledge: %w", err)
	}
	antiPatterns, err := v.graph.ListAntiPatternsByCategory(ctx, domain)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("plan: list antipatterns: %w", err)
	}
	pastFailures, err := v.graph.ListDecisionsByOutcome(ctx, domain,
		[]graphmodel.DecisionOutcome{graphmodel.OutcomeFailure, graphmodel.OutcomeReworked}, 0)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("plan: list past failures: %w", err)
	}

	var warnings []Warning
	for i, step := range steps {
		warnings = append(warnings, negativeKnowledgeWarnings(i, step, negKnowledge)...)
		warnings = append(warnings, antiPatternWarnings(i, step, antiPatterns)...)
		warnings = append(warnings, pastFailureWarnings(i, step, pastFailures)...)
	}

	if profile, err := v.graph.GetCalibrationProfile(ctx, domain); err == nil {
		if profile.ConfidenceGap > overconfidenceGapThreshold {
			warnings = append(warnings, Warning{
				StepIndex: -1,
				Kind:      KindOverconfidence,
				Severity:  graphmodel.SeverityMedium,
				Message: fmt.Sprintf("domain confidence gap %.2f exceeds %.2f",
					profile.ConfidenceGap, overconfidenceGapThreshold),
			})
		}
	} else if err != graph.ErrNotFound {
		return ValidationResult{}, fmt.Errorf("plan: get calibration profile: %w", err)
	}

	sortWarnings(warnings)

	res := ValidationResult{Warnings: warnings}
	for _, w := range warnings {
		switch w.Severity {
		case graphmodel.SeverityHigh:
			res.HighSeverity++
		case graphmodel.SeverityMedium:
			res.MediumSeverity++
		case graphmodel.SeverityLow:
			res.LowSeverity++
		}
	}
	res.CanProceed = res.HighSeverity == 0
	return res, nil
}

func negativeKnowledgeWarnings(stepIdx int, step string, negKnowledge []*graphmodel.NegativeKnowledge) []Warning {
	var out []Warning
	for _, nk := range negKnowledge {
		if jaccard(step, nk.Hypothesis) >= jaccardThreshold {
			out = append(out, Warning{
				StepIndex: stepIdx,
				Kind:      KindNegativeKnowledge,
				Severity:  nk.Severity,
				Message:   fmt.Sprintf("matches known failure: %s", nk.Hypothesis),
			})
		}
	}
	return out
}

func antiPatternWarnings(stepIdx int, step string, antiPatterns []*graphmodel.AntiPattern) []Warning {
	var out []Warning
	for _, ap := range antiPatterns {
		if ap.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + ap.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(step) {
			out = append(out, Warning{
				StepIndex: stepIdx,
				Kind:      KindAntiPattern,
				Severity:  ap.Severity,
				Message:   fmt.Sprintf("matches antipattern: %s", ap.Name),
			})
		}
	}
	return out
}

func pastFailureWarnings(stepIdx int, step string, pastFailures []*graphmodel.Decision) []Warning {
	stepWords := topContentWords(step, 3)
	if len(stepWords) == 0 {
		return nil
	}
	var out []Warning
	for _, d := range pastFailures {
		failWords := topContentWords(d.Statement, 3)
		shared := sharedWords(stepWords, failWords)
		if shared >= pastFailureSharedWordThreshold {
			out = append(out, Warning{
				StepIndex: stepIdx,
				Kind:      KindPastFailure,
				Severity:  graphmodel.SeverityMedium,
				Message:   fmt.Sprintf("overlaps past failure: %s", d.Statement),
			})
		}
	}
	return out
}

// sortWarnings orders severity-desc then step-asc (spec §4.6). The
// domain-level overconfidence warning (StepIndex -1) sorts before any
// step-specific warning of equal severity.
func sortWarnings(warnings []Warning) {
	rank := map[graphmodel.Severity]int{
		graphmodel.SeverityHigh:   0,
		graphmodel.SeverityMedium: 1,
		graphmodel.SeverityLow:    2,
	}
	sort.SliceStable(warnings, func(i, j int) bool {
		if rank[warnings[i].Severity] != rank[warnings[j].Severity] {
			return rank[warnings[i].Severity] < rank[warnings[j].Severity]
		}
		return warnings[i].StepIndex < warnings[j].StepIndex
	})
}

// jaccard computes token-set Jaccard similarity between two strings,
// case-folded and split on whitespace (spec §4.6 "token-set Jaccard").
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// stopWords is the filter applied before ranking content words for the
// past-failure keyword-overlap check (spec §4.6, check 3).
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "and": {}, "or": {},
	"with": {}, "at": {}, "by": {}, "from": {}, "it": {}, "this": {}, "that": {},
	"be": {}, "as": {}, "we": {}, "will": {}, "use": {}, "using": {},
}

// topContentWords returns up to n case-folded, stop-word-filtered words
// from s, longest first (a simple proxy for "most informative" absent a
// corpus-wide term-frequency model).
func topContentWords(s string, n int) []string {
	fields := strings.Fields(strings.ToLower(s))
	var content []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()\"'")
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		content = append(content, f)
	}
	sort.SliceStable(content, func(i, j int) bool { return len(content[i]) > len(content[j]) })
	if len(content) > n {
		content = content[:n]
	}
	return content
}

func sharedWords(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, w := range a {
		set[w] = struct{}{}
	}
	n := 0
	for _, w := range b {
		if _, ok := set[w]; ok {
			n++
		}
	}
	return n
}
