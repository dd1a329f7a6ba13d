// Package bias pattern-matches decision text for known cognitive biases
// and emits a capped risk score plus fixed remediation recommendations
// (spec §4.10).
package bias

import (
	"context"
	"regexp"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
)

// Bias names detected by Analyze.
const (
	Anchoring            = "anchoring"
	Confirmation         = "confirmation"
	Overconfidence       = "overconfidence"
	SunkCost             = "sunk_cost"
	LackOfAlternatives   = "lack_of_alternatives"
	ConfidenceRealityGap = "confidence_reality_gap"
)

// confidenceGapThreshold is the minimum declared-confidence-minus-
// success-rate gap that counts as a bias signal.
const confidenceGapThreshold = 0.2

// Severity cutoffs for the aggregated risk score.
const (
	highSeverityMin   = 0.6
	mediumSeverityMin = 0.3
)

type patternGroup struct {
	bias    string
	weight  float64
	pattern *regexp.Regexp
}

var patternGroups = []patternGroup{
	{Anchoring, 0.15, regexp.MustCompile(`(?i)first idea|initial proposal|stick with`)},
	{Confirmation, 0.20, regexp.MustCompile(`(?i)only evidence for|ignore negative`)},
	{Overconfidence, 0.25, regexp.MustCompile(`(?i)definitely|obviously|must|guaranteed`)},
	{SunkCost, 0.20, regexp.MustCompile(`(?i)invested|can't waste|already started`)},
}

// recommendations maps each detected bias to its fixed remediation.
var recommendations = map[string]string{
	Anchoring:            "devils-advocate",
	Confirmation:         "devils-advocate",
	Overconfidence:       "premortem",
	SunkCost:             "cool-off",
	LackOfAlternatives:   "generate-alternatives",
	ConfidenceRealityGap: "premortem",
}

// Result is the outcome of analyzing one decision's text for bias.
type Result struct {
	RiskScore       float64
	Severity        graphmodel.Severity
	Biases          []string
	Recommendations []string
}

// Analyzer scores decision statements for cognitive-bias patterns.
type Analyzer struct {
	graph graph.Store
}

// New builds an Analyzer.
func New(g graph.Store) *Analyzer {
	return &Analyzer{graph: g}
}

// Analyze scores text (the statement plus any surrounding reasoning) and
// alternatives for the domain's known biases, consulting domain's
// CalibrationProfile for the confidence-reality-gap check.
func (a *Analyzer) Analyze(ctx context.Context, domain graphmodel.Module, text string, alternatives []string, declaredConfidence float64) (Result, error) {
	var score float64
	var biases []string

	for _, g := range patternGroups {
		if g.pattern.MatchString(text) {
			score += g.weight
			biases = append(biases, g.bias)
		}
	}

	if len(alternatives) <= 1 {
		score += 0.15
		biases = append(biases, LackOfAlternatives)
	}

	profile, err := a.graph.GetCalibrationProfile(ctx, domain)
	if err != nil && err != graph.ErrNotFound {
		return Result{}, err
	}
	if profile != nil {
		gap := declaredConfidence - profile.SuccessRate
		if gap > confidenceGapThreshold {
			score += gap * 0.5
			biases = append(biases, ConfidenceRealityGap)
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	var severity graphmodel.Severity
	switch {
	case score > highSeverityMin:
		severity = graphmodel.SeverityHigh
	case score > mediumSeverityMin:
		severity = graphmodel.SeverityMedium
	default:
		severity = graphmodel.SeverityLow
	}

	recs := make([]string, 0, len(biases))
	seen := make(map[string]struct{}, len(biases))
	for _, b := range biases {
		rec := recommendations[b]
		if _, ok := seen[rec]; ok {
			continue
		}
		seen[rec] = struct{}{}
		recs = append(recs, rec)
	}

	return Result{
		RiskScore:       score,
		Severity:        severity,
		Biases:          biases,
		Recommendations: recs,
	}, nil
}
