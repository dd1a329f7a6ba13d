package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/membriaerr"
	"github.com/actiquest-dev/membria/plan"
	"github.com/actiquest-dev/membria/signal"
)

// maxRecentDecisions bounds the `get_context` recent-decisions section
// (spec §4.7: "recent decisions in the domain (up to 10)").
const maxRecentDecisions = 10

// dispatch routes a decoded call_tool frame to its handler by name. An
// unrecognized tool name is itself a validation error, since the tool
// name is part of the call's argument shape.
func (e *Endpoint) dispatch(ctx context.Context, tool string, args json.RawMessage, meta Meta) (any, error) {
	switch tool {
	case "record_decision":
		return e.recordDecision(ctx, args, meta)
	case "get_context":
		return e.getContext(ctx, args)
	case "check_patterns":
		return e.checkPatterns(ctx, args)
	case "get_calibration":
		return e.getCalibration(ctx, args)
	case "link_outcome":
		return e.linkOutcome(ctx, args)
	case "capture_session":
		return e.captureSession(ctx, args)
	case "get_plan_context":
		return e.getPlanContext(ctx, args)
	case "validate_plan":
		return e.validatePlan(ctx, args)
	case "record_plan":
		return e.recordPlan(ctx, args, meta)
	default:
		return nil, fmt.Errorf("%w: unrecognized tool %q", membriaerr.ErrValidation, tool)
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing args", membriaerr.ErrValidation)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", membriaerr.ErrValidation, err)
	}
	return nil
}

func parseModule(s string) (graphmodel.Module, error) {
	for _, m := range graphmodel.AllModules() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unrecognized module %q", membriaerr.ErrValidation, s)
}

// --- record_decision ---

type recordDecisionArgs struct {
	Statement    string   `json:"statement"`
	Alternatives []string `json:"alternatives"`
	Confidence   float64  `json:"confidence"`
	Module       string   `json:"module"`
}

type recordDecisionResult struct {
	DecisionID string `json:"decision_id"`
}

func (e *Endpoint) recordDecision(ctx context.Context, raw json.RawMessage, meta Meta) (any, error) {
	var args recordDecisionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Statement == "" {
		return nil, fmt.Errorf("%w: statement is required", membriaerr.ErrValidation)
	}
	if args.Confidence < 0 || args.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be within [0,1]", membriaerr.ErrValidation)
	}
	module, err := parseModule(args.Module)
	if err != nil {
		return nil, err
	}

	d := &graphmodel.Decision{
		ID:           graphmodel.NewDecisionID(),
		SessionID:    meta.SessionID,
		Statement:    args.Statement,
		Alternatives: args.Alternatives,
		Confidence:   args.Confidence,
		Module:       module,
		CreatedAt:    e.now().Unix(),
		CreatedBy:    "l1",
		Outcome:      graphmodel.OutcomePending,
	}
	if err := e.graph.PutDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}
	return recordDecisionResult{DecisionID: d.ID}, nil
}

// --- get_context ---

type getContextArgs struct {
	Domain string `json:"domain"`
	Scope  string `json:"scope"`
}

type calibrationView struct {
	SuccessRate    float64          `json:"success_rate"`
	MeanConfidence float64          `json:"mean_confidence"`
	ConfidenceGap  float64          `json:"confidence_gap"`
	Trend          graphmodel.Trend `json:"trend"`
	SampleSize     int              `json:"sample_size"`
}

type skillEntryView struct {
	Fingerprint string          `json:"fingerprint"`
	Statement   string          `json:"statement"`
	Zone        graphmodel.Zone `json:"zone"`
	SuccessRate float64         `json:"success_rate"`
	SampleSize  int             `json:"sample_size"`
}

type skillView struct {
	Version     int              `json:"version"`
	SuccessRate float64          `json:"success_rate"`
	GreenZone   []skillEntryView `json:"green_zone"`
	RedZone     []skillEntryView `json:"red_zone"`
}

type decisionView struct {
	DecisionID        string                     `json:"decision_id"`
	SessionID         string                     `json:"session_id,omitempty"`
	Statement         string                     `json:"statement"`
	Alternatives      []string                   `json:"alternatives,omitempty"`
	Confidence        float64                    `json:"confidence"`
	Module            graphmodel.Module          `json:"module"`
	CreatedAt         int64                      `json:"created_at"`
	CreatedBy         string                     `json:"created_by"`
	Outcome           graphmodel.DecisionOutcome `json:"outcome"`
	ResolvedAt        *int64                     `json:"resolved_at,omitempty"`
	ActualSuccessRate *float64                   `json:"actual_success_rate,omitempty"`
	EngramID          *string                    `json:"engram_id,omitempty"`
}

type contextPayload struct {
	Domain                          graphmodel.Module `json:"domain"`
	RecentDecisions                 []decisionView    `json:"recent_decisions"`
	Calibration                     *calibrationView  `json:"calibration,omitempty"`
	Skill                           *skillView        `json:"skill,omitempty"`
	RecommendedConfidenceAdjustment float64           `json:"recommended_confidence_adjustment"`
}

func toDecisionView(d *graphmodel.Decision) decisionView {
	return decisionView{
		DecisionID: d.ID, SessionID: d.SessionID, Statement: d.Statement, Alternatives: d.Alternatives,
		Confidence: d.Confidence, Module: d.Module, CreatedAt: d.CreatedAt, CreatedBy: d.CreatedBy,
		Outcome: d.Outcome, ResolvedAt: d.ResolvedAt, ActualSuccessRate: d.ActualSuccessRate, EngramID: d.EngramID,
	}
}

func toSkillEntryViews(entries []graphmodel.SkillEntry) []skillEntryView {
	views := make([]skillEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, skillEntryView{
			Fingerprint: e.Fingerprint, Statement: e.Statement, Zone: e.Zone,
			SuccessRate: e.SuccessRate, SampleSize: e.SampleSize,
		})
	}
	return views
}

func (e *Endpoint) getContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args getContextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	domain, err := parseModule(args.Domain)
	if err != nil {
		return nil, err
	}

	recent, err := e.graph.ListDecisionsByModule(ctx, domain, maxRecentDecisions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}

	recentViews := make([]decisionView, 0, len(recent))
	for _, d := range recent {
		recentViews = append(recentViews, toDecisionView(d))
	}
	payload := contextPayload{Domain: domain, RecentDecisions: recentViews}

	if profile, err := e.graph.GetCalibrationProfile(ctx, domain); err == nil {
		payload.Calibration = &calibrationView{
			SuccessRate:    profile.SuccessRate,
			MeanConfidence: profile.MeanConfidence,
			ConfidenceGap:  profile.ConfidenceGap,
			Trend:          profile.Trend,
			SampleSize:     profile.SampleSize,
		}
		// Surface the gap as a confidence correction: a positive gap means
		// declared confidence runs ahead of observed success and should be
		// nudged down by that amount; a negative gap nudges it up.
		payload.RecommendedConfidenceAdjustment = -profile.ConfidenceGap
	} else if err != graph.ErrNotFound {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}

	if current, err := e.graph.CurrentSkill(ctx, domain); err == nil {
		payload.Skill = &skillView{
			Version:     current.Version,
			SuccessRate: current.SuccessRate,
			GreenZone:   toSkillEntryViews(current.GreenZone),
			RedZone:     toSkillEntryViews(current.RedZone),
		}
	} else if err != graph.ErrNotFound {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}

	return payload, nil
}

// --- check_patterns ---

type checkPatternsArgs struct {
	Text string `json:"text"`
}

type antiPatternMatch struct {
	Name     string              `json:"name"`
	Category graphmodel.Module   `json:"category"`
	Severity graphmodel.Severity `json:"severity"`
}

// checkPatterns has no domain argument (spec §4.1 contract table), so it
// scans every known module category rather than narrowing to one.
func (e *Endpoint) checkPatterns(ctx context.Context, raw json.RawMessage) (any, error) {
	var args checkPatternsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	var matches []antiPatternMatch
	for _, m := range graphmodel.AllModules() {
		patterns, err := e.graph.ListAntiPatternsByCategory(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
		}
		for _, ap := range patterns {
			if matchesAntiPattern(ap, args.Text) {
				matches = append(matches, antiPatternMatch{Name: ap.Name, Category: ap.Category, Severity: ap.Severity})
			}
		}
	}
	if matches == nil {
		matches = []antiPatternMatch{}
	}
	return matches, nil
}

func matchesAntiPattern(ap *graphmodel.AntiPattern, text string) bool {
	if ap.Pattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + ap.Pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// --- get_calibration ---

type getCalibrationArgs struct {
	Domain string `json:"domain"`
}

func (e *Endpoint) getCalibration(ctx context.Context, raw json.RawMessage) (any, error) {
	var args getCalibrationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	domain, err := parseModule(args.Domain)
	if err != nil {
		return nil, err
	}

	profile, err := e.graph.GetCalibrationProfile(ctx, domain)
	if err == graph.ErrNotFound {
		// spec §4.1: "unknown_domain allowed (returns empty)" — an absent
		// profile is not surfaced as an error.
		return calibrationView{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}
	return calibrationView{
		SuccessRate:    profile.SuccessRate,
		MeanConfidence: profile.MeanConfidence,
		ConfidenceGap:  profile.ConfidenceGap,
		Trend:          profile.Trend,
		SampleSize:     profile.SampleSize,
	}, nil
}

// --- link_outcome ---

type linkOutcomeArgs struct {
	DecisionID string  `json:"decision_id"`
	Status     string  `json:"status"`
	Score      float64 `json:"score"`
}

type linkOutcomeResult struct {
	DecisionID        string                     `json:"decision_id"`
	Module            graphmodel.Module          `json:"domain"`
	Outcome           graphmodel.DecisionOutcome `json:"outcome"`
	Confidence        float64                    `json:"confidence"`
	ActualSuccessRate *float64                   `json:"actual_success_rate,omitempty"`
	ResolvedAt        *int64                     `json:"resolved_at,omitempty"`
}

func (e *Endpoint) linkOutcome(ctx context.Context, raw json.RawMessage) (any, error) {
	var args linkOutcomeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	outcome := graphmodel.DecisionOutcome(args.Status)
	switch outcome {
	case graphmodel.OutcomeSuccess, graphmodel.OutcomeFailure, graphmodel.OutcomeReworked:
	default:
		return nil, fmt.Errorf("%w: status must be one of success, failure, reworked", membriaerr.ErrValidation)
	}

	d, err := e.graph.GetDecision(ctx, args.DecisionID)
	if err == graph.ErrNotFound {
		return nil, fmt.Errorf("%w: decision %q", membriaerr.ErrNotFound, args.DecisionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}
	if d.Outcome.IsTerminal() {
		return nil, fmt.Errorf("%w: decision %q is already %s", membriaerr.ErrAlreadyTerminal, d.ID, d.Outcome)
	}

	now := e.now().Unix()
	score := args.Score
	d.Outcome = outcome
	d.ResolvedAt = &now
	d.ActualSuccessRate = &score
	if err := e.graph.PutDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}

	e.onOutcome(string(d.Module), string(outcome), d.Confidence)
	return linkOutcomeResult{
		DecisionID: d.ID, Module: d.Module, Outcome: d.Outcome, Confidence: d.Confidence,
		ActualSuccessRate: d.ActualSuccessRate, ResolvedAt: d.ResolvedAt,
	}, nil
}

// --- capture_session ---

type captureSessionArgs struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

type captureSessionResult struct {
	SignalsEnqueued int `json:"signals_enqueued"`
}

func (e *Endpoint) captureSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var args captureSessionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if e.detector == nil {
		return captureSessionResult{}, nil
	}

	id := graphmodel.NewSignalID()
	sig, ok := e.detector.Detect(id, signal.Exchange{Prompt: args.Prompt, Response: args.Response})
	if !ok {
		return captureSessionResult{SignalsEnqueued: 0}, nil
	}
	if err := e.queue.Enqueue(ctx, sig); err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}
	return captureSessionResult{SignalsEnqueued: 1}, nil
}

// --- get_plan_context ---

type getPlanContextArgs struct {
	Domain    string `json:"domain"`
	Scope     string `json:"scope"`
	MaxTokens int    `json:"max_tokens"`
}

type pastPlanView struct {
	StepCount        int      `json:"step_count"`
	DurationEstimate float64  `json:"duration_estimate"`
	ActualDuration   *float64 `json:"actual_duration,omitempty"`
	ReworkCount      int      `json:"rework_count"`
}

type failedApproachView struct {
	Statement string `json:"statement"`
	Outcome   string `json:"outcome"`
}

type successfulPatternView struct {
	Fingerprint string `json:"fingerprint"`
	Statement   string `json:"statement"`
	Count       int    `json:"count"`
}

type planPacketResult struct {
	Domain             graphmodel.Module       `json:"domain"`
	PastPlans          []pastPlanView          `json:"past_plans"`
	FailedApproaches   []failedApproachView    `json:"failed_approaches"`
	SuccessfulPatterns []successfulPatternView `json:"successful_patterns"`
	Calibration        *calibrationView        `json:"calibration,omitempty"`
	ProjectConstraints []string                `json:"project_constraints"`
	Markdown           string                  `json:"markdown"`
	DroppedSections    []string                `json:"dropped_sections,omitempty"`
}

func (e *Endpoint) getPlanContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args getPlanContextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	domain, err := parseModule(args.Domain)
	if err != nil {
		return nil, err
	}
	pkt, err := e.builder.Build(ctx, domain, args.Scope, args.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}

	result := planPacketResult{
		Domain:             pkt.Domain,
		ProjectConstraints: pkt.ProjectConstraints,
		Markdown:           pkt.Markdown,
		DroppedSections:    pkt.DroppedSections,
	}
	for _, p := range pkt.PastPlans {
		result.PastPlans = append(result.PastPlans, pastPlanView{
			StepCount: p.StepCount, DurationEstimate: p.DurationEstimate,
			ActualDuration: p.ActualDuration, ReworkCount: p.ReworkCount,
		})
	}
	for _, f := range pkt.FailedApproaches {
		result.FailedApproaches = append(result.FailedApproaches, failedApproachView{
			Statement: f.Statement, Outcome: string(f.Outcome),
		})
	}
	for _, s := range pkt.SuccessfulPatterns {
		result.SuccessfulPatterns = append(result.SuccessfulPatterns, successfulPatternView{
			Fingerprint: s.Fingerprint, Statement: s.Statement, Count: s.Count,
		})
	}
	if pkt.Calibration != nil {
		result.Calibration = &calibrationView{
			SuccessRate:   pkt.Calibration.SuccessRate,
			ConfidenceGap: pkt.Calibration.ConfidenceGap,
			Trend:         pkt.Calibration.Trend,
			SampleSize:    pkt.Calibration.SampleSize,
		}
	}
	return result, nil
}

// --- validate_plan ---

type validatePlanArgs struct {
	Steps  []string `json:"steps"`
	Domain string   `json:"domain"`
}

// stepBiasRisk pairs one plan step with the Bias Analyzer's reading of
// it, since MID-PLAN validation consults the Bias Analyzer alongside the
// Plan Validator's own three checks.
type stepBiasRisk struct {
	StepIndex       int      `json:"step_index"`
	RiskScore       float64  `json:"risk_score"`
	Severity        string   `json:"severity"`
	Biases          []string `json:"biases"`
	Recommendations []string `json:"recommendations"`
}

type warningView struct {
	StepIndex int    `json:"step_index"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

type validatePlanResult struct {
	Warnings       []warningView  `json:"warnings"`
	HighSeverity   int            `json:"high_severity"`
	MediumSeverity int            `json:"medium_severity"`
	LowSeverity    int            `json:"low_severity"`
	CanProceed     bool           `json:"can_proceed"`
	BiasRisks      []stepBiasRisk `json:"bias_risks"`
}

func (e *Endpoint) validatePlan(ctx context.Context, raw json.RawMessage) (any, error) {
	var args validatePlanArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Steps) == 0 {
		return nil, fmt.Errorf("%w: steps must not be empty", membriaerr.ErrValidation)
	}
	domain, err := parseModule(args.Domain)
	if err != nil {
		return nil, err
	}
	vr, err := e.validator.Validate(ctx, args.Steps, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}

	var risks []stepBiasRisk
	if e.bias != nil {
		for i, step := range args.Steps {
			// No per-step confidence or alternatives travel with a plan
			// step, so the confidence-reality-gap component is effectively
			// disabled here (declaredConfidence=0 never exceeds a
			// domain's success_rate by the 0.2 threshold).
			r, err := e.bias.Analyze(ctx, domain, step, nil, 0)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
			}
			if len(r.Biases) > 0 {
				risks = append(risks, stepBiasRisk{
					StepIndex: i, RiskScore: r.RiskScore, Severity: string(r.Severity),
					Biases: r.Biases, Recommendations: r.Recommendations,
				})
			}
		}
	}

	warnings := make([]warningView, 0, len(vr.Warnings))
	for _, w := range vr.Warnings {
		warnings = append(warnings, warningView{
			StepIndex: w.StepIndex, Kind: string(w.Kind), Severity: string(w.Severity), Message: w.Message,
		})
	}

	return validatePlanResult{
		Warnings: warnings, HighSeverity: vr.HighSeverity, MediumSeverity: vr.MediumSeverity,
		LowSeverity: vr.LowSeverity, CanProceed: vr.CanProceed, BiasRisks: risks,
	}, nil
}

// --- record_plan ---

type recordPlanArgs struct {
	Steps            []string `json:"steps"`
	Domain           string   `json:"domain"`
	Confidence       float64  `json:"confidence"`
	DurationEstimate float64  `json:"duration_estimate"`
	WarningsShown    int      `json:"warnings_shown"`
	WarningsHeeded   int      `json:"warnings_heeded"`
}

type recordPlanResult struct {
	EngramID    string   `json:"engram_id"`
	DecisionIDs []string `json:"decision_ids"`
}

func (e *Endpoint) recordPlan(ctx context.Context, raw json.RawMessage, meta Meta) (any, error) {
	var args recordPlanArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Steps) == 0 {
		return nil, fmt.Errorf("%w: steps must not be empty", membriaerr.ErrValidation)
	}
	domain, err := parseModule(args.Domain)
	if err != nil {
		return nil, err
	}
	result, err := e.recorder.Record(ctx, plan.RecordInput{
		Steps:            args.Steps,
		Domain:           domain,
		Confidence:       args.Confidence,
		DurationEstimate: args.DurationEstimate,
		WarningsShown:    args.WarningsShown,
		WarningsHeeded:   args.WarningsHeeded,
		SessionID:        meta.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", membriaerr.ErrGraphUnavailable, err)
	}
	return recordPlanResult{EngramID: result.EngramID, DecisionIDs: result.DecisionIDs}, nil
}
