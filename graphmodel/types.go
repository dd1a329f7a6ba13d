// Package graphmodel defines the typed nodes, relationships, and module
// taxonomy stored in the reasoning graph (spec §3). The Graph Store
// (package graph) is the only owner of these values at rest; every other
// component holds snapshots obtained through a query.
package graphmodel

// Module is one of the known decision domains. Unrecognized text maps to
// Other (spec §4.2, "Unmatched ⇒ other").
type Module string

// Known module tags.
const (
	ModuleAuth     Module = "auth"
	ModuleDatabase Module = "database"
	ModuleAPI      Module = "api"
	ModuleInfra    Module = "infra"
	ModuleFrontend Module = "frontend"
	ModuleBackend  Module = "backend"
	ModuleOther    Module = "other"
)

// AllModules returns every known Module tag, used by callers that must
// scan across domains (e.g. `check_patterns`, which is not domain-scoped).
func AllModules() []Module {
	return []Module{
		ModuleAuth, ModuleDatabase, ModuleAPI, ModuleInfra,
		ModuleFrontend, ModuleBackend, ModuleOther,
	}
}

// DecisionOutcome is the lifecycle state of a Decision.
type DecisionOutcome string

// Decision outcome states. Transitions are monotonic: Pending moves to
// exactly one terminal state and never back.
const (
	OutcomePending  DecisionOutcome = "pending"
	OutcomeSuccess  DecisionOutcome = "success"
	OutcomeFailure  DecisionOutcome = "failure"
	OutcomeReworked DecisionOutcome = "reworked"
)

// IsTerminal reports whether o is a terminal (non-pending) outcome.
func (o DecisionOutcome) IsTerminal() bool {
	return o != OutcomePending && o != ""
}

// Decision is a choice made during an AI session (spec §3 "Decision").
type Decision struct {
	ID                string
	SessionID         string
	Statement         string
	Alternatives      []string
	Confidence        float64
	Module            Module
	CreatedAt         int64
	CreatedBy         string // "l1" or "l3"
	Outcome           DecisionOutcome
	ResolvedAt        *int64
	ActualSuccessRate *float64
	EngramID          *string
	CommitID          *string
}

// Engram is a session checkpoint bound to a commit (spec §3 "Engram").
type Engram struct {
	ID                string
	SessionID         string
	CommitID          string
	CommitMessage     string
	Branch            string
	CreatedAt         int64
	SessionDuration   int64
	AgentType         string
	AgentModel        string
	DecisionsExtracted int
	FilesChanged      int
	LinesAdded        int
	LinesRemoved      int
}

// CodeChangeOutcome is the result classification of a CodeChange.
type CodeChangeOutcome string

// CodeChange outcome states.
const (
	CodeChangeSuccess  CodeChangeOutcome = "success"
	CodeChangeFailure  CodeChangeOutcome = "failure"
	CodeChangeReverted CodeChangeOutcome = "reverted"
)

// CodeChange is a commit implementing one or more decisions (spec §3
// "CodeChange").
type CodeChange struct {
	ID               string
	CommitID         string
	FilesChanged     []string
	DiffAdded        int
	DiffRemoved      int
	DiffModified     int
	Timestamp        int64
	Author           string
	DecisionID       *string
	Outcome          CodeChangeOutcome
	RevertingChangeID *string
	DaysToRevert     *int
}

// OutcomeStatus is the measurement classification of an Outcome node.
type OutcomeStatus string

// Outcome status values.
const (
	OutcomeStatusSuccess OutcomeStatus = "success"
	OutcomeStatusFailure OutcomeStatus = "failure"
	OutcomeStatusPartial OutcomeStatus = "partial"
)

// Outcome is a measurement of a CodeChange result (spec §3 "Outcome").
type Outcome struct {
	ID                 string
	Status             OutcomeStatus
	Evidence           string
	MeasuredAt         int64
	PerformanceImpact  float64
	Reliability        float64
	MaintenanceCost    float64
	CodeChangeID       string
}

// Severity is a low/medium/high classification shared by NegativeKnowledge
// and AntiPattern.
type Severity string

// Severity levels.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// NegativeKnowledge is a learned failure pattern (spec §3
// "NegativeKnowledge").
type NegativeKnowledge struct {
	ID              string
	Hypothesis      string
	Conclusion      string
	Evidence        string
	Source          string
	Domain          Module
	Severity        Severity
	DiscoveredAt    int64
	ExpiresAt       *int64
	BlockedPattern  string
	Recommendation  string
}

// AntiPattern is a detectable code-level bad practice (spec §3
// "AntiPattern").
type AntiPattern struct {
	ID               string
	Name             string
	Category         Module
	Severity         Severity
	ReposAffected    int
	OccurrenceCount  int
	RemovalRate      float64
	AvgDaysToRemoval float64
	Keywords         []string
	Pattern          string // regexp source
	GoodExample      string
	BadExample       string
	FirstSeen        int64
	Source           string
}

// Trend is the calibration trajectory classification.
type Trend string

// Trend values.
const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// CalibrationProfile is the per-domain Beta distribution summary (spec §3
// "CalibrationProfile"). Alpha and Beta always satisfy >= 1; SuccessRate
// and ConfidenceGap are derived and recomputed on every write by the
// calibration engine, never set independently.
type CalibrationProfile struct {
	Domain           Module
	Alpha            float64
	Beta             float64
	SuccessRate      float64
	MeanConfidence   float64
	ConfidenceGap    float64
	Trend            Trend
	SampleSize       int
	LastUpdated      int64
}

// Zone is the green/yellow/red classification of a skill pattern entry.
type Zone string

// Zone values.
const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

// SkillEntry is one distilled pattern within a Skill, grouped by normalized
// statement fingerprint.
type SkillEntry struct {
	Fingerprint string
	Statement   string
	Zone        Zone
	SuccessRate float64
	SampleSize  int
}

// Skill is a distilled, versioned, zoned procedure for a domain (spec §3
// "Skill").
type Skill struct {
	ID             string
	Domain         Module
	Name           string
	Version        int
	SuccessRate    float64
	SampleSize     int
	QualityScore   float64
	GreenZone      []SkillEntry
	YellowZone     []SkillEntry
	RedZone        []SkillEntry
	GeneratedFrom  []string // Decision IDs
	BasedOn        *string  // prior Skill ID
	CreatedAt      int64
	StaleAt        int64
}

// PlanRecord is a snapshot of one approved plan (spec §4.5's "past plans",
// populated by the `record_plan` tool). It is not part of the original
// node glossary; it exists to give the Plan Context Builder something
// concrete to read back, since the spec names the section's contents
// (step count, estimate vs actual, rework count) without naming the node
// that holds them.
type PlanRecord struct {
	ID               string
	Domain           Module
	Steps            []string
	Confidence       float64
	DurationEstimate float64
	// ActualDuration is nil until a later record updates it; no tool in
	// the protocol currently supplies it, so callers should treat a nil
	// value as "not yet measured" rather than zero.
	ActualDuration *float64
	WarningsShown  int
	WarningsHeeded int
	EngramID       string
	DecisionIDs    []string
	CreatedAt      int64
}

// RelationType names the directed edge kinds in the reasoning graph (spec
// §3 "Relationships").
type RelationType string

// Relationship kinds.
const (
	RelMadeIn        RelationType = "MADE_IN"        // Decision -> Engram
	RelImplementedIn RelationType = "IMPLEMENTED_IN" // Decision -> CodeChange
	RelResultedIn    RelationType = "RESULTED_IN"    // CodeChange -> Outcome
	RelTriggered     RelationType = "TRIGGERED"      // CodeChange -> AntiPattern
	RelCaused        RelationType = "CAUSED"         // Outcome -> NegativeKnowledge
	RelPrevented     RelationType = "PREVENTED"      // NegativeKnowledge -> Decision
	RelReworkedBy    RelationType = "REWORKED_BY"    // Decision -> CodeChange
	RelSimilarTo     RelationType = "SIMILAR_TO"     // Decision -> Decision (weighted)
	RelGeneratedFrom RelationType = "GENERATED_FROM" // Skill -> Decision
	RelVersionOf     RelationType = "VERSION_OF"     // Skill -> Skill
	RelWarnsAgainst  RelationType = "WARNS_AGAINST"  // Skill -> AntiPattern
	RelBasedOn       RelationType = "BASED_ON"       // Decision -> Skill
)

// Edge is a directed, optionally weighted relationship between two nodes
// identified by ID. Weight is meaningful only for SIMILAR_TO edges (spec
// §9 "Cyclic references"); it is zero for unweighted relation kinds.
type Edge struct {
	From   string
	To     string
	Type   RelationType
	Weight float64
}
