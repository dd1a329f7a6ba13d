// Package signal implements the Signal Detector (L2): a lexical scan of
// captured prompt/response exchanges that enqueues candidate decision
// signals for later batch extraction (spec §4.2).
package signal

import (
	"regexp"
	"strings"
	"time"

	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/queue"
)

// maxInputBytes bounds the text scanned per exchange; longer input is
// truncated at the last sentence boundary before matching (spec §4.2).
const maxInputBytes = 64 * 1024

// threshold is the summed pattern weight above which a candidate signal
// is emitted.
const threshold = 1.0

type weightedPattern struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

var highWeightPatterns = []weightedPattern{
	{"recommend", 1.0, regexp.MustCompile(`(?i)i recommend (using|going with|choosing)`)},
	{"best_choice", 1.0, regexp.MustCompile(`(?i)(better|best) (choice|option|approach) (is|would be)`)},
	{"chose_over", 1.0, regexp.MustCompile(`(?i)(chose|selected|picked|went with) .+ (over|instead of|rather than) .+`)},
	{"lets_use", 1.0, regexp.MustCompile(`(?i)let's (go with|use|implement|choose)`)},
}

var mediumWeightPatterns = []weightedPattern{
	{"comparison", 0.4, regexp.MustCompile(`(?i)(comparing|comparison of|versus|vs\.?)`)},
	{"tradeoffs", 0.4, regexp.MustCompile(`(?i)(pros and cons|trade-?offs?|advantages)`)},
	{"alternatives", 0.4, regexp.MustCompile(`(?i)(alternatives?|options?) (include|are|would be)`)},
}

// moduleBucket pairs a module tag with the keywords that infer it. Order
// matters: ties are broken by first-hit order (spec §4.2).
type moduleBucket struct {
	module   graphmodel.Module
	keywords *regexp.Regexp
}

var moduleBuckets = []moduleBucket{
	{graphmodel.ModuleAuth, regexp.MustCompile(`(?i)\b(auth|login|jwt|oauth|session|password|token)\b`)},
	{graphmodel.ModuleDatabase, regexp.MustCompile(`(?i)\b(database|postgres|mongo|redis|sql|orm|migration)\b`)},
	{graphmodel.ModuleAPI, regexp.MustCompile(`(?i)\b(rest|graphql|grpc|endpoint|route|middleware)\b`)},
	{graphmodel.ModuleInfra, regexp.MustCompile(`(?i)\b(docker|kubernetes|deploy|ci|cd|terraform)\b`)},
	{graphmodel.ModuleFrontend, regexp.MustCompile(`(?i)\b(react|vue|angular|css|html|component|frontend)\b`)},
	{graphmodel.ModuleBackend, regexp.MustCompile(`(?i)\b(handler|controller|service layer|business logic|backend)\b`)},
}

// sentenceBoundary finds the sentence terminators used to truncate
// over-size input without cutting mid-sentence.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s`)

// Exchange is a captured prompt/response pair passed to Detect.
type Exchange struct {
	Prompt   string
	Response string
}

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Detector scans exchanges for decision-shaped language and produces
// queue.Signal candidates.
type Detector struct {
	now Clock
}

// New returns a Detector using time.Now as its clock.
func New() *Detector {
	return &Detector{now: time.Now}
}

// NewWithClock returns a Detector using the given clock, for tests.
func NewWithClock(now Clock) *Detector {
	return &Detector{now: now}
}

// Detect scans ex and returns a candidate signal if the summed pattern
// weight exceeds threshold, or ok=false if the exchange carries no
// decision-shaped language. It completes well under 10ms for inputs up
// to 64KiB since matching is a fixed set of compiled regexps over
// bounded text.
func (d *Detector) Detect(id string, ex Exchange) (sig queue.Signal, ok bool) {
	text := truncate(ex.Prompt + "\n" + ex.Response)

	var matched []string
	var weight float64
	for _, p := range highWeightPatterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
			weight += p.weight
		}
	}
	for _, p := range mediumWeightPatterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
			weight += p.weight
		}
	}
	if weight <= threshold {
		return queue.Signal{}, false
	}

	return queue.Signal{
		ID:             id,
		SourcePrompt:   ex.Prompt,
		SourceResponse: ex.Response,
		Patterns:       matched,
		Module:         string(inferModule(text)),
		Status:         queue.StatusPending,
		CreatedAt:      d.now().Unix(),
	}, true
}

// inferModule returns the first module bucket whose keywords match text,
// or graphmodel.ModuleOther if none match.
func inferModule(text string) graphmodel.Module {
	for _, b := range moduleBuckets {
		if b.keywords.MatchString(text) {
			return b.module
		}
	}
	return graphmodel.ModuleOther
}

// truncate bounds s to maxInputBytes, cutting at the last sentence
// boundary found within the limit so matching never runs on a
// mid-sentence fragment.
func truncate(s string) string {
	if len(s) <= maxInputBytes {
		return s
	}
	window := s[:maxInputBytes]
	locs := sentenceBoundary.FindAllStringIndex(window, -1)
	if len(locs) == 0 {
		return window
	}
	last := locs[len(locs)-1]
	return strings.TrimSpace(window[:last[0]+1])
}
