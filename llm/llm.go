// Package llm defines the Batch Extractor's (L3) external-LLM boundary:
// a prompt built from queued signals goes out, a JSON array of draft
// decisions comes back (spec §4.3).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrUnavailable wraps any error returned by the underlying provider
// (network failure, quota exhaustion) so callers can distinguish it from
// a malformed response without inspecting provider-specific types.
var ErrUnavailable = errors.New("llm: provider unavailable")

// ErrMalformed indicates the provider's response could not be parsed
// into the expected decision array, or failed schema validation.
var ErrMalformed = errors.New("llm: malformed response")

// SignalInput is one queued signal to extract a decision from.
type SignalInput struct {
	ID             string
	SourcePrompt   string
	SourceResponse string
}

// Draft is one extracted decision as returned by the provider, matching
// the fields in spec §4.3: decision_statement, alternatives, confidence,
// reasoning, module.
type Draft struct {
	SignalID          string   `json:"-"`
	DecisionStatement string   `json:"decision_statement"`
	Alternatives      []string `json:"alternatives"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	Module            string   `json:"module"`
}

// Extractor sends a batch of signals to an external LLM and returns one
// draft decision per signal that yielded one.
type Extractor interface {
	Extract(ctx context.Context, batch []SignalInput) ([]Draft, error)
}

// responseSchema validates a single element of the provider's JSON array
// response before it is trusted as a decision draft (spec §4.3's
// required fields). Each element is validated independently so that one
// malformed entry does not invalidate the whole batch.
const responseSchemaJSON = `{
	"type": "object",
	"required": ["decision_statement", "alternatives", "confidence", "reasoning", "module"],
	"properties": {
		"decision_statement": {"type": "string", "minLength": 1},
		"alternatives": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"},
		"module": {"type": "string"}
	}
}`

var responseSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("membria://llm/response.json", mustUnmarshalSchema()); err != nil {
		panic(fmt.Sprintf("llm: invalid embedded response schema: %v", err))
	}
	s, err := c.Compile("membria://llm/response.json")
	if err != nil {
		panic(fmt.Sprintf("llm: failed to compile response schema: %v", err))
	}
	return s
}

func mustUnmarshalSchema() any {
	var v any
	if err := json.Unmarshal([]byte(responseSchemaJSON), &v); err != nil {
		panic(fmt.Sprintf("llm: invalid embedded schema JSON: %v", err))
	}
	return v
}

// ParseBatchResponse validates raw against the expected schema and pairs
// each element positionally with the signal that produced it. The
// provider is instructed to return exactly one object per input signal,
// in order; a response of a different length is treated as malformed
// rather than guessed at.
func ParseBatchResponse(raw string, batch []SignalInput) ([]Draft, error) {
	raw = strings.TrimSpace(raw)
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, fmt.Errorf("%w: invalid json array: %v", ErrMalformed, err)
	}
	if len(elements) != len(batch) {
		return nil, fmt.Errorf("%w: expected %d drafts, got %d", ErrMalformed, len(batch), len(elements))
	}

	// Each element is validated independently so one malformed entry
	// does not sink the rest of the batch; the signal it corresponds to
	// is simply left out of the returned drafts and is retried as a
	// failure by the caller.
	drafts := make([]Draft, 0, len(elements))
	for i, raw := range elements {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if err := responseSchema.Validate(doc); err != nil {
			continue
		}
		var d Draft
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		d.SignalID = batch[i].ID
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// BuildPrompt renders the batch as a single extraction prompt: one
// numbered exchange per signal, with explicit instructions on the
// expected JSON array shape and ordering.
func BuildPrompt(batch []SignalInput) string {
	var b strings.Builder
	b.WriteString("You will be given a numbered list of prompt/response exchanges from a coding assistant session. ")
	b.WriteString("For each exchange, extract the technical decision it represents, if any. ")
	b.WriteString("Respond with a JSON array with exactly one object per exchange, in the same order, each with fields: ")
	b.WriteString("decision_statement (string), alternatives (array of strings), confidence (number 0-1), reasoning (string), module (string). ")
	b.WriteString("Respond with the JSON array only, no other text.\n\n")
	for i, sig := range batch {
		fmt.Fprintf(&b, "Exchange %d:\nPrompt: %s\nResponse: %s\n\n", i+1, sig.SourcePrompt, sig.SourceResponse)
	}
	return b.String()
}
