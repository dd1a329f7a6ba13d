package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/llm"
)

func TestParseBatchResponseValid(t *testing.T) {
	batch := []llm.SignalInput{{ID: "sig_1"}, {ID: "sig_2"}}
	raw := `[
		{"decision_statement": "Use JWT for auth", "alternatives": ["sessions"], "confidence": 0.8, "reasoning": "stateless", "module": "auth"},
		{"decision_statement": "Use Redis for caching", "alternatives": ["memcached"], "confidence": 0.6, "reasoning": "simpler ops", "module": "database"}
	]`

	drafts, err := llm.ParseBatchResponse(raw, batch)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "sig_1", drafts[0].SignalID)
	assert.Equal(t, "Use JWT for auth", drafts[0].DecisionStatement)
	assert.Equal(t, "sig_2", drafts[1].SignalID)
}

func TestParseBatchResponseInvalidJSON(t *testing.T) {
	_, err := llm.ParseBatchResponse("not json", []llm.SignalInput{{ID: "sig_1"}})
	assert.ErrorIs(t, err, llm.ErrMalformed)
}

func TestParseBatchResponseMissingField(t *testing.T) {
	// One malformed element (missing "reasoning") in an otherwise
	// well-formed batch is skipped, not treated as a batch-wide failure.
	raw := `[{"decision_statement": "x", "alternatives": [], "confidence": 0.5, "module": "auth"}]`
	drafts, err := llm.ParseBatchResponse(raw, []llm.SignalInput{{ID: "sig_1"}})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestParseBatchResponsePartialMalformedSkipsOnlyBadElement(t *testing.T) {
	raw := `[
		{"decision_statement": "Use JWT for auth", "alternatives": ["sessions"], "confidence": 0.8, "reasoning": "stateless", "module": "auth"},
		{"decision_statement": "x", "alternatives": [], "confidence": 0.5, "module": "auth"}
	]`
	drafts, err := llm.ParseBatchResponse(raw, []llm.SignalInput{{ID: "sig_1"}, {ID: "sig_2"}})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "sig_1", drafts[0].SignalID)
}

func TestParseBatchResponseLengthMismatch(t *testing.T) {
	raw := `[{"decision_statement": "x", "alternatives": [], "confidence": 0.5, "reasoning": "y", "module": "auth"}]`
	_, err := llm.ParseBatchResponse(raw, []llm.SignalInput{{ID: "sig_1"}, {ID: "sig_2"}})
	assert.ErrorIs(t, err, llm.ErrMalformed)
}

func TestBuildPromptIncludesAllExchanges(t *testing.T) {
	batch := []llm.SignalInput{
		{ID: "sig_1", SourcePrompt: "p1", SourceResponse: "r1"},
		{ID: "sig_2", SourcePrompt: "p2", SourceResponse: "r2"},
	}
	prompt := llm.BuildPrompt(batch)
	assert.Contains(t, prompt, "p1")
	assert.Contains(t, prompt, "r2")
	assert.Contains(t, prompt, "JSON array")
}
