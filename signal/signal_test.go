package signal_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/signal"
)

func fixedClock() time.Time { return time.Unix(1000, 0) }

func TestDetectAboveThreshold(t *testing.T) {
	d := signal.NewWithClock(fixedClock)
	sig, ok := d.Detect("sig_1", signal.Exchange{
		Prompt:   "Should we use JWT or session cookies for auth?",
		Response: "I recommend using JWT. Comparing JWT versus sessions, JWT scales better across services.",
	})
	require.True(t, ok)
	assert.Equal(t, string(graphmodel.ModuleAuth), sig.Module)
	assert.Equal(t, queue.StatusPending, sig.Status)
	assert.Equal(t, int64(1000), sig.CreatedAt)
	assert.Contains(t, sig.Patterns, "recommend")
	assert.Contains(t, sig.Patterns, "comparison")
}

func TestDetectBelowThreshold(t *testing.T) {
	d := signal.New()
	_, ok := d.Detect("sig_1", signal.Exchange{
		Prompt:   "What's the weather like?",
		Response: "I don't have access to weather data.",
	})
	assert.False(t, ok)
}

func TestDetectSingleMediumPatternInsufficient(t *testing.T) {
	d := signal.New()
	// A single 0.4-weight match must not cross the >1.0 threshold alone.
	_, ok := d.Detect("sig_1", signal.Exchange{
		Response: "Here are the pros and cons of each library.",
	})
	assert.False(t, ok)
}

func TestInferModuleTieBrokenByFirstHit(t *testing.T) {
	d := signal.New()
	sig, ok := d.Detect("sig_1", signal.Exchange{
		Response: "Let's go with postgres for the auth service since it handles sessions well.",
	})
	require.True(t, ok)
	// "auth" keywords appear before the database bucket is checked.
	assert.Equal(t, string(graphmodel.ModuleAuth), sig.Module)
}

func TestInferModuleOther(t *testing.T) {
	d := signal.New()
	sig, ok := d.Detect("sig_1", signal.Exchange{
		Response: "Let's go with the simpler approach for naming variables in this module.",
	})
	require.True(t, ok)
	assert.Equal(t, string(graphmodel.ModuleOther), sig.Module)
}

func TestDetectTruncatesOversizeInputAtSentenceBoundary(t *testing.T) {
	d := signal.New()
	sentence := "This is a filler sentence about nothing important. "
	var b strings.Builder
	for b.Len() < 70*1024 {
		b.WriteString(sentence)
	}
	b.WriteString("I recommend using the new approach. Comparing it versus the old one, it is better.")

	start := time.Now()
	_, _ = d.Detect("sig_1", signal.Exchange{Response: b.String()})
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 10*time.Millisecond)
}
