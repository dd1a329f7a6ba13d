package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/config"
)

func TestApplyDefaults(t *testing.T) {
	var c config.Config
	c.ApplyDefaults()

	assert.Equal(t, config.DefaultExtractorBatchSize, c.Extractor.BatchSize)
	assert.Equal(t, config.DefaultExtractorIntervalSeconds, c.Extractor.IntervalSeconds)
	assert.Equal(t, config.DefaultPlanMaxContextTokens, c.Plan.MaxContextTokens)
	assert.Equal(t, config.DefaultHealthTickSeconds, c.Health.TickSeconds)
	assert.Equal(t, config.DefaultDaemonGraceSeconds, c.Daemon.GraceSeconds)
}

func TestValidate(t *testing.T) {
	c := config.Config{Graph: config.Graph{Host: "localhost", Port: 6379}}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	bad := c
	bad.Graph.Host = ""
	assert.Error(t, bad.Validate())

	bad = c
	bad.Graph.Port = 0
	assert.Error(t, bad.Validate())

	bad = c
	bad.LLM.APIKey = "sk-test"
	bad.LLM.Provider = "bedrock"
	assert.Error(t, bad.Validate())
}

func TestLLMConfigured(t *testing.T) {
	var c config.Config
	assert.False(t, c.LLMConfigured())

	c.LLM.APIKey = "sk-test"
	c.LLM.Provider = "anthropic"
	assert.True(t, c.LLMConfigured())
}
