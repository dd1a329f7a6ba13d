package bias_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/bias"
	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graphmodel"
)

func TestAnalyzeAcceptanceScenarioHighRisk(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	a := bias.New(g)

	text := "We must definitely stick with our first idea of NoSQL, it's obviously the right choice, our team has invested too much to change now"
	res, err := a.Analyze(ctx, graphmodel.ModuleDatabase, text, nil, 0.9)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.RiskScore, 0.6)
	assert.Equal(t, graphmodel.SeverityHigh, res.Severity)
	assert.Contains(t, res.Recommendations, "cool-off")
	assert.Contains(t, res.Recommendations, "generate-alternatives")
}

func TestAnalyzeNoPatternsIsLowSeverity(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	a := bias.New(g)

	res, err := a.Analyze(ctx, graphmodel.ModuleAPI, "Use REST over GraphQL for this endpoint", []string{"REST", "GraphQL", "gRPC"}, 0.6)
	require.NoError(t, err)

	assert.Equal(t, graphmodel.SeverityLow, res.Severity)
	assert.Empty(t, res.Biases)
	assert.Empty(t, res.Recommendations)
}

func TestAnalyzeConfidenceRealityGapUsesDomainCalibration(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	require.NoError(t, g.PutCalibrationProfile(ctx, &graphmodel.CalibrationProfile{
		Domain: graphmodel.ModuleAuth, SuccessRate: 0.4,
	}))
	a := bias.New(g)

	res, err := a.Analyze(ctx, graphmodel.ModuleAuth, "Add a login page", []string{"session-based", "token-based"}, 0.9)
	require.NoError(t, err)

	require.Contains(t, res.Biases, bias.ConfidenceRealityGap)
	assert.InDelta(t, 0.25, res.RiskScore, 1e-9) // (0.9-0.4)*0.5
	assert.Equal(t, []string{"premortem"}, res.Recommendations)
}

func TestAnalyzeRiskScoreCapsAtOne(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	require.NoError(t, g.PutCalibrationProfile(ctx, &graphmodel.CalibrationProfile{
		Domain: graphmodel.ModuleInfra, SuccessRate: 0.0,
	}))
	a := bias.New(g)

	text := "This is our first idea and we must stick with it, it's definitely obviously guaranteed to work since we've already invested so much and can't waste more time"
	res, err := a.Analyze(ctx, graphmodel.ModuleInfra, text, nil, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.RiskScore)
	assert.Equal(t, graphmodel.SeverityHigh, res.Severity)
}
