package calibration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/calibration"
	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graphmodel"
)

func fixedCalibrationClock() time.Time { return time.Unix(1000, 0) }

func seedTerminal(t *testing.T, g *memstore.Store, domain graphmodel.Module, confidence float64, outcome graphmodel.DecisionOutcome, createdAt int64) *graphmodel.Decision {
	t.Helper()
	d := &graphmodel.Decision{
		ID:         graphmodel.NewDecisionID(),
		Module:     domain,
		Statement:  "seed",
		Confidence: confidence,
		Outcome:    outcome,
		CreatedAt:  createdAt,
	}
	require.NoError(t, g.PutDecision(context.Background(), d))
	return d
}

func TestUpdateComputesAlphaBetaFromScratch(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	e := calibration.New(g, fixedCalibrationClock, nil)

	seedTerminal(t, g, graphmodel.ModuleAPI, 0.8, graphmodel.OutcomeSuccess, 1)
	p, err := e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeSuccess, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha)
	assert.Equal(t, 1.0, p.Beta)
	assert.InDelta(t, 2.0/3.0, p.SuccessRate, 1e-9)

	seedTerminal(t, g, graphmodel.ModuleAPI, 0.6, graphmodel.OutcomeFailure, 2)
	p, err = e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeFailure, 0.6)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha)
	assert.Equal(t, 2.0, p.Beta)
	assert.Equal(t, 0.5, p.SuccessRate)
}

func TestUpdateMatchesAcceptanceScenarioTenDecisions(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	e := calibration.New(g, fixedCalibrationClock, nil)

	var p *graphmodel.CalibrationProfile
	var err error
	for i := 0; i < 8; i++ {
		seedTerminal(t, g, graphmodel.ModuleAPI, 0.75, graphmodel.OutcomeSuccess, int64(i))
		p, err = e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeSuccess, 0.75)
		require.NoError(t, err)
	}
	for i := 8; i < 10; i++ {
		seedTerminal(t, g, graphmodel.ModuleAPI, 0.75, graphmodel.OutcomeFailure, int64(i))
		p, err = e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeFailure, 0.75)
		require.NoError(t, err)
	}

	assert.Equal(t, 9.0, p.Alpha)
	assert.Equal(t, 3.0, p.Beta)
	assert.InDelta(t, 0.75, p.SuccessRate, 0.01)
	assert.Equal(t, 10, p.SampleSize)
}

func TestUpdateFlagsImprovingTrendWhenRecentOutperformsLifetime(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	e := calibration.New(g, fixedCalibrationClock, nil)

	for i := 0; i < 10; i++ {
		seedTerminal(t, g, graphmodel.ModuleAPI, 0.5, graphmodel.OutcomeFailure, int64(i))
	}
	var p *graphmodel.CalibrationProfile
	var err error
	for i := 10; i < 20; i++ {
		seedTerminal(t, g, graphmodel.ModuleAPI, 0.5, graphmodel.OutcomeSuccess, int64(i))
		p, err = e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeSuccess, 0.5)
		require.NoError(t, err)
	}
	assert.Equal(t, graphmodel.TrendImproving, p.Trend)
}

func TestUpdateTriggersSkillEligibilityAtThreshold(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()

	var notified []graphmodel.Module
	e := calibration.New(g, fixedCalibrationClock, func(_ context.Context, domain graphmodel.Module) {
		notified = append(notified, domain)
	})

	for i := 0; i < 9; i++ {
		seedTerminal(t, g, graphmodel.ModuleAPI, 0.6, graphmodel.OutcomeSuccess, int64(i))
		_, err := e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeSuccess, 0.6)
		require.NoError(t, err)
	}
	assert.Empty(t, notified, "must not fire before sample_size reaches 10")

	seedTerminal(t, g, graphmodel.ModuleAPI, 0.6, graphmodel.OutcomeSuccess, 9)
	_, err := e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomeSuccess, 0.6)
	require.NoError(t, err)
	require.Len(t, notified, 1)
	assert.Equal(t, graphmodel.ModuleAPI, notified[0])
}

func TestUpdateRejectsNonTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	e := calibration.New(g, fixedCalibrationClock, nil)

	_, err := e.Update(ctx, graphmodel.ModuleAPI, graphmodel.OutcomePending, 0.5)
	assert.Error(t, err)
}
