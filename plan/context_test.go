package plan_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/plan"
)

func TestBuildAssemblesAllSections(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()

	require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
		ID: "dec_1", Module: graphmodel.ModuleAuth, Statement: "Use sessions", Outcome: graphmodel.OutcomeFailure, CreatedAt: 1,
	}))
	require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
		ID: "dec_2", Module: graphmodel.ModuleAuth, Statement: "Use JWT", Outcome: graphmodel.OutcomeSuccess, CreatedAt: 2,
	}))
	require.NoError(t, g.PutCalibrationProfile(ctx, &graphmodel.CalibrationProfile{
		Domain: graphmodel.ModuleAuth, SuccessRate: 0.8, SampleSize: 10, Trend: graphmodel.TrendStable,
	}))

	b := plan.New(plan.Options{Graph: g, Constraints: []string{"must use Go 1.25"}})
	pkt, err := b.Build(ctx, graphmodel.ModuleAuth, "", 0)
	require.NoError(t, err)

	assert.Len(t, pkt.FailedApproaches, 1)
	assert.Len(t, pkt.SuccessfulPatterns, 1)
	require.NotNil(t, pkt.Calibration)
	assert.Equal(t, 0.8, pkt.Calibration.SuccessRate)
	assert.Contains(t, pkt.ProjectConstraints, "must use Go 1.25")
	assert.Contains(t, pkt.Markdown, "Use JWT")
}

func TestBuildDropsSectionsInReversePriorityOrderWhenOverBudget(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.PutDecision(ctx, &graphmodel.Decision{
			ID: "dec_fail_" + string(rune('a'+i)), Module: graphmodel.ModuleAuth,
			Statement: strings.Repeat("a long failed decision statement ", 20), Outcome: graphmodel.OutcomeFailure, CreatedAt: int64(i),
		}))
	}
	require.NoError(t, g.PutCalibrationProfile(ctx, &graphmodel.CalibrationProfile{Domain: graphmodel.ModuleAuth, SuccessRate: 0.5}))

	b := plan.New(plan.Options{Graph: g, Constraints: []string{"constraint one", "constraint two"}})
	pkt, err := b.Build(ctx, graphmodel.ModuleAuth, "", 50)
	require.NoError(t, err)

	assert.Empty(t, pkt.ProjectConstraints)
	assert.NotEmpty(t, pkt.DroppedSections)
	assert.Equal(t, "project_constraints", pkt.DroppedSections[0])
}

func TestFingerprintNormalizesCaseAndWhitespace(t *testing.T) {
	assert.Equal(t, plan.Fingerprint("Use   JWT  for Auth"), plan.Fingerprint("use jwt for auth"))
}
