package plan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/plan"
)

func fixedRecordClock() time.Time { return time.Unix(500, 0) }

func TestRecordCreatesDecisionPerStepAndEngram(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	r := plan.NewRecorder(g, fixedRecordClock)

	res, err := r.Record(ctx, plan.RecordInput{
		Steps:            []string{"Set up Express", "Implement JWT auth"},
		Domain:           graphmodel.ModuleAuth,
		Confidence:       0.7,
		DurationEstimate: 3600,
		WarningsShown:    2,
		WarningsHeeded:   1,
		SessionID:        "sess_1",
	})
	require.NoError(t, err)
	require.Len(t, res.DecisionIDs, 2)
	require.NotEmpty(t, res.EngramID)

	d, err := g.GetDecision(ctx, res.DecisionIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Set up Express", d.Statement)
	assert.Equal(t, graphmodel.OutcomePending, d.Outcome)
	assert.Equal(t, "plan", d.CreatedBy)

	eng, err := g.GetEngram(ctx, res.EngramID)
	require.NoError(t, err)
	assert.Equal(t, 2, eng.DecisionsExtracted)

	plans, err := g.ListRecentPlanRecords(ctx, graphmodel.ModuleAuth, 0)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 2, len(plans[0].Steps))
	assert.Equal(t, res.EngramID, plans[0].EngramID)
}
