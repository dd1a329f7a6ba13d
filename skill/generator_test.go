package skill_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiquest-dev/membria/graph/memstore"
	"github.com/actiquest-dev/membria/graphmodel"
	"github.com/actiquest-dev/membria/skill"
)

func fixedSkillClock() time.Time { return time.Unix(2000, 0) }

func putTerminal(t *testing.T, g *memstore.Store, statement string, outcome graphmodel.DecisionOutcome) {
	t.Helper()
	require.NoError(t, g.PutDecision(context.Background(), &graphmodel.Decision{
		ID:        graphmodel.NewDecisionID(),
		Module:    graphmodel.ModuleAuth,
		Statement: statement,
		Outcome:   outcome,
	}))
}

func TestGenerateZonesGroupsBySuccessRateAndSampleSize(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()

	for i := 0; i < 4; i++ {
		putTerminal(t, g, "Use JWT for auth", graphmodel.OutcomeSuccess)
	}
	for i := 0; i < 10; i++ {
		outcome := graphmodel.OutcomeFailure
		if i == 0 {
			outcome = graphmodel.OutcomeSuccess
		}
		putTerminal(t, g, "Roll your own crypto", outcome)
	}
	for i := 0; i < 2; i++ {
		putTerminal(t, g, "Use sessions with Redis", graphmodel.OutcomeSuccess)
	}

	gen := skill.New(g, fixedSkillClock)
	s, err := gen.Generate(ctx, graphmodel.ModuleAuth)
	require.NoError(t, err)

	require.Len(t, s.GreenZone, 1)
	assert.Equal(t, "use jwt for auth", s.GreenZone[0].Fingerprint)

	require.Len(t, s.RedZone, 1)
	assert.Equal(t, "roll your own crypto", s.RedZone[0].Fingerprint)

	require.Len(t, s.YellowZone, 1)
	assert.Equal(t, "use sessions with redis", s.YellowZone[0].Fingerprint)

	assert.Equal(t, 1, s.Version)
	assert.Nil(t, s.BasedOn)
	assert.Equal(t, 16, s.SampleSize)
}

func TestGenerateSecondVersionLinksVersionOfPrior(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()

	for i := 0; i < 5; i++ {
		putTerminal(t, g, "Use JWT for auth", graphmodel.OutcomeSuccess)
	}
	gen := skill.New(g, fixedSkillClock)
	first, err := gen.Generate(ctx, graphmodel.ModuleAuth)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	putTerminal(t, g, "Use OAuth for auth", graphmodel.OutcomeSuccess)
	second, err := gen.Generate(ctx, graphmodel.ModuleAuth)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Version)
	require.NotNil(t, second.BasedOn)
	assert.Equal(t, first.ID, *second.BasedOn)

	edges, err := g.EdgesFrom(ctx, second.ID, graphmodel.RelVersionOf, 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, first.ID, edges[0].To)

	current, err := g.CurrentSkill(ctx, graphmodel.ModuleAuth)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestGenerateReturnsErrorWhenNoTerminalDecisions(t *testing.T) {
	ctx := context.Background()
	g := memstore.New()
	gen := skill.New(g, fixedSkillClock)

	_, err := gen.Generate(ctx, graphmodel.ModuleAuth)
	assert.ErrorIs(t, err, skill.ErrNoTerminalDecisions)
}
