package evalset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanValidate(t *testing.T) {
	valid := []SamplingPlan{
		{Strategy: StrategyEvenByFile, Ratio: 0.1},
		{Strategy: StrategyEvenByFile, TargetCount: 100},
		{Strategy: StrategyTokenBudget, TokenTarget: 50000},
		{Strategy: StrategyPerGroupQuota, TokensPerGroup: 50000},
	}
	for _, plan := range valid {
		assert.NoError(t, plan.Validate(), plan.Strategy.String())
	}

	invalid := []SamplingPlan{
		{Strategy: StrategyEvenByFile},
		{Strategy: StrategyEvenByFile, Ratio: 1.5},
		{Strategy: StrategyEvenByFile, Ratio: -0.5},
		{Strategy: StrategyTokenBudget},
		{Strategy: StrategyPerGroupQuota},
		{Strategy: Strategy(99), TokenTarget: 100},
	}
	for _, plan := range invalid {
		assert.Error(t, plan.Validate(), plan.Strategy.String())
	}
}

func TestNeedsTokenCounts(t *testing.T) {
	even := SamplingPlan{Strategy: StrategyEvenByFile, Ratio: 0.5}
	assert.False(t, even.NeedsTokenCounts())
	budget := SamplingPlan{Strategy: StrategyTokenBudget, TokenTarget: 1}
	assert.True(t, budget.NeedsTokenCounts())
}

func TestParseOvershootPolicy(t *testing.T) {
	p, err := ParseOvershootPolicy("reject")
	assert.NoError(t, err)
	assert.Equal(t, OvershootReject, p)

	p, err = ParseOvershootPolicy("greedy")
	assert.NoError(t, err)
	assert.Equal(t, OvershootGreedy, p)

	_, err = ParseOvershootPolicy("sometimes")
	assert.Error(t, err)
}
