package telemetry

import (
	"testing"

	"github.com/latchvision/latchvision/pkg/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateSLO_PassesWithinBudgetAndShedRate(t *testing.T) {
	m := Metrics{P95: 20, UnknownRate: 0.1, UnknownRateBand: [2]float64{0.05, 0.20}}
	err := EvaluateSLO(m, 33, oracle.Metrics{MaxLen: 64, CurrentDepth: 10, Enqueued: 100, ShedCount: 1, ShedRate: 0.01})
	assert.NoError(t, err)
}

func TestEvaluateSLO_BreachesOnSustainedP95OverBudget(t *testing.T) {
	m := Metrics{P95: 50}
	err := EvaluateSLO(m, 33, oracle.Metrics{})
	require.Error(t, err)
}

func TestEvaluateSLO_BreachesOnShedRateOverGate(t *testing.T) {
	m := Metrics{P95: 10}
	err := EvaluateSLO(m, 33, oracle.Metrics{MaxLen: 64, Enqueued: 100, ShedCount: 6, ShedRate: 0.06})
	require.Error(t, err)
}

func TestEvaluateSLO_BreachesOnDepthOverMaxLen(t *testing.T) {
	m := Metrics{P95: 10}
	err := EvaluateSLO(m, 33, oracle.Metrics{MaxLen: 64, CurrentDepth: 65})
	require.Error(t, err)
}

func TestEvaluateSLO_BreachesOnUnknownRateBelowBand(t *testing.T) {
	m := Metrics{P95: 10, UnknownRate: 0.01, UnknownRateBand: [2]float64{0.05, 0.20}}
	err := EvaluateSLO(m, 33, oracle.Metrics{MaxLen: 64})
	require.Error(t, err)
}

func TestEvaluateSLO_BreachesOnUnknownRateAboveBand(t *testing.T) {
	m := Metrics{P95: 10, UnknownRate: 0.9, UnknownRateBand: [2]float64{0.05, 0.20}}
	err := EvaluateSLO(m, 33, oracle.Metrics{MaxLen: 64})
	require.Error(t, err)
}
