package simulator

import (
	"math"
	"testing"

	"github.com/ferencberes/ethp2psim/internal/adversary"
	"github.com/ferencberes/ethp2psim/internal/protocols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatorRejectsUnknownEstimator(t *testing.T) {
	sim := newDandelionScenario(t, 1)
	_, err := NewEvaluator(sim, adversary.Estimator("oracle"))
	assert.Error(t, err)
}

func TestEvaluatorNeedsStoredRuns(t *testing.T) {
	sim := newDandelionScenario(t, 1)
	eval, err := NewEvaluator(sim, adversary.EstimatorFirstReach)
	require.NoError(t, err)
	_, err = eval.GetReport()
	assert.Error(t, err)
}

func TestReportContainsAllMetricsInRange(t *testing.T) {
	sim := newDandelionScenario(t, 1)
	_, err := sim.Run()
	require.NoError(t, err)

	for _, estimator := range []adversary.Estimator{
		adversary.EstimatorDummy,
		adversary.EstimatorFirstReach,
		adversary.EstimatorFirstSent,
	} {
		eval, err := NewEvaluator(sim, estimator)
		require.NoError(t, err)
		report, err := eval.GetReport()
		require.NoError(t, err)

		assert.Equal(t, sim.Protocol().String(), report.Protocol)
		assert.Equal(t, string(estimator), report.Estimator)
		require.Len(t, report.Metrics, 5, "estimator %s", estimator)
		for _, name := range MetricNames() {
			stat, ok := report.Metrics[name]
			require.True(t, ok, "missing metric %s for estimator %s", name, estimator)
			assert.False(t, math.IsNaN(stat.Mean), "%s mean", name)
			assert.GreaterOrEqual(t, stat.Std, 0.0, "%s std", name)
			if name == MetricEntropy {
				assert.GreaterOrEqual(t, stat.Mean, 0.0, "%s", name)
			} else {
				assert.GreaterOrEqual(t, stat.Mean, 0.0, "%s", name)
				assert.LessOrEqual(t, stat.Mean, 1.0, "%s", name)
			}
		}
	}
}

func TestDummyEstimatorHasMaximalEntropy(t *testing.T) {
	sim := newDandelionScenario(t, 1)
	_, err := sim.Run()
	require.NoError(t, err)

	eval, err := NewEvaluator(sim, adversary.EstimatorDummy)
	require.NoError(t, err)
	report, err := eval.GetReport()
	require.NoError(t, err)

	// 18 equiprobable candidates for 20 nodes and 2 adversaries
	assert.InDelta(t, math.Log(18), report.Metrics[MetricEntropy].Mean, 1e-9)
	assert.InDelta(t, 0.0, report.Metrics[MetricEntropy].Std, 1e-9)
}

func TestFirstReachBeatsDummyOnBroadcast(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := protocols.NewBroadcastProtocol(net, protocols.BroadcastModeAll)
	require.NoError(t, err)
	adv, err := adversary.NewAdversary(net, adversary.Options{Ratio: 0.3, Seed: 5})
	require.NoError(t, err)
	sim, err := New(net, proto, adv, Options{NumMsg: 20, Seed: 11})
	require.NoError(t, err)
	_, err = sim.Run()
	require.NoError(t, err)

	reportFor := func(estimator adversary.Estimator) *Report {
		eval, err := NewEvaluator(sim, estimator)
		require.NoError(t, err)
		report, err := eval.GetReport()
		require.NoError(t, err)
		return report
	}

	reach := reportFor(adversary.EstimatorFirstReach)
	// a point mass prediction has zero entropy
	assert.InDelta(t, 0.0, reach.Metrics[MetricEntropy].Mean, 1e-9)
	// timing heuristics far outrank a uniform guess over 14 candidates
	dummy := reportFor(adversary.EstimatorDummy)
	assert.Greater(t, reach.Metrics[MetricInverseRank].Mean, dummy.Metrics[MetricInverseRank].Mean)
}
