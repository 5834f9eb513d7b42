package simulator

import (
	"math"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/adversary"
	"gonum.org/v1/gonum/stat"
)

// Metric names reported by the Evaluator.
const (
	MetricHitRatio           = "hit_ratio"
	MetricInverseRank        = "inverse_rank"
	MetricNDCG               = "ndcg"
	MetricEntropy            = "entropy"
	MetricMessageSpreadRatio = "message_spread_ratio"
)

// MetricNames lists the report keys in presentation order.
func MetricNames() []string {
	return []string{
		MetricHitRatio,
		MetricInverseRank,
		MetricNDCG,
		MetricEntropy,
		MetricMessageSpreadRatio,
	}
}

// Report aggregates the adversary's deanonymization performance over all
// messages of a simulation.
type Report struct {
	Protocol  string
	Estimator string
	Metrics   map[string]Stat
}

// Evaluator scores the adversary's ranked source predictions against the
// ground-truth sources stored in the simulator's runs.
type Evaluator struct {
	sim       *Simulator
	estimator adversary.Estimator
}

func NewEvaluator(sim *Simulator, estimator adversary.Estimator) (*Evaluator, error) {
	if err := estimator.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{sim: sim, estimator: estimator}, nil
}

// GetReport computes per-message metrics and aggregates their mean and
// standard deviation:
//   - hit_ratio: 1 if the true source is ranked first, else 0
//   - inverse_rank: 1 / rank of the true source
//   - ndcg: 1 / log2(rank + 1)
//   - entropy: Shannon entropy (natural log) of the normalized positive
//     prediction scores; 0 for a point mass
//   - message_spread_ratio: fraction of nodes the message reached
//
// A stored run with an empty trace violates the propagation invariant that
// the source records an arrival, and fails the whole report.
func (e *Evaluator) GetReport() (*Report, error) {
	runs := e.sim.Runs()
	if len(runs) == 0 {
		return nil, pl.NewError("no stored runs: call Run first")
	}
	perMsg := make(map[string][]float64, len(MetricNames()))
	for _, run := range runs {
		if len(run.Trace.Events) == 0 {
			return nil, pl.NewError("message %s has an empty propagation trace", run.Trace.Msg.ID)
		}
		ranked, err := e.sim.Adversary().Predict(run.Trace.Msg.ID, e.estimator)
		if err != nil {
			return nil, pl.WrapError(err, "predicting the source of message %s", run.Trace.Msg.ID)
		}
		rank, err := sourceRank(ranked, run.Trace.Msg.Source)
		if err != nil {
			return nil, err
		}
		hit := 0.0
		if rank == 1 {
			hit = 1.0
		}
		perMsg[MetricHitRatio] = append(perMsg[MetricHitRatio], hit)
		perMsg[MetricInverseRank] = append(perMsg[MetricInverseRank], 1.0/float64(rank))
		perMsg[MetricNDCG] = append(perMsg[MetricNDCG], 1.0/math.Log2(float64(rank)+1))
		perMsg[MetricEntropy] = append(perMsg[MetricEntropy], predictionEntropy(ranked))
		perMsg[MetricMessageSpreadRatio] = append(perMsg[MetricMessageSpreadRatio], run.Coverage)
	}
	metrics := make(map[string]Stat, len(perMsg))
	for name, values := range perMsg {
		metrics[name] = Stat{
			Mean: stat.Mean(values, nil),
			Std:  stat.PopStdDev(values, nil),
		}
	}
	return &Report{
		Protocol:  e.sim.Protocol().String(),
		Estimator: string(e.estimator),
		Metrics:   metrics,
	}, nil
}

// sourceRank is the 1-based position of the true source in the ranking.
func sourceRank(ranked []adversary.Candidate, source int) (int, error) {
	for i, c := range ranked {
		if c.Node == source {
			return i + 1, nil
		}
	}
	return 0, pl.NewError("node %d is missing from the adversary's ranking", source)
}

// predictionEntropy is the Shannon entropy of the positive prediction scores,
// normalized to a distribution. A point mass yields 0.
func predictionEntropy(ranked []adversary.Candidate) float64 {
	var scores []float64
	total := 0.0
	for _, c := range ranked {
		if c.Score > 0 {
			scores = append(scores, c.Score)
			total += c.Score
		}
	}
	if len(scores) == 0 || total <= 0 {
		return 0
	}
	for i := range scores {
		scores[i] /= total
	}
	return stat.Entropy(scores)
}
