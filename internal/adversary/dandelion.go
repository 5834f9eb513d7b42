package adversary

import (
	"fmt"

	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/ferencberes/ethp2psim/internal/protocols"
)

// StemProtocol is the slice of a Dandelion-family protocol the adversary
// exploits: the static anonymity graph and the per-hop exit probability.
type StemProtocol interface {
	AnonymityGraph() *protocols.AnonymityGraph
	SpreadingProba() float64
}

// DandelionAdversary attacks Dandelion and Dandelion++ with knowledge of the
// anonymity graph. From its first contact with a message it walks the graph
// backwards along predecessor links: every extra stem hop the message would
// have had to survive discounts the candidate by another factor of
// (1 - spreadingProba). Described by Sharma et al.
// (https://arxiv.org/pdf/2201.11860.pdf, page 5).
type DandelionAdversary struct {
	*Adversary
	anon           *protocols.AnonymityGraph
	spreadingProba float64
}

func NewDandelionAdversary(net *network.Network, proto StemProtocol, opts Options) (*DandelionAdversary, error) {
	base, err := NewAdversary(net, opts)
	if err != nil {
		return nil, err
	}
	base.SetAnonymityGraph(proto.AnonymityGraph())
	return &DandelionAdversary{
		Adversary:      base,
		anon:           proto.AnonymityGraph(),
		spreadingProba: proto.SpreadingProba(),
	}, nil
}

func (a *DandelionAdversary) String() string {
	return fmt.Sprintf("DandelionAdversary(ratio=%.2f, active=%v)", a.Ratio(), a.Active())
}

// Predict walks the anonymity graph backwards from the first contact. A stem
// observation starts the walk at the eavesdropping node itself; a fluff
// observation starts it at the sender, the assumed stem exit. An empty
// candidate set (the walk immediately hit adversary nodes, or the fluff
// sender has no stem predecessor visible) falls back to the dummy estimator.
func (a *DandelionAdversary) Predict(msgID string, estimator Estimator) ([]Candidate, error) {
	if err := estimator.Validate(); err != nil {
		return nil, err
	}
	events := a.capturedEvents(msgID)
	if estimator == EstimatorDummy || len(events) == 0 {
		return a.dummyPrediction(), nil
	}
	first := a.findFirstContact(events, estimator)
	start := first.Node
	if first.Phase != message.PhaseStem {
		start = first.From
	}
	scores := a.stemCandidates(start)
	if len(scores) == 0 {
		return a.dummyPrediction(), nil
	}
	return a.rank(scores), nil
}

// stemCandidates collects the possible stem entry points reachable backwards
// from start, weighted by how likely the stem was still alive there: the
// direct predecessors get weight 1, every further hop multiplies by
// (1 - spreadingProba). Adversary-controlled nodes are neither candidates nor
// traversed, and the start node itself is excluded. Weights are normalized to
// sum to one.
func (a *DandelionAdversary) stemCandidates(start int) map[int]float64 {
	type item struct {
		node   int
		weight float64
	}
	queue := []item{{node: start, weight: 0}}
	visited := make(map[int]bool)
	scores := make(map[int]float64)
	total := 0.0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		next := 1.0
		if cur.weight > 0 {
			next = cur.weight * (1.0 - a.spreadingProba)
		}
		if cur.node != start {
			scores[cur.node] = cur.weight
			total += cur.weight
		}
		for _, pred := range a.anon.Predecessors(cur.node) {
			if !a.IsControlled(pred) {
				queue = append(queue, item{node: pred, weight: next})
			}
		}
	}
	if total > 0 {
		for node := range scores {
			scores[node] /= total
		}
	}
	return scores
}
