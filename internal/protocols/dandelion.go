package protocols

import (
	"fmt"
	"math/rand"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
)

// Dandelion++ target out-degree of the anonymity graph.
const quasiRegularOutDegree = 4

// DandelionProtocol forwards a message privately along a line (cycle cover)
// anonymity graph until a per-hop coin flip moves it to the fluff phase.
type DandelionProtocol struct {
	net            *network.Network
	mode           string
	censor         Censor
	spreadingProba float64
	anon           *AnonymityGraph
}

func NewDandelionProtocol(net *network.Network, spreadingProba float64, broadcastMode string, seed int64) (*DandelionProtocol, error) {
	if err := validateBroadcastMode(broadcastMode); err != nil {
		return nil, err
	}
	if spreadingProba < 0 || spreadingProba > 1 {
		return nil, pl.NewError("spreading probability %f must be in [0, 1]", spreadingProba)
	}
	anon, err := newLineGraph(net, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, pl.WrapError(err, "building the Dandelion anonymity graph")
	}
	return &DandelionProtocol{
		net:            net,
		mode:           broadcastMode,
		spreadingProba: spreadingProba,
		anon:           anon,
	}, nil
}

func (p *DandelionProtocol) String() string {
	return fmt.Sprintf("DandelionProtocol(spreading_proba=%.4f, broadcast_mode=%s)", p.spreadingProba, p.mode)
}

func (p *DandelionProtocol) AnonymityGraph() *AnonymityGraph {
	return p.anon
}

func (p *DandelionProtocol) SpreadingProba() float64 {
	return p.spreadingProba
}

func (p *DandelionProtocol) SetCensor(c Censor) {
	p.censor = c
}

func (p *DandelionProtocol) Propagate(msg message.Message, rng *rand.Rand, coverageThreshold float64) (*message.Trace, error) {
	return propagateWithStem(p.net, p.mode, p.censor, p.anon, p.spreadingProba, false, msg, rng, coverageThreshold)
}

// DandelionPlusPlusProtocol is the Dandelion++ variant: the anonymity graph
// is approximately 4-regular and each stem hop picks a successor uniformly
// among the current node's out-edges instead of following a fixed permutation.
type DandelionPlusPlusProtocol struct {
	net            *network.Network
	mode           string
	censor         Censor
	spreadingProba float64
	anon           *AnonymityGraph
}

func NewDandelionPlusPlusProtocol(net *network.Network, spreadingProba float64, broadcastMode string, seed int64) (*DandelionPlusPlusProtocol, error) {
	if err := validateBroadcastMode(broadcastMode); err != nil {
		return nil, err
	}
	if spreadingProba < 0 || spreadingProba > 1 {
		return nil, pl.NewError("spreading probability %f must be in [0, 1]", spreadingProba)
	}
	anon, err := newQuasiRegularGraph(net, rand.New(rand.NewSource(seed)), quasiRegularOutDegree)
	if err != nil {
		return nil, pl.WrapError(err, "building the Dandelion++ anonymity graph")
	}
	return &DandelionPlusPlusProtocol{
		net:            net,
		mode:           broadcastMode,
		spreadingProba: spreadingProba,
		anon:           anon,
	}, nil
}

func (p *DandelionPlusPlusProtocol) String() string {
	return fmt.Sprintf("DandelionPlusPlusProtocol(spreading_proba=%.4f, broadcast_mode=%s)", p.spreadingProba, p.mode)
}

func (p *DandelionPlusPlusProtocol) AnonymityGraph() *AnonymityGraph {
	return p.anon
}

func (p *DandelionPlusPlusProtocol) SpreadingProba() float64 {
	return p.spreadingProba
}

func (p *DandelionPlusPlusProtocol) SetCensor(c Censor) {
	p.censor = c
}

func (p *DandelionPlusPlusProtocol) Propagate(msg message.Message, rng *rand.Rand, coverageThreshold float64) (*message.Trace, error) {
	return propagateWithStem(p.net, p.mode, p.censor, p.anon, p.spreadingProba, true, msg, rng, coverageThreshold)
}

// propagateWithStem walks the stem phase and hands the message to the shared
// flooding primitive at the exit node. At every stem node a
// Bernoulli(spreadingProba) draw decides whether to broadcast there; the
// boundary values 1 and 0 short-circuit without consuming randomness, so
// spreadingProba=1 reproduces BroadcastProtocol for the same seed. A hop
// ceiling of the network size forces the fluff transition on cycles.
func propagateWithStem(net *network.Network, mode string, censor Censor, anon *AnonymityGraph, spreadingProba float64, uniformSuccessor bool, msg message.Message, rng *rand.Rand, coverageThreshold float64) (*message.Trace, error) {
	if err := validateCoverageThreshold(coverageThreshold); err != nil {
		return nil, err
	}
	pr := newPropagation(net, mode, censor, coverageThreshold, rng, msg)
	hopCeiling := net.NumNodes()

	cur := msg.Source
	from := message.NoPredecessor
	t := msg.Start
	hops := 0
	for {
		pr.record(pending{node: cur, from: from, hops: hops, time: t}, message.PhaseStem)
		if pr.blocked(cur) || pr.stopped {
			// an active adversary on the stem kills the message here
			return pr.trace, nil
		}
		if exitStem(rng, spreadingProba) || hops >= hopCeiling {
			break
		}
		successors := anon.Successors(cur)
		next := successors[0]
		if uniformSuccessor && len(successors) > 1 {
			next = successors[rng.Intn(len(successors))]
		}
		t += anon.Latency(cur, next)
		hops++
		from = cur
		cur = next
	}
	pr.scheduleFluff(pending{node: cur, from: from, hops: hops, time: t})
	pr.runFluff()
	return pr.trace, nil
}

func exitStem(rng *rand.Rand, spreadingProba float64) bool {
	if spreadingProba >= 1 {
		return true
	}
	if spreadingProba <= 0 {
		return false
	}
	return rng.Float64() < spreadingProba
}
