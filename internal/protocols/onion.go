package protocols

import (
	"fmt"
	"math/rand"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
)

// OnionRoutingProtocol wraps each message in numRelayers encryption layers at
// creation and sends it through an ephemeral chain of uniformly sampled relay
// nodes. Every relay peels one layer; the last relay holds the plaintext and
// becomes the broadcaster. The chain is resampled per message and never
// reused. Encryption is abstract: relayers simply cannot read the payload,
// which matters only for what adversaries get to observe.
type OnionRoutingProtocol struct {
	net         *network.Network
	mode        string
	censor      Censor
	numRelayers int
}

func NewOnionRoutingProtocol(net *network.Network, numRelayers int, broadcastMode string) (*OnionRoutingProtocol, error) {
	if err := validateBroadcastMode(broadcastMode); err != nil {
		return nil, err
	}
	if numRelayers < 0 || numRelayers >= net.NumNodes() {
		return nil, pl.NewError("num relayers %d must satisfy 0 <= num < numNodes=%d", numRelayers, net.NumNodes())
	}
	return &OnionRoutingProtocol{
		net:         net,
		mode:        broadcastMode,
		numRelayers: numRelayers,
	}, nil
}

func (p *OnionRoutingProtocol) String() string {
	return fmt.Sprintf("OnionRoutingProtocol(num_relayers=%d, broadcast_mode=%s)", p.numRelayers, p.mode)
}

func (p *OnionRoutingProtocol) AnonymityGraph() *AnonymityGraph {
	return nil
}

func (p *OnionRoutingProtocol) NumRelayers() int {
	return p.numRelayers
}

func (p *OnionRoutingProtocol) SetCensor(c Censor) {
	p.censor = c
}

func (p *OnionRoutingProtocol) Propagate(msg message.Message, rng *rand.Rand, coverageThreshold float64) (*message.Trace, error) {
	if err := validateCoverageThreshold(coverageThreshold); err != nil {
		return nil, err
	}
	pr := newPropagation(p.net, p.mode, p.censor, coverageThreshold, rng, msg)

	cur := msg.Source
	from := message.NoPredecessor
	t := msg.Start
	hops := 0
	if p.numRelayers == 0 {
		// no relay chain degenerates to plain broadcast
		pr.queue.Push(pending{node: cur, from: from, hops: hops, time: t})
		pr.runFluff()
		return pr.trace, nil
	}

	chain, err := p.net.SampleNodes(rng, p.numRelayers, false, map[int]bool{msg.Source: true})
	if err != nil {
		return nil, pl.WrapError(err, "sampling the relay chain")
	}
	pr.record(pending{node: cur, from: from, hops: hops, time: t}, message.PhaseRelay)
	if pr.blocked(cur) || pr.stopped {
		return pr.trace, nil
	}
	for layers := p.numRelayers; layers > 0; layers-- {
		relay := chain[p.numRelayers-layers]
		t += p.net.PairLatency(cur, relay)
		hops++
		pr.record(pending{node: relay, from: cur, hops: hops, time: t}, message.PhaseRelay)
		from = cur
		cur = relay
		if pr.blocked(cur) || pr.stopped {
			// the remaining layers die with the dropped packet
			return pr.trace, nil
		}
	}
	// zero layers left: the last relay broadcasts the plaintext
	pr.scheduleFluff(pending{node: cur, from: from, hops: hops, time: t})
	pr.runFluff()
	return pr.trace, nil
}
