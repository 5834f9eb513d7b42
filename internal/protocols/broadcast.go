package protocols

import (
	"fmt"
	"math/rand"

	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
)

// BroadcastProtocol floods a message over the broadcast graph from its source
// with no anonymity phase at all.
type BroadcastProtocol struct {
	net    *network.Network
	mode   string
	censor Censor
}

func NewBroadcastProtocol(net *network.Network, broadcastMode string) (*BroadcastProtocol, error) {
	if err := validateBroadcastMode(broadcastMode); err != nil {
		return nil, err
	}
	return &BroadcastProtocol{
		net:  net,
		mode: broadcastMode,
	}, nil
}

func (p *BroadcastProtocol) String() string {
	return fmt.Sprintf("BroadcastProtocol(broadcast_mode=%s)", p.mode)
}

func (p *BroadcastProtocol) AnonymityGraph() *AnonymityGraph {
	return nil
}

func (p *BroadcastProtocol) SetCensor(c Censor) {
	p.censor = c
}

func (p *BroadcastProtocol) Propagate(msg message.Message, rng *rand.Rand, coverageThreshold float64) (*message.Trace, error) {
	if err := validateCoverageThreshold(coverageThreshold); err != nil {
		return nil, err
	}
	pr := newPropagation(p.net, p.mode, p.censor, coverageThreshold, rng, msg)
	pr.queue.Push(pending{
		node: msg.Source,
		from: message.NoPredecessor,
		hops: 0,
		time: msg.Start,
	})
	pr.runFluff()
	return pr.trace, nil
}
