package adversary

import (
	"fmt"
	"math"

	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/ferencberes/ethp2psim/internal/protocols"
	"github.com/ferencberes/ethp2psim/pkg/utils"
)

// Packets whose reconstructed send time differs from a recorded arrival by
// less than this are treated as the same relay hop.
const timingToleranceMS = 1.0

// packet is one relay hop as seen from a controlled endpoint. Time is the
// arrival time at To.
type packet struct {
	From int
	To   int
	Time float64
}

// OnionRoutingAdversary attacks the relay chain without reading payloads:
// encrypted packets are opaque, so it correlates timestamps instead. Every
// controlled node logs the relay packets it receives and sends, and Predict
// stitches these observations into the longest visible chain suffix. Its
// predictions are uniform over the surviving candidates, so the reported
// entropy is not comparable to the point-mass output of content-aware
// estimators.
type OnionRoutingAdversary struct {
	*Adversary
	numRelayers int
	received    map[string][]packet
	sent        map[string][]packet
	broadcaster map[string]packet
}

func NewOnionRoutingAdversary(net *network.Network, proto *protocols.OnionRoutingProtocol, opts Options) (*OnionRoutingAdversary, error) {
	base, err := NewAdversary(net, opts)
	if err != nil {
		return nil, err
	}
	return &OnionRoutingAdversary{
		Adversary:   base,
		numRelayers: proto.NumRelayers(),
		received:    make(map[string][]packet),
		sent:        make(map[string][]packet),
		broadcaster: make(map[string]packet),
	}, nil
}

func (a *OnionRoutingAdversary) String() string {
	return fmt.Sprintf("OnionRoutingAdversary(ratio=%.2f, active=%v)", a.Ratio(), a.Active())
}

// Observe additionally captures packet-level relay traffic: arrivals at
// controlled relays, departures from controlled relays, and the identity of
// the broadcaster whenever the last relay of the chain is controlled.
func (a *OnionRoutingAdversary) Observe(tr *message.Trace) {
	a.Adversary.Observe(tr)
	for _, ev := range tr.Events {
		if ev.Phase != message.PhaseRelay || ev.From == message.NoPredecessor {
			continue
		}
		pkt := packet{From: ev.From, To: ev.Node, Time: ev.Time}
		if a.IsControlled(ev.Node) {
			a.received[ev.MsgID] = append(a.received[ev.MsgID], pkt)
			if ev.Hops == a.numRelayers {
				// the last relay holds the plaintext and knows it
				a.broadcaster[ev.MsgID] = pkt
			}
		}
		if a.IsControlled(ev.From) {
			a.sent[ev.MsgID] = append(a.sent[ev.MsgID], pkt)
		}
	}
}

// Predict walks the relay chain backwards by timing correlation. The walk
// starts from the last relay hop if the broadcaster is known, otherwise from
// the first fluff-phase contact, and repeatedly subtracts the link latency to
// reconstruct when the current sender itself received the packet. If a
// recorded packet arrival at that node matches within the tolerance window,
// the walk steps onto that packet; otherwise the sender is the predicted
// candidate. An unobserved chain falls back to a uniform guess over the
// non-adversary nodes, excluding the assumed broadcaster, which originated
// nothing by construction of the relay chain.
func (a *OnionRoutingAdversary) Predict(msgID string, estimator Estimator) ([]Candidate, error) {
	if err := estimator.Validate(); err != nil {
		return nil, err
	}
	fluff := utils.Filter(a.capturedEvents(msgID), func(ev EavesdropEvent) bool {
		return ev.Phase == message.PhaseFluff
	})
	if estimator == EstimatorDummy || len(fluff) == 0 {
		return a.dummyPrediction(), nil
	}
	first := a.findFirstContact(fluff, estimator)
	start, ok := a.broadcaster[msgID]
	if !ok {
		start = packet{From: first.From, To: first.Node, Time: first.Time}
	}
	candidates := a.walkChain(msgID, start)
	if len(candidates) == 0 {
		candidates = utils.Filter(a.net.Nodes(), func(node int) bool {
			return !a.IsControlled(node) && node != first.From
		})
	}
	scores := make(map[int]float64, len(candidates))
	for _, node := range candidates {
		scores[node] = 1.0 / float64(len(candidates))
	}
	return a.rank(scores), nil
}

// walkChain reconstructs the visible suffix of the relay chain. At each step
// the packet (from, to, t) is rewound to (x, from, t') where t' = t minus the
// link latency: the moment from itself received the message. Controlled nodes
// look the matching arrival up in their own receive log, uncontrolled nodes
// in the departures logged by controlled senders. The walk ends at the first
// node with no matching arrival, the earliest sender the adversary can see.
func (a *OnionRoutingAdversary) walkChain(msgID string, start packet) []int {
	cur := start
	// the chain is finite, the bound only guards against pathological loops
	for steps := 0; steps <= a.net.NumNodes(); steps++ {
		node := cur.From
		t := cur.Time - a.net.PairLatency(cur.From, cur.To)
		pool := a.sent[msgID]
		if a.IsControlled(node) {
			pool = a.received[msgID]
		}
		if len(pool) == 0 {
			// no packet-level visibility at all, nothing to correlate
			return nil
		}
		match, ok := closestArrival(pool, node, t)
		if !ok {
			return []int{node}
		}
		cur = match
	}
	return nil
}

// closestArrival finds the recorded packet arriving at node nearest to t,
// accepting it only within the tolerance window.
func closestArrival(pool []packet, node int, t float64) (packet, bool) {
	var best packet
	bestDiff := math.Inf(1)
	for _, pkt := range pool {
		if pkt.To != node {
			continue
		}
		if diff := math.Abs(pkt.Time - t); diff < bestDiff {
			best = pkt
			bestDiff = diff
		}
	}
	return best, bestDiff < timingToleranceMS
}
