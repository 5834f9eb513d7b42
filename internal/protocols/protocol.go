package protocols

import (
	"fmt"
	"math"
	"math/rand"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/ferencberes/ethp2psim/pkg/utils"
)

// Broadcast fan-out modes for the spreading (fluff) phase.
const (
	BroadcastModeAll  = "all"
	BroadcastModeSqrt = "sqrt"
)

// Censor reports nodes that refuse to forward messages. Active adversaries
// implement it; a nil censor forwards everywhere.
type Censor interface {
	Blocks(node int) bool
}

// Protocol runs one message to completion (or to the coverage threshold) and
// returns its propagation trace. Static protocol structures such as the
// anonymity graph are built at construction time; Propagate draws all
// per-message randomness from the rng passed in, so independent trials can
// run in parallel against one immutable Protocol instance.
type Protocol interface {
	Propagate(msg message.Message, rng *rand.Rand, coverageThreshold float64) (*message.Trace, error)
	AnonymityGraph() *AnonymityGraph
	SetCensor(c Censor)
	fmt.Stringer
}

func validateBroadcastMode(mode string) error {
	if mode != BroadcastModeAll && mode != BroadcastModeSqrt {
		return pl.NewError("invalid broadcast mode %q: choose from [%s, %s]", mode, BroadcastModeAll, BroadcastModeSqrt)
	}
	return nil
}

func validateCoverageThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return pl.NewError("coverage threshold %f must be in [0, 1]", threshold)
	}
	return nil
}

// pending is a scheduled arrival waiting in the event queue.
type pending struct {
	node int
	from int
	hops int
	time float64
}

// earlier is the event queue order: simulated time, ties broken by ascending
// receiver id, then ascending sender id. Never wall clock.
func earlier(a, b pending) bool {
	if a.time != b.time {
		return a.time < b.time
	}
	if a.node != b.node {
		return a.node < b.node
	}
	return a.from < b.from
}

// propagation is the per-message state of the shared flooding primitive: a
// discrete-event loop over a time-ordered queue of pending arrivals.
type propagation struct {
	net       *network.Network
	mode      string
	censor    Censor
	threshold float64
	rng       *rand.Rand
	trace     *message.Trace
	seen      []bool
	queue     *utils.Heap[pending]
	stopped   bool
}

func newPropagation(net *network.Network, mode string, censor Censor, threshold float64, rng *rand.Rand, msg message.Message) *propagation {
	return &propagation{
		net:       net,
		mode:      mode,
		censor:    censor,
		threshold: threshold,
		rng:       rng,
		trace:     message.NewTrace(msg, net.NumNodes()),
		seen:      make([]bool, net.NumNodes()),
		queue:     utils.NewHeap(earlier),
	}
}

// record appends the first arrival of the message at a node. Returns false if
// the node was already visited (the arrival is dropped, no re-broadcast).
func (pr *propagation) record(p pending, phase message.Phase) bool {
	if pr.seen[p.node] {
		return false
	}
	pr.seen[p.node] = true
	pr.trace.Append(message.Event{
		MsgID: pr.trace.Msg.ID,
		Node:  p.node,
		From:  p.from,
		Time:  p.time,
		Hops:  p.hops,
		Phase: phase,
	})
	if pr.threshold > 0 && pr.trace.Coverage() >= pr.threshold {
		pr.stopped = true
	}
	return true
}

func (pr *propagation) blocked(node int) bool {
	return pr.censor != nil && pr.censor.Blocks(node)
}

// scheduleFluff queues arrivals at the broadcaster's neighbors, either all of
// them or a uniformly sampled subset of size ceil(sqrt(degree)). The node the
// message came from is never contacted again.
func (pr *propagation) scheduleFluff(p pending) {
	neighbors := pr.net.Neighbors(p.node)
	targets := utils.Filter(neighbors, func(neigh int) bool {
		return neigh != p.from
	})
	if pr.mode == BroadcastModeSqrt {
		fanout := int(math.Ceil(math.Sqrt(float64(len(neighbors)))))
		if fanout < len(targets) {
			perm := pr.rng.Perm(len(targets))
			sampled := make([]int, fanout)
			for i := 0; i < fanout; i++ {
				sampled[i] = targets[perm[i]]
			}
			targets = sampled
		}
	}
	for _, neigh := range targets {
		latency, _ := pr.net.Latency(p.node, neigh)
		pr.queue.Push(pending{
			node: neigh,
			from: p.node,
			hops: p.hops + 1,
			time: p.time + latency,
		})
	}
}

// runFluff drains the event queue: pop the earliest pending arrival, drop it
// if the node was already visited, otherwise record it and schedule its
// neighbors. Active adversary nodes record their own arrival but forward
// nothing. Once the coverage threshold is reached the remaining queue is
// discarded without being recorded.
func (pr *propagation) runFluff() {
	for !pr.stopped {
		p, ok := pr.queue.Pop()
		if !ok {
			return
		}
		if !pr.record(p, message.PhaseFluff) {
			continue
		}
		if pr.blocked(p.node) || pr.stopped {
			continue
		}
		pr.scheduleFluff(p)
	}
}
