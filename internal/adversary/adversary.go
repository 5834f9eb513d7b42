package adversary

import (
	"fmt"
	"math/rand"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/ferencberes/ethp2psim/internal/protocols"
	"github.com/ferencberes/ethp2psim/pkg/utils"
)

// Estimator selects the source-prediction heuristic. It is chosen per
// evaluation, independently of how eavesdropping was recorded.
type Estimator string

const (
	// EstimatorDummy ranks all non-adversary nodes uniformly at random.
	EstimatorDummy Estimator = "dummy"
	// EstimatorFirstReach puts a point mass on the sender of the earliest
	// observed arrival.
	EstimatorFirstReach Estimator = "first_reach"
	// EstimatorFirstSent corrects first_reach for latency asymmetry by
	// ranking senders on estimated send time (arrival minus link latency).
	EstimatorFirstSent Estimator = "first_sent"
)

func (e Estimator) Validate() error {
	switch e {
	case EstimatorDummy, EstimatorFirstReach, EstimatorFirstSent:
		return nil
	default:
		return pl.NewError("invalid estimator %q: choose from [%s, %s, %s]", string(e), EstimatorDummy, EstimatorFirstReach, EstimatorFirstSent)
	}
}

// EavesdropEvent is what a controlled node observed about a message: the
// arrival itself plus the peer it came from.
type EavesdropEvent struct {
	MsgID string
	Node  int
	From  int
	Time  float64
	Hops  int
	Phase message.Phase
}

func (e EavesdropEvent) String() string {
	return fmt.Sprintf("EavesdropEvent(%s, %d<-%d, %.4f, %s)", e.MsgID, e.Node, e.From, e.Time, e.Phase)
}

// Candidate is one entry of a ranked source prediction. Scores are
// probability-like weights summing to one over the positive entries.
type Candidate struct {
	Node  int
	Score float64
}

// Observer is the adversary contract the simulator and evaluator work
// against: filter propagation traces down to controlled nodes, then rank
// candidate origin nodes for an observed message.
type Observer interface {
	Observe(tr *message.Trace)
	Predict(msgID string, estimator Estimator) ([]Candidate, error)
	Controlled() []int
	Blocks(node int) bool
	fmt.Stringer
}

// Options configures adversary-node selection. An explicit Nodes set wins
// over a Centrality ranking, which wins over uniform sampling of
// Ratio * numNodes nodes.
type Options struct {
	Ratio      float64
	Active     bool
	Centrality string
	Nodes      []int
	Seed       int64
}

// Adversary eavesdrops on the set of nodes it controls and predicts message
// sources with protocol-agnostic timing heuristics. A passive adversary only
// listens; an active one additionally refuses to forward.
type Adversary struct {
	net        *network.Network
	anon       *protocols.AnonymityGraph
	controlled map[int]bool
	nodes      []int
	ratio      float64
	active     bool
	rng        *rand.Rand
	captured   map[string][]EavesdropEvent
}

func NewAdversary(net *network.Network, opts Options) (*Adversary, error) {
	if opts.Ratio < 0 || opts.Ratio > 1 {
		return nil, pl.NewError("adversary ratio %f must be in [0, 1]", opts.Ratio)
	}
	a := &Adversary{
		net:        net,
		controlled: make(map[int]bool),
		ratio:      opts.Ratio,
		active:     opts.Active,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		captured:   make(map[string][]EavesdropEvent),
	}
	if err := a.selectNodes(opts); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adversary) selectNodes(opts Options) error {
	numNodes := a.net.NumNodes()
	count := int(opts.Ratio * float64(numNodes))
	var selected []int
	var err error
	switch {
	case len(opts.Nodes) > 0:
		for _, node := range opts.Nodes {
			if node < 0 || node >= numNodes {
				return pl.NewError("adversary node %d out of range [0, %d)", node, numNodes)
			}
		}
		selected = opts.Nodes
		a.ratio = float64(len(opts.Nodes)) / float64(numNodes)
	case opts.Centrality != "":
		selected, err = a.net.CentralNodes(count, opts.Centrality)
	default:
		selected, err = a.net.SampleNodes(a.rng, count, false, nil)
	}
	if err != nil {
		return pl.WrapError(err, "selecting adversary nodes")
	}
	for _, node := range selected {
		if a.controlled[node] {
			return pl.NewError("duplicate adversary node %d", node)
		}
		a.controlled[node] = true
	}
	a.nodes = append([]int(nil), selected...)
	utils.SortOrdered(a.nodes)
	return nil
}

func (a *Adversary) String() string {
	return fmt.Sprintf("Adversary(ratio=%.2f, active=%v)", a.ratio, a.active)
}

func (a *Adversary) Ratio() float64 {
	return a.ratio
}

func (a *Adversary) Active() bool {
	return a.active
}

// Controlled returns the adversary-controlled nodes in ascending order.
func (a *Adversary) Controlled() []int {
	return append([]int(nil), a.nodes...)
}

func (a *Adversary) IsControlled(node int) bool {
	return a.controlled[node]
}

// Blocks implements protocols.Censor: active adversary nodes record their own
// arrival but refuse to forward.
func (a *Adversary) Blocks(node int) bool {
	return a.active && a.controlled[node]
}

// SetAnonymityGraph tells the adversary which auxiliary graph stem-phase
// arrivals travelled on, so first_sent can undo the right link latency.
func (a *Adversary) SetAnonymityGraph(anon *protocols.AnonymityGraph) {
	a.anon = anon
}

// Observe filters a propagation trace down to the arrivals recorded at
// controlled nodes. Source events carry no predecessor and are skipped: the
// adversary learns nothing from originating a message it can already read.
func (a *Adversary) Observe(tr *message.Trace) {
	for _, ev := range tr.Events {
		if !a.controlled[ev.Node] || ev.From == message.NoPredecessor {
			continue
		}
		a.captured[ev.MsgID] = append(a.captured[ev.MsgID], EavesdropEvent{
			MsgID: ev.MsgID,
			Node:  ev.Node,
			From:  ev.From,
			Time:  ev.Time,
			Hops:  ev.Hops,
			Phase: ev.Phase,
		})
	}
}

// CapturedMsgs reports how many distinct messages were eavesdropped.
func (a *Adversary) CapturedMsgs() int {
	return len(a.captured)
}

func (a *Adversary) capturedEvents(msgID string) []EavesdropEvent {
	return a.captured[msgID]
}

// Predict ranks candidate origin nodes for a message. The ranking always
// covers the whole node set: positive-score candidates first, then the
// remaining nodes with score zero in ascending id order. A message the
// adversary never observed falls back to the dummy estimator.
func (a *Adversary) Predict(msgID string, estimator Estimator) ([]Candidate, error) {
	if err := estimator.Validate(); err != nil {
		return nil, err
	}
	events := a.captured[msgID]
	if estimator == EstimatorDummy || len(events) == 0 {
		return a.dummyPrediction(), nil
	}
	first := a.findFirstContact(events, estimator)
	return a.rank(map[int]float64{first.From: 1.0}), nil
}

// findFirstContact picks the eavesdrop event with the earliest reference
// time: the observed arrival time for first_reach, the estimated send time
// for first_sent. Equal reference times resolve to the lowest sender id.
func (a *Adversary) findFirstContact(events []EavesdropEvent, estimator Estimator) EavesdropEvent {
	best := events[0]
	bestTime := a.referenceTime(best, estimator)
	for _, ev := range events[1:] {
		ts := a.referenceTime(ev, estimator)
		if ts < bestTime || (ts == bestTime && ev.From < best.From) {
			best = ev
			bestTime = ts
		}
	}
	return best
}

func (a *Adversary) referenceTime(ev EavesdropEvent, estimator Estimator) float64 {
	if estimator != EstimatorFirstSent {
		return ev.Time
	}
	return ev.Time - a.linkLatency(ev)
}

// linkLatency resolves the latency of the link an observation arrived over.
// Stem-phase arrivals travelled on the anonymity graph; everything else on
// broadcast edges or virtual relay links.
func (a *Adversary) linkLatency(ev EavesdropEvent) float64 {
	if ev.Phase == message.PhaseStem && a.anon != nil {
		return a.anon.Latency(ev.From, ev.Node)
	}
	return a.net.PairLatency(ev.From, ev.Node)
}

// dummyPrediction spreads the probability mass evenly over the non-adversary
// nodes, in an order shuffled by the adversary's own generator.
func (a *Adversary) dummyPrediction() []Candidate {
	candidates := utils.Filter(a.net.Nodes(), func(node int) bool {
		return !a.controlled[node]
	})
	score := 1.0 / float64(len(candidates))
	perm := a.rng.Perm(len(candidates))
	ranked := make([]Candidate, 0, a.net.NumNodes())
	for _, i := range perm {
		ranked = append(ranked, Candidate{Node: candidates[i], Score: score})
	}
	for _, node := range a.nodes {
		ranked = append(ranked, Candidate{Node: node})
	}
	return ranked
}

// rank turns a sparse score map into the full deterministic ranking:
// descending score, ties by ascending node id, zero-score nodes last.
func (a *Adversary) rank(scores map[int]float64) []Candidate {
	positive := make([]Candidate, 0, len(scores))
	for node, score := range scores {
		if score > 0 {
			positive = append(positive, Candidate{Node: node, Score: score})
		}
	}
	utils.SortStable(positive, func(x, y Candidate) bool {
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		return x.Node < y.Node
	})
	ranked := make([]Candidate, 0, a.net.NumNodes())
	ranked = append(ranked, positive...)
	for node := 0; node < a.net.NumNodes(); node++ {
		if scores[node] <= 0 {
			ranked = append(ranked, Candidate{Node: node})
		}
	}
	return ranked
}
