package message

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Phase tags the propagation stage a node first saw a message in.
type Phase int

const (
	// PhaseStem marks private forwarding along the anonymity graph.
	PhaseStem Phase = iota
	// PhaseRelay marks layer-encrypted forwarding along an onion relay chain.
	PhaseRelay
	// PhaseFluff marks open flooding over the broadcast graph.
	PhaseFluff
)

func (p Phase) String() string {
	switch p {
	case PhaseStem:
		return "stem"
	case PhaseRelay:
		return "relay"
	default:
		return "fluff"
	}
}

// NoPredecessor is the From value of an arrival with no known sender.
const NoPredecessor = -1

// Message models one transaction entering the P2P network. Immutable.
type Message struct {
	ID     string
	Source int
	Start  float64
}

// New creates a message originating at source. The id is drawn from rng so
// that simulations are reproducible bit for bit under a fixed seed.
func New(source int, rng *rand.Rand) Message {
	id := uuid.Must(uuid.NewRandomFromReader(rng))
	return Message{
		ID:     id.String(),
		Source: source,
		Start:  0.0,
	}
}

func (m Message) String() string {
	return fmt.Sprintf("Message(%s, %d)", m.ID, m.Source)
}

// Event records the first arrival of a message at a node. Subsequent arrivals
// at an already-visited node are dropped by the protocol engine, so there is
// exactly one Event per reached node per message.
type Event struct {
	MsgID string
	Node  int
	From  int
	Time  float64
	Hops  int
	Phase Phase
}

func (e Event) String() string {
	return fmt.Sprintf("Event(%s, %d<-%d, %f, %d, %s)", e.MsgID, e.Node, e.From, e.Time, e.Hops, e.Phase)
}

// Trace is the ordered propagation trace of one message: append-only while
// the protocol engine runs, read-only for adversary and evaluator afterwards.
type Trace struct {
	Msg      Message
	NumNodes int
	Events   []Event
}

func NewTrace(msg Message, numNodes int) *Trace {
	return &Trace{
		Msg:      msg,
		NumNodes: numNodes,
		Events:   make([]Event, 0, numNodes),
	}
}

func (t *Trace) Append(e Event) {
	t.Events = append(t.Events, e)
}

// Coverage is the fraction of nodes with a recorded arrival.
func (t *Trace) Coverage() float64 {
	return float64(len(t.Events)) / float64(t.NumNodes)
}

// FirstArrival returns the arrival event of a node, or nil if the message
// never reached it.
func (t *Trace) FirstArrival(node int) *Event {
	for i := range t.Events {
		if t.Events[i].Node == node {
			return &t.Events[i]
		}
	}
	return nil
}
