package protocols

import (
	"math/rand"
	"testing"

	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDandelionLineGraphInvariants(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewDandelionProtocol(net, 0.5, BroadcastModeAll, 42)
	require.NoError(t, err)

	anon := proto.AnonymityGraph()
	require.NotNil(t, anon)
	assert.Equal(t, 20, anon.NumNodes())
	assert.Equal(t, 20, anon.NumEdges())
	for node := 0; node < anon.NumNodes(); node++ {
		require.Equal(t, 1, anon.OutDegree(node), "node %d", node)
		assert.Equal(t, 1, anon.InDegree(node), "node %d", node)
		assert.NotEqual(t, node, anon.Successors(node)[0], "self-loop on node %d", node)
	}
}

func TestDandelionPlusPlusGraphInvariants(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewDandelionPlusPlusProtocol(net, 0.5, BroadcastModeAll, 42)
	require.NoError(t, err)

	anon := proto.AnonymityGraph()
	require.NotNil(t, anon)
	for node := 0; node < anon.NumNodes(); node++ {
		succ := anon.Successors(node)
		require.Equal(t, 4, len(succ), "node %d", node)
		seen := make(map[int]bool)
		for _, s := range succ {
			assert.NotEqual(t, node, s, "self-loop on node %d", node)
			assert.False(t, seen[s], "duplicate target %d of node %d", s, node)
			seen[s] = true
		}
	}
}

func TestDandelionPlusPlusNeedsEnoughNodes(t *testing.T) {
	net := newTestNetwork(t, 4, 2, 1)
	_, err := NewDandelionPlusPlusProtocol(net, 0.5, BroadcastModeAll, 1)
	assert.Error(t, err, "4-regular anonymity graph needs more than 4 nodes")
}

func TestDandelionRejectsBadSpreadingProba(t *testing.T) {
	net := newTestNetwork(t, 10, 2, 1)
	_, err := NewDandelionProtocol(net, -0.1, BroadcastModeAll, 1)
	assert.Error(t, err)
	_, err = NewDandelionProtocol(net, 1.1, BroadcastModeAll, 1)
	assert.Error(t, err)
	_, err = NewDandelionPlusPlusProtocol(net, 2.0, BroadcastModeAll, 1)
	assert.Error(t, err)
}

// With spreading probability 1 the stem exits at the source without drawing
// from the generator, so the propagation must replay plain flooding exactly.
func TestDandelionProbaOneMatchesBroadcast(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	dandelion, err := NewDandelionProtocol(net, 1.0, BroadcastModeAll, 42)
	require.NoError(t, err)
	broadcast, err := NewBroadcastProtocol(net, BroadcastModeAll)
	require.NoError(t, err)

	msg := message.New(3, rand.New(rand.NewSource(1)))
	d, err := dandelion.Propagate(msg, rand.New(rand.NewSource(9)), 0)
	require.NoError(t, err)
	b, err := broadcast.Propagate(msg, rand.New(rand.NewSource(9)), 0)
	require.NoError(t, err)

	require.Equal(t, len(b.Events), len(d.Events))
	assert.Equal(t, message.PhaseStem, d.Events[0].Phase)
	for i := range b.Events {
		assert.Equal(t, b.Events[i].Node, d.Events[i].Node, "event %d", i)
		assert.Equal(t, b.Events[i].From, d.Events[i].From, "event %d", i)
		assert.Equal(t, b.Events[i].Time, d.Events[i].Time, "event %d", i)
		assert.Equal(t, b.Events[i].Hops, d.Events[i].Hops, "event %d", i)
	}
}

func TestDandelionStemFollowsAnonymityGraph(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewDandelionProtocol(net, 0.2, BroadcastModeAll, 42)
	require.NoError(t, err)
	anon := proto.AnonymityGraph()

	msg := message.New(0, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(3)), 0)
	require.NoError(t, err)

	require.NotEmpty(t, trace.Events)
	assert.Equal(t, message.PhaseStem, trace.Events[0].Phase)

	fluffSeen := false
	prev := -1
	for _, ev := range trace.Events {
		if ev.Phase == message.PhaseFluff {
			fluffSeen = true
			continue
		}
		require.False(t, fluffSeen, "stem event after the fluff phase began")
		if prev >= 0 {
			assert.Equal(t, prev, ev.From)
			assert.Equal(t, ev.Node, anon.Successors(prev)[0], "stem left the anonymity graph")
		}
		prev = ev.Node
	}
	assert.Equal(t, 1.0, trace.Coverage())
}

// Spreading probability 0 never exits voluntarily; the hop ceiling forces the
// transition once the stem has walked a full cycle.
func TestDandelionStemHopCeiling(t *testing.T) {
	net := newTestNetwork(t, 10, 4, 7)
	proto, err := NewDandelionProtocol(net, 0.0, BroadcastModeAll, 7)
	require.NoError(t, err)

	msg := message.New(2, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(2)), 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, trace.Coverage())
}

func TestDandelionStemLengthIsRoughlyGeometric(t *testing.T) {
	net := newTestNetwork(t, 50, 4, 11)
	proto, err := NewDandelionProtocol(net, 0.5, BroadcastModeAll, 11)
	require.NoError(t, err)

	total := 0
	trials := 200
	for i := 0; i < trials; i++ {
		msg := message.New(i%50, rand.New(rand.NewSource(int64(i))))
		trace, err := proto.Propagate(msg, rand.New(rand.NewSource(int64(1000+i))), 0)
		require.NoError(t, err)
		stem := 0
		for _, ev := range trace.Events {
			if ev.Phase == message.PhaseStem {
				stem++
			}
		}
		require.GreaterOrEqual(t, stem, 1, "the source always records a stem arrival")
		total += stem - 1
	}
	// stem hops beyond the source follow Geometric(0.5), mean 1
	mean := float64(total) / float64(trials)
	assert.Greater(t, mean, 0.5)
	assert.Less(t, mean, 1.6)
}
