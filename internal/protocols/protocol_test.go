package protocols

import (
	"math/rand"
	"testing"

	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNetwork(t *testing.T, numNodes, degree int, seed int64) *network.Network {
	t.Helper()
	nwGen, err := network.NewNodeWeightGenerator(network.NodeWeightRandom)
	require.NoError(t, err)
	ewGen, err := network.NewEdgeWeightGenerator(network.EdgeWeightNormal)
	require.NoError(t, err)
	net, err := network.NewRandomRegular(nwGen, ewGen, numNodes, degree, seed)
	require.NoError(t, err)
	return net
}

type blockEverything struct{}

func (blockEverything) Blocks(int) bool { return true }

func TestBroadcastReachesAllNodes(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewBroadcastProtocol(net, BroadcastModeAll)
	require.NoError(t, err)

	msg := message.New(0, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(2)), 0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, trace.Coverage())
	require.Len(t, trace.Events, 20)

	first := trace.Events[0]
	assert.Equal(t, msg.Source, first.Node)
	assert.Equal(t, message.NoPredecessor, first.From)
	assert.Equal(t, 0, first.Hops)
	assert.Equal(t, 0.0, first.Time)

	seen := make(map[int]bool)
	prevTime := 0.0
	for _, ev := range trace.Events {
		assert.Equal(t, message.PhaseFluff, ev.Phase)
		assert.False(t, seen[ev.Node], "node %d recorded twice", ev.Node)
		assert.GreaterOrEqual(t, ev.Time, prevTime, "events out of time order")
		seen[ev.Node] = true
		prevTime = ev.Time
	}
}

func TestBroadcastIsSeedDeterministic(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewBroadcastProtocol(net, BroadcastModeSqrt)
	require.NoError(t, err)

	msg := message.New(5, rand.New(rand.NewSource(1)))
	a, err := proto.Propagate(msg, rand.New(rand.NewSource(7)), 0)
	require.NoError(t, err)
	b, err := proto.Propagate(msg, rand.New(rand.NewSource(7)), 0)
	require.NoError(t, err)
	assert.Equal(t, a.Events, b.Events)

	c, err := proto.Propagate(msg, rand.New(rand.NewSource(8)), 0)
	require.NoError(t, err)
	assert.Greater(t, c.Coverage(), 0.0)
}

func TestBroadcastCoverageThreshold(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewBroadcastProtocol(net, BroadcastModeAll)
	require.NoError(t, err)

	msg := message.New(0, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(2)), 0.5)
	require.NoError(t, err)

	// the run stops at the first event crossing the threshold
	assert.Equal(t, 0.5, trace.Coverage())
	assert.Len(t, trace.Events, 10)
}

func TestBroadcastActiveCensorStopsPropagation(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := NewBroadcastProtocol(net, BroadcastModeAll)
	require.NoError(t, err)
	proto.SetCensor(blockEverything{})

	msg := message.New(0, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(2)), 0)
	require.NoError(t, err)

	// the source records its own arrival but forwards nothing
	require.Len(t, trace.Events, 1)
	assert.Equal(t, msg.Source, trace.Events[0].Node)
}

func TestBroadcastRejectsBadParameters(t *testing.T) {
	net := newTestNetwork(t, 10, 2, 1)

	_, err := NewBroadcastProtocol(net, "flood")
	assert.Error(t, err)

	proto, err := NewBroadcastProtocol(net, BroadcastModeAll)
	require.NoError(t, err)
	msg := message.New(0, rand.New(rand.NewSource(1)))
	_, err = proto.Propagate(msg, rand.New(rand.NewSource(1)), 1.5)
	assert.Error(t, err)
	_, err = proto.Propagate(msg, rand.New(rand.NewSource(1)), -0.1)
	assert.Error(t, err)
}
