package adversary

import (
	"math/rand"
	"testing"

	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/protocols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDandelionAdversaryWalksStemBackwards(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := protocols.NewDandelionProtocol(net, 0.4, protocols.BroadcastModeAll, 42)
	require.NoError(t, err)
	anon := proto.AnonymityGraph()

	contact := 5
	pred1 := anon.Predecessors(contact)[0]
	adv, err := NewDandelionAdversary(net, proto, Options{Nodes: []int{contact}, Seed: 1})
	require.NoError(t, err)

	msg := message.New(pred1, rand.New(rand.NewSource(1)))
	tr := message.NewTrace(msg, 20)
	tr.Append(message.Event{MsgID: msg.ID, Node: contact, From: pred1, Time: 100, Hops: 2, Phase: message.PhaseStem})
	adv.Observe(tr)

	ranked, err := adv.Predict(msg.ID, EstimatorFirstReach)
	require.NoError(t, err)
	require.Len(t, ranked, 20)
	assert.Equal(t, pred1, ranked[0].Node, "the direct stem predecessor is the best candidate")

	total := 0.0
	scores := make(map[int]float64)
	for _, c := range ranked {
		total += c.Score
		scores[c.Node] = c.Score
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Equal(t, 0.0, scores[contact], "the adversary never suspects itself")

	// each extra stem hop discounts the candidate geometrically
	pred2 := anon.Predecessors(pred1)[0]
	if pred2 != contact {
		assert.InDelta(t, scores[pred1]*0.6, scores[pred2], 1e-9)
	}
}

func TestDandelionAdversaryFallsBackWhenWalkIsBlocked(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := protocols.NewDandelionProtocol(net, 0.4, protocols.BroadcastModeAll, 42)
	require.NoError(t, err)
	anon := proto.AnonymityGraph()

	// the adversary hears the broadcast from a node whose only stem
	// predecessor is the adversary itself, so backtracking yields nothing
	contact := 3
	exit := anon.Successors(contact)[0]
	adv, err := NewDandelionAdversary(net, proto, Options{Nodes: []int{contact}, Seed: 1})
	require.NoError(t, err)

	msg := message.New(exit, rand.New(rand.NewSource(1)))
	tr := message.NewTrace(msg, 20)
	tr.Append(message.Event{MsgID: msg.ID, Node: contact, From: exit, Time: 50, Hops: 3, Phase: message.PhaseFluff})
	adv.Observe(tr)

	ranked, err := adv.Predict(msg.ID, EstimatorFirstReach)
	require.NoError(t, err)
	require.Len(t, ranked, 20)
	positives := 0
	for _, c := range ranked {
		if c.Score > 0 {
			positives++
			assert.InDelta(t, 1.0/19.0, c.Score, 1e-9)
		}
	}
	assert.Equal(t, 19, positives, "uniform fallback over non-adversary nodes")
}

func TestDandelionAdversaryEndToEnd(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := protocols.NewDandelionProtocol(net, 0.4, protocols.BroadcastModeSqrt, 42)
	require.NoError(t, err)
	adv, err := NewDandelionAdversary(net, proto, Options{Ratio: 0.2, Seed: 9})
	require.NoError(t, err)

	msg := message.New(0, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(2)), 0)
	require.NoError(t, err)
	adv.Observe(trace)

	for _, estimator := range []Estimator{EstimatorDummy, EstimatorFirstReach, EstimatorFirstSent} {
		ranked, err := adv.Predict(msg.ID, estimator)
		require.NoError(t, err)
		require.Len(t, ranked, 20, "estimator %s", estimator)
		total := 0.0
		for _, c := range ranked {
			total += c.Score
		}
		assert.InDelta(t, 1.0, total, 1e-9, "estimator %s", estimator)
	}
}

func TestDandelionAdversaryAgainstPlusPlus(t *testing.T) {
	net := newTestNetwork(t, 20, 4, 42)
	proto, err := protocols.NewDandelionPlusPlusProtocol(net, 0.4, protocols.BroadcastModeAll, 42)
	require.NoError(t, err)
	adv, err := NewDandelionAdversary(net, proto, Options{Ratio: 0.1, Seed: 4})
	require.NoError(t, err)

	msg := message.New(0, rand.New(rand.NewSource(1)))
	trace, err := proto.Propagate(msg, rand.New(rand.NewSource(2)), 0)
	require.NoError(t, err)
	adv.Observe(trace)

	ranked, err := adv.Predict(msg.ID, EstimatorFirstReach)
	require.NoError(t, err)
	require.Len(t, ranked, 20)
	total := 0.0
	for _, c := range ranked {
		total += c.Score
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}
