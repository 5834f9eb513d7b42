package protocols

import (
	"math/rand"
	"sort"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/network"
)

// AnonymityGraph is the directed auxiliary graph Dandelion-family protocols
// forward stem-phase messages on. It spans the same node set as the broadcast
// graph but its edges are independent of it; edge latencies come from the
// network's virtual-link derivation. Built once per protocol instance and
// read-only afterwards, also exposed for external plotting.
type AnonymityGraph struct {
	net *network.Network
	out [][]int
	in  [][]int
}

func newAnonymityGraph(net *network.Network) *AnonymityGraph {
	return &AnonymityGraph{
		net: net,
		out: make([][]int, net.NumNodes()),
		in:  make([][]int, net.NumNodes()),
	}
}

func (g *AnonymityGraph) addEdge(u, v int) {
	g.out[u] = append(g.out[u], v)
	g.in[v] = append(g.in[v], u)
}

func (g *AnonymityGraph) sortEdges() {
	for node := range g.out {
		sort.Ints(g.out[node])
		sort.Ints(g.in[node])
	}
}

func (g *AnonymityGraph) NumNodes() int {
	return len(g.out)
}

func (g *AnonymityGraph) Successors(node int) []int {
	return g.out[node]
}

func (g *AnonymityGraph) Predecessors(node int) []int {
	return g.in[node]
}

func (g *AnonymityGraph) OutDegree(node int) int {
	return len(g.out[node])
}

func (g *AnonymityGraph) InDegree(node int) int {
	return len(g.in[node])
}

func (g *AnonymityGraph) NumEdges() int {
	total := 0
	for _, succ := range g.out {
		total += len(succ)
	}
	return total
}

// Latency returns the stem-hop latency of a directed anonymity edge.
func (g *AnonymityGraph) Latency(u, v int) float64 {
	return g.net.PairLatency(u, v)
}

// newLineGraph builds the Dandelion anonymity graph: a random permutation
// without fixed points, so every node has exactly one successor and one
// predecessor (a cycle cover of the node set).
func newLineGraph(net *network.Network, rng *rand.Rand) (*AnonymityGraph, error) {
	n := net.NumNodes()
	if n < 2 {
		return nil, pl.NewError("anonymity graph needs at least 2 nodes, got %d", n)
	}
	perm := rng.Perm(n)
	for i := 0; i < n; i++ {
		if perm[i] == i {
			j := (i + 1) % n
			perm[i], perm[j] = perm[j], perm[i]
		}
	}
	g := newAnonymityGraph(net)
	for node, succ := range perm {
		g.addEdge(node, succ)
	}
	g.sortEdges()
	return g, nil
}

// newQuasiRegularGraph builds the Dandelion++ anonymity graph: every node
// wires out-edges to outDegree distinct uniformly chosen other nodes, giving
// exact out-degree outDegree and approximately regular in-degrees.
func newQuasiRegularGraph(net *network.Network, rng *rand.Rand, outDegree int) (*AnonymityGraph, error) {
	n := net.NumNodes()
	if outDegree < 1 || outDegree >= n {
		return nil, pl.NewError("anonymity out-degree %d must satisfy 0 < degree < numNodes=%d", outDegree, n)
	}
	g := newAnonymityGraph(net)
	for node := 0; node < n; node++ {
		targets, err := net.SampleNodes(rng, outDegree, false, map[int]bool{node: true})
		if err != nil {
			return nil, pl.WrapError(err, "sampling anonymity graph targets for node %d", node)
		}
		for _, target := range targets {
			g.addEdge(node, target)
		}
	}
	g.sortEdges()
	return g, nil
}
