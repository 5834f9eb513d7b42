package network

import (
	"math/rand"
	"sort"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/pkg/utils"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

// Centrality metrics accepted by CentralNodes.
const (
	CentralityDegree      = "degree"
	CentralityBetweenness = "betweenness"
)

// Edge is an undirected channel between two peers. Latency is only honored
// when the network's edge weight generator is in custom mode.
type Edge struct {
	U       int
	V       int
	Latency float64
}

// Network is the broadcast graph: node set 0..n-1, neighbor adjacency,
// per-edge latency and per-node sampling weight. It is immutable after
// construction, so concurrent readers need no locking.
type Network struct {
	numNodes    int
	adj         [][]int
	latency     map[int64]float64
	weights     []float64
	totalWeight float64
	seed        int64
	ewGen       *EdgeWeightGenerator
}

// NewRandomRegular builds a k-regular random graph on numNodes nodes with the
// configuration (pairing) model. The parity constraint numNodes*k even and
// k < numNodes are rejected, not repaired.
func NewRandomRegular(nwGen *NodeWeightGenerator, ewGen *EdgeWeightGenerator, numNodes, k int, seed int64) (*Network, error) {
	if numNodes <= 0 {
		return nil, pl.NewError("network must have at least one node, got %d", numNodes)
	}
	if k <= 0 || k >= numNodes {
		return nil, pl.NewError("regularity parameter k=%d must satisfy 0 < k < numNodes=%d", k, numNodes)
	}
	if numNodes*k%2 != 0 {
		return nil, pl.NewError("cannot build a %d-regular graph on %d nodes: total degree is odd", k, numNodes)
	}
	if ewGen.Mode() == EdgeWeightCustom {
		return nil, pl.NewError("custom edge weights require an explicit edge list, use NewFromEdges")
	}

	rng := rand.New(rand.NewSource(seed))
	edges, err := pairRegular(rng, numNodes, k)
	if err != nil {
		return nil, err
	}
	return newNetwork(nwGen, ewGen, numNodes, edges, seed)
}

// NewFromEdges builds a network from an explicit edge list, e.g. an imported
// real-world topology. Node ids must lie in [0, numNodes).
func NewFromEdges(nwGen *NodeWeightGenerator, ewGen *EdgeWeightGenerator, numNodes int, edges []Edge, seed int64) (*Network, error) {
	if numNodes <= 0 {
		return nil, pl.NewError("network must have at least one node, got %d", numNodes)
	}
	for _, e := range edges {
		if e.U < 0 || e.U >= numNodes || e.V < 0 || e.V >= numNodes {
			return nil, pl.NewError("edge (%d, %d) out of node range [0, %d)", e.U, e.V, numNodes)
		}
		if e.U == e.V {
			return nil, pl.NewError("self-loop on node %d is not allowed", e.U)
		}
		if ewGen.Mode() == EdgeWeightCustom && e.Latency < 0 {
			return nil, pl.NewError("edge (%d, %d) has negative latency %f", e.U, e.V, e.Latency)
		}
	}
	return newNetwork(nwGen, ewGen, numNodes, edges, seed)
}

// pairRegular runs the pairing model: k stubs per node, shuffled and paired,
// retried until the result is a simple graph.
func pairRegular(rng *rand.Rand, numNodes, k int) ([]Edge, error) {
	const maxAttempts = 1000
	stubs := make([]int, 0, numNodes*k)
	for node := 0; node < numNodes; node++ {
		for i := 0; i < k; i++ {
			stubs = append(stubs, node)
		}
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rng.Shuffle(len(stubs), func(i, j int) {
			stubs[i], stubs[j] = stubs[j], stubs[i]
		})
		edges := make([]Edge, 0, len(stubs)/2)
		seen := make(map[int64]bool, len(stubs)/2)
		ok := true
		for i := 0; i < len(stubs); i += 2 {
			u, v := stubs[i], stubs[i+1]
			if u == v || seen[edgeKey(u, v)] {
				ok = false
				break
			}
			seen[edgeKey(u, v)] = true
			edges = append(edges, Edge{U: u, V: v})
		}
		if ok {
			return edges, nil
		}
	}
	return nil, pl.NewError("failed to build a simple %d-regular graph on %d nodes after %d attempts", k, numNodes, maxAttempts)
}

func newNetwork(nwGen *NodeWeightGenerator, ewGen *EdgeWeightGenerator, numNodes int, edges []Edge, seed int64) (*Network, error) {
	n := &Network{
		numNodes: numNodes,
		adj:      make([][]int, numNodes),
		latency:  make(map[int64]float64, len(edges)),
		weights:  make([]float64, numNodes),
		seed:     seed,
		ewGen:    ewGen,
	}
	for _, e := range edges {
		key := edgeKey(e.U, e.V)
		if _, dup := n.latency[key]; dup {
			continue
		}
		if ewGen.Mode() == EdgeWeightCustom {
			n.latency[key] = e.Latency
		} else {
			n.latency[key] = n.deriveLatency(e.U, e.V)
		}
		n.adj[e.U] = append(n.adj[e.U], e.V)
		n.adj[e.V] = append(n.adj[e.V], e.U)
	}
	for node := range n.adj {
		sort.Ints(n.adj[node])
	}

	src := exprand.NewSource(utils.Mix64(uint64(seed)))
	total := 0.0
	for node := 0; node < numNodes; node++ {
		w := nwGen.Sample(src)
		if w < 0 {
			return nil, pl.NewError("node weight generator produced negative weight %f", w)
		}
		n.weights[node] = w
		total += w
	}
	if total <= 0 {
		return nil, pl.NewError("node sampling weights must sum to a positive value, got %f", total)
	}
	n.totalWeight = total
	return n, nil
}

func (n *Network) NumNodes() int {
	return n.numNodes
}

func (n *Network) Nodes() []int {
	return utils.NewIntArray(0, n.numNodes)
}

func (n *Network) Neighbors(node int) []int {
	return n.adj[node]
}

func (n *Network) Degree(node int) int {
	return len(n.adj[node])
}

func (n *Network) NumEdges() int {
	return len(n.latency)
}

func (n *Network) Weight(node int) float64 {
	return n.weights[node]
}

func (n *Network) TotalWeight() float64 {
	return n.totalWeight
}

func (n *Network) HasEdge(u, v int) bool {
	_, ok := n.latency[edgeKey(u, v)]
	return ok
}

// Latency returns the channel latency of an existing edge.
func (n *Network) Latency(u, v int) (float64, bool) {
	l, ok := n.latency[edgeKey(u, v)]
	return l, ok
}

// PairLatency returns the latency between any node pair: the edge latency if
// the pair is connected in the broadcast graph, otherwise a virtual-link
// latency derived deterministically from the network seed and the pair. The
// derivation keeps the network immutable, so parallel trials sampling the
// same virtual link always observe the same value.
func (n *Network) PairLatency(u, v int) float64 {
	if l, ok := n.latency[edgeKey(u, v)]; ok {
		return l
	}
	return n.deriveLatency(u, v)
}

func (n *Network) deriveLatency(u, v int) float64 {
	src := exprand.NewSource(utils.Mix64(uint64(n.seed) ^ utils.Mix64(uint64(edgeKey(u, v)))))
	return n.ewGen.Sample(src)
}

// SampleNode draws a single node, uniformly or proportionally to node weight,
// never returning a node in exclude.
func (n *Network) SampleNode(rng *rand.Rand, byWeight bool, exclude map[int]bool) (int, error) {
	candidates := n.sampleCandidates(exclude)
	if len(candidates) == 0 {
		return 0, pl.NewError("no nodes left to sample from")
	}
	if !byWeight {
		return candidates[rng.Intn(len(candidates))], nil
	}
	total := 0.0
	for _, node := range candidates {
		total += n.weights[node]
	}
	if total <= 0 {
		return 0, pl.NewError("sampling weights of candidate nodes must sum to a positive value, got %f", total)
	}
	target := rng.Float64() * total
	acc := 0.0
	for _, node := range candidates {
		acc += n.weights[node]
		if target < acc {
			return node, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// SampleNodes draws count distinct nodes without replacement.
func (n *Network) SampleNodes(rng *rand.Rand, count int, byWeight bool, exclude map[int]bool) ([]int, error) {
	candidates := n.sampleCandidates(exclude)
	if count < 0 || count > len(candidates) {
		return nil, pl.NewError("cannot sample %d nodes from %d candidates", count, len(candidates))
	}
	if !byWeight {
		perm := rng.Perm(len(candidates))
		sampled := make([]int, count)
		for i := 0; i < count; i++ {
			sampled[i] = candidates[perm[i]]
		}
		return sampled, nil
	}
	sampled := make([]int, 0, count)
	remaining := make(map[int]bool, len(exclude)+count)
	for node := range exclude {
		remaining[node] = true
	}
	for i := 0; i < count; i++ {
		node, err := n.SampleNode(rng, true, remaining)
		if err != nil {
			return nil, err
		}
		sampled = append(sampled, node)
		remaining[node] = true
	}
	return sampled, nil
}

func (n *Network) sampleCandidates(exclude map[int]bool) []int {
	candidates := make([]int, 0, n.numNodes)
	for node := 0; node < n.numNodes; node++ {
		if !exclude[node] {
			candidates = append(candidates, node)
		}
	}
	return candidates
}

// CentralNodes returns the count highest-ranked nodes under the given
// centrality metric, ties broken by ascending node id.
func (n *Network) CentralNodes(count int, metric string) ([]int, error) {
	if count < 0 || count > n.numNodes {
		return nil, pl.NewError("cannot select %d central nodes from %d nodes", count, n.numNodes)
	}
	var score []float64
	switch metric {
	case CentralityDegree:
		score = utils.Map(n.Nodes(), func(node int) float64 {
			return float64(n.Degree(node))
		})
	case CentralityBetweenness:
		score = n.betweenness()
	default:
		return nil, pl.NewError("invalid centrality metric %q: choose from [%s, %s]", metric, CentralityDegree, CentralityBetweenness)
	}
	ranked := n.Nodes()
	utils.SortStable(ranked, func(a, b int) bool {
		if score[a] != score[b] {
			return score[a] > score[b]
		}
		return a < b
	})
	return ranked[:count], nil
}

func (n *Network) betweenness() []float64 {
	g := simple.NewUndirectedGraph()
	for node := 0; node < n.numNodes; node++ {
		g.AddNode(simple.Node(node))
	}
	for key := range n.latency {
		u, v := keyEdge(key)
		g.SetEdge(simple.Edge{F: simple.Node(u), T: simple.Node(v)})
	}
	centrality := network.Betweenness(g)
	score := make([]float64, n.numNodes)
	for node := 0; node < n.numNodes; node++ {
		score[node] = centrality[int64(node)]
	}
	return score
}

func edgeKey(u, v int) int64 {
	if u > v {
		u, v = v, u
	}
	return int64(u)<<32 | int64(v)
}

func keyEdge(key int64) (int, int) {
	return int(key >> 32), int(key & 0xffffffff)
}
