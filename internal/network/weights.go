package network

import (
	"math"

	pl "github.com/HannahMarsh/PrettyLogger"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Node weight distributions used for weighted source sampling.
const (
	NodeWeightRandom = "random"
	NodeWeightStake  = "stake"
)

// Edge latency distributions. Latencies are in milliseconds.
const (
	EdgeWeightUnweighted = "unweighted"
	EdgeWeightNormal     = "normal"
	EdgeWeightUniform    = "uniform"
	EdgeWeightCustom     = "custom"
)

// Measured Ethereum P2P message propagation latency (ms).
const (
	meanLatencyMS = 171.0
	stdLatencyMS  = 76.0
)

type NodeWeightGenerator struct {
	mode string
}

func NewNodeWeightGenerator(mode string) (*NodeWeightGenerator, error) {
	switch mode {
	case NodeWeightRandom, NodeWeightStake:
		return &NodeWeightGenerator{mode: mode}, nil
	default:
		return nil, pl.NewError("invalid node weight mode %q: choose from [%s, %s]", mode, NodeWeightRandom, NodeWeightStake)
	}
}

func (g *NodeWeightGenerator) Mode() string {
	return g.mode
}

// Sample draws one node weight from the configured distribution. The stake
// distribution is heavy tailed, approximating the staked Ether per validator.
func (g *NodeWeightGenerator) Sample(src exprand.Source) float64 {
	switch g.mode {
	case NodeWeightStake:
		return distuv.Pareto{Xm: 1, Alpha: 1.16, Src: src}.Rand()
	default:
		return distuv.Uniform{Min: 0, Max: 1, Src: src}.Rand()
	}
}

type EdgeWeightGenerator struct {
	mode string
}

func NewEdgeWeightGenerator(mode string) (*EdgeWeightGenerator, error) {
	switch mode {
	case EdgeWeightUnweighted, EdgeWeightNormal, EdgeWeightUniform, EdgeWeightCustom:
		return &EdgeWeightGenerator{mode: mode}, nil
	default:
		return nil, pl.NewError("invalid edge weight mode %q: choose from [%s, %s, %s, %s]",
			mode, EdgeWeightUnweighted, EdgeWeightNormal, EdgeWeightUniform, EdgeWeightCustom)
	}
}

func (g *EdgeWeightGenerator) Mode() string {
	return g.mode
}

// Sample draws one channel latency. Custom-mode graphs carry caller-provided
// latencies on their edges; virtual links (anonymity-graph edges, relay hops)
// still need a distribution, so custom falls back to the normal latency model.
func (g *EdgeWeightGenerator) Sample(src exprand.Source) float64 {
	switch g.mode {
	case EdgeWeightUnweighted:
		return 1.0
	case EdgeWeightUniform:
		return distuv.Uniform{Min: 0, Max: 2 * meanLatencyMS, Src: src}.Rand()
	default:
		return math.Abs(distuv.Normal{Mu: meanLatencyMS, Sigma: stdLatencyMS, Src: src}.Rand())
	}
}
