package main

import (
	"flag"
	"fmt"
	"os"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/config"
	"github.com/ferencberes/ethp2psim/internal/adversary"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/ferencberes/ethp2psim/internal/protocols"
	"github.com/ferencberes/ethp2psim/internal/simulator"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/exp/slog"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "Path to the yaml config")
	logLevel := flag.String("log-level", "info", "Log level")

	flag.Usage = flag.PrintDefaults
	flag.Parse()

	pl.SetUpLogrusAndSlog(*logLevel)

	if _, err := maxprocs.Set(); err != nil {
		slog.Error("failed to set max procs", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("simulation failed", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	net, err := buildNetwork(cfg)
	if err != nil {
		return err
	}
	protocol, err := buildProtocol(cfg, net)
	if err != nil {
		return err
	}
	adv, err := buildAdversary(cfg, net, protocol)
	if err != nil {
		return err
	}
	sim, err := simulator.New(net, protocol, adv, simulator.Options{
		NumMsg:            cfg.Simulation.NumMsg,
		CoverageThreshold: cfg.Simulation.CoverageThreshold,
		UseNodeWeights:    cfg.Simulation.UseNodeWeights,
		MaxWorkers:        cfg.Simulation.MaxWorkers,
		Seed:              cfg.Simulation.Seed,
	})
	if err != nil {
		return err
	}

	slog.Info("starting simulation",
		"network", fmt.Sprintf("%d nodes, %d-regular", cfg.Network.NumNodes, cfg.Network.Degree),
		"protocol", protocol.String(),
		"adversary", adv.String(),
		"num_msg", cfg.Simulation.NumMsg,
		"seed", cfg.Simulation.Seed)

	coverage, err := sim.Run()
	if err != nil {
		return err
	}
	slog.Info("simulation finished", "messages", len(coverage))

	if len(cfg.Simulation.Quantiles) > 0 {
		quantiles, err := sim.NodeContactTimeQuantiles(cfg.Simulation.Quantiles)
		if err != nil {
			return err
		}
		for _, f := range cfg.Simulation.Quantiles {
			q, ok := quantiles[f]
			if !ok {
				slog.Warn("coverage fraction never reached", "fraction", f)
				continue
			}
			slog.Info("node contact time",
				"fraction", f,
				"mean_ms", fmt.Sprintf("%.2f", q.Mean),
				"std_ms", fmt.Sprintf("%.2f", q.Std))
		}
	}

	for _, name := range cfg.Adversary.Estimators {
		eval, err := simulator.NewEvaluator(sim, adversary.Estimator(name))
		if err != nil {
			return err
		}
		report, err := eval.GetReport()
		if err != nil {
			return err
		}
		logReport(report)
	}
	return nil
}

func buildNetwork(cfg *config.Config) (*network.Network, error) {
	nwGen, err := network.NewNodeWeightGenerator(cfg.Network.NodeWeight)
	if err != nil {
		return nil, err
	}
	ewGen, err := network.NewEdgeWeightGenerator(cfg.Network.EdgeWeight)
	if err != nil {
		return nil, err
	}
	return network.NewRandomRegular(nwGen, ewGen, cfg.Network.NumNodes, cfg.Network.Degree, cfg.Simulation.Seed)
}

func buildProtocol(cfg *config.Config, net *network.Network) (protocols.Protocol, error) {
	p := cfg.Protocol
	switch p.Type {
	case "broadcast":
		return protocols.NewBroadcastProtocol(net, p.BroadcastMode)
	case "dandelion":
		return protocols.NewDandelionProtocol(net, p.SpreadingProba, p.BroadcastMode, cfg.Simulation.Seed)
	case "dandelion++":
		return protocols.NewDandelionPlusPlusProtocol(net, p.SpreadingProba, p.BroadcastMode, cfg.Simulation.Seed)
	case "onion":
		return protocols.NewOnionRoutingProtocol(net, p.NumRelayers, p.BroadcastMode)
	default:
		return nil, pl.NewError("unknown protocol type %q: choose from [broadcast, dandelion, dandelion++, onion]", p.Type)
	}
}

// buildAdversary picks the strongest adversary the configured protocol
// admits: the anonymity-graph walker for the Dandelion family, the timing
// correlator for onion routing, the timing heuristics otherwise.
func buildAdversary(cfg *config.Config, net *network.Network, protocol protocols.Protocol) (adversary.Observer, error) {
	opts := adversary.Options{
		Ratio:      cfg.Adversary.Ratio,
		Active:     cfg.Adversary.Active,
		Centrality: cfg.Adversary.Centrality,
		Seed:       cfg.Simulation.Seed,
	}
	switch p := protocol.(type) {
	case *protocols.DandelionProtocol:
		return adversary.NewDandelionAdversary(net, p, opts)
	case *protocols.DandelionPlusPlusProtocol:
		return adversary.NewDandelionAdversary(net, p, opts)
	case *protocols.OnionRoutingProtocol:
		return adversary.NewOnionRoutingAdversary(net, p, opts)
	default:
		return adversary.NewAdversary(net, opts)
	}
}

func logReport(report *simulator.Report) {
	args := []any{
		"protocol", report.Protocol,
		"estimator", report.Estimator,
	}
	for _, name := range simulator.MetricNames() {
		stat := report.Metrics[name]
		args = append(args, name, fmt.Sprintf("%.4f (±%.4f)", stat.Mean, stat.Std))
	}
	slog.Info("deanonymization report", args...)
}
