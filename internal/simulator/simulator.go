package simulator

import (
	"math/rand"

	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ferencberes/ethp2psim/internal/adversary"
	"github.com/ferencberes/ethp2psim/internal/message"
	"github.com/ferencberes/ethp2psim/internal/network"
	"github.com/ferencberes/ethp2psim/internal/protocols"
	"github.com/ferencberes/ethp2psim/pkg/utils"
	"github.com/ferencberes/ethp2psim/pkg/utils/executor"
	"gonum.org/v1/gonum/stat"
)

// Stat is a mean and standard deviation aggregated across messages.
type Stat struct {
	Mean float64
	Std  float64
}

// Run is the stored outcome of one message trial.
type Run struct {
	Trace    *message.Trace
	Coverage float64
}

// Options configures a batch of message trials.
type Options struct {
	// NumMsg is the number of independent messages to simulate.
	NumMsg int
	// CoverageThreshold stops a trial early once this fraction of nodes has
	// been reached; 0 disables the early stop.
	CoverageThreshold float64
	// UseNodeWeights samples sources proportionally to node weight instead of
	// uniformly.
	UseNodeWeights bool
	// Sources, when non-nil, fixes the source of each trial instead of
	// sampling. Must contain exactly NumMsg entries.
	Sources []int
	// MaxWorkers > 1 runs trials in parallel on a worker pool. The output is
	// identical to sequential execution for the same seed.
	MaxWorkers int
	Seed       int64
}

// Simulator runs independent message trials over one fixed
// network/protocol/adversary configuration and stores their traces. Sampling
// and message creation consume the root generator in trial order, and each
// propagation draws from its own generator seeded from the root seed and the
// trial index, so parallel execution cannot perturb the results.
type Simulator struct {
	net      *network.Network
	protocol protocols.Protocol
	adv      adversary.Observer
	opts     Options
	runs     []Run
}

func New(net *network.Network, protocol protocols.Protocol, adv adversary.Observer, opts Options) (*Simulator, error) {
	if opts.NumMsg <= 0 {
		return nil, pl.NewError("number of messages %d must be positive", opts.NumMsg)
	}
	if opts.CoverageThreshold < 0 || opts.CoverageThreshold > 1 {
		return nil, pl.NewError("coverage threshold %f must be in [0, 1]", opts.CoverageThreshold)
	}
	if opts.Sources != nil {
		if len(opts.Sources) != opts.NumMsg {
			return nil, pl.NewError("got %d explicit sources for %d messages", len(opts.Sources), opts.NumMsg)
		}
		for _, src := range opts.Sources {
			if src < 0 || src >= net.NumNodes() {
				return nil, pl.NewError("source node %d out of range [0, %d)", src, net.NumNodes())
			}
		}
	}
	return &Simulator{
		net:      net,
		protocol: protocol,
		adv:      adv,
		opts:     opts,
	}, nil
}

func (s *Simulator) Protocol() protocols.Protocol {
	return s.protocol
}

func (s *Simulator) Adversary() adversary.Observer {
	return s.adv
}

func (s *Simulator) Runs() []Run {
	return s.runs
}

// Run executes all trials and returns the coverage reached per message id.
// Sources are drawn with replacement, excluding adversary-controlled nodes,
// unless fixed explicitly. The adversary eavesdrops on every trace in trial
// order. Calling Run again replaces the stored runs.
func (s *Simulator) Run() (map[string]float64, error) {
	s.protocol.SetCensor(s.adv)
	master := rand.New(rand.NewSource(s.opts.Seed))
	exclude := make(map[int]bool)
	for _, node := range s.adv.Controlled() {
		exclude[node] = true
	}

	msgs := make([]message.Message, s.opts.NumMsg)
	for i := range msgs {
		src := 0
		if s.opts.Sources != nil {
			src = s.opts.Sources[i]
		} else {
			var err error
			src, err = s.net.SampleNode(master, s.opts.UseNodeWeights, exclude)
			if err != nil {
				return nil, pl.WrapError(err, "sampling the source of message %d", i)
			}
		}
		msgs[i] = message.New(src, master)
	}

	var err error
	if s.opts.MaxWorkers > 1 {
		s.runs, err = s.runParallel(msgs)
	} else {
		s.runs, err = s.runSequential(msgs)
	}
	if err != nil {
		return nil, err
	}

	coverage := make(map[string]float64, len(s.runs))
	for _, run := range s.runs {
		s.adv.Observe(run.Trace)
		coverage[run.Trace.Msg.ID] = run.Coverage
	}
	return coverage, nil
}

func (s *Simulator) runTrial(msg message.Message, index int) (Run, error) {
	rng := rand.New(rand.NewSource(s.trialSeed(index)))
	trace, err := s.protocol.Propagate(msg, rng, s.opts.CoverageThreshold)
	if err != nil {
		return Run{}, pl.WrapError(err, "propagating message %d", index)
	}
	return Run{Trace: trace, Coverage: trace.Coverage()}, nil
}

func (s *Simulator) trialSeed(index int) int64 {
	return int64(utils.Mix64(uint64(s.opts.Seed) ^ utils.Mix64(uint64(index)+1)))
}

func (s *Simulator) runSequential(msgs []message.Message) ([]Run, error) {
	runs := make([]Run, len(msgs))
	for i, msg := range msgs {
		run, err := s.runTrial(msg, i)
		if err != nil {
			return nil, err
		}
		runs[i] = run
	}
	return runs, nil
}

func (s *Simulator) runParallel(msgs []message.Message) ([]Run, error) {
	pool := executor.NewWorkerPoolWithMax(s.opts.MaxWorkers)
	defer pool.Stop()
	futures := make([]*executor.Future[Run], len(msgs))
	for i, msg := range msgs {
		i, msg := i, msg
		futures[i] = executor.Submit(pool, func() (Run, error) {
			return s.runTrial(msg, i)
		})
	}
	runs := make([]Run, len(msgs))
	for i, fut := range futures {
		run, err := fut.Get()
		if err != nil {
			return nil, err
		}
		runs[i] = run
	}
	return runs, nil
}

// NodeContactTimeQuantiles reports, for each requested coverage fraction, the
// mean and standard deviation across messages of the time at which that
// fraction of nodes first had a recorded arrival. Runs that never reached a
// fraction are skipped for it; a fraction no run reached is absent from the
// result.
func (s *Simulator) NodeContactTimeQuantiles(fractions []float64) (map[float64]Stat, error) {
	if len(s.runs) == 0 {
		return nil, pl.NewError("no stored runs: call Run first")
	}
	for _, f := range fractions {
		if f <= 0 || f > 1 {
			return nil, pl.NewError("coverage fraction %f must be in (0, 1]", f)
		}
	}
	numNodes := s.net.NumNodes()
	sorted := make([][]float64, len(s.runs))
	for i, run := range s.runs {
		times := utils.Map(run.Trace.Events, func(ev message.Event) float64 {
			return ev.Time
		})
		utils.SortOrdered(times)
		sorted[i] = times
	}
	quantiles := make(map[float64]Stat, len(fractions))
	for _, f := range fractions {
		idx := int(ceilFrac(f, numNodes)) - 1
		var samples []float64
		for _, times := range sorted {
			if idx < len(times) {
				samples = append(samples, times[idx])
			}
		}
		if len(samples) == 0 {
			continue
		}
		quantiles[f] = Stat{
			Mean: stat.Mean(samples, nil),
			Std:  stat.PopStdDev(samples, nil),
		}
	}
	return quantiles, nil
}

// ceilFrac is ceil(f * n) computed without float drift for exact multiples.
func ceilFrac(f float64, n int) int {
	scaled := f * float64(n)
	k := int(scaled)
	if float64(k) < scaled {
		k++
	}
	return k
}
