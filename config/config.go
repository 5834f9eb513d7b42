package config

import (
	pl "github.com/HannahMarsh/PrettyLogger"
	"github.com/ilyakaznacheev/cleanenv"
)

type Network struct {
	NumNodes   int    `yaml:"num_nodes" env:"NETWORK_NUM_NODES"`
	Degree     int    `yaml:"degree" env:"NETWORK_DEGREE"`
	NodeWeight string `yaml:"node_weight" env:"NETWORK_NODE_WEIGHT"`
	EdgeWeight string `yaml:"edge_weight" env:"NETWORK_EDGE_WEIGHT"`
}

type Protocol struct {
	Type           string  `yaml:"type" env:"PROTOCOL_TYPE"`
	SpreadingProba float64 `yaml:"spreading_proba" env:"PROTOCOL_SPREADING_PROBA"`
	BroadcastMode  string  `yaml:"broadcast_mode" env:"PROTOCOL_BROADCAST_MODE"`
	NumRelayers    int     `yaml:"num_relayers" env:"PROTOCOL_NUM_RELAYERS"`
}

type Adversary struct {
	Ratio      float64  `yaml:"ratio" env:"ADVERSARY_RATIO"`
	Centrality string   `yaml:"centrality" env:"ADVERSARY_CENTRALITY"`
	Active     bool     `yaml:"active" env:"ADVERSARY_ACTIVE"`
	Estimators []string `yaml:"estimators" env:"ADVERSARY_ESTIMATORS"`
}

type Simulation struct {
	NumMsg            int       `yaml:"num_msg" env:"SIMULATION_NUM_MSG"`
	CoverageThreshold float64   `yaml:"coverage_threshold" env:"SIMULATION_COVERAGE_THRESHOLD"`
	UseNodeWeights    bool      `yaml:"use_node_weights" env:"SIMULATION_USE_NODE_WEIGHTS"`
	MaxWorkers        int       `yaml:"max_workers" env:"SIMULATION_MAX_WORKERS"`
	Seed              int64     `yaml:"seed" env:"SIMULATION_SEED"`
	Quantiles         []float64 `yaml:"quantiles" env:"SIMULATION_QUANTILES"`
}

type Config struct {
	Network    Network    `yaml:"network"`
	Protocol   Protocol   `yaml:"protocol"`
	Adversary  Adversary  `yaml:"adversary"`
	Simulation Simulation `yaml:"simulation"`
}

// Load reads the yaml config at path and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, pl.WrapError(err, "reading config file %s", path)
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, pl.WrapError(err, "reading config environment overrides")
	}
	return cfg, nil
}
