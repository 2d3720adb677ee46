// Package config loads the ringmaster YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendBolt = "bolt"
	BackendRaft = "raft"
	BackendEtcd = "etcd"
)

// Node runtimes
const (
	RuntimeExec       = "exec"
	RuntimeContainerd = "containerd"
)

// Config is the top-level configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Cluster ClusterConfig `yaml:"cluster"`
	Plan    PlanConfig    `yaml:"plan"`
	Repair  RepairConfig  `yaml:"repair"`
	Node    NodeConfig    `yaml:"node"`
	Local   LocalConfig   `yaml:"local"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type APIConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// StorageConfig selects where scheduler state is persisted
type StorageConfig struct {
	Backend       string        `yaml:"backend"`
	DataDir       string        `yaml:"data_dir"`
	RaftNodeID    string        `yaml:"raft_node_id"`
	RaftBindAddr  string        `yaml:"raft_bind_addr"`
	RaftBootstrap bool          `yaml:"raft_bootstrap"`
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	EtcdTimeout   time.Duration `yaml:"etcd_timeout"`
}

// ClusterConfig describes the ring to run
type ClusterConfig struct {
	Name      string   `yaml:"name"`
	Role      string   `yaml:"role"`
	Nodes     int      `yaml:"nodes"`
	Seeds     int      `yaml:"seeds"`
	CPUs      float64  `yaml:"cpus"`
	MemoryMB  float64  `yaml:"memory_mb"`
	DiskMB    float64  `yaml:"disk_mb"`
	VolumeMB  float64  `yaml:"volume_mb"`
	DataPath  string   `yaml:"data_path"`
	Ports     []uint64 `yaml:"ports"`
	Keyspaces []string `yaml:"keyspaces"`
}

// PlanConfig controls how blocks within a phase are released
type PlanConfig struct {
	Strategy    string `yaml:"strategy"`
	Parallelism int    `yaml:"parallelism"`
}

type RepairConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Keyspaces     []string      `yaml:"keyspaces"`
	CPUs          float64       `yaml:"cpus"`
	MemoryMB      float64       `yaml:"memory_mb"`
}

// NodeConfig holds executor-side settings for the database process
type NodeConfig struct {
	ProbeURL     string            `yaml:"probe_url"`
	PollPeriod   time.Duration     `yaml:"poll_period"`
	RetryCeiling int               `yaml:"retry_ceiling"`
	DrainTimeout time.Duration     `yaml:"drain_timeout"`
	StopGrace    time.Duration     `yaml:"stop_grace"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	Runtime      string            `yaml:"runtime"`
	Image        string            `yaml:"image"`
	Namespace    string            `yaml:"namespace"`
	Socket       string            `yaml:"socket"`
}

// LocalConfig drives the in-process resource manager
type LocalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	OfferInterval time.Duration `yaml:"offer_interval"`
	VolumeDir     string        `yaml:"volume_dir"`
	Agents        []AgentConfig `yaml:"agents"`
}

type AgentConfig struct {
	ID       string  `yaml:"id"`
	Hostname string  `yaml:"hostname"`
	CPUs     float64 `yaml:"cpus"`
	MemoryMB float64 `yaml:"memory_mb"`
	DiskMB   float64 `yaml:"disk_mb"`
	PortsLo  uint64  `yaml:"ports_lo"`
	PortsHi  uint64  `yaml:"ports_hi"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		API: APIConfig{
			Addr:     ":8080",
			GRPCAddr: ":9090",
		},
		Storage: StorageConfig{
			Backend:      BackendBolt,
			DataDir:      "./ringmaster-data",
			RaftNodeID:   "scheduler-0",
			RaftBindAddr: "127.0.0.1:7946",
			EtcdTimeout:  5 * time.Second,
		},
		Cluster: ClusterConfig{
			Name:     "ringmaster",
			Role:     "*",
			Nodes:    3,
			Seeds:    2,
			CPUs:     1,
			MemoryMB: 2048,
			DiskMB:   1024,
			VolumeMB: 8192,
			DataPath: "volume",
			Ports:    []uint64{7000, 7001, 7199, 9042},
		},
		Plan: PlanConfig{
			Strategy:    "serial",
			Parallelism: 1,
		},
		Repair: RepairConfig{
			Enabled:       true,
			Interval:      24 * time.Hour,
			MaxConcurrent: 1,
			CPUs:          0.1,
			MemoryMB:      32,
		},
		Node: NodeConfig{
			ProbeURL:     "http://%s:%d/jolokia",
			PollPeriod:   time.Second,
			RetryCeiling: 10,
			DrainTimeout: 2 * time.Minute,
			StopGrace:    30 * time.Second,
			Command:      "cassandra",
			Args:         []string{"-f"},
			Runtime:      RuntimeExec,
			Namespace:    "ringmaster",
			Socket:       "/run/containerd/containerd.sock",
		},
		Local: LocalConfig{
			OfferInterval: 2 * time.Second,
			VolumeDir:     "./ringmaster-volumes",
		},
	}
}

// Load reads a YAML file on top of DefaultConfig. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig and validates the result
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks structural sanity only
func (c Config) Validate() error {
	var errs []error

	if c.Cluster.Nodes < 1 {
		errs = append(errs, errors.New("cluster.nodes must be at least 1"))
	}
	if c.Cluster.Seeds < 1 || c.Cluster.Seeds > c.Cluster.Nodes {
		errs = append(errs, fmt.Errorf("cluster.seeds must be between 1 and %d", c.Cluster.Nodes))
	}
	if c.Node.RetryCeiling < 1 {
		errs = append(errs, errors.New("node.retry_ceiling must be at least 1"))
	}
	if c.Node.PollPeriod <= 0 {
		errs = append(errs, errors.New("node.poll_period must be positive"))
	}

	switch c.Storage.Backend {
	case BackendBolt, BackendRaft:
	case BackendEtcd:
		if len(c.Storage.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("storage.etcd_endpoints is required for the etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Repair.MaxConcurrent < 1 {
		errs = append(errs, errors.New("repair.max_concurrent must be at least 1"))
	}

	switch c.Plan.Strategy {
	case "serial":
	case "parallel":
		if c.Plan.Parallelism < 1 {
			errs = append(errs, errors.New("plan.parallelism must be at least 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown plan strategy %q", c.Plan.Strategy))
	}

	switch c.Node.Runtime {
	case RuntimeExec:
	case RuntimeContainerd:
		if c.Node.Image == "" {
			errs = append(errs, errors.New("node.image is required for the containerd runtime"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown node runtime %q", c.Node.Runtime))
	}

	if c.Local.Enabled && len(c.Local.Agents) == 0 {
		errs = append(errs, errors.New("local.agents must not be empty when the local manager is enabled"))
	}

	return errors.Join(errs...)
}
