package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Node.RetryCeiling)
	assert.Equal(t, time.Second, cfg.Node.PollPeriod)
	assert.Equal(t, "serial", cfg.Plan.Strategy)
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
cluster:
  name: prod
  nodes: 5
  seeds: 3
plan:
  strategy: parallel
  parallelism: 2
repair:
  interval: 12h
node:
  poll_period: 500ms
local:
  enabled: true
  agents:
    - id: agent-1
      hostname: host-1
      cpus: 4
      memory_mb: 8192
      disk_mb: 20000
      ports_lo: 9000
      ports_hi: 9100
`)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Cluster.Name)
	assert.Equal(t, 5, cfg.Cluster.Nodes)
	assert.Equal(t, 3, cfg.Cluster.Seeds)
	assert.Equal(t, 2, cfg.Plan.Parallelism)
	assert.Equal(t, 12*time.Hour, cfg.Repair.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Node.PollPeriod)
	require.Len(t, cfg.Local.Agents, 1)
	assert.Equal(t, uint64(9100), cfg.Local.Agents[0].PortsHi)

	// untouched sections keep their defaults
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.Node.RetryCeiling)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no nodes", func(c *Config) { c.Cluster.Nodes = 0 }, "cluster.nodes"},
		{"too many seeds", func(c *Config) { c.Cluster.Seeds = 4 }, "cluster.seeds"},
		{"zero ceiling", func(c *Config) { c.Node.RetryCeiling = 0 }, "retry_ceiling"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "mysql" }, "unknown storage backend"},
		{"etcd without endpoints", func(c *Config) { c.Storage.Backend = BackendEtcd }, "etcd_endpoints"},
		{"bad strategy", func(c *Config) { c.Plan.Strategy = "random" }, "unknown plan strategy"},
		{"no concurrent repairs", func(c *Config) { c.Repair.MaxConcurrent = 0 }, "repair.max_concurrent"},
		{"containerd without image", func(c *Config) { c.Node.Runtime = RuntimeContainerd }, "node.image"},
		{"local without agents", func(c *Config) { c.Local.Enabled = true }, "local.agents"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cluster.Name, cfg.Cluster.Name)

	path := filepath.Join(t.TempDir(), "ringmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster:\n  name: from-file\n"), 0600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Cluster.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
