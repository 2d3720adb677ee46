package types

import (
	"encoding/json"
	"time"
)

// Well-known resource names carried by offers
const (
	ResourceCPUs  = "cpus"
	ResourceMem   = "mem"
	ResourceDisk  = "disk"
	ResourcePorts = "ports"
)

// Range is an inclusive range of values (used for ports)
type Range struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

// Size returns the number of values in the range
func (r Range) Size() uint64 {
	if r.End < r.Begin {
		return 0
	}
	return r.End - r.Begin + 1
}

// Contains reports whether v falls inside the range
func (r Range) Contains(v uint64) bool {
	return v >= r.Begin && v <= r.End
}

// PersistentVolume identifies durable storage created on an agent
type PersistentVolume struct {
	PersistenceID string  `json:"persistence_id"`
	AgentID       string  `json:"agent_id"`
	ContainerPath string  `json:"container_path"`
	SizeMB        float64 `json:"size_mb"`
	HostPath      string  `json:"host_path,omitempty"`
}

// Resource is one named resource inside an offer
type Resource struct {
	Name   string            `json:"name"`
	Scalar float64           `json:"scalar,omitempty"`
	Ranges []Range           `json:"ranges,omitempty"`
	Role   string            `json:"role,omitempty"`
	Volume *PersistentVolume `json:"volume,omitempty"`
}

// Offer is a bundle of resources on one agent, valid for a single scheduling pass.
// Offers are never persisted.
type Offer struct {
	ID        string
	AgentID   string
	Hostname  string
	Resources []Resource
}

// VolumeRequirement describes the persistent volume a node needs
type VolumeRequirement struct {
	ContainerPath string  `json:"container_path"`
	SizeMB        float64 `json:"size_mb"`
}

// TaskRequirement is the resource shape a block needs. Immutable once the block exists.
// A zero entry in Ports asks for any free port from the offer.
type TaskRequirement struct {
	CPUs     float64            `json:"cpus"`
	MemoryMB float64            `json:"memory_mb"`
	DiskMB   float64            `json:"disk_mb"`
	Ports    []uint64           `json:"ports,omitempty"`
	Volume   *VolumeRequirement `json:"volume,omitempty"`
}

// TaskType identifies what a launched task does on the node
type TaskType string

const (
	TaskTypeDaemon          TaskType = "daemon"
	TaskTypeRepair          TaskType = "repair"
	TaskTypeCleanup         TaskType = "cleanup"
	TaskTypeCompaction      TaskType = "compaction"
	TaskTypeSnapshot        TaskType = "snapshot"
	TaskTypeUpgradeSSTables TaskType = "upgrade-sstables"
	TaskTypeDecommission    TaskType = "decommission"
	TaskTypeBackup          TaskType = "backup"
)

// TaskInfo is what the scheduler launches on an agent
type TaskInfo struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	NodeName   string          `json:"node_name"`
	Type       TaskType        `json:"type"`
	AgentID    string          `json:"agent_id"`
	ExecutorID string          `json:"executor_id"`
	Resources  []Resource      `json:"resources"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// DaemonConfig is the payload of a daemon task
type DaemonConfig struct {
	ProbeURL     string            `json:"probe_url"`
	ProbePort    int               `json:"probe_port"`
	Command      string            `json:"command"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Image        string            `json:"image,omitempty"`
	Runtime      string            `json:"runtime,omitempty"`
	DataDir      string            `json:"data_dir,omitempty"`
	PollPeriod   time.Duration     `json:"poll_period"`
	RetryCeiling int               `json:"retry_ceiling"`
	DrainTimeout time.Duration     `json:"drain_timeout"`
	StopGrace    time.Duration     `json:"stop_grace"`
}

// AdminConfig is the payload of an administrative task
type AdminConfig struct {
	ProbeURL     string   `json:"probe_url"`
	Keyspaces    []string `json:"keyspaces,omitempty"`
	Families     []string `json:"families,omitempty"`
	SnapshotName string   `json:"snapshot_name,omitempty"`
}

// TaskState mirrors the lifecycle states reported by the resource manager
type TaskState string

const (
	TaskStateStaging  TaskState = "staging"
	TaskStateStarting TaskState = "starting"
	TaskStateRunning  TaskState = "running"
	TaskStateKilling  TaskState = "killing"
	TaskStateFinished TaskState = "finished"
	TaskStateFailed   TaskState = "failed"
	TaskStateKilled   TaskState = "killed"
	TaskStateLost     TaskState = "lost"
	TaskStateError    TaskState = "error"
)

// IsTerminal reports whether the task will not change state again
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateFinished, TaskStateFailed, TaskStateKilled, TaskStateLost, TaskStateError:
		return true
	}
	return false
}

// TaskStatus is a status update for a task
type TaskStatus struct {
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	ExecutorID string    `json:"executor_id,omitempty"`
	State      TaskState `json:"state"`
	Message    string    `json:"message,omitempty"`
	Source     string    `json:"source,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Data       []byte    `json:"data,omitempty"`
}

// Mode is the node's self-reported operational state
type Mode string

const (
	ModeStarting       Mode = "STARTING"
	ModeJoining        Mode = "JOINING"
	ModeNormal         Mode = "NORMAL"
	ModeLeaving        Mode = "LEAVING"
	ModeDecommissioned Mode = "DECOMMISSIONED"
	ModeMoving         Mode = "MOVING"
	ModeDraining       Mode = "DRAINING"
	ModeDrained        Mode = "DRAINED"
	ModeUnknown        Mode = "UNKNOWN"
)

// NodeStatus is a mode snapshot, sent once per observed mode transition
type NodeStatus struct {
	NodeID    string
	Mode      Mode
	State     TaskState
	Timestamp time.Time
	Message   string
}

// NodeInfo is a point-in-time view of a running node
type NodeInfo struct {
	Mode                   Mode   `json:"mode"`
	Joined                 bool   `json:"joined"`
	Initialized            bool   `json:"initialized"`
	GossipRunning          bool   `json:"gossip_running"`
	NativeTransportRunning bool   `json:"native_transport_running"`
	HostID                 string `json:"host_id"`
	Endpoint               string `json:"endpoint"`
	TokenCount             int    `json:"token_count"`
	Datacenter             string `json:"datacenter"`
	Rack                   string `json:"rack"`
	ReleaseVersion         string `json:"release_version"`
}

// TaskRecord is the persisted view of one node slot's current task
type TaskRecord struct {
	Name       string            `json:"name"`
	TaskID     string            `json:"task_id"`
	Type       TaskType          `json:"type"`
	AgentID    string            `json:"agent_id"`
	Hostname   string            `json:"hostname"`
	ExecutorID string            `json:"executor_id"`
	State      TaskState         `json:"state"`
	Mode       Mode              `json:"mode"`
	Block      string            `json:"block,omitempty"`
	Volume     *PersistentVolume `json:"volume,omitempty"`
	Replace    bool              `json:"replace,omitempty"`
	Info       *TaskInfo         `json:"info,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RepairRecord tracks repair history for one node
type RepairRecord struct {
	Node          string    `json:"node"`
	TaskID        string    `json:"task_id,omitempty"`
	InFlight      bool      `json:"in_flight"`
	LastStarted   time.Time `json:"last_started"`
	LastCompleted time.Time `json:"last_completed"`
	Result        TaskState `json:"result,omitempty"`
}
