package executor

import (
	"fmt"
	"strings"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/runtime"
	"github.com/cuemby/ringmaster/pkg/supervisor"
	"github.com/cuemby/ringmaster/pkg/types"
)

// ProcessFactory creates the node process for a daemon task
type ProcessFactory interface {
	NewProcess(task *types.TaskInfo, cfg types.DaemonConfig) (supervisor.Process, error)
}

// DefaultProcessFactory runs the node as a local command, or as a container
// when the task asks for the containerd runtime.
type DefaultProcessFactory struct {
	// Containerd may be nil when only the exec runtime is used
	Containerd *runtime.ContainerdRuntime
}

// VolumeHostPath returns the host path of the task's persistent volume, if any
func VolumeHostPath(task *types.TaskInfo) string {
	for _, r := range task.Resources {
		if r.Volume != nil && r.Volume.HostPath != "" {
			return r.Volume.HostPath
		}
	}
	return ""
}

func (f DefaultProcessFactory) NewProcess(task *types.TaskInfo, cfg types.DaemonConfig) (supervisor.Process, error) {
	hostPath := VolumeHostPath(task)

	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}

	switch cfg.Runtime {
	case config.RuntimeContainerd:
		if f.Containerd == nil {
			return nil, fmt.Errorf("task %s needs containerd but no runtime is configured", task.ID)
		}
		if cfg.DataDir != "" {
			env["RINGMASTER_DATA_DIR"] = cfg.DataDir
		}
		args := append([]string{cfg.Command}, cfg.Args...)
		if cfg.Command == "" {
			args = cfg.Args
		}
		return f.Containerd.NewProcess(runtime.ContainerSpec{
			ID:           containerID(task.ID),
			Image:        cfg.Image,
			Args:         args,
			Env:          env,
			VolumeHost:   hostPath,
			VolumeTarget: cfg.DataDir,
		}), nil

	case config.RuntimeExec, "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("task %s has no command", task.ID)
		}
		if hostPath != "" {
			env["RINGMASTER_DATA_DIR"] = hostPath
		}
		return supervisor.NewExecProcess(supervisor.ExecSpec{
			Path: cfg.Command,
			Args: cfg.Args,
			Env:  env,
			Dir:  hostPath,
		}), nil

	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}

// containerd ids may not contain the "__" separator used in task ids
func containerID(taskID string) string {
	return strings.ReplaceAll(taskID, "__", "-")
}
