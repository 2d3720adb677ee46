package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/supervisor"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace for ringmaster nodes
	DefaultNamespace = "ringmaster"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime is a connection to containerd
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(socketPath, namespace string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: namespace,
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// ensureImage returns the local image, pulling it if missing
func (r *ContainerdRuntime) ensureImage(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := r.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}

	image, err = r.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return image, nil
}

// ContainerSpec describes the node container. The node shares the host
// network so its ports and probe agent are reachable at the agent address.
type ContainerSpec struct {
	ID            string
	Image         string
	Args          []string
	Env           map[string]string
	VolumeHost    string
	VolumeTarget  string
	ReadOnlyMount bool
}

// NewProcess returns a supervisor.Process that runs spec as a container
func (r *ContainerdRuntime) NewProcess(spec ContainerSpec) *ContainerdProcess {
	return &ContainerdProcess{
		rt:     r,
		spec:   spec,
		logger: log.WithComponent("containerd").With().Str("container", spec.ID).Logger(),
		done:   make(chan struct{}),
	}
}

// ContainerdProcess is one node container and its task
type ContainerdProcess struct {
	rt     *ContainerdRuntime
	spec   ContainerSpec
	logger zerolog.Logger

	mu        sync.Mutex
	container containerd.Container
	task      containerd.Task
	done      chan struct{}
	status    supervisor.ExitStatus
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func volumeMounts(spec ContainerSpec) []specs.Mount {
	if spec.VolumeHost == "" || spec.VolumeTarget == "" {
		return nil
	}
	mode := "rw"
	if spec.ReadOnlyMount {
		mode = "ro"
	}
	return []specs.Mount{
		{
			Source:      spec.VolumeHost,
			Destination: spec.VolumeTarget,
			Type:        "bind",
			Options:     []string{mode, "rbind"},
		},
	}
}

// Start creates the container and starts its task
func (p *ContainerdProcess) Start(ctx context.Context) error {
	ctx = p.rt.ctx(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.container != nil {
		return errors.New("container already started")
	}

	image, err := p.rt.ensureImage(ctx, p.spec.Image)
	if err != nil {
		return err
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(envList(p.spec.Env)),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
	}
	if len(p.spec.Args) > 0 {
		opts = append(opts, oci.WithProcessArgs(p.spec.Args...))
	}
	if mounts := volumeMounts(p.spec); len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	container, err := p.rt.client.NewContainer(
		ctx,
		p.spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(p.spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, p.logger, p.logger)))
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to create task: %w", err)
	}

	// subscribe before Start so a fast exit is not missed
	waitCtx := p.rt.ctx(context.Background())
	statusC, err := task.Wait(waitCtx)
	if err != nil {
		_, _ = task.Delete(ctx)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to start task: %w", err)
	}

	p.container = container
	p.task = task
	p.logger.Info().Str("image", p.spec.Image).Uint32("pid", task.Pid()).Msg("Container started")

	go p.reap(waitCtx, statusC)
	return nil
}

func (p *ContainerdProcess) reap(ctx context.Context, statusC <-chan containerd.ExitStatus) {
	es := <-statusC
	code, _, err := es.Result()

	if _, derr := p.task.Delete(ctx); derr != nil {
		p.logger.Warn().Err(derr).Msg("Failed to delete task")
	}
	if derr := p.container.Delete(ctx, containerd.WithSnapshotCleanup); derr != nil {
		p.logger.Warn().Err(derr).Msg("Failed to delete container")
	}

	p.mu.Lock()
	p.status = supervisor.ExitStatus{Code: int(code), Err: err}
	p.mu.Unlock()
	close(p.done)
}

func (p *ContainerdProcess) Wait() supervisor.ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Stop sends SIGTERM, then SIGKILL after grace
func (p *ContainerdProcess) Stop(ctx context.Context, grace time.Duration) error {
	p.mu.Lock()
	task := p.task
	p.mu.Unlock()

	if task == nil {
		return errors.New("container not started")
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	nsCtx := p.rt.ctx(ctx)
	if err := task.Kill(nsCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.logger.Warn().Dur("grace", grace).Msg("Container did not exit, killing")
	if err := task.Kill(p.rt.ctx(context.Background()), syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to force kill task: %w", err)
	}
	<-p.done
	return nil
}
