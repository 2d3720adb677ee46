package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ringmaster/pkg/api"
	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/executor"
	"github.com/cuemby/ringmaster/pkg/local"
	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/reconciler"
	"github.com/cuemby/ringmaster/pkg/repair"
	"github.com/cuemby/ringmaster/pkg/runtime"
	"github.com/cuemby/ringmaster/pkg/scheduler"
	"github.com/cuemby/ringmaster/pkg/tasks"
	"github.com/cuemby/ringmaster/pkg/volume"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler",
	Long: `Run the scheduler against the configured resource manager.

The install plan (seed nodes first, then the rest) is built from the cluster
section of the configuration. State is kept in the configured backend, so a
restarted scheduler picks up where it left off and keeps every node on its
persistent volume.`,
	RunE: runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")

	if !cfg.Local.Enabled {
		return errors.New("no resource manager configured: enable the local section")
	}

	store, err := openStore(cfg)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, cfg.Storage.Backend)
	metrics.RegisterComponent("scheduler", false, "not registered")

	registry, err := tasks.NewRegistry(store)
	if err != nil {
		return fmt.Errorf("failed to load task registry: %w", err)
	}

	p, err := plan.InstallFactory{}.Build(cfg.Cluster)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}
	plans := plan.NewManager(p, plan.NewStrategy(cfg.Plan.Strategy, cfg.Plan.Parallelism))

	identity := scheduler.NewIdentityManager(store)
	frameworkID, err := identity.Get()
	if err != nil {
		return fmt.Errorf("failed to read framework id: %w", err)
	}

	vols, err := volume.NewLocalDriver(cfg.Local.VolumeDir)
	if err != nil {
		return err
	}

	procs := executor.DefaultProcessFactory{}
	if cfg.Node.Runtime == config.RuntimeContainerd {
		rt, err := runtime.NewContainerdRuntime(cfg.Node.Socket, cfg.Node.Namespace)
		if err != nil {
			return fmt.Errorf("failed to connect to containerd: %w", err)
		}
		defer rt.Close()
		procs.Containerd = rt
	}

	driver := local.NewManager(nil, vols, procs, executor.DefaultProbeFactory, local.Config{
		Agents:        cfg.Local.Agents,
		OfferInterval: cfg.Local.OfferInterval,
		FrameworkID:   frameworkID,
	})

	accepter := offer.NewAccepter(driver, offer.NewLogRecorder(), registry)
	opts := scheduler.Options{
		Driver:   driver,
		Identity: identity,
		Plans:    plans,
		Registry: registry,
		Plan:     offer.NewPlanScheduler(accepter, offer.DaemonBuilder{Cluster: cfg.Cluster, Node: cfg.Node}, registry),
	}
	if cfg.Repair.Enabled {
		opts.Repair = repair.NewScheduler(accepter, registry, plans, repair.IntervalPolicy{Interval: cfg.Repair.Interval}, repair.Config{
			Keyspaces:     cfg.Repair.Keyspaces,
			CPUs:          cfg.Repair.CPUs,
			MemoryMB:      cfg.Repair.MemoryMB,
			Role:          cfg.Cluster.Role,
			MaxConcurrent: cfg.Repair.MaxConcurrent,
		})
	}
	coord := scheduler.NewCoordinator(opts)
	driver.SetFramework(coord)

	apiServer := api.NewServer(cfg.Cluster.Name, plans, registry, coord, identity)
	grpcServer := api.NewGRPCServer()
	grpcServer.Watch(coord.IsRegistered, time.Second)

	errCh := make(chan error, 2)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(cfg.API.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := driver.Start(ctx); err != nil {
		grpcServer.Stop()
		_ = apiServer.Shutdown(context.Background())
		return err
	}

	collector := metrics.NewCollector(coord, 10*time.Second)
	collector.Start()

	recon := reconciler.NewReconciler(coord, 30*time.Second)
	recon.Start(ctx)

	logger.Info().
		Str("cluster", cfg.Cluster.Name).
		Int("nodes", cfg.Cluster.Nodes).
		Str("api", cfg.API.Addr).
		Str("grpc", cfg.API.GRPCAddr).
		Msg("Scheduler is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down")
	}

	recon.Stop()
	collector.Stop()
	driver.Stop()
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown failed")
	}
	grpcServer.Stop()

	logger.Info().Msg("Shutdown complete")
	return runErr
}
