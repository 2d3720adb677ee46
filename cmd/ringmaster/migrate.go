package main

import (
	"fmt"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy scheduler state to another storage backend",
	Long: `Copy the framework id, task records and repair history from the
configured storage backend into another one, e.g. when moving a single
scheduler from bolt onto etcd or a raft group. The scheduler must be stopped.

Records already present in the target are overwritten only when they share a
node name with a migrated record.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("to", "", "Target backend (bolt, raft, etcd)")
	migrateCmd.Flags().String("to-data-dir", "", "Data directory of a bolt or raft target")
	migrateCmd.Flags().StringSlice("to-etcd-endpoints", nil, "Endpoints of an etcd target")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without writing")
	_ = migrateCmd.MarkFlagRequired("to")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("migrate")

	target := cfg
	target.Storage.Backend, _ = cmd.Flags().GetString("to")
	if dir, _ := cmd.Flags().GetString("to-data-dir"); dir != "" {
		target.Storage.DataDir = dir
	}
	if eps, _ := cmd.Flags().GetStringSlice("to-etcd-endpoints"); len(eps) > 0 {
		target.Storage.EtcdEndpoints = eps
	}
	if target.Storage.Backend == cfg.Storage.Backend && target.Storage.Backend != config.BackendEtcd &&
		target.Storage.DataDir == cfg.Storage.DataDir {
		return fmt.Errorf("target is the configured %s store", cfg.Storage.Backend)
	}

	src, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	snap, err := storage.Dump(src)
	if err != nil {
		return err
	}
	logger.Info().
		Str("from", cfg.Storage.Backend).
		Str("to", target.Storage.Backend).
		Str("framework_id", snap.FrameworkID).
		Int("tasks", len(snap.Tasks)).
		Int("repairs", len(snap.Repairs)).
		Msg("Read source state")

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		for _, rec := range snap.Tasks {
			fmt.Printf("task   %-12s %s (%s)\n", rec.Name, rec.TaskID, rec.State)
		}
		for _, rec := range snap.Repairs {
			fmt.Printf("repair %-12s last completed %s\n", rec.Node, rec.LastCompleted.Format("2006-01-02T15:04:05Z07:00"))
		}
		fmt.Println("Dry run completed. No changes made.")
		return nil
	}

	if target.Storage.Backend == config.BackendRaft {
		target.Storage.RaftBootstrap = true
	}
	dst, err := openStore(target)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	defer dst.Close()

	if err := storage.Load(dst, snap); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("Migrated %d tasks and %d repair records to %s\n", len(snap.Tasks), len(snap.Repairs), target.Storage.Backend)
	return nil
}
