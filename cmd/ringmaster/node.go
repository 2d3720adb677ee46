package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ringmaster/pkg/admin"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/spf13/cobra"
)

// Node commands talk to one node's admin channel directly
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run administrative commands against a node",
	Long: `Run administrative commands against a running node through its
admin channel. Commands are synchronous and are never retried; a failure is
reported with its kind (transport, invalid argument, interrupted, remote).`,
}

func init() {
	nodeCmd.PersistentFlags().String("url", "", "Admin channel URL of the node (e.g. http://host:8778/jolokia)")
	nodeCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for a single admin call")
	_ = nodeCmd.MarkPersistentFlagRequired("url")

	nodeCmd.AddCommand(
		nodeOp("status", "Show node status", 0, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return a.Status(ctx)
		}),
		nodeOp("mode", "Show the node's operation mode", 0, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return a.Mode(ctx)
		}),
		nodeOp("keyspaces", "List keyspaces", 0, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return a.Keyspaces(ctx)
		}),
		nodeOp("cleanup [keyspace [table...]]", "Remove data the node no longer owns", -1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			if len(args) == 0 {
				return a.CleanupAll(ctx)
			}
			return nil, a.Cleanup(ctx, args[0], args[1:]...)
		}),
		nodeOp("compact [keyspace [table...]]", "Force a major compaction", -1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			if len(args) == 0 {
				return a.CompactAll(ctx)
			}
			return nil, a.Compact(ctx, args[0], args[1:]...)
		}),
		nodeOp("repair <keyspace> [table...]", "Run an anti-entropy repair and wait for it", 1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return nil, a.Repair(ctx, args[0], args[1:]...)
		}),
		nodeOp("upgrade-sstables <keyspace> [table...]", "Rewrite sstables not on the current version", 1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return nil, a.UpgradeSSTables(ctx, args[0], args[1:]...)
		}),
		nodeOp("snapshot <tag> [keyspace...]", "Take a snapshot", 1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return nil, a.TakeSnapshot(ctx, args[0], args[1:]...)
		}),
		nodeOp("clear-snapshot [tag [keyspace...]]", "Remove snapshots", -1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			if len(args) == 0 {
				return nil, a.ClearSnapshot(ctx, "")
			}
			return nil, a.ClearSnapshot(ctx, args[0], args[1:]...)
		}),
		nodeOp("drain", "Flush memtables and stop accepting writes", 0, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return nil, a.Drain(ctx)
		}),
		nodeOp("decommission", "Stream data away and leave the ring", 0, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return nil, a.Decommission(ctx)
		}),
		nodeOp("assassinate <address>", "Forcibly remove a dead endpoint from gossip", 1, func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error) {
			return nil, a.Assassinate(ctx, args[0])
		}),
	)
}

type nodeFunc func(ctx context.Context, a *admin.Admin, args []string) (interface{}, error)

// nodeOp builds a node subcommand. minArgs < 0 means any number of arguments.
func nodeOp(use, short string, minArgs int, fn nodeFunc) *cobra.Command {
	args := cobra.ArbitraryArgs
	if minArgs >= 0 {
		args = cobra.MinimumNArgs(minArgs)
	}
	if minArgs == 0 {
		args = cobra.NoArgs
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			url, _ := cmd.Flags().GetString("url")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, stop := signalContext()
			defer stop()

			a := admin.New(probe.NewJolokiaProbe(url, timeout))
			out, err := fn(ctx, a, args)
			if err != nil {
				return errors.New(failureMessage(cmd.Name(), err))
			}
			if out != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Printf("%s: ok\n", cmd.Name())
			return nil
		},
	}
}

// failureMessage gives each failure kind its own operator-facing message
func failureMessage(op string, err error) string {
	switch {
	case errors.Is(err, probe.ErrTransport):
		return fmt.Sprintf("%s: could not reach the node: %v", op, err)
	case errors.Is(err, probe.ErrInvalidArgument):
		return fmt.Sprintf("%s: invalid keyspace or table: %v", op, err)
	case errors.Is(err, probe.ErrInterrupted):
		return fmt.Sprintf("%s: interrupted before completion: %v", op, err)
	case errors.Is(err, probe.ErrRemote):
		return fmt.Sprintf("%s: the node reported an error: %v", op, err)
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}
