// Package main implements the todoctl CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/adapter/outbound/files"
	"github.com/todoflow/server/internal/module/preset"
	"github.com/todoflow/server/internal/module/session"
	"github.com/todoflow/server/internal/module/todo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// env is the local state a command runs against.
type env struct {
	todos   *todo.Store
	presets *preset.Store
	gate    *session.Gate
}

func (e *env) close() {
	e.gate.Close()
	e.todos.Close()
	e.presets.Close()
}

type rootOptions struct {
	dir   string
	e2e   bool
	debug bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "todoctl",
		Short:         "Manage the local todo list",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.dir, "dir", defaultDir(), "local cache directory")
	root.PersistentFlags().BoolVar(&opts.e2e, "e2e", false, "run as the test user without signing in")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log store activity to stderr")

	root.AddCommand(
		newAddCmd(opts),
		newListCmd(opts),
		newToggleCmd(opts),
		newRmCmd(opts),
		newClearCmd(opts),
		newSortCmd(opts),
		newFilterCmd(opts),
		newPresetCmd(opts),
	)
	return root
}

func defaultDir() string {
	if dir := os.Getenv("TODOFLOW_CACHE_DIR"); dir != "" {
		return dir
	}
	return ".todoflow"
}

// open loads the file backed stores in local mode.
func open(ctx context.Context, opts *rootOptions) (*env, error) {
	kv, err := files.NewDirKeyValueStore(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", opts.dir, err)
	}

	log := zap.NewNop()
	if opts.debug {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	bypass := session.BypassRequested(ctx, opts.e2e, nil, kv)
	gate := session.NewGate(nil, bypass, log, nil)
	if err := gate.Start(ctx); err != nil {
		return nil, err
	}

	return &env{
		todos:   todo.NewStore(ctx, kv, nil, log, nil),
		presets: preset.NewStore(ctx, kv, nil, log, nil),
		gate:    gate,
	}, nil
}

// withEnv opens the stores, runs fn and closes them again.
func withEnv(opts *rootOptions, fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := open(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd, args, e)
	}
}

// resolveID finds the single id starting with prefix.
func resolveID(prefix string, ids []string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("id is required")
	}
	var match string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = id
		}
	}
	if match == "" {
		return "", fmt.Errorf("no item matches %q", prefix)
	}
	return match, nil
}
