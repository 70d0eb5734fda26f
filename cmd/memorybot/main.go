// Package main is the entry point for the memorybot service and its
// operator commands.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kataras/golog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/memorybot/internal/app"
	"github.com/ent0n29/memorybot/internal/config"
	"github.com/ent0n29/memorybot/internal/logging"
)

// Version information set at build time.
var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memorybot",
		Short: "Conversational assistant with per-conversation memory",
		Long: `memorybot serves a chat endpoint that remembers recent turns,
extracts durable facts into long-term vector memory, and recalls
relevant facts to ground each reply.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newRecallCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "memorybot %s\n", version)
			return nil
		},
	}
}

// buildApp loads configuration from the environment and wires the service.
func buildApp(ctx context.Context, logOut io.Writer) (*app.BuildResult, *golog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.NewWriter(cfg.LogLevel, logOut)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return built, logger, nil
}
