// Package main provides the CLI entry point for the arbor workspace assistant.
//
// Arbor drives an LLM assistant over a project-management workspace:
// projects, tasks, documents, blockers and journal entries. Read-only
// lookups run inline; mutations are staged as pending actions that a
// human approves or rejects before anything is written.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	arbor chat --config arbor.yaml
//
// Review and decide staged actions:
//
//	arbor pending --conversation <id>
//	arbor approve <action-id>
//	arbor reject <action-id>
//
// # Environment Variables
//
//   - ARBOR_CONFIG: Path to configuration file (default: arbor.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbor",
		Short: "Arbor - approval-gated workspace assistant",
		Long: `Arbor connects an LLM assistant to a project-management workspace.

Lookups (projects, tasks, documents, blockers) run inline. Mutations are
staged with a field-level diff and wait for explicit approval.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildPendingCmd(),
		buildApproveCmd(),
		buildRejectCmd(),
		buildServeCmd(),
	)

	return rootCmd
}
