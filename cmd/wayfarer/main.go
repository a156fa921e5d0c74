// Package main provides the CLI entry point for the terminal agent.
//
// wayfarer drives a tool-calling agent loop against an LLM provider
// (Anthropic Messages or an OpenAI-compatible chat API) over HTTP/SSE,
// dispatching tool calls against the local environment and persisting
// conversation state to a session store.
//
// # Basic Usage
//
// Run a single turn:
//
//	wayfarer run --input "what files are in ."
//
// # Environment Variables
//
//   - WAYFARER_CONFIG: path to the YAML configuration file
//   - WAYFARER_SESSION_ROOT: root directory for session storage
//   - WAYFARER_INSTRUCTIONS_PATH: path to the system prompt file
//   - WAYFARER_LOG_LEVEL, WAYFARER_DEBUG: logging verbosity
//   - WAYFARER_BROKER_SESSION: broker session id a sub-agent process was spawned with
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main is the entry point for the wayfarer CLI.
// It sets up the root command and all subcommands, then executes based on CLI args.
func main() {
	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Build the command tree.
	rootCmd := buildRootCmd()

	// Execute the CLI - Cobra handles argument parsing and command routing.
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wayfarer",
		Short: "Terminal tool-calling agent",
		Long: `wayfarer drives a tool-calling agent loop against an LLM provider over
HTTP/SSE, dispatching tool calls against the local environment and
persisting conversation state to a session store.

Supported LLM providers: Anthropic (Messages API), OpenAI-compatible chat

Documentation: https://github.com/wayfarer-ai/wayfarer`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
	)

	return rootCmd
}
