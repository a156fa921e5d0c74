package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wayfarer-ai/wayfarer/internal/agentengine"
	"github.com/wayfarer-ai/wayfarer/internal/broker"
	"github.com/wayfarer-ai/wayfarer/internal/config"
)

// runOneTurnOptions carries the resolved flags for the "run" command.
type runOneTurnOptions struct {
	ConfigPath       string
	SessionID        string
	Input            string
	NewSession       bool
	AgentID          string
	ExitAfterOneTurn bool
	BrokerSessionID  string
	BrokerAgentID    string
}

// runOneTurn loads the config, wires an Engine, and drives opts.Input
// through it.
//
// When BrokerSessionID is set this process is a sub-agent the Coordination
// Broker spawned: once the turn completes (or fails), the result is
// reported back over the broker socket instead of printed, matching what
// internal/tools/delegate.Tool.await reads.
func runOneTurn(cmd *cobra.Command, opts runOneTurnOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := agentengine.New(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}

	ctx := cmd.Context()

	if opts.BrokerSessionID != "" {
		return runAsSubAgent(ctx, cfg, engine, opts)
	}

	out := cmd.OutOrStdout()
	result, err := engine.RunOnce(ctx, agentengine.RunOnceOptions{
		SessionID:  opts.SessionID,
		NewSession: opts.NewSession,
		AgentID:    opts.AgentID,
		Input:      opts.Input,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result.Response)

	if opts.ExitAfterOneTurn {
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	sessionID := result.SessionID
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result, err := engine.RunOnce(ctx, agentengine.RunOnceOptions{
			SessionID: sessionID,
			AgentID:   opts.AgentID,
			Input:     line,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result.Response)
	}
	return scanner.Err()
}

// runAsSubAgent registers this process on the coordinator's Coordination
// Broker, runs the one turn, and reports completion or failure back over
// the broker socket rather than stdout.
func runAsSubAgent(ctx context.Context, cfg *config.Config, engine *agentengine.Engine, opts runOneTurnOptions) error {
	brokerRoot := cfg.Broker.Root
	b, err := broker.New(brokerRoot, opts.BrokerSessionID, []byte(cfg.Broker.Secret))
	if err != nil {
		return fmt.Errorf("sub-agent: open broker: %w", err)
	}

	agentID := opts.BrokerAgentID
	if agentID == "" {
		return fmt.Errorf("sub-agent: --agent-id is required with --broker-session")
	}

	ln, err := b.Listen(agentID)
	if err != nil {
		return fmt.Errorf("sub-agent: listen: %w", err)
	}
	defer ln.Close()

	if _, err := b.RegisterConnection(agentID, os.Getpid()); err != nil {
		return fmt.Errorf("sub-agent: register connection: %w", err)
	}

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("sub-agent: accept coordinator connection: %w", err)
	}
	defer conn.Close()

	result, runErr := engine.RunOnce(ctx, agentengine.RunOnceOptions{
		SessionID:  opts.SessionID,
		NewSession: opts.NewSession,
		AgentID:    opts.AgentID,
		Input:      opts.Input,
	})
	if runErr != nil {
		return broker.Send(conn, broker.Message{
			Type:    broker.MessageBlocked,
			AgentID: agentID,
			Payload: blockedPayloadJSON(runErr.Error()),
		})
	}

	return broker.Send(conn, broker.Message{
		Type:    broker.MessageCompleted,
		AgentID: agentID,
		Payload: completedPayloadJSON(result.Response),
	})
}

func completedPayloadJSON(result string) []byte {
	data, _ := json.Marshal(struct {
		Result string `json:"result"`
	}{Result: result})
	return data
}

func blockedPayloadJSON(reason string) []byte {
	data, _ := json.Marshal(broker.BlockedPayload{Reason: reason})
	return data
}
