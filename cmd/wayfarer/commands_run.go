package main

import (
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// buildRunCmd creates the "run" command: a single synchronous turn through
// the runtime, with no channel adapters, gRPC, or HTTP listeners started.
//
// In its plain form it is a scriptable one-shot client against a session.
// When --broker-session is set (or WAYFARER_BROKER_SESSION is in the
// environment) it additionally reports its result back to the coordinator
// process over the Coordination Broker instead of printing to stdout --
// this is how delegate_task's spawned sub-agents are driven.
func buildRunCmd() *cobra.Command {
	var (
		configPath       string
		sessionID        string
		input            string
		newSession       bool
		resume           bool
		exitAfterOneTurn bool
		brokerSessionID  string
		brokerAgentID    string
		agentID          string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single turn against an agent session",
		Long: `Drive one message through the runtime and print the reply, without starting
any channel adapters or network listeners.

Without --session, a new session is created for each invocation. With
--session and --resume, the given session is continued. --new-session
forces a fresh session even when --session names an existing one.`,
		Example: `  # One-shot prompt, fresh session each time
  wayfarer run --input "summarize today's alerts"

  # Continue a specific session
  wayfarer run --session sess-123 --resume --input "and yesterday's?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			if brokerSessionID == "" {
				brokerSessionID = os.Getenv("WAYFARER_BROKER_SESSION")
			}
			return runOneTurn(cmd, runOneTurnOptions{
				ConfigPath:       configPath,
				SessionID:        sessionID,
				Input:            input,
				NewSession:       newSession || !resume && sessionID == "",
				AgentID:          agentID,
				ExitAfterOneTurn: exitAfterOneTurn,
				BrokerSessionID:  brokerSessionID,
				BrokerAgentID:    brokerAgentID,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to resume or to use as the new session's channel id")
	cmd.Flags().StringVar(&input, "input", "", "Message content for this turn (required)")
	cmd.Flags().BoolVar(&newSession, "new-session", false, "Force a fresh session even if --session names an existing one")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue the session named by --session instead of creating a new one")
	cmd.Flags().BoolVar(&exitAfterOneTurn, "exit-after-one-turn", false, "Exit immediately after this turn instead of reading further lines from stdin")
	cmd.Flags().StringVar(&brokerSessionID, "broker-session", "", "Coordination Broker session id this process was spawned under (also read from WAYFARER_BROKER_SESSION)")
	cmd.Flags().StringVar(&brokerAgentID, "agent-id", "", "Broker agent id assigned to this sub-agent process")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id to run as (defaults to the config's default agent)")
	cobra.CheckErr(cmd.MarkFlagRequired("input"))

	return cmd
}
