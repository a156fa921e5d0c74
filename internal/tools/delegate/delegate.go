// Package delegate provides the delegate_task tool, which spawns a real
// sub-process agent through internal/broker rather than an in-process
// goroutine. Use this when a task needs its own process-level resource
// isolation: its own working directory and its own crash domain.
package delegate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/wayfarer-ai/wayfarer/internal/agent"
	"github.com/wayfarer-ai/wayfarer/internal/broker"
)

// Tool is the delegate_task tool: it spawns a sub-process running the
// coordinator's own binary in broker-session mode, feeds it one task, and
// blocks until the sub-agent reports completion, blocked, or disconnects
// without finishing.
type Tool struct {
	// resolver resolves the calling session's Broker lazily, the same
	// per-session-via-context pattern agent.RetrievalTool/RecallTool use,
	// since the tool registry is built once for the whole runtime, not
	// once per session.
	resolver func(sessionID string) (*broker.Broker, error)

	// execPath is the binary re-exec'd as the sub-agent; defaults to
	// os.Executable() at NewTool time.
	execPath string

	// logDir is where each sub-agent's stdout/stderr is redirected; empty
	// discards them.
	logDir string

	// timeout bounds how long Execute waits for the sub-agent to connect
	// and finish before giving up.
	timeout time.Duration
}

// NewTool returns a delegate tool resolving its Broker per session via
// resolver. execPath, if empty, is resolved from os.Executable().
func NewTool(resolver func(sessionID string) (*broker.Broker, error), execPath, logDir string, timeout time.Duration) *Tool {
	if execPath == "" {
		if resolved, err := os.Executable(); err == nil {
			execPath = resolved
		}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Tool{resolver: resolver, execPath: execPath, logDir: logDir, timeout: timeout}
}

func (t *Tool) Name() string { return "delegate_task" }

func (t *Tool) Description() string {
	return "Delegates a task to a sub-agent running in its own process, and waits for the result. Use for work that should be isolated from the current process (its own working directory, its own crash domain)."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "The task description given to the sub-agent as its input"}
  },
  "required": ["task"]
}`)
}

// Execute spawns a sub-agent, waits for it to register on the broker's
// rendezvous directory, and reads frames from its socket until it reports
// completion or disconnects.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	if input.Task == "" {
		return &agent.ToolResult{Content: "task is required", IsError: true}, nil
	}

	session := agent.SessionFromContext(ctx)
	if session == nil {
		return &agent.ToolResult{Content: "no session in context to resolve a broker for", IsError: true}, nil
	}

	b, err := t.resolver(session.ID)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	agentID, err := b.NextAgentID()
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	logPath := ""
	if t.logDir != "" {
		logPath = t.logDir + "/" + agentID + ".log"
	}

	_, err = b.Spawn(broker.SpawnOptions{
		Path: t.execPath,
		Args: []string{
			"run",
			"--broker-session", session.ID,
			"--agent-id", agentID,
			"--input", input.Task,
			"--exit-after-one-turn",
		},
		Env:     []string{"WAYFARER_BROKER_SESSION=" + session.ID},
		LogPath: logPath,
	})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	result, err := t.await(ctx, b, agentID)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: result}, nil
}

// await waits for agentID to register and reads frames from its socket
// until a MessageCompleted, a MessageBlocked, or a closed connection.
func (t *Tool) await(ctx context.Context, b *broker.Broker, agentID string) (string, error) {
	deadline := time.Now().Add(t.timeout)

	var conn net.Conn
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("delegate: timed out waiting for sub-agent %s to connect", agentID)
		}
		dialed, err := b.Dial(agentID)
		if err == nil {
			conn = dialed
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(deadline)
	for {
		msg, err := broker.Receive(reader)
		if err != nil {
			return "", fmt.Errorf("delegate: sub-agent %s disconnected before completing: %w", agentID, err)
		}
		switch msg.Type {
		case broker.MessageCompleted:
			var payload struct {
				Result string `json:"result"`
			}
			_ = json.Unmarshal(msg.Payload, &payload)
			return payload.Result, nil
		case broker.MessageBlocked:
			var payload broker.BlockedPayload
			_ = json.Unmarshal(msg.Payload, &payload)
			return "", fmt.Errorf("delegate: sub-agent %s blocked: %s", agentID, payload.Reason)
		case broker.MessageDisconnect:
			return "", fmt.Errorf("delegate: sub-agent %s disconnected without completing", agentID)
		case broker.MessageStatus, broker.MessageTask:
			continue
		}
	}
}
