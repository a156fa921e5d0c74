// Package agentengine wires the Agent Loop together with its session
// store, authorization gate, tool result store, long-term archive, and
// coordination broker into a single runnable unit, the way a coordinator
// process needs to run one turn or a persistent REPL.
package agentengine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/wayfarer-ai/wayfarer/internal/agent"
	"github.com/wayfarer-ai/wayfarer/internal/agent/providers"
	"github.com/wayfarer-ai/wayfarer/internal/authz"
	"github.com/wayfarer-ai/wayfarer/internal/broker"
	"github.com/wayfarer-ai/wayfarer/internal/config"
	"github.com/wayfarer-ai/wayfarer/internal/jobs"
	"github.com/wayfarer-ai/wayfarer/internal/longterm"
	"github.com/wayfarer-ai/wayfarer/internal/sessions"
	"github.com/wayfarer-ai/wayfarer/internal/toolresults"
	"github.com/wayfarer-ai/wayfarer/internal/tools/delegate"
	"github.com/wayfarer-ai/wayfarer/pkg/models"
)

// Engine owns a fully wired Runtime plus the session store and broker
// handle a CLI invocation needs to drive one turn or a persistent REPL.
type Engine struct {
	Runtime  *agent.Runtime
	Sessions sessions.Store
	Config   *config.Config
	Logger   *slog.Logger

	broker *broker.Broker
}

// New builds an Engine from a loaded Config: it selects and constructs the
// configured LLM provider, opens the session store (flat-file, rooted at
// Session.ArchiveDir), wires the Authorization Gate, Tool Result Store, and
// Long-Term Context archive per session, and registers the recall,
// tool-result-retrieval, and (when BrokerConfig.Enabled) delegate_task
// tools.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agentengine: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("agentengine: build provider: %w", err)
	}

	store, err := sessions.NewFileStore(cfg.Session.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("agentengine: open session store: %w", err)
	}

	opts := agent.DefaultRuntimeOptions()
	opts.Logger = logger.With("component", "agent-runtime")
	opts.MaxIterations = cfg.Tools.Execution.MaxIterations
	opts.ToolParallelism = cfg.Tools.Execution.Parallelism
	opts.ToolTimeout = cfg.Tools.Execution.Timeout
	opts.ToolMaxAttempts = cfg.Tools.Execution.MaxAttempts
	opts.ToolRetryBackoff = cfg.Tools.Execution.RetryBackoff
	opts.DisableToolEvents = cfg.Tools.Execution.DisableEvents
	opts.MaxToolCalls = cfg.Tools.Execution.MaxToolCalls
	opts.RequireApproval = cfg.Tools.Execution.RequireApproval
	opts.AsyncTools = cfg.Tools.Execution.Async
	opts.JobStore = jobs.NewMemoryStore()
	opts.ApprovalChecker = agent.NewApprovalChecker(approvalPolicyFromConfig(cfg.Tools.Execution.Approval))

	runtime := agent.NewRuntimeWithOptions(provider, store, opts)
	runtime.SetGate(authz.New(cfg.Workspace.Path, cfg.Tools.Execution.RequireApproval))

	archiveRoot := cfg.Session.ArchiveDir
	runtime.SetArchiveResolver(func(sessionID string) (*longterm.Archive, error) {
		return longterm.Open(sessionDir(archiveRoot, sessionID))
	}, agent.ArchiveTrimSettings{
		CharBudget:    cfg.Session.ArchiveTrim.CharBudget,
		KeepLastTurns: cfg.Session.ArchiveTrim.KeepLastTurns,
	})

	resultsResolver := func(sessionID string) (*toolresults.Store, error) {
		return toolresults.New(sessionDir(archiveRoot, sessionID))
	}
	if defaultStore, err := resultsResolver("default"); err == nil {
		runtime.SetResultStore(defaultStore)
	}

	runtime.RegisterTool(agent.NewRecallTool(nil).WithResolver(func(sessionID string) (*longterm.Archive, error) {
		return longterm.Open(sessionDir(archiveRoot, sessionID))
	}))
	runtime.RegisterTool(agent.NewRetrievalTool(nil).WithResolver(resultsResolver))

	if pruning := config.EffectiveContextPruningSettings(cfg.Session.ContextPruning); pruning != nil {
		runtime.SetContextPruning(pruning)
	}

	e := &Engine{Runtime: runtime, Sessions: store, Config: cfg, Logger: logger}

	if cfg.Broker.Enabled {
		if err := e.wireBroker(); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func sessionDir(root, sessionID string) string {
	return filepath.Join(root, sessionID)
}

// buildProvider constructs the configured default LLM provider adapter.
// Only two provider families are supported: Anthropic Messages and
// OpenAI-compatible chat completions.
func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	provCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("agentengine: no provider configuration for %q", name)
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  provCfg.APIKey,
			BaseURL: provCfg.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(provCfg.APIKey), nil
	default:
		return nil, fmt.Errorf("agentengine: unsupported provider %q", name)
	}
}

func approvalPolicyFromConfig(cfg config.ApprovalConfig) *agent.ApprovalPolicy {
	policy := agent.DefaultApprovalPolicy()
	if len(cfg.Allowlist) > 0 {
		policy.Allowlist = cfg.Allowlist
	}
	if len(cfg.Denylist) > 0 {
		policy.Denylist = cfg.Denylist
	}
	if len(cfg.SafeBins) > 0 {
		policy.SafeBins = cfg.SafeBins
	}
	if cfg.DefaultDecision != "" {
		policy.DefaultDecision = agent.ApprovalDecision(cfg.DefaultDecision)
	}
	if cfg.RequestTTL > 0 {
		policy.RequestTTL = cfg.RequestTTL
	}
	return policy
}

// RunOnceOptions carries the resolved CLI flags for a single turn.
type RunOnceOptions struct {
	SessionID  string
	NewSession bool
	AgentID    string
	Input      string
}

// RunOnceResult is the outcome of a single turn.
type RunOnceResult struct {
	SessionID string
	Response  string
}

// RunOnce resolves or creates the session, submits one user message to the
// Runtime, and drains the response channel into a single string — the same
// accumulate-then-return pattern a multi-agent orchestrator's synchronous
// callers use when draining Runtime.Process for one reply.
func (e *Engine) RunOnce(ctx context.Context, opts RunOnceOptions) (*RunOnceResult, error) {
	session, err := e.resolveSession(ctx, opts)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelCLI,
		Role:      models.RoleUser,
		Content:   opts.Input,
		CreatedAt: time.Now(),
	}

	chunks, err := e.Runtime.Process(ctx, session, msg)
	if err != nil {
		return nil, fmt.Errorf("agentengine: process turn: %w", err)
	}

	var response strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		response.WriteString(chunk.Text)
	}

	return &RunOnceResult{SessionID: session.ID, Response: response.String()}, nil
}

func (e *Engine) resolveSession(ctx context.Context, opts RunOnceOptions) (*models.Session, error) {
	agentID := opts.AgentID
	if agentID == "" {
		agentID = e.Config.Session.DefaultAgentID
	}

	if opts.SessionID != "" && !opts.NewSession {
		session, err := e.Sessions.Get(ctx, opts.SessionID)
		if err == nil {
			return session, nil
		}
	}

	key := opts.SessionID
	if key == "" || opts.NewSession {
		key = fmt.Sprintf("cli:%s:%d", agentID, time.Now().UnixNano())
	}
	return e.Sessions.GetOrCreate(ctx, key, agentID, models.ChannelCLI, "")
}

// Broker returns the engine's Coordination Broker handle, or nil when
// BrokerConfig.Enabled is false.
func (e *Engine) Broker() *broker.Broker {
	return e.broker
}

func (e *Engine) wireBroker() error {
	root := e.Config.Broker.Root
	if root == "" {
		root = filepath.Join(e.Config.Workspace.Path, "broker")
	}

	resolver := func(sessionID string) (*broker.Broker, error) {
		if e.broker != nil {
			return e.broker, nil
		}
		b, err := broker.New(root, sessionID, []byte(e.Config.Broker.Secret))
		if err != nil {
			return nil, err
		}
		e.broker = b
		return b, nil
	}

	timeout := e.Config.Broker.SpawnTimeout
	e.Runtime.RegisterTool(delegate.NewTool(resolver, "", "", timeout))
	return nil
}
