package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a wayfarer agent process: which
// provider backs it, where its session state lives, how its tool loop
// behaves, and what a spawned sub-agent needs to coordinate back.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
	Broker    BrokerConfig    `yaml:"broker"`
}

// BrokerConfig configures the Coordination Broker a delegate tool uses to
// spawn and talk to sub-agent processes (see internal/broker).
type BrokerConfig struct {
	// Enabled toggles registering the delegate tool that spawns real
	// sub-process agents through internal/broker. Defaults to false: a
	// disabled broker means only the in-process internal/tools/subagent
	// path is available.
	Enabled bool `yaml:"enabled"`

	// Root is the rendezvous directory root; each session gets
	// Root/<session-id>. Defaults to "broker" under Workspace.Path.
	Root string `yaml:"root"`

	// Secret signs sub-agent connection tokens. Required when Enabled is
	// true; read from WAYFARER_BROKER_SECRET if unset here.
	Secret string `yaml:"secret"`

	// SpawnTimeout bounds how long the delegate tool waits for a spawned
	// sub-agent to register and complete before giving up.
	SpawnTimeout time.Duration `yaml:"spawn_timeout"`
}

// SessionConfig controls how conversation state is stored and trimmed.
type SessionConfig struct {
	DefaultAgentID string       `yaml:"default_agent_id"`
	Memory         MemoryConfig `yaml:"memory"`

	// ArchiveDir roots each session's Tool Result Store and Long-Term
	// Context archive at ArchiveDir/<session-id>.
	ArchiveDir string `yaml:"archive_dir"`

	// ArchiveTrim configures when history is moved to the Long-Term Context
	// archive instead of staying in the active context.
	ArchiveTrim ArchiveTrimConfig `yaml:"archive_trim"`

	// ContextPruning controls in-session tool result pruning; see
	// EffectiveContextPruningSettings.
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
}

// ArchiveTrimConfig configures the archive-trim policy (see
// internal/agent/context.TrimToArchive).
type ArchiveTrimConfig struct {
	// CharBudget is the approximate character budget history must exceed
	// before trimming runs. 0 disables archive trimming.
	CharBudget int `yaml:"char_budget"`

	// KeepLastTurns is the number of most recent assistant turns that are
	// never trimmed. 0 uses TrimToArchive's default.
	KeepLastTurns int `yaml:"keep_last_turns"`
}

type MemoryConfig struct {
	Directory string `yaml:"directory"`
	MaxLines  int    `yaml:"max_lines"`
	Days      int    `yaml:"days"`
}

// WorkspaceConfig describes the working directory the agent's filesystem
// tools and the Authorization Gate trust boundary operate against.
type WorkspaceConfig struct {
	Path         string `yaml:"path"`
	MaxChars     int    `yaml:"max_chars"`
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// LLMConfig selects and configures the provider adapters the runtime can
// dispatch to (see internal/agent/providers).
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider
	// fails, in order, until one succeeds.
	FallbackChain []string `yaml:"fallback_chain"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ToolsConfig controls the Agent Loop's tool execution and the in-memory
// job store async tool calls report progress through.
type ToolsConfig struct {
	Notes     string              `yaml:"notes"`
	NotesFile string              `yaml:"notes_file"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolJobsConfig controls async tool job persistence.
type ToolJobsConfig struct {
	// Retention is how long to keep completed jobs. Default: 24h.
	Retention time.Duration `yaml:"retention"`
	// PruneInterval is how often to prune old jobs. Default: 1h.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations   int            `yaml:"max_iterations"`
	Parallelism     int            `yaml:"parallelism"`
	Timeout         time.Duration  `yaml:"timeout"`
	MaxAttempts     int            `yaml:"max_attempts"`
	RetryBackoff    time.Duration  `yaml:"retry_backoff"`
	DisableEvents   bool           `yaml:"disable_events"`
	MaxToolCalls    int            `yaml:"max_tool_calls"`
	RequireApproval []string       `yaml:"require_approval"`
	Async           []string       `yaml:"async"`
	Approval        ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig controls tool approval behavior at the Authorization Gate.
type ApprovalConfig struct {
	// Profile is a pre-configured tool access level.
	// Valid profiles: "coding", "messaging", "readonly", "full", "minimal".
	// When set, the profile's default tools are included in the allowlist.
	Profile string `yaml:"profile"`

	// Allowlist contains tools that are always allowed (no approval needed).
	// Supports patterns like "mcp:*", "read_*", "*" (all).
	// Also supports group references like "group:fs", "group:runtime".
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied.
	// Supports patterns and group references like Allowlist.
	Denylist []string `yaml:"denylist"`

	// SafeBins are stdin-only tools that are safe to auto-allow.
	SafeBins []string `yaml:"safe_bins"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long approval requests remain valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, decodes, and validates the configuration file at
// path, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applySessionDefaults(&cfg.Session)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(&cfg.Tools)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
	applyBrokerDefaults(&cfg.Broker)
}

func applyBrokerDefaults(cfg *BrokerConfig) {
	if cfg.Root == "" {
		cfg.Root = "broker"
	}
	if cfg.SpawnTimeout == 0 {
		cfg.SpawnTimeout = 5 * time.Minute
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "main"
	}
	if cfg.Memory.Directory == "" {
		cfg.Memory.Directory = "memory"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "sessions"
	}
	if cfg.ArchiveTrim.CharBudget == 0 {
		cfg.ArchiveTrim.CharBudget = 60000
	}
	if cfg.ArchiveTrim.KeepLastTurns == 0 {
		cfg.ArchiveTrim.KeepLastTurns = 8
	}
	if cfg.Memory.MaxLines == 0 {
		cfg.Memory.MaxLines = 20
	}
	if cfg.Memory.Days == 0 {
		cfg.Memory.Days = 2
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 20000
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "AGENTS.md"
	}
	if cfg.SoulFile == "" {
		cfg.SoulFile = "SOUL.md"
	}
	if cfg.UserFile == "" {
		cfg.UserFile = "USER.md"
	}
	if cfg.IdentityFile == "" {
		cfg.IdentityFile = "IDENTITY.md"
	}
	if cfg.ToolsFile == "" {
		cfg.ToolsFile = "TOOLS.md"
	}
	if cfg.MemoryFile == "" {
		cfg.MemoryFile = "MEMORY.md"
	}
}

// DefaultWorkspaceConfig returns a WorkspaceConfig populated with defaults,
// for callers that construct one outside of Load (e.g. tests).
func DefaultWorkspaceConfig() WorkspaceConfig {
	var cfg WorkspaceConfig
	applyWorkspaceDefaults(&cfg)
	return cfg
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg == nil {
		return
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = 1 * time.Hour
	}
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 50
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 3
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = time.Second
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("WAYFARER_BROKER_SECRET")); value != "" {
		cfg.Broker.Secret = value
	}
	if value := strings.TrimSpace(os.Getenv("WAYFARER_SESSION_ROOT")); value != "" {
		cfg.Session.ArchiveDir = value
	}
	if value := strings.TrimSpace(os.Getenv("WAYFARER_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("WAYFARER_DEBUG")); value != "" {
		if parsed, err := parseBoolEnv(value); err == nil && parsed {
			cfg.Logging.Level = "debug"
		}
	}
}

func parseBoolEnv(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", value)
	}
}

// ConfigValidationError reports every validation failure at once rather
// than stopping at the first, so a misconfigured file can be fixed in one
// pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Session.Memory.MaxLines < 0 {
		issues = append(issues, "session.memory.max_lines must be >= 0")
	}
	if cfg.Session.Memory.Days < 0 {
		issues = append(issues, "session.memory.days must be >= 0")
	}
	if cfg.Session.ArchiveTrim.CharBudget < 0 {
		issues = append(issues, "session.archive_trim.char_budget must be >= 0")
	}
	if cfg.Session.ArchiveTrim.KeepLastTurns < 0 {
		issues = append(issues, "session.archive_trim.keep_last_turns must be >= 0")
	}
	if cfg.Broker.Enabled && strings.TrimSpace(cfg.Broker.Secret) == "" {
		issues = append(issues, "broker.secret (or WAYFARER_BROKER_SECRET) is required when broker.enabled is true")
	}
	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if cfg.Tools.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}
	if cfg.Tools.Execution.MaxToolCalls < 0 {
		issues = append(issues, "tools.execution.max_tool_calls must be >= 0")
	}
	if profile := strings.ToLower(strings.TrimSpace(cfg.Tools.Execution.Approval.Profile)); profile != "" {
		switch profile {
		case "coding", "messaging", "readonly", "full", "minimal":
		default:
			issues = append(issues, "tools.execution.approval.profile must be \"coding\", \"messaging\", \"readonly\", \"full\", or \"minimal\"")
		}
	}

	if pluginIssues := pluginValidationIssues(cfg); len(pluginIssues) > 0 {
		issues = append(issues, pluginIssues...)
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
