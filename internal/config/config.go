// Package config loads and validates the runtime's YAML configuration,
// including $include directives and environment-variable expansion.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for one nexuscore process.
type Config struct {
	IPC       IPCConfig       `yaml:"ipc"`
	LLM       LLMConfig       `yaml:"llm"`
	Context   ContextConfig   `yaml:"context"`
	Turn      TurnConfig      `yaml:"turn"`
	Tools     ToolsConfig     `yaml:"tools"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Session   SessionConfig   `yaml:"session"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TelemetryConfig configures the ambient observability surface.
type TelemetryConfig struct {
	// MetricsAddr is the host:port the Prometheus /metrics endpoint
	// listens on. Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
	// TraceEndpoint is an OTLP-gRPC collector endpoint. Empty keeps
	// spans recorded but unexported.
	TraceEndpoint string `yaml:"trace_endpoint"`
}

// IPCConfig configures the local stream server (§4.2).
type IPCConfig struct {
	// Network is "unix" (default) or "tcp".
	Network string `yaml:"network"`
	// Address is a filesystem path for unix sockets or host:port for tcp.
	Address string `yaml:"address"`
}

// LLMConfig configures the provider client.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	// RequirePreflight fails startup if the default provider's capability
	// preflight cannot reach the provider (SPEC_FULL.md §4.3).
	RequirePreflight bool `yaml:"require_preflight"`
}

// LLMProviderConfig configures one named provider (anthropic, openai, ...).
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ContextConfig configures the layered context builder (§4.4).
type ContextConfig struct {
	ContextLimit           int      `yaml:"context_limit"`
	OutputReserve          int      `yaml:"output_reserve"`
	CompletionSafetyBuffer int      `yaml:"completion_safety_buffer"`
	CharsPerToken          float64  `yaml:"chars_per_token"`
	SafetyMargin           float64  `yaml:"safety_margin"`
	LayerOrder             []string `yaml:"layer_order"`
	LayerBudgets           map[string]int `yaml:"layer_budgets"`
}

// TurnConfig configures the turn loop's limits and retry budgets (§4.6).
type TurnConfig struct {
	MaxToolCallsPerStep int           `yaml:"max_tool_calls_per_step"`
	MaxContinuations    int           `yaml:"max_continuations"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`
	RetryLimit          int           `yaml:"retry_limit"`
}

// ToolsConfig configures the built-in tool registry and executor (§4.7).
type ToolsConfig struct {
	Roots       []string      `yaml:"roots"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	Policy      ToolPolicyConfig `yaml:"policy"`
}

// ToolPolicyConfig gates dangerous tool-call patterns independent of
// JSON-schema validity.
type ToolPolicyConfig struct {
	DenyPatterns []string `yaml:"deny_patterns"`
}

// WorkspaceConfig configures the sandboxed workspace manager (§4.10).
type WorkspaceConfig struct {
	Root            string        `yaml:"root"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	CleanupAfter    time.Duration `yaml:"cleanup_after"`
}

// SessionConfig configures session memory (§4.9).
type SessionConfig struct {
	Dir              string `yaml:"dir"`
	ConversationTokenLimit int `yaml:"conversation_token_limit"`
	// SummaryMaxChars bounds stored rolling summaries. Resolves Open
	// Question (b): default 300, explicitly configurable.
	SummaryMaxChars int `yaml:"summary_max_chars"`
}

// WorkflowsConfig configures the workflow registry and engine (§4.8).
type WorkflowsConfig struct {
	Dir              string        `yaml:"dir"`
	RunsDir          string        `yaml:"runs_dir"`
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout"`
}

// SchedulerConfig declares the cron-triggered entries the scheduler
// registers at startup (§4.3's schedule:trigger source).
type SchedulerConfig struct {
	Entries []ScheduleEntryConfig `yaml:"entries"`
}

// ScheduleEntryConfig is one periodic trigger: either WorkflowID (starts
// a workflow run) or Text (feeds a plain turn) should be set, not both.
type ScheduleEntryConfig struct {
	ID         string         `yaml:"id"`
	Expr       string         `yaml:"expr"`
	SessionID  string         `yaml:"session_id"`
	WorkflowID string         `yaml:"workflow_id"`
	Text       string         `yaml:"text"`
	Args       map[string]any `yaml:"args"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ValidationError reports one or more configuration problems found after
// defaults have been applied.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads path (resolving $include directives, see loader.go),
// expands environment variables, decodes strictly, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize merged config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &cfg, nil
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.IPC.Network == "" {
		cfg.IPC.Network = "unix"
	}
	if cfg.IPC.Address == "" {
		cfg.IPC.Address = defaultSocketPath()
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}

	if cfg.Context.ContextLimit == 0 {
		cfg.Context.ContextLimit = 180000
	}
	if cfg.Context.OutputReserve == 0 {
		cfg.Context.OutputReserve = 4096
	}
	if cfg.Context.CompletionSafetyBuffer == 0 {
		cfg.Context.CompletionSafetyBuffer = 256
	}
	if cfg.Context.CharsPerToken == 0 {
		cfg.Context.CharsPerToken = 4
	}
	if cfg.Context.SafetyMargin == 0 {
		cfg.Context.SafetyMargin = 1.1
	}
	if len(cfg.Context.LayerOrder) == 0 {
		cfg.Context.LayerOrder = []string{
			"system", "step", "skills", "identity", "soul",
			"user", "boot", "memory", "bootstrap", "prior",
		}
	}

	if cfg.Turn.MaxToolCallsPerStep == 0 {
		cfg.Turn.MaxToolCallsPerStep = 25
	}
	if cfg.Turn.MaxContinuations == 0 {
		cfg.Turn.MaxContinuations = 4
	}
	if cfg.Turn.TurnTimeout == 0 {
		cfg.Turn.TurnTimeout = 120 * time.Second
	}
	if cfg.Turn.RetryLimit == 0 {
		cfg.Turn.RetryLimit = 2
	}

	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Tools.Concurrency == 0 {
		cfg.Tools.Concurrency = 4
	}
	if len(cfg.Tools.Roots) == 0 {
		cfg.Tools.Roots = []string{cfg.Workspace.Root}
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Workspace.CleanupInterval == 0 {
		cfg.Workspace.CleanupInterval = time.Hour
	}

	if cfg.Session.Dir == "" {
		cfg.Session.Dir = filepath.Join(cfg.Workspace.Root, "sessions")
	}
	if cfg.Session.ConversationTokenLimit == 0 {
		cfg.Session.ConversationTokenLimit = 8000
	}
	if cfg.Session.SummaryMaxChars == 0 {
		cfg.Session.SummaryMaxChars = 300
	}

	if cfg.Workflows.Dir == "" {
		cfg.Workflows.Dir = filepath.Join(cfg.Workspace.Root, "workflows")
	}
	if cfg.Workflows.RunsDir == "" {
		cfg.Workflows.RunsDir = filepath.Join(cfg.Workspace.Root, "runs")
	}
	if cfg.Workflows.DefaultStepTimeout == 0 {
		cfg.Workflows.DefaultStepTimeout = 5 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func defaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, ".nexuscore", "agent.sock")
}

func validate(cfg *Config) error {
	var issues []string

	switch cfg.IPC.Network {
	case "unix", "tcp":
	default:
		issues = append(issues, `ipc.network must be "unix" or "tcp"`)
	}

	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok && len(cfg.LLM.Providers) > 0 {
		issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
	}

	if cfg.Context.ContextLimit <= cfg.Context.OutputReserve+cfg.Context.CompletionSafetyBuffer {
		issues = append(issues, "context.context_limit must exceed output_reserve + completion_safety_buffer")
	}

	if cfg.Turn.MaxToolCallsPerStep < 0 {
		issues = append(issues, "turn.max_tool_calls_per_step must be >= 0")
	}
	if cfg.Turn.MaxContinuations < 0 {
		issues = append(issues, "turn.max_continuations must be >= 0")
	}
	if cfg.Turn.RetryLimit < 0 {
		issues = append(issues, "turn.retry_limit must be >= 0")
	}

	if cfg.Tools.Concurrency < 1 {
		issues = append(issues, "tools.concurrency must be >= 1")
	}

	if cfg.Session.SummaryMaxChars < 0 {
		issues = append(issues, "session.summary_max_chars must be >= 0")
	}

	seen := make(map[string]bool, len(cfg.Scheduler.Entries))
	for _, e := range cfg.Scheduler.Entries {
		if e.ID == "" || e.Expr == "" {
			issues = append(issues, "scheduler.entries: id and expr are required")
			continue
		}
		if seen[e.ID] {
			issues = append(issues, fmt.Sprintf("scheduler.entries: duplicate id %q", e.ID))
		}
		seen[e.ID] = true
		if (e.WorkflowID == "") == (e.Text == "") {
			issues = append(issues, fmt.Sprintf("scheduler.entries[%s]: exactly one of workflow_id or text is required", e.ID))
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, `logging.level must be "debug", "info", "warn", or "error"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
