package agentloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/synapse/unifiedllm"
)

// SessionConfig holds the runtime settings of a Session.
type SessionConfig struct {
	MaxIterations       int
	ModelCallTimeout    time.Duration
	Retry               unifiedllm.RetryPolicy
	OutputLimits        OutputLimits
	EnableLoopDetection bool
	LoopDetectionWindow int
	Fingerprinter       Fingerprinter
	MaxChangeHistory    int
	UserInstructions    string // appended last to the system instruction

	// Workspace roots project-doc discovery and the environment block of
	// the system instruction. Nil skips both.
	Workspace *Workspace

	Logger      *slog.Logger
	EventBuffer int
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxIterations:       10,
		ModelCallTimeout:    60 * time.Second,
		Retry:               unifiedllm.DefaultRetryPolicy(),
		EnableLoopDetection: true,
		LoopDetectionWindow: 6,
		Fingerprinter:       RollingHash{},
		MaxChangeHistory:    defaultMaxChangeHistory,
		EventBuffer:         256,
	}
}

func (c *SessionConfig) applyDefaults() {
	d := DefaultSessionConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.ModelCallTimeout <= 0 {
		c.ModelCallTimeout = d.ModelCallTimeout
	}
	if c.Retry.IsZero() {
		c.Retry = unifiedllm.NoRetry()
	}
	if c.LoopDetectionWindow <= 0 {
		c.LoopDetectionWindow = d.LoopDetectionWindow
	}
	if c.Fingerprinter == nil {
		c.Fingerprinter = d.Fingerprinter
	}
	if c.MaxChangeHistory <= 0 {
		c.MaxChangeHistory = d.MaxChangeHistory
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// FileConfig is the on-disk configuration, read from YAML or JSON.
type FileConfig struct {
	Provider            string         `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model               string         `json:"model,omitempty" yaml:"model,omitempty"`
	APIKeyEnv           string         `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Workspace           string         `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	MaxIterations       int            `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	ModelCallTimeoutMs  int            `json:"model_call_timeout_ms,omitempty" yaml:"model_call_timeout_ms,omitempty"`
	MaxRetries          *int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Fingerprint         string         `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	MaxChangeHistory    int            `json:"max_change_history,omitempty" yaml:"max_change_history,omitempty"`
	ToolOutputLimits    map[string]int `json:"tool_output_limits,omitempty" yaml:"tool_output_limits,omitempty"`
	ToolLineLimits      map[string]int `json:"tool_line_limits,omitempty" yaml:"tool_line_limits,omitempty"`
	LoopDetectionWindow int            `json:"loop_detection_window,omitempty" yaml:"loop_detection_window,omitempty"`
	DisableLoopDetect   bool           `json:"disable_loop_detection,omitempty" yaml:"disable_loop_detection,omitempty"`
	SystemInstructions  string         `json:"system_instructions,omitempty" yaml:"system_instructions,omitempty"`
	CryptoBaseURL       string         `json:"crypto_base_url,omitempty" yaml:"crypto_base_url,omitempty"`
	LogLevel            string         `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// LoadConfigFile reads path strictly: unknown keys and trailing documents
// are errors. Files ending in .json are JSON, everything else YAML.
// Environment overrides apply after the file, then defaults and validation.
func LoadConfigFile(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	return finishConfig(&cfg, os.Getenv)
}

// LoadConfig is LoadConfigFile, except that an empty path yields the
// defaults with environment overrides.
func LoadConfig(path string) (*FileConfig, error) {
	if path == "" {
		return finishConfig(&FileConfig{}, os.Getenv)
	}
	return LoadConfigFile(path)
}

func finishConfig(cfg *FileConfig, getenv func(string) string) (*FileConfig, error) {
	applyEnvOverrides(cfg, getenv)
	applyConfigDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeJSONStrict(b []byte, cfg *FileConfig) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *FileConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *FileConfig, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("SYNAPSE_PROVIDER")); v != "" {
		cfg.Provider = v
	}
	if v := strings.TrimSpace(getenv("SYNAPSE_MODEL")); v != "" {
		cfg.Model = v
	}
}

func applyConfigDefaults(cfg *FileConfig) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" && cfg.Model != "" {
		if info := unifiedllm.GetModelInfo(cfg.Model); info != nil {
			cfg.Provider = info.Provider
		}
	}
	if cfg.Provider == "" {
		cfg.Provider = "gemini"
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 10
	}
	if cfg.ModelCallTimeoutMs == 0 {
		cfg.ModelCallTimeoutMs = 60000
	}
	cfg.Fingerprint = strings.ToLower(strings.TrimSpace(cfg.Fingerprint))
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = "rolling"
	}
	if cfg.MaxChangeHistory == 0 {
		cfg.MaxChangeHistory = defaultMaxChangeHistory
	}
	if cfg.LoopDetectionWindow == 0 {
		cfg.LoopDetectionWindow = 6
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validateConfig(cfg *FileConfig) error {
	switch cfg.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("invalid provider %q (want gemini, openai or anthropic)", cfg.Provider)
	}
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if cfg.ModelCallTimeoutMs < 0 {
		return fmt.Errorf("model_call_timeout_ms must not be negative")
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if _, err := FingerprinterByName(cfg.Fingerprint); err != nil {
		return err
	}
	if cfg.MaxChangeHistory < 1 {
		return fmt.Errorf("max_change_history must be at least 1")
	}
	if cfg.LoopDetectionWindow < 2 {
		return fmt.Errorf("loop_detection_window must be at least 2")
	}
	for name, n := range cfg.ToolOutputLimits {
		if n < 1 {
			return fmt.Errorf("tool_output_limits.%s must be positive", name)
		}
	}
	for name, n := range cfg.ToolLineLimits {
		if n < 1 {
			return fmt.Errorf("tool_line_limits.%s must be positive", name)
		}
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return lvl, nil
}

// SessionConfig converts the file settings into a SessionConfig. The
// workspace and logger are left for the caller.
func (c *FileConfig) SessionConfig() SessionConfig {
	sc := DefaultSessionConfig()
	sc.MaxIterations = c.MaxIterations
	sc.ModelCallTimeout = time.Duration(c.ModelCallTimeoutMs) * time.Millisecond
	if c.MaxRetries != nil {
		sc.Retry.MaxRetries = *c.MaxRetries
	}
	sc.OutputLimits = OutputLimits{CharLimits: c.ToolOutputLimits, LineLimits: c.ToolLineLimits}
	sc.EnableLoopDetection = !c.DisableLoopDetect
	sc.LoopDetectionWindow = c.LoopDetectionWindow
	if fp, err := FingerprinterByName(c.Fingerprint); err == nil {
		sc.Fingerprinter = fp
	}
	sc.MaxChangeHistory = c.MaxChangeHistory
	sc.UserInstructions = c.SystemInstructions
	return sc
}
