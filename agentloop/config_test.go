package agentloop

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFileYAML(t *testing.T) {
	path := writeConfig(t, "synapse.yaml", `
provider: openai
model: 4o-mini
max_iterations: 5
max_retries: 0
fingerprint: blake3
tool_output_limits:
  read_code_file: 1000
system_instructions: Be brief.
log_level: debug
`)
	t.Setenv("SYNAPSE_PROVIDER", "")
	t.Setenv("SYNAPSE_MODEL", "")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "4o-mini" || cfg.MaxIterations != 5 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.ModelCallTimeoutMs != 60000 || cfg.LoopDetectionWindow != 6 || cfg.MaxChangeHistory != 100 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	sc := cfg.SessionConfig()
	if sc.MaxIterations != 5 || sc.ModelCallTimeout != time.Minute || sc.Retry.MaxRetries != 0 {
		t.Errorf("unexpected session config %+v", sc)
	}
	if _, ok := sc.Fingerprinter.(Blake3Hash); !ok {
		t.Errorf("expected blake3 fingerprinter, got %T", sc.Fingerprinter)
	}
	if sc.OutputLimits.CharLimits["read_code_file"] != 1000 || sc.UserInstructions != "Be brief." {
		t.Errorf("unexpected limits or instructions %+v", sc)
	}
	if !sc.EnableLoopDetection {
		t.Error("loop detection should stay on")
	}
	if lvl, _ := ParseLogLevel(cfg.LogLevel); lvl != slog.LevelDebug {
		t.Errorf("unexpected log level %v", lvl)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	path := writeConfig(t, "synapse.json", `{"model":"claude-haiku-4-5","disable_loop_detection":true}`)
	t.Setenv("SYNAPSE_PROVIDER", "")
	t.Setenv("SYNAPSE_MODEL", "")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("provider should be inferred from the model, got %q", cfg.Provider)
	}
	if cfg.SessionConfig().EnableLoopDetection {
		t.Error("loop detection should be disabled")
	}
}

func TestLoadConfigFileRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "unknown yaml key", file: "c.yaml", content: "provder: gemini\n", wantErr: "provder"},
		{name: "unknown json key", file: "c.json", content: `{"modle":"x"}`, wantErr: "modle"},
		{name: "two json values", file: "c.json", content: `{} {}`, wantErr: "multiple"},
		{name: "two yaml documents", file: "c.yaml", content: "model: a\n---\nmodel: b\n", wantErr: "multiple"},
		{name: "bad provider", file: "c.yaml", content: "provider: cohere\n", wantErr: "invalid provider"},
		{name: "bad fingerprint", file: "c.yaml", content: "fingerprint: md5\n", wantErr: "unknown fingerprint"},
		{name: "window too small", file: "c.yaml", content: "loop_detection_window: 1\n", wantErr: "loop_detection_window"},
		{name: "negative retries", file: "c.yaml", content: "max_retries: -1\n", wantErr: "max_retries"},
		{name: "bad limit", file: "c.yaml", content: "tool_line_limits:\n  search_in_code: 0\n", wantErr: "tool_line_limits.search_in_code"},
		{name: "bad log level", file: "c.yaml", content: "log_level: loud\n", wantErr: "log_level"},
	}
	t.Setenv("SYNAPSE_PROVIDER", "")
	t.Setenv("SYNAPSE_MODEL", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFile(writeConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFinishConfigEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SYNAPSE_PROVIDER": " Anthropic ",
		"SYNAPSE_MODEL":    "haiku",
	}
	cfg, err := finishConfig(&FileConfig{Provider: "gemini", Model: "flash"}, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("finishConfig: %v", err)
	}
	if cfg.Provider != "anthropic" || cfg.Model != "haiku" {
		t.Errorf("environment should win, got %s/%s", cfg.Provider, cfg.Model)
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	t.Setenv("SYNAPSE_PROVIDER", "")
	t.Setenv("SYNAPSE_MODEL", "")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Provider != "gemini" || cfg.Fingerprint != "rolling" || cfg.LogLevel != "info" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestSessionConfigApplyDefaults(t *testing.T) {
	var c SessionConfig
	c.applyDefaults()
	if c.MaxIterations != 10 || c.ModelCallTimeout != 60*time.Second || c.LoopDetectionWindow != 6 {
		t.Errorf("unexpected defaults %+v", c)
	}
	if c.Retry.MaxRetries != 0 || c.Logger == nil || c.Fingerprinter == nil || c.EventBuffer != 256 {
		t.Errorf("unexpected defaults %+v", c)
	}
}
