package unifiedllm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGollmAdapterName(t *testing.T) {
	// Creation may fail without network-reachable providers; only Name is checked.
	for _, provider := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(provider, "test-key-not-real", WithModel("pinned-model"), WithSampling(1024, 0))
		if err != nil {
			t.Logf("skipping %s adapter creation: %v", provider, err)
			continue
		}
		if adapter.Name() != provider {
			t.Errorf("expected name %q, got %q", provider, adapter.Name())
		}
		if adapter.model != "pinned-model" {
			t.Errorf("expected pinned model, got %q", adapter.model)
		}
	}
}

func TestParseToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantNames  []string
		wantPrefix string
		wantArgs   string
	}{
		{
			name:      "bare array",
			text:      `[{"name": "sum", "arguments": {"a": 1, "b": 2}}]`,
			wantNames: []string{"sum"},
			wantArgs:  `{"a": 1, "b": 2}`,
		},
		{
			name:       "wrapped object with prefix",
			text:       `Let me check. {"tool_calls": [{"name": "prime", "arguments": {"n": 7}}]}`,
			wantNames:  []string{"prime"},
			wantPrefix: "Let me check.",
			wantArgs:   `{"n": 7}`,
		},
		{
			name:      "string encoded arguments",
			text:      `[{"name":"sum","arguments":"{\"a\":1,\"b\":2}"}]`,
			wantNames: []string{"sum"},
			wantArgs:  `{"a":1,"b":2}`,
		},
		{
			name:      "missing arguments",
			text:      `[{"name":"get_weather"}]`,
			wantNames: []string{"get_weather"},
			wantArgs:  `{}`,
		},
		{
			name:      "pretty printed array",
			text:      "[\n  {\n    \"name\": \"sum\",\n    \"arguments\": {\"num1\": 25, \"num2\": 37}\n  }\n]",
			wantNames: []string{"sum"},
			wantArgs:  `{"num1": 25, "num2": 37}`,
		},
		{
			name:      "space between bracket and brace",
			text:      `[ {"name": "sum", "arguments": {}} ]`,
			wantNames: []string{"sum"},
			wantArgs:  `{}`,
		},
		{
			name:       "fenced with prefix",
			text:       "I'll add them.\n```json\n[\n  {\"name\": \"sum\", \"arguments\": {\"num1\": 1, \"num2\": 2}}\n]\n```",
			wantNames:  []string{"sum"},
			wantPrefix: "I'll add them.",
			wantArgs:   `{"num1": 1, "num2": 2}`,
		},
		{
			name:      "spaced wrapper object",
			text:      "{\n  \"tool_calls\": [\n    {\"name\": \"prime\", \"arguments\": {\"num\": 7}}\n  ]\n}",
			wantNames: []string{"prime"},
			wantArgs:  `{"num": 7}`,
		},
		{
			name:      "single call object",
			text:      `{ "name": "get_weather", "arguments": {"city": "Paris"} }`,
			wantNames: []string{"get_weather"},
			wantArgs:  `{"city": "Paris"}`,
		},
		{
			name:       "other json before the call",
			text:       `Values [1, 2] and {"x": 1} then [{"name": "sum", "arguments": {"num1": 1, "num2": 2}}]`,
			wantNames:  []string{"sum"},
			wantPrefix: `Values [1, 2] and {"x": 1} then`,
			wantArgs:   `{"num1": 1, "num2": 2}`,
		},
		{
			name:       "json answer that is not a call",
			text:       `{"result": 62}`,
			wantPrefix: `{"result": 62}`,
		},
		{
			name:       "plain text",
			text:       "The answer is 62.",
			wantPrefix: "The answer is 62.",
		},
		{
			name:       "malformed json",
			text:       `[{"name": "sum", "arguments": {`,
			wantPrefix: `[{"name": "sum", "arguments": {`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, prefix := parseToolCalls(tt.text)
			if len(calls) != len(tt.wantNames) {
				t.Fatalf("expected %d calls, got %d", len(tt.wantNames), len(calls))
			}
			for i, c := range calls {
				if c.Name != tt.wantNames[i] {
					t.Errorf("call %d: expected name %q, got %q", i, tt.wantNames[i], c.Name)
				}
				if !strings.HasPrefix(c.ID, "call_") {
					t.Errorf("call %d: expected generated id, got %q", i, c.ID)
				}
			}
			if tt.wantArgs != "" && string(calls[0].Arguments) != tt.wantArgs {
				t.Errorf("expected args %s, got %s", tt.wantArgs, calls[0].Arguments)
			}
			if prefix != tt.wantPrefix {
				t.Errorf("expected prefix %q, got %q", tt.wantPrefix, prefix)
			}
		})
	}
}

func TestGollmBuildResponseToolCalls(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o-mini"}
	resp := adapter.buildResponse(Request{}, `[{"name":"sum","arguments":{"a":25,"b":37}}]`)

	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected tool_calls, got %q", resp.FinishReason.Reason)
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 1 || calls[0].Name != "sum" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("expected default model, got %q", resp.Model)
	}
}

func TestRenderTranscriptMessage(t *testing.T) {
	call := renderTranscriptMessage(ToolCallMessage("c1", "sum", json.RawMessage(`{"a":1}`)))
	if call != `[Tool Call] sum({"a":1})` {
		t.Errorf("unexpected call rendering %q", call)
	}

	result := renderTranscriptMessage(ToolResultMessage("c1", "sum", json.RawMessage(`{"error":"boom"}`), true))
	if result != `[Tool Error] sum: {"error":"boom"}` {
		t.Errorf("unexpected result rendering %q", result)
	}

	text := renderTranscriptMessage(AssistantMessage("done"))
	if text != "[Assistant]: done" {
		t.Errorf("unexpected assistant rendering %q", text)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{
		Messages: []Message{
			UserMessage("Hello world, this is a test message."),
		},
	}
	if tokens := estimateTokens(req); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if tokens := estimateTokens(Request{}); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
