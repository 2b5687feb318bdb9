package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter for
// providers without a native adapter (OpenAI, Anthropic, Ollama, ...).
//
// gollm takes a single prompt per call, so the adapter renders the whole
// transcript, tool calls and results included, into one prompt and parses
// tool calls back out of the returned text.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string

	// gollm's SetOption mutates shared state; serialize calls that use it.
	mu sync.Mutex
}

// GollmOption adjusts the defaults a GollmAdapter applies when a request
// leaves them unset.
type GollmOption func(*gollmDefaults)

type gollmDefaults struct {
	model       string
	maxTokens   int
	temperature float64
}

// WithModel pins the adapter's default model. Without it the newest
// tool-capable catalog entry for the provider is used.
func WithModel(model string) GollmOption {
	return func(d *gollmDefaults) { d.model = model }
}

// WithSampling sets the default output budget and temperature.
func WithSampling(maxTokens int, temperature float64) GollmOption {
	return func(d *gollmDefaults) {
		d.maxTokens = maxTokens
		d.temperature = temperature
	}
}

// NewGollmAdapter builds an adapter for provider ("openai", "anthropic",
// ...). An empty apiKey lets gollm read the provider's usual environment
// variable.
func NewGollmAdapter(provider, apiKey string, opts ...GollmOption) (*GollmAdapter, error) {
	d := gollmDefaults{maxTokens: 4096, temperature: 0.2}
	for _, opt := range opts {
		opt(&d)
	}
	if d.model == "" {
		d.model = "gpt-4o-mini"
		if info := GetLatestModel(provider, "tools"); info != nil {
			d.model = info.ID
		}
	}

	cfg := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(d.model),
		gollm.SetMaxTokens(d.maxTokens),
		gollm.SetTemperature(d.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		cfg = append(cfg, gollm.SetAPIKey(apiKey))
	}
	llm, err := gollm.NewLLM(cfg...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("gollm: cannot create %s client", provider),
			Cause:   err,
		}}
	}
	return &GollmAdapter{provider: provider, llm: llm, model: d.model}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		return nil, ClassifyProviderError(a.provider, err)
	}

	return a.buildResponse(req, text), nil
}

// translateRequest renders a unified Request into a single gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var parts []string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		if rendered := renderTranscriptMessage(msg); rendered != "" {
			parts = append(parts, rendered)
		}
	}

	promptText := strings.Join(parts, "\n\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption

	system := req.SystemPrompt()
	if len(req.ToolDefs) > 0 {
		system = strings.TrimSpace(system + "\n\n" + toolCallInstructions)
	}
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

const toolCallInstructions = `To call a tool, reply with only a JSON array of the form [{"name": "<tool>", "arguments": {...}}] and nothing else.`

// renderTranscriptMessage formats one message as a labelled transcript block.
func renderTranscriptMessage(msg Message) string {
	var lines []string
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			if part.Text == "" {
				continue
			}
			if msg.Role == RoleAssistant {
				lines = append(lines, "[Assistant]: "+part.Text)
			} else {
				lines = append(lines, part.Text)
			}
		case ContentToolCall:
			if part.ToolCall != nil {
				lines = append(lines, fmt.Sprintf("[Tool Call] %s(%s)", part.ToolCall.Name, string(part.ToolCall.Arguments)))
			}
		case ContentToolResult:
			if part.ToolResult != nil {
				prefix := "[Tool Result]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				lines = append(lines, fmt.Sprintf("%s %s: %s", prefix, part.ToolResult.Name, string(part.ToolResult.Content)))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		a.llm.SetOption("top_p", *req.TopP)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var contentParts []ContentPart
	toolCalls, prefix := parseToolCalls(text)
	if prefix != "" {
		contentParts = append(contentParts, TextPart(prefix))
	}
	for i := range toolCalls {
		contentParts = append(contentParts, ContentPart{Kind: ContentToolCall, ToolCall: &toolCalls[i]})
	}
	if len(contentParts) == 0 {
		contentParts = []ContentPart{TextPart(text)}
	}

	finishReason := FinishReason{Reason: "stop", Raw: "stop"}
	if len(toolCalls) > 0 {
		finishReason = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: contentParts,
		},
		FinishReason: finishReason,
		// gollm doesn't expose usage; estimate from text length.
		Usage: Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

type rawToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts tool calls embedded as JSON in response text. It
// accepts an array of {name, arguments} objects, an object wrapping one
// under "tool_calls", or a single {name, arguments} object, in any layout and
// optionally inside a code fence. It returns the calls and the text preceding
// the JSON.
func parseToolCalls(text string) ([]ToolCallData, string) {
	for start := 0; start < len(text); start++ {
		if c := text[start]; c != '[' && c != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			continue
		}

		var calls []ToolCallData
		for _, rc := range decodeToolCalls(doc) {
			if rc.Name == "" {
				continue
			}
			calls = append(calls, ToolCallData{
				ID:        "call_" + uuid.New().String()[:8],
				Name:      rc.Name,
				Arguments: normalizeArguments(rc.Arguments),
				Type:      "function",
			})
		}
		if len(calls) > 0 {
			return calls, trimOpenFence(text[:start])
		}
		// Valid JSON that is not a call; skip past it.
		start += int(dec.InputOffset()) - 1
	}
	return nil, text
}

func decodeToolCalls(doc json.RawMessage) []rawToolCall {
	var list []rawToolCall
	if err := json.Unmarshal(doc, &list); err == nil {
		return list
	}
	var obj struct {
		ToolCalls []rawToolCall `json:"tool_calls"`
		rawToolCall
	}
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil
	}
	if len(obj.ToolCalls) > 0 {
		return obj.ToolCalls
	}
	if obj.Name != "" && obj.Arguments != nil {
		return []rawToolCall{obj.rawToolCall}
	}
	return nil
}

// trimOpenFence drops a trailing ``` or ```json opener from the text before
// a call.
func trimOpenFence(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if i := strings.LastIndex(prefix, "```"); i >= 0 && !strings.ContainsAny(strings.TrimSpace(prefix[i+3:]), " \t\n") {
		prefix = strings.TrimSpace(prefix[:i])
	}
	return prefix
}

// normalizeArguments unwraps string-encoded argument objects and defaults an
// absent payload to {}.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil && json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	return trimmed
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolCall:
				if part.ToolCall != nil {
					total += len(part.ToolCall.Arguments) / 4
				}
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
