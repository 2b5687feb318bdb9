package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// GenerateOptions configures a single high-level generation call.
type GenerateOptions struct {
	Model          string
	Prompt         string    // simple text prompt (mutually exclusive with Messages)
	Messages       []Message // full conversation (mutually exclusive with Prompt)
	System         string
	ToolDefs       []ToolDefinition
	ToolChoice     *ToolChoice
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	Provider       string
	Retry          *RetryPolicy // nil means DefaultRetryPolicy
	Client         *Client
}

// GenerateResult is the outcome of Generate or GenerateObject.
type GenerateResult struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
	Response     Response
	Output       any // set by GenerateObject
}

// Generate builds a Request from opts and sends it through Client.Complete
// with retries. It does not execute tools; tool calls are returned to the
// caller.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "cannot specify both prompt and messages",
		}}
	}
	if opts.Client == nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "generate: client is required"}}
	}

	policy := DefaultRetryPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	messages := opts.Messages
	if opts.Prompt != "" {
		messages = []Message{UserMessage(opts.Prompt)}
	}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	req := Request{
		Model:          opts.Model,
		Messages:       messages,
		Provider:       opts.Provider,
		ToolDefs:       opts.ToolDefs,
		ToolChoice:     opts.ToolChoice,
		ResponseFormat: opts.ResponseFormat,
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
	}

	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return opts.Client.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Text:         resp.Text(),
		Reasoning:    resp.Reasoning(),
		ToolCalls:    resp.ToolCallsFromResponse(),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Response:     *resp,
	}, nil
}

// GenerateObject generates structured output and validates it against schema.
func GenerateObject(ctx context.Context, opts GenerateOptions, schema map[string]any) (*GenerateResult, error) {
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "generate object: invalid schema", Cause: err}}
	}

	opts.ResponseFormat = &ResponseFormat{
		Type:       "json_schema",
		JSONSchema: schema,
		Strict:     true,
	}

	// Providers without native structured output still need the schema in
	// the prompt.
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")
	schemaInstruction := fmt.Sprintf(
		"\nYou must respond with valid JSON matching this schema:\n```json\n%s\n```\nRespond ONLY with the JSON object, no other text.",
		string(schemaJSON),
	)
	if opts.System != "" {
		opts.System += schemaInstruction
	} else {
		opts.System = schemaInstruction
	}

	result, err := Generate(ctx, opts)
	if err != nil {
		return nil, err
	}

	text := stripCodeFence(result.Text)
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var output any
	if err := dec.Decode(&output); err != nil {
		return nil, &NoObjectGeneratedError{SDKError: SDKError{
			Message: fmt.Sprintf("failed to parse structured output: %v", err),
			Cause:   err,
		}}
	}
	if err := compiled.Validate(output); err != nil {
		return nil, &NoObjectGeneratedError{SDKError: SDKError{
			Message: "structured output does not match schema",
			Cause:   err,
		}}
	}

	result.Output = output
	return result, nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("object.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile("object.json")
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
