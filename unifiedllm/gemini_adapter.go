package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// geminiModels is the subset of *genai.Models the adapter calls.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiAdapter implements ProviderAdapter on top of the Google Gen AI SDK.
// Unlike the gollm path it carries native function calls and function
// responses, so tool-call turns round-trip without text rendering.
type GeminiAdapter struct {
	models       geminiModels
	defaultModel string
}

// GeminiOption configures a GeminiAdapter.
type GeminiOption func(*GeminiAdapter)

// WithGeminiModel sets the model used when a request names none.
func WithGeminiModel(model string) GeminiOption {
	return func(a *GeminiAdapter) {
		a.defaultModel = model
	}
}

// NewGeminiAdapter creates an adapter talking to the Gemini API with apiKey.
func NewGeminiAdapter(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: API key is required"}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: failed to create client", Cause: err}}
	}
	return newGeminiAdapter(client.Models, opts...), nil
}

func newGeminiAdapter(models geminiModels, opts ...GeminiOption) *GeminiAdapter {
	a := &GeminiAdapter{models: models, defaultModel: "gemini-2.5-flash"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider identifier.
func (a *GeminiAdapter) Name() string { return "gemini" }

// Complete sends a blocking GenerateContent call.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	config, err := toGeminiConfig(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, geminiError(err)
	}
	return fromGeminiResponse(model, resp)
}

// geminiError prefers the HTTP status carried by genai.APIError and falls
// back to message matching for transport failures.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return ErrorFromStatusCode(apiErr.Code, apiErr.Message, "gemini", apiErr.Status, nil)
	}
	return ClassifyProviderError("gemini", err)
}

// toGeminiContents converts unified messages into Gemini contents. System
// messages are skipped; they travel in the config's SystemInstruction.
func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range messages {
		var parts []*genai.Part
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				if part.Text != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			case ContentToolCall:
				if part.ToolCall == nil {
					continue
				}
				args := map[string]any{}
				if len(part.ToolCall.Arguments) > 0 {
					if err := json.Unmarshal(part.ToolCall.Arguments, &args); err != nil {
						return nil, &InvalidToolCallError{SDKError: SDKError{
							Message: fmt.Sprintf("tool call %q has non-object arguments", part.ToolCall.Name),
							Cause:   err,
						}}
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: args,
				}})
			case ContentToolResult:
				if part.ToolResult == nil {
					continue
				}
				p := genai.NewPartFromFunctionResponse(part.ToolResult.Name, functionResponsePayload(part.ToolResult.Content))
				p.FunctionResponse.ID = part.ToolResult.ToolCallID
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}

		switch msg.Role {
		case RoleSystem:
			continue
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		}
	}
	return contents, nil
}

// functionResponsePayload decodes a JSON tool result into the object Gemini
// expects. Non-object payloads are wrapped under "result".
func functionResponsePayload(content json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(content, &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		v = string(content)
	}
	return map[string]any{"result": v}
}

func toGeminiConfig(req Request) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	if system := req.SystemPrompt(); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		config.TopP = &p
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.StopSequences) > 0 {
		config.StopSequences = req.StopSequences
	}

	if len(req.ToolDefs) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.ToolDefs))
		for _, def := range req.ToolDefs {
			schema, err := toGeminiSchema(def.Parameters)
			if err != nil {
				return nil, &ConfigurationError{SDKError: SDKError{
					Message: fmt.Sprintf("gemini: tool %q has an unsupported schema", def.Name),
					Cause:   err,
				}}
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	if req.ToolChoice != nil {
		fc := &genai.FunctionCallingConfig{}
		switch req.ToolChoice.Mode {
		case "none":
			fc.Mode = genai.FunctionCallingConfigModeNone
		case "required":
			fc.Mode = genai.FunctionCallingConfigModeAny
		case "named":
			fc.Mode = genai.FunctionCallingConfigModeAny
			fc.AllowedFunctionNames = []string{req.ToolChoice.ToolName}
		default:
			fc.Mode = genai.FunctionCallingConfigModeAuto
		}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: fc}
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Type != "text" {
		config.ResponseMIMEType = "application/json"
	}

	return config, nil
}

// toGeminiSchema converts a lowercase JSON Schema object into a genai.Schema.
func toGeminiSchema(js map[string]any) (*genai.Schema, error) {
	if js == nil {
		return nil, nil
	}
	s := &genai.Schema{}

	if typ, ok := js["type"].(string); ok {
		switch strings.ToLower(typ) {
		case "object":
			s.Type = genai.TypeObject
		case "string":
			s.Type = genai.TypeString
		case "number":
			s.Type = genai.TypeNumber
		case "integer":
			s.Type = genai.TypeInteger
		case "boolean":
			s.Type = genai.TypeBoolean
		case "array":
			s.Type = genai.TypeArray
		default:
			return nil, fmt.Errorf("unknown schema type %q", typ)
		}
	}
	if desc, ok := js["description"].(string); ok {
		s.Description = desc
	}

	switch props := js["properties"].(type) {
	case map[string]any:
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			sub, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not an object", name)
			}
			child, err := toGeminiSchema(sub)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = child
		}
	}

	switch req := js["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}

	if items, ok := js["items"].(map[string]any); ok {
		child, err := toGeminiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}

	switch enum := js["enum"].(type) {
	case []string:
		s.Enum = append(s.Enum, enum...)
	case []any:
		for _, e := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(e))
		}
	}

	return s, nil
}

// fromGeminiResponse converts the first candidate into a unified Response.
func fromGeminiResponse(model string, resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		reason := "no candidates returned"
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &ContentFilterError{ProviderError: ProviderError{
				SDKError: SDKError{Message: fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)},
				Provider: "gemini",
			}}
		}
		return nil, &ProviderError{SDKError: SDKError{Message: reason}, Provider: "gemini", Retryable: true}
	}

	cand := resp.Candidates[0]
	var content []ContentPart
	hasCalls := false
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.FunctionCall != nil:
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil || p.FunctionCall.Args == nil {
					args = []byte("{}")
				}
				id := p.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.New().String()[:8]
				}
				content = append(content, ToolCallPart(id, p.FunctionCall.Name, args))
				hasCalls = true
			case p.Thought && p.Text != "":
				content = append(content, ThinkingPart(p.Text, ""))
			case p.Text != "":
				content = append(content, TextPart(p.Text))
			}
		}
	}

	raw := string(cand.FinishReason)
	finish := FinishReason{Reason: "other", Raw: raw}
	switch {
	case hasCalls:
		finish.Reason = "tool_calls"
	case cand.FinishReason == genai.FinishReasonStop || raw == "":
		finish.Reason = "stop"
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		finish.Reason = "length"
	case cand.FinishReason == genai.FinishReasonSafety:
		finish.Reason = "content_filter"
	}

	out := &Response{
		ID:           resp.ResponseID,
		Model:        model,
		Provider:     "gemini",
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
	}
	if out.ID == "" {
		out.ID = "resp_" + uuid.New().String()[:8]
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
		if u.ThoughtsTokenCount > 0 {
			n := int(u.ThoughtsTokenCount)
			out.Usage.ReasoningTokens = &n
		}
	}
	return out, nil
}
