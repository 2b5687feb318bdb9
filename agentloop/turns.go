package agentloop

import (
	"encoding/json"
	"time"

	"github.com/martinemde/synapse/unifiedllm"
)

// Role is the speaker of a Turn. Tool results are spoken by the user role.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single entry in the conversation history. Exactly one of Text,
// ToolCall and ToolResult is set.
type Turn struct {
	Role       Role               `json:"role"`
	Timestamp  time.Time          `json:"timestamp"`
	Text       string             `json:"text,omitempty"`
	ToolCall   *ToolCallContent   `json:"tool_call,omitempty"`
	ToolResult *ToolResultContent `json:"tool_result,omitempty"`
}

// ToolCallContent is a model request to run one tool.
type ToolCallContent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultContent is the outcome of one tool invocation. Result holds the
// executable's return value, or the error message when IsError is set.
type ToolResultContent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  any    `json:"result"`
	IsError bool   `json:"is_error,omitempty"`
}

// Payload is the object handed back to the model: {"result": v} on success
// and {"error": msg} on failure.
func (r ToolResultContent) Payload() map[string]any {
	if r.IsError {
		return map[string]any{"error": r.Result}
	}
	return map[string]any{"result": r.Result}
}

// NewUserTurn creates a user text turn.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Timestamp: time.Now(), Text: text}
}

// NewModelTextTurn creates a model text turn.
func NewModelTextTurn(text string) Turn {
	return Turn{Role: RoleModel, Timestamp: time.Now(), Text: text}
}

// NewToolCallTurn creates a model tool-call turn.
func NewToolCallTurn(id, name string, args map[string]any) Turn {
	if args == nil {
		args = map[string]any{}
	}
	return Turn{
		Role:      RoleModel,
		Timestamp: time.Now(),
		ToolCall:  &ToolCallContent{ID: id, Name: name, Arguments: args},
	}
}

// NewToolResultTurn creates the user-role turn answering a tool call.
func NewToolResultTurn(id, name string, result any, isError bool) Turn {
	return Turn{
		Role:       RoleUser,
		Timestamp:  time.Now(),
		ToolResult: &ToolResultContent{ID: id, Name: name, Result: result, IsError: isError},
	}
}

func (t Turn) kind() string {
	switch {
	case t.ToolCall != nil:
		return "tool_call"
	case t.ToolResult != nil:
		return "tool_result"
	default:
		return "text"
	}
}

// ConvertHistoryToMessages converts turns into model messages using the
// default tool output limits.
func ConvertHistoryToMessages(history []Turn) []unifiedllm.Message {
	return convertHistory(history, OutputLimits{})
}

func convertHistory(history []Turn, limits OutputLimits) []unifiedllm.Message {
	messages := make([]unifiedllm.Message, 0, len(history))
	for _, turn := range history {
		switch {
		case turn.ToolCall != nil:
			args, err := json.Marshal(turn.ToolCall.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			messages = append(messages,
				unifiedllm.ToolCallMessage(turn.ToolCall.ID, turn.ToolCall.Name, args))
		case turn.ToolResult != nil:
			res := turn.ToolResult
			messages = append(messages,
				unifiedllm.ToolResultMessage(res.ID, res.Name, limits.payload(*res), res.IsError))
		case turn.Role == RoleModel:
			messages = append(messages, unifiedllm.AssistantMessage(turn.Text))
		default:
			messages = append(messages, unifiedllm.UserMessage(turn.Text))
		}
	}
	return messages
}
