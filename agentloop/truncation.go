package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

const fallbackCharLimit = 30000

// Default character limits per tool.
var DefaultToolCharLimits = map[string]int{
	"read_code_file":   50000,
	"search_in_code":   20000,
	"detect_bugs":      20000,
	"generate_tests":   20000,
	"analyze_code":     10000,
	"get_crypto_price": 5000,
}

// Default truncation modes per tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_code_file": TruncateHeadTail,
	"search_in_code": TruncateTail,
	"generate_tests": TruncateHeadTail,
}

// Default line limits per tool, applied after character truncation.
var DefaultToolLineLimits = map[string]int{
	"search_in_code": 200,
	"read_code_file": 2000,
}

// OutputLimits overrides the default per-tool limits. Zero values fall back
// to the defaults.
type OutputLimits struct {
	CharLimits map[string]int
	LineLimits map[string]int
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"If you need specific parts, call the tool again with narrower arguments.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput runs character truncation then line truncation for a tool.
func (l OutputLimits) TruncateToolOutput(output, toolName string) string {
	maxChars, ok := l.CharLimits[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = fallbackCharLimit
		}
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines, ok := l.LineLimits[toolName]
	if !ok {
		maxLines = DefaultToolLineLimits[toolName]
	}
	return TruncateLines(result, maxLines)
}

// payload serializes a tool result for the model. A value whose encoding
// exceeds the limits is replaced by its truncated text so the payload stays
// valid JSON.
func (l OutputLimits) payload(res ToolResultContent) json.RawMessage {
	full, err := json.Marshal(res.Payload())
	if err != nil {
		full, _ = json.Marshal(map[string]any{"error": fmt.Sprintf("unserializable tool result: %v", err)})
		return full
	}

	var text string
	switch v := res.Result.(type) {
	case string:
		text = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return full
		}
		text = string(b)
	}
	cut := l.TruncateToolOutput(text, res.Name)
	if cut == text {
		return full
	}
	key := "result"
	if res.IsError {
		key = "error"
	}
	out, _ := json.Marshal(map[string]any{key: cut})
	return out
}
