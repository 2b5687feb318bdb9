package agentloop

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments). encoding/json sorts map keys, so equal
// argument maps hash equally.
func toolCallSignature(name string, arguments map[string]any) string {
	b, err := json.Marshal(arguments)
	if err != nil {
		b = []byte(fmt.Sprint(arguments))
	}
	h := blake3.Sum256(b)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// extractToolCallSignatures returns signatures of the last count tool calls
// in chronological order.
func extractToolCallSignatures(history []Turn, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		if tc := history[i].ToolCall; tc != nil {
			sigs = append(sigs, toolCallSignature(tc.Name, tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(history []Turn, windowSize int) bool {
	if windowSize <= 1 {
		return false
	}
	sigs := extractToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || patternLen == windowSize {
			continue
		}
		matched := true
		for i := patternLen; i < windowSize && matched; i++ {
			matched = sigs[i] == sigs[i%patternLen]
		}
		if matched {
			return true
		}
	}
	return false
}
