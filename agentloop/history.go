package agentloop

import (
	"fmt"
	"sync"
	"time"
)

// History is the append-only transcript of one Session. Every tool-call turn
// is immediately followed by the tool-result turn for the same call.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{}
}

// Append adds a turn, rejecting it with ErrTranscriptOrder when it would
// break call/result pairing.
func (h *History) Append(t Turn) error {
	if err := checkTurnShape(t); err != nil {
		return err
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var pending *ToolCallContent
	if n := len(h.turns); n > 0 {
		pending = h.turns[n-1].ToolCall
	}

	switch {
	case pending != nil:
		if t.ToolResult == nil {
			return fmt.Errorf("%w: tool call %s awaits its result, got %s turn",
				ErrTranscriptOrder, pending.Name, t.kind())
		}
		if t.ToolResult.Name != pending.Name || t.ToolResult.ID != pending.ID {
			return fmt.Errorf("%w: result for %s(%s) does not answer %s(%s)",
				ErrTranscriptOrder, t.ToolResult.Name, t.ToolResult.ID, pending.Name, pending.ID)
		}
	case t.ToolResult != nil:
		return fmt.Errorf("%w: tool result %s has no preceding call", ErrTranscriptOrder, t.ToolResult.Name)
	}

	h.turns = append(h.turns, t)
	return nil
}

func checkTurnShape(t Turn) error {
	set := 0
	if t.ToolCall != nil {
		set++
		if t.Role != RoleModel {
			return fmt.Errorf("%w: tool call must come from the model", ErrTranscriptOrder)
		}
		if t.ToolCall.Name == "" {
			return fmt.Errorf("%w: tool call without a name", ErrTranscriptOrder)
		}
	}
	if t.ToolResult != nil {
		set++
		if t.Role != RoleUser {
			return fmt.Errorf("%w: tool result must have the user role", ErrTranscriptOrder)
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: turn carries both a tool call and a tool result", ErrTranscriptOrder)
	}
	if t.Role != RoleUser && t.Role != RoleModel {
		return fmt.Errorf("%w: unknown role %q", ErrTranscriptOrder, t.Role)
	}
	return nil
}

// AsSequence returns a copy of the turns in order.
func (h *History) AsSequence() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// approxChars sums the text carried by every turn; used for the context
// usage estimate.
func (h *History) approxChars() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, t := range h.turns {
		total += len(t.Text)
		if t.ToolCall != nil {
			total += len(t.ToolCall.Name) + len(fmt.Sprint(t.ToolCall.Arguments))
		}
		if t.ToolResult != nil {
			total += len(fmt.Sprint(t.ToolResult.Result))
		}
	}
	return total
}
