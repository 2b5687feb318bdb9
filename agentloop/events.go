package agentloop

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart     EventKind = "session_start"
	EventSessionEnd       EventKind = "session_end"
	EventRunStart         EventKind = "run_start"
	EventRunEnd           EventKind = "run_end"
	EventUserInput        EventKind = "user_input"
	EventIteration        EventKind = "iteration"
	EventAssistantText    EventKind = "assistant_text"
	EventToolCallStart    EventKind = "tool_call_start"
	EventToolCallEnd      EventKind = "tool_call_end"
	EventToolCallsDropped EventKind = "tool_calls_dropped"
	EventFileWatched      EventKind = "file_watched"
	EventFileChanged      EventKind = "file_changed"
	EventTurnLimit        EventKind = "turn_limit"
	EventLoopDetection    EventKind = "loop_detection"
	EventWarning          EventKind = "warning"
	EventError            EventKind = "error"
)

// SessionEvent is a typed event emitted by the agent loop.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter fans session events out on a buffered channel. Sends never
// block the agent loop: when the reader falls behind, events are counted as
// dropped and the first drop is logged.
type EventEmitter struct {
	sessionID string
	logger    *slog.Logger

	mu      sync.Mutex
	ch      chan SessionEvent
	closed  bool
	dropped int
}

// NewEventEmitter returns an emitter with room for bufferSize undelivered
// events (256 when bufferSize is not positive).
func NewEventEmitter(sessionID string, bufferSize int, logger *slog.Logger) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventEmitter{
		sessionID: sessionID,
		logger:    logger,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit publishes a session-level event.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.EmitRun("", kind, data)
}

// EmitRun publishes an event that belongs to the run runID.
func (e *EventEmitter) EmitRun(runID string, kind EventKind, data map[string]any) {
	ev := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		RunID:     runID,
		Data:      data,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		if e.dropped == 0 {
			e.logger.Debug("event buffer full, dropping events", "kind", kind)
		}
		e.dropped++
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *EventEmitter) Events() <-chan SessionEvent { return e.ch }

// Close ends the stream. Later emits are ignored; calling Close twice is
// harmless.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
