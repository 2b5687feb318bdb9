package agentloop

import (
	"errors"
	"fmt"

	"github.com/martinemde/synapse/unifiedllm"
)

var (
	// ErrDuplicateTool is returned by Register for a name already in use.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrNotWatched is returned when checking a path that was never watched.
	ErrNotWatched = errors.New("file is not watched")
	// ErrTranscriptOrder is returned when a turn would break call/result pairing.
	ErrTranscriptOrder = errors.New("transcript order violation")
	// ErrSessionBusy is returned when Run is entered while another Run is active.
	ErrSessionBusy = errors.New("session is already running")
	// ErrSessionClosed is returned by operations on a closed Session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrOutsideWorkspace is returned for tool paths that leave the
	// workspace root.
	ErrOutsideWorkspace = errors.New("path is outside the workspace")
)

// ToolNotFoundError means the model named a tool that is not registered.
// The run aborts.
type ToolNotFoundError struct {
	Name      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ToolExecutionError wraps a failure raised by a tool executable. The loop
// records it in the transcript and keeps going.
type ToolExecutionError struct {
	Name  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// ModelServiceError wraps a failed model call. The run aborts.
type ModelServiceError struct {
	Iteration int
	Cause     error
}

func (e *ModelServiceError) Error() string {
	return fmt.Sprintf("model call failed on iteration %d: %v", e.Iteration, e.Cause)
}

func (e *ModelServiceError) Unwrap() error { return e.Cause }

// Retryable reports whether the underlying provider error is transient.
func (e *ModelServiceError) Retryable() bool {
	return unifiedllm.IsRetryable(e.Cause)
}

// MaxIterationsExceededError reports that a run hit its iteration cap
// without a final answer.
type MaxIterationsExceededError struct {
	Limit int
}

func (e *MaxIterationsExceededError) Error() string {
	return fmt.Sprintf("no final answer after %d iterations", e.Limit)
}

// FileNotFoundError is returned by the file tracker for a missing path.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// FileReadError is returned by the file tracker when a file exists but
// cannot be read.
type FileReadError struct {
	Path  string
	Cause error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Cause)
}

func (e *FileReadError) Unwrap() error { return e.Cause }
