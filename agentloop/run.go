package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/martinemde/synapse/unifiedllm"
)

// RunStatus is the terminal state of a Run.
type RunStatus string

const (
	StatusCompleted             RunStatus = "completed"
	StatusToolNotFound          RunStatus = "tool_not_found"
	StatusModelError            RunStatus = "model_error"
	StatusMaxIterationsExceeded RunStatus = "max_iterations_exceeded"
	StatusCanceled              RunStatus = "canceled"
	StatusInternalError         RunStatus = "internal_error" // the history refused a turn
)

// ToolCallRecord describes one executed tool call.
type ToolCallRecord struct {
	Iteration int            `json:"iteration"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
	IsError   bool           `json:"is_error,omitempty"`
	Duration  time.Duration  `json:"duration"`

	// Err is a *ToolExecutionError when the call failed.
	Err error `json:"-"`
}

// RunResult reports how a Run ended.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Status     RunStatus        `json:"status"`
	Answer     string           `json:"answer,omitempty"`
	Iterations int              `json:"iterations"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage      unifiedllm.Usage `json:"usage"`
	History    []Turn           `json:"history"`

	err error
}

// Err returns the error behind a non-completed status, including the soft
// MaxIterationsExceededError that Run does not return.
func (r *RunResult) Err() error { return r.err }

const fileQuestionNote = "Note: When the user asks about \"this file\", \"this code\", or uses similar references, " +
	"they are referring to the file context provided above."

// Run answers one user input, calling tools as the model requests until the
// model replies with text or the iteration cap is reached.
//
// Only the first tool call of a response is executed; any others are
// reported through EventToolCallsDropped. An unknown tool name or a failed
// model call ends the run with an error and leaves the pending exchange out
// of the history. A failing tool does not end the run: its error becomes the
// tool result. Hitting the cap returns a nil error with status
// StatusMaxIterationsExceeded. A turn the history rejects ends the run with
// StatusInternalError and an ErrTranscriptOrder error.
func (s *Session) Run(ctx context.Context, userInput string) (*RunResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	runID := ulid.Make().String()
	log := s.logger.With("run_id", runID)
	res := &RunResult{RunID: runID}

	s.emitter.EmitRun(runID, EventRunStart, map[string]any{"input": userInput})
	defer func() {
		res.History = s.history.AsSequence()
		s.emitter.EmitRun(runID, EventRunEnd, map[string]any{
			"status":     string(res.Status),
			"iterations": res.Iterations,
		})
		log.Info("run finished", "status", res.Status, "iterations", res.Iterations, "tool_calls", len(res.ToolCalls))
	}()

	message := s.composeUserMessage(runID, userInput)
	if err := s.history.Append(NewUserTurn(message)); err != nil {
		return s.fail(res, StatusInternalError, err)
	}
	s.emitter.EmitRun(runID, EventUserInput, map[string]any{"content": userInput})

	system := s.systemPrompt()
	var toolDefs []unifiedllm.ToolDefinition
	var toolChoice *unifiedllm.ToolChoice
	if s.registry.Len() > 0 {
		toolDefs = s.registry.Definitions()
		toolChoice = &unifiedllm.ToolChoice{Mode: "auto"}
	}

	for res.Iterations < s.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return s.fail(res, StatusCanceled, err)
		}
		res.Iterations++
		iteration := res.Iterations
		s.emitter.EmitRun(runID, EventIteration, map[string]any{
			"iteration": iteration,
			"max":       s.config.MaxIterations,
		})

		req := unifiedllm.Request{
			Model:    s.profile.ModelID(),
			Provider: s.profile.ID(),
			Messages: append(
				[]unifiedllm.Message{unifiedllm.SystemMessage(system)},
				convertHistory(s.history.AsSequence(), s.config.OutputLimits)...,
			),
			ToolDefs:   toolDefs,
			ToolChoice: toolChoice,
		}

		resp, err := s.complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return s.fail(res, StatusCanceled, ctx.Err())
			}
			merr := &ModelServiceError{Iteration: iteration, Cause: err}
			s.emitter.EmitRun(runID, EventError, map[string]any{
				"error":     merr.Error(),
				"retryable": merr.Retryable(),
			})
			log.Error("model call failed", "iteration", iteration, "error", err)
			return s.fail(res, StatusModelError, merr)
		}
		res.Usage = res.Usage.Add(resp.Usage)
		s.checkContextUsage(runID, len(system))

		calls := resp.ToolCallsFromResponse()
		if len(calls) == 0 {
			text := resp.Text()
			if err := s.history.Append(NewModelTextTurn(text)); err != nil {
				return s.fail(res, StatusInternalError, err)
			}
			s.emitter.EmitRun(runID, EventAssistantText, map[string]any{"text": text})
			res.Status = StatusCompleted
			res.Answer = text
			return res, nil
		}

		call := calls[0]
		if len(calls) > 1 {
			dropped := make([]string, 0, len(calls)-1)
			for _, c := range calls[1:] {
				dropped = append(dropped, c.Name)
			}
			s.emitter.EmitRun(runID, EventToolCallsDropped, map[string]any{
				"iteration": iteration,
				"executed":  call.Name,
				"dropped":   dropped,
			})
			log.Warn("model requested several tool calls; running only the first",
				"executed", call.Name, "dropped", strings.Join(dropped, ","))
		}

		binding, ok := s.registry.Resolve(call.Name)
		if !ok {
			nf := &ToolNotFoundError{Name: call.Name, Available: s.registry.Names()}
			s.emitter.EmitRun(runID, EventError, map[string]any{"error": nf.Error()})
			log.Error("model requested an unknown tool", "tool", call.Name)
			return s.fail(res, StatusToolNotFound, nf)
		}

		record := s.invoke(ctx, runID, iteration, binding, call)
		res.ToolCalls = append(res.ToolCalls, record)

		if err := s.history.Append(NewToolCallTurn(record.ID, record.Name, record.Arguments)); err != nil {
			return s.fail(res, StatusInternalError, err)
		}
		if err := s.history.Append(NewToolResultTurn(record.ID, record.Name, record.Result, record.IsError)); err != nil {
			return s.fail(res, StatusInternalError, err)
		}

		if s.config.EnableLoopDetection && DetectLoop(s.history.AsSequence(), s.config.LoopDetectionWindow) {
			msg := fmt.Sprintf("the last %d tool calls follow a repeating pattern", s.config.LoopDetectionWindow)
			s.emitter.EmitRun(runID, EventLoopDetection, map[string]any{"message": msg})
			log.Warn("tool loop detected", "window", s.config.LoopDetectionWindow)
		}
	}

	s.emitter.EmitRun(runID, EventTurnLimit, map[string]any{"iterations": res.Iterations})
	log.Warn("iteration cap reached without a final answer", "max_iterations", s.config.MaxIterations)
	res.Status = StatusMaxIterationsExceeded
	res.err = &MaxIterationsExceededError{Limit: s.config.MaxIterations}
	return res, nil
}

func (s *Session) fail(res *RunResult, status RunStatus, err error) (*RunResult, error) {
	res.Status = status
	res.err = err
	return res, err
}

// complete sends one request with retries, each attempt under its own
// deadline.
func (s *Session) complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	policy := s.config.Retry
	policy.AttemptTimeout = s.config.ModelCallTimeout
	return unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*unifiedllm.Response, error) {
		return s.client.Complete(ctx, req)
	})
}

// invoke runs one tool call. Decode failures, returned errors and panics
// all become error results.
func (s *Session) invoke(ctx context.Context, runID string, iteration int, binding *ToolBinding, call unifiedllm.ToolCall) ToolCallRecord {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.New().String()
	}
	record := ToolCallRecord{Iteration: iteration, ID: id, Name: call.Name}

	s.emitter.EmitRun(runID, EventToolCallStart, map[string]any{
		"tool_name": call.Name,
		"call_id":   id,
		"arguments": string(call.Arguments),
	})

	start := time.Now()
	args, err := DecodeArguments(call.Arguments)
	var value any
	if err == nil {
		record.Arguments = args
		value, err = runTool(ctx, binding.Execute, args)
	} else {
		record.Arguments = map[string]any{}
	}
	record.Duration = time.Since(start)

	if err != nil {
		record.Err = &ToolExecutionError{Name: call.Name, Cause: err}
		record.Result = err.Error()
		record.IsError = true
		s.logger.Warn("tool failed", "run_id", runID, "tool", call.Name, "error", record.Err)
		s.emitter.EmitRun(runID, EventToolCallEnd, map[string]any{
			"call_id": id,
			"error":   err.Error(),
		})
		return record
	}

	record.Result = value
	s.emitter.EmitRun(runID, EventToolCallEnd, map[string]any{
		"call_id":     id,
		"output":      value,
		"duration_ms": record.Duration.Milliseconds(),
	})
	return record
}

func runTool(ctx context.Context, fn ToolFunc, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, args)
}

// composeUserMessage prefixes the input with the watched file, after
// checking it for changes. Check failures are logged and the last known
// content is used.
func (s *Session) composeUserMessage(runID, input string) string {
	cur := s.tracker.Current()
	if cur == nil {
		return input
	}

	var notice string
	rec, err := s.tracker.CheckForChanges(cur.Path)
	switch {
	case err != nil:
		s.logger.Warn("file check failed", "run_id", runID, "path", cur.Path, "error", err)
		var nf *FileNotFoundError
		if errors.As(err, &nf) {
			s.emitter.EmitRun(runID, EventWarning, map[string]any{"message": nf.Error()})
		}
	case rec != nil:
		notice = FormatChangeNotice(*rec)
		s.emitFileChanged(runID, *rec)
	}

	fileCtx, ok := s.tracker.FormatForModel()
	if !ok {
		return input
	}
	var b strings.Builder
	if notice != "" {
		b.WriteString(notice)
		b.WriteString("\n")
	}
	b.WriteString(fileCtx)
	b.WriteString("\n\n[USER QUESTION]\n")
	b.WriteString(input)
	b.WriteString("\n\n")
	b.WriteString(fileQuestionNote)
	return b.String()
}
