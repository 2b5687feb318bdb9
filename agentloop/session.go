package agentloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/synapse/unifiedllm"
)

// Session is one conversation: it owns a History and a FileTracker and runs
// the tool-calling loop against a shared, read-only ToolRegistry.
type Session struct {
	id          string
	client      *unifiedllm.Client
	profile     ProviderProfile
	registry    *ToolRegistry
	config      SessionConfig
	history     *History
	tracker     *FileTracker
	emitter     *EventEmitter
	logger      *slog.Logger
	projectDocs string

	mu      sync.Mutex
	running bool
	closed  bool
}

// NewSession creates a session. The registry may be shared between
// sessions; it must not be modified once sessions use it.
func NewSession(client *unifiedllm.Client, profile ProviderProfile, registry *ToolRegistry, cfg SessionConfig) (*Session, error) {
	if client == nil {
		return nil, errors.New("new session: client is required")
	}
	if profile == nil {
		return nil, errors.New("new session: profile is required")
	}
	if registry == nil {
		registry = NewToolRegistry()
	}
	cfg.applyDefaults()

	id := uuid.New().String()
	s := &Session{
		id:       id,
		client:   client,
		profile:  profile,
		registry: registry,
		config:   cfg,
		history:  NewHistory(),
		tracker: NewFileTracker(
			WithFingerprinter(cfg.Fingerprinter),
			WithMaxChangeHistory(cfg.MaxChangeHistory),
		),
		logger: cfg.Logger.With("session_id", id),
	}
	s.emitter = NewEventEmitter(id, cfg.EventBuffer, s.logger)
	if cfg.Workspace != nil {
		s.projectDocs = DiscoverProjectDocs(cfg.Workspace.Root(), profile.ID())
	}

	s.emitter.Emit(EventSessionStart, map[string]any{
		"provider": profile.ID(),
		"model":    profile.ModelID(),
		"tools":    registry.Names(),
	})
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) Profile() ProviderProfile { return s.profile }

// History returns a copy of the conversation.
func (s *Session) History() []Turn { return s.history.AsSequence() }

// Events returns the event channel for the host application. It is closed
// by Close.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// Watch loads path and makes it the file injected into subsequent runs.
func (s *Session) Watch(path string) (*FileContext, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	fc, err := s.tracker.Watch(path)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(EventFileWatched, map[string]any{
		"path":     fc.Path,
		"language": fc.Language,
		"lines":    fc.LineCount,
		"size":     fc.Size,
	})
	s.logger.Info("file watched", "path", fc.Path, "lines", fc.LineCount)
	return fc, nil
}

// CheckForChanges re-reads the current file. A nil record with a nil error
// means nothing changed.
func (s *Session) CheckForChanges() (*ChangeRecord, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	cur := s.tracker.Current()
	if cur == nil {
		return nil, ErrNotWatched
	}
	rec, err := s.tracker.CheckForChanges(cur.Path)
	if err != nil || rec == nil {
		return rec, err
	}
	s.emitFileChanged("", *rec)
	return rec, nil
}

func (s *Session) emitFileChanged(runID string, rec ChangeRecord) {
	s.emitter.EmitRun(runID, EventFileChanged, map[string]any{
		"path":     rec.Path,
		"old":      rec.OldLineCount,
		"new":      rec.NewLineCount,
		"added":    rec.Delta.Added,
		"removed":  rec.Delta.Removed,
		"modified": rec.Delta.Modified,
	})
	s.logger.Info("file changed", "path", rec.Path,
		"added", rec.Delta.Added, "removed", rec.Delta.Removed, "modified", rec.Delta.Modified)
}

// FileContext returns the current file, or nil when nothing is watched.
func (s *Session) FileContext() *FileContext { return s.tracker.Current() }

// ChangeHistory returns the recorded file changes, oldest first.
func (s *Session) ChangeHistory() []ChangeRecord { return s.tracker.Changes() }

// Close ends the session and closes the event channel. The client is not
// closed; it may serve other sessions.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]any{"turns": s.history.Len()})
	s.emitter.Close()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acquire marks the session as running, failing if it is closed or busy.
func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.running {
		return ErrSessionBusy
	}
	s.running = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// systemPrompt assembles the system instruction for one run.
func (s *Session) systemPrompt() string {
	prompt := s.profile.BuildSystemPrompt(s.config.Workspace, s.registry.Schemas(), s.projectDocs)
	if s.config.UserInstructions != "" {
		prompt += "\n\n# User Instructions\n\n" + s.config.UserInstructions
	}
	return prompt
}

// checkContextUsage warns when the transcript approaches the model's
// context window, estimating four characters per token.
func (s *Session) checkContextUsage(runID string, systemChars int) {
	window := s.profile.ContextWindowSize()
	if window <= 0 {
		return
	}
	approxTokens := (s.history.approxChars() + systemChars) / 4
	if approxTokens <= window*8/10 {
		return
	}
	pct := approxTokens * 100 / window
	msg := fmt.Sprintf("Context usage at ~%d%% of context window", pct)
	s.emitter.EmitRun(runID, EventWarning, map[string]any{"message": msg})
	s.logger.Warn("context usage high", "run_id", runID, "approx_tokens", approxTokens, "window", window)
}
