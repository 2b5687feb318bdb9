package agentloop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileContext is the tracked state of one source file.
type FileContext struct {
	Path        string    `json:"path"`
	FileName    string    `json:"file_name"`
	Extension   string    `json:"extension"`
	Content     string    `json:"content"`
	Fingerprint string    `json:"fingerprint"`
	LineCount   int       `json:"line_count"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Language    string    `json:"language"`
}

// LineDelta counts positional line differences between two versions.
type LineDelta struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}

// Total is Added + Removed + Modified.
func (d LineDelta) Total() int { return d.Added + d.Removed + d.Modified }

// ChangeRecord describes one detected modification of a watched file.
type ChangeRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Path         string    `json:"path"`
	FileName     string    `json:"file_name"`
	OldLineCount int       `json:"old_line_count"`
	NewLineCount int       `json:"new_line_count"`
	Delta        LineDelta `json:"delta"`
}

const (
	defaultMaxChangeHistory = 100
	recentChangesShown      = 3
)

// FileTracker watches source files and detects changes by fingerprint. It
// holds one current file, the one most recently watched or changed.
type FileTracker struct {
	mu          sync.Mutex
	watched     map[string]*FileContext
	current     *FileContext
	changes     []ChangeRecord
	fingerprint Fingerprinter
	maxChanges  int
	now         func() time.Time
}

// FileTrackerOption configures a FileTracker.
type FileTrackerOption func(*FileTracker)

// WithFingerprinter replaces the default RollingHash.
func WithFingerprinter(f Fingerprinter) FileTrackerOption {
	return func(t *FileTracker) {
		if f != nil {
			t.fingerprint = f
		}
	}
}

// WithMaxChangeHistory caps the number of retained ChangeRecords.
func WithMaxChangeHistory(n int) FileTrackerOption {
	return func(t *FileTracker) {
		if n > 0 {
			t.maxChanges = n
		}
	}
}

// WithClock sets the time source for ChangeRecord timestamps.
func WithClock(now func() time.Time) FileTrackerOption {
	return func(t *FileTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewFileTracker creates a FileTracker with nothing watched.
func NewFileTracker(opts ...FileTrackerOption) *FileTracker {
	t := &FileTracker{
		watched:     make(map[string]*FileContext),
		fingerprint: RollingHash{},
		maxChanges:  defaultMaxChangeHistory,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Watch loads path, records its fingerprint and makes it the current file.
func (t *FileTracker) Watch(path string) (*FileContext, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &FileReadError{Path: path, Cause: err}
	}
	content, info, err := readTracked(abs)
	if err != nil {
		return nil, err
	}

	fc := &FileContext{
		Path:        abs,
		FileName:    filepath.Base(abs),
		Extension:   strings.TrimPrefix(filepath.Ext(abs), "."),
		Content:     content,
		Fingerprint: t.fingerprint.Fingerprint(content),
		LineCount:   countLines(content),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Language:    DetectLanguage(abs),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched[abs] = fc
	t.current = fc
	out := *fc
	return &out, nil
}

// CheckForChanges re-reads a watched file. A nil record with a nil error
// means the content is unchanged.
func (t *FileTracker) CheckForChanges(path string) (*ChangeRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &FileReadError{Path: path, Cause: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fc, ok := t.watched[abs]
	if !ok {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotWatched)
	}
	content, info, err := readTracked(abs)
	if err != nil {
		return nil, err
	}
	sum := t.fingerprint.Fingerprint(content)
	if sum == fc.Fingerprint {
		return nil, nil
	}

	rec := ChangeRecord{
		Timestamp:    t.now(),
		Path:         abs,
		FileName:     fc.FileName,
		OldLineCount: fc.LineCount,
		NewLineCount: countLines(content),
		Delta:        DiffLines(fc.Content, content),
	}
	t.changes = append(t.changes, rec)
	if over := len(t.changes) - t.maxChanges; over > 0 {
		t.changes = append([]ChangeRecord(nil), t.changes[over:]...)
	}

	fc.Content = content
	fc.LineCount = rec.NewLineCount
	fc.Size = info.Size()
	fc.ModTime = info.ModTime()
	fc.Fingerprint = sum
	t.current = fc

	return &rec, nil
}

// DiffLines compares two versions line by line at equal indices. It does
// not align insertions, so a line inserted near the top shows up as a run
// of modifications plus one addition.
func DiffLines(oldContent, newContent string) LineDelta {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	var d LineDelta
	for i := 0; i < max(len(oldLines), len(newLines)); i++ {
		switch {
		case i >= len(oldLines):
			d.Added++
		case i >= len(newLines):
			d.Removed++
		case oldLines[i] != newLines[i]:
			d.Modified++
		}
	}
	return d
}

// Current returns a copy of the current file context, or nil.
func (t *FileTracker) Current() *FileContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	out := *t.current
	return &out
}

// Changes returns a copy of the recorded changes, oldest first.
func (t *FileTracker) Changes() []ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ChangeRecord(nil), t.changes...)
}

// FormatForModel renders the current file and its last few changes as a
// text block for the user message. It returns false when nothing is watched.
func (t *FileTracker) FormatForModel() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return "", false
	}
	fc := t.current

	var b strings.Builder
	b.WriteString("[CURRENT FILE CONTEXT]\n")
	fmt.Fprintf(&b, "File: %s\n", fc.FileName)
	fmt.Fprintf(&b, "Path: %s\n", fc.Path)
	fmt.Fprintf(&b, "Language: %s\n", fc.Language)
	fmt.Fprintf(&b, "Lines: %d\n", fc.LineCount)
	fmt.Fprintf(&b, "Size: %d bytes\n\n", fc.Size)

	recent := t.changes
	if len(recent) > recentChangesShown {
		recent = recent[len(recent)-recentChangesShown:]
	}
	if len(recent) > 0 {
		b.WriteString("[RECENT CHANGES]\n")
		for i, c := range recent {
			fmt.Fprintf(&b, "%d. %s - %d changes (%d added, %d removed)\n",
				i+1, c.FileName, c.Delta.Total(), c.Delta.Added, c.Delta.Removed)
		}
		b.WriteString("\n")
	}

	b.WriteString("[FILE CONTENT]\n")
	fmt.Fprintf(&b, "```%s\n", fc.Language)
	b.WriteString(fc.Content)
	b.WriteString("\n```\n")
	return b.String(), true
}

// FormatChangeNotice renders the notice added to the next user message after
// a change is detected.
func FormatChangeNotice(rec ChangeRecord) string {
	return fmt.Sprintf("[AUTOMATIC FILE CHANGE DETECTION]\n"+
		"The file %q has been modified:\n"+
		"- Lines changed: %d → %d\n"+
		"- Modifications: %d added, %d removed, %d modified\n\n"+
		"Updated file content is now in context.\n",
		rec.FileName, rec.OldLineCount, rec.NewLineCount,
		rec.Delta.Added, rec.Delta.Removed, rec.Delta.Modified)
}

var languageByExt = map[string]string{
	"js":    "javascript",
	"jsx":   "javascript",
	"ts":    "typescript",
	"tsx":   "typescript",
	"py":    "python",
	"java":  "java",
	"cpp":   "cpp",
	"c":     "c",
	"cs":    "csharp",
	"go":    "go",
	"rs":    "rust",
	"rb":    "ruby",
	"php":   "php",
	"swift": "swift",
	"kt":    "kotlin",
	"html":  "html",
	"css":   "css",
	"json":  "json",
	"xml":   "xml",
	"md":    "markdown",
}

// DetectLanguage names the language of path from its extension, or "text".
func DetectLanguage(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return "text"
}

func countLines(content string) int {
	return strings.Count(content, "\n") + 1
}

func readTracked(abs string) (string, fs.FileInfo, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, &FileNotFoundError{Path: abs}
		}
		return "", nil, &FileReadError{Path: abs, Cause: err}
	}
	if info.IsDir() {
		return "", nil, &FileReadError{Path: abs, Cause: errors.New("is a directory")}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, &FileNotFoundError{Path: abs}
		}
		return "", nil, &FileReadError{Path: abs, Cause: err}
	}
	return string(data), info, nil
}
