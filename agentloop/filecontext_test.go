package agentloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileTrackerWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calc.py")
	writeFile(t, path, "def add(a, b):\n    return a + b\n")

	tr := NewFileTracker()
	fc, err := tr.Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if fc.FileName != "calc.py" || fc.Extension != "py" || fc.Language != "python" {
		t.Errorf("unexpected metadata %+v", fc)
	}
	if fc.LineCount != 3 || fc.Size != int64(len(fc.Content)) {
		t.Errorf("unexpected counts lines=%d size=%d", fc.LineCount, fc.Size)
	}
	if fc.Fingerprint != (RollingHash{}).Fingerprint(fc.Content) {
		t.Error("fingerprint does not match content")
	}

	fc.Content = "mutated"
	if tr.Current().Content == "mutated" {
		t.Error("Watch must return a copy")
	}
}

func TestFileTrackerWatchMissing(t *testing.T) {
	_, err := NewFileTracker().Watch(filepath.Join(t.TempDir(), "nope.js"))
	var nf *FileNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FileNotFoundError, got %v", err)
	}

	_, err = NewFileTracker().Watch(t.TempDir())
	var re *FileReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected FileReadError for a directory, got %v", err)
	}
}

func TestFileTrackerCheckForChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.js")
	writeFile(t, path, "a\nb\nc\nd\ne")

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := NewFileTracker(WithClock(func() time.Time { return fixed }))
	if _, err := tr.Watch(path); err != nil {
		t.Fatal(err)
	}

	rec, err := tr.CheckForChanges(path)
	if err != nil || rec != nil {
		t.Fatalf("unchanged file reported %+v, %v", rec, err)
	}
	rec, err = tr.CheckForChanges(path)
	if err != nil || rec != nil {
		t.Fatalf("second check reported %+v, %v", rec, err)
	}

	writeFile(t, path, "a\nB\nc\nD\ne\nf")
	rec, err = tr.CheckForChanges(path)
	if err != nil || rec == nil {
		t.Fatalf("expected a change record, got %+v, %v", rec, err)
	}
	if rec.Delta != (LineDelta{Added: 1, Removed: 0, Modified: 2}) {
		t.Errorf("unexpected delta %+v", rec.Delta)
	}
	if rec.OldLineCount != 5 || rec.NewLineCount != 6 || !rec.Timestamp.Equal(fixed) {
		t.Errorf("unexpected record %+v", rec)
	}
	if got := tr.Current(); got.Content != "a\nB\nc\nD\ne\nf" || got.LineCount != 6 {
		t.Errorf("tracker state not updated: %+v", got)
	}

	rec, err = tr.CheckForChanges(path)
	if err != nil || rec != nil {
		t.Fatalf("check after update reported %+v, %v", rec, err)
	}
	if n := len(tr.Changes()); n != 1 {
		t.Errorf("expected 1 change record, got %d", n)
	}
}

func TestFileTrackerCheckErrors(t *testing.T) {
	dir := t.TempDir()
	tr := NewFileTracker()

	if _, err := tr.CheckForChanges(filepath.Join(dir, "x.go")); !errors.Is(err, ErrNotWatched) {
		t.Errorf("expected ErrNotWatched, got %v", err)
	}

	path := filepath.Join(dir, "gone.go")
	writeFile(t, path, "package gone")
	if _, err := tr.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	_, err := tr.CheckForChanges(path)
	var nf *FileNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FileNotFoundError, got %v", err)
	}
	if tr.Current().Content != "package gone" {
		t.Error("state must be kept when the file disappears")
	}
}

func TestFileTrackerDetectsNonUTF8Edits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	writeFile(t, path, "a\xffb")
	tr := NewFileTracker()
	if _, err := tr.Watch(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "a\xfeb")
	rec, err := tr.CheckForChanges(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Delta.Modified != 1 {
		t.Fatalf("expected one modified line, got %+v", rec)
	}
}

func TestDiffLines(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		want     LineDelta
	}{
		{name: "identical", old: "a\nb", new: "a\nb", want: LineDelta{}},
		{name: "appended", old: "a", new: "a\nb\nc", want: LineDelta{Added: 2}},
		{name: "truncated", old: "a\nb\nc", new: "a", want: LineDelta{Removed: 2}},
		{name: "last two lines replaced and one added", old: "a\nb\nc\nd\ne", new: "a\nb\nc\nX\nY\nZ", want: LineDelta{Added: 1, Modified: 2}},
		{name: "edited", old: "a\nb\nc\nd\ne", new: "a\nB\nc\nD\ne\nf", want: LineDelta{Added: 1, Modified: 2}},
		{name: "insert at top shifts lines", old: "a\nb", new: "x\na\nb", want: LineDelta{Added: 1, Modified: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffLines(tt.old, tt.new)
			if got != tt.want {
				t.Errorf("DiffLines() = %+v, want %+v", got, tt.want)
			}
			if got.Total() != tt.want.Added+tt.want.Removed+tt.want.Modified {
				t.Errorf("Total() = %d", got.Total())
			}
		})
	}
}

func TestFileTrackerMaxChangeHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, path, "v0")
	tr := NewFileTracker(WithMaxChangeHistory(3))
	if _, err := tr.Watch(path); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		writeFile(t, path, strings.Repeat("line\n", i))
		if _, err := tr.CheckForChanges(path); err != nil {
			t.Fatal(err)
		}
	}
	changes := tr.Changes()
	if len(changes) != 3 {
		t.Fatalf("expected 3 retained changes, got %d", len(changes))
	}
	if changes[2].NewLineCount != 6 || changes[0].NewLineCount != 4 {
		t.Errorf("expected the newest changes retained, got %+v", changes)
	}
}

func TestFormatForModel(t *testing.T) {
	tr := NewFileTracker()
	if _, ok := tr.FormatForModel(); ok {
		t.Fatal("nothing watched should report false")
	}

	path := filepath.Join(t.TempDir(), "app.ts")
	writeFile(t, path, "let x = 1;")
	if _, err := tr.Watch(path); err != nil {
		t.Fatal(err)
	}
	out, ok := tr.FormatForModel()
	if !ok {
		t.Fatal("expected formatted context")
	}
	if strings.Contains(out, "[RECENT CHANGES]") {
		t.Error("no changes yet, block should be absent")
	}

	for i := 0; i < 4; i++ {
		writeFile(t, path, fmt.Sprintf("let x = %d;\nlet y = 0;", i+2))
		if _, err := tr.CheckForChanges(path); err != nil {
			t.Fatal(err)
		}
	}
	out, _ = tr.FormatForModel()
	for _, want := range []string{
		"[CURRENT FILE CONTEXT]\nFile: app.ts\nPath: " + tr.Current().Path + "\nLanguage: typescript\nLines: 2\n",
		"[RECENT CHANGES]\n1. app.ts",
		"3. app.ts - 1 changes (0 added, 0 removed)",
		"[FILE CONTENT]\n```typescript\nlet x = 5;\nlet y = 0;\n```\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "4. app.ts") {
		t.Error("only the last three changes should be listed")
	}
}

func TestFormatChangeNotice(t *testing.T) {
	notice := FormatChangeNotice(ChangeRecord{
		FileName:     "main.go",
		OldLineCount: 5,
		NewLineCount: 6,
		Delta:        LineDelta{Added: 1, Modified: 2},
	})
	for _, want := range []string{
		"[AUTOMATIC FILE CHANGE DETECTION]",
		`The file "main.go" has been modified:`,
		"- Lines changed: 5 → 6",
		"- Modifications: 1 added, 0 removed, 2 modified",
	} {
		if !strings.Contains(notice, want) {
			t.Errorf("notice missing %q:\n%s", want, notice)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"a.js":        "javascript",
		"b.TSX":       "typescript",
		"c.rs":        "rust",
		"d.go":        "go",
		"Makefile":    "text",
		"notes.weird": "text",
	}
	for path, want := range tests {
		if got := DetectLanguage(path); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}
