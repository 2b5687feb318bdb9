package agentloop

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultSearchInclude selects the source files search_in_code looks at when
// no include pattern is given.
const DefaultSearchInclude = "**/*.{js,jsx,ts,tsx,py,java,cpp,c,go,rs}"

// DefaultSearchLimit caps the hits returned by Search.
const DefaultSearchLimit = 20

// Workspace is the directory tree the file tools operate on. Relative paths
// resolve against its root, and paths that lead outside it, through ".." or
// an absolute path elsewhere, are refused. The check is lexical; symlinks
// inside the tree are followed. Tools only read from it.
type Workspace struct {
	root      string
	platform  string
	osVersion string
}

// NewWorkspace creates a Workspace rooted at root, or the current directory
// when root is empty.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	return &Workspace{
		root:      abs,
		platform:  runtime.GOOS,
		osVersion: runtime.GOOS + "/" + runtime.GOARCH,
	}, nil
}

func (w *Workspace) Root() string      { return w.root }
func (w *Workspace) Platform() string  { return w.platform }
func (w *Workspace) OSVersion() string { return w.osVersion }

// Resolve makes path absolute relative to the workspace root. It fails with
// ErrOutsideWorkspace when the result is not under the root.
func (w *Workspace) Resolve(path string) (string, error) {
	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(w.root, resolved)
	}
	rel, err := filepath.Rel(w.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideWorkspace)
	}
	return resolved, nil
}

// ReadFile reads a whole file.
func (w *Workspace) ReadFile(path string) (string, fs.FileInfo, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory", resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", nil, err
	}
	return string(data), info, nil
}

// SearchHit is one matching line.
type SearchHit struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// SearchResult reports every match counted and the first hits.
type SearchResult struct {
	Query        string      `json:"query"`
	TotalMatches int         `json:"totalMatches"`
	Results      []SearchHit `json:"results"`
}

// Search finds lines containing query, case-insensitively, in files under
// dir whose slash-separated relative path matches include. Dot directories
// and node_modules are skipped. TotalMatches counts all matches; Results
// holds at most limit of them.
func (w *Workspace) Search(ctx context.Context, query, dir, include string, limit int) (*SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if include == "" {
		include = DefaultSearchInclude
	}
	if !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("invalid include pattern %q", include)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	base := w.root
	if dir != "" {
		var err error
		if base, err = w.Resolve(dir); err != nil {
			return nil, err
		}
	}

	needle := strings.ToLower(query)
	res := &SearchResult{Query: query, Results: []SearchHit{}}

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != base && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(include, filepath.ToSlash(rel)); !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			res.TotalMatches++
			if len(res.Results) < limit {
				res.Results = append(res.Results, SearchHit{
					File:    path,
					Line:    i + 1,
					Content: strings.TrimSpace(line),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
