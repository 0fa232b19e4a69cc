package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fathomlabs/fathom/internal/evidence"
	"github.com/fathomlabs/fathom/internal/preprocess"
)

const (
	defaultGrepMaxMatches = 100
	maxGrepMaxMatches     = 500
	defaultReadMaxLines   = 500
	maxReadMaxLines       = 2000
)

// resolvePath joins a caller-supplied relative path onto the issue root and
// rejects anything that escapes it.
func resolvePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative to the issue directory", rel)
	}
	abs := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the issue directory", rel)
	}
	return abs, nil
}

// kindForPath classifies a file into an evidence kind by name and extension.
func kindForPath(path string) evidence.Kind {
	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "trace") {
		return evidence.KindTrace
	}
	switch filepath.Ext(name) {
	case ".log", ".txt", ".out":
		return evidence.KindLog
	case ".go", ".py", ".js", ".ts", ".java", ".rb", ".c", ".cc", ".cpp", ".h", ".rs":
		return evidence.KindCode
	default:
		return evidence.KindLog
	}
}

// GlobTool lists files in the issue directory matching a glob pattern.
// Listing produces no evidence; it only guides subsequent reads.
type GlobTool struct {
	root string
}

// NewGlobTool creates a glob tool rooted at the issue directory.
func NewGlobTool(root string) *GlobTool {
	return &GlobTool{root: root}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return `List files in the problem directory matching a glob pattern.

Use this tool to discover which logs, traces, and source files are available
before reading them.

Input:
- pattern: Glob pattern relative to the problem directory (e.g. "logs/*.log", "*.txt")`
}

func (t *GlobTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"pattern"},
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern relative to the problem directory",
			},
		},
	}
}

type globInput struct {
	Pattern string `json:"pattern"`
}

func (t *GlobTool) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	var args globInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("failed to parse glob input: %w", err)
	}

	if _, err := resolvePath(t.root, args.Pattern); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	matches, err := filepath.Glob(filepath.Join(t.root, args.Pattern))
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("bad glob pattern: %v", err)}, nil
	}

	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		r, err := filepath.Rel(t.root, m)
		if err != nil {
			continue
		}
		rel = append(rel, r)
	}
	sort.Strings(rel)

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"files": rel},
		Summary: fmt.Sprintf("Found %d files matching %q", len(rel), args.Pattern),
	}, nil
}

// GrepTool searches files for a regular expression, with match limits,
// optional context lines, and an optional HH:mm:ss time window for log
// filtering. File content passes through the preprocessing pipeline before
// the search, so matches never expose unmasked data.
type GrepTool struct {
	root     string
	pipeline *preprocess.Pipeline
}

// NewGrepTool creates a grep tool rooted at the issue directory.
func NewGrepTool(root string, pipeline *preprocess.Pipeline) *GrepTool {
	return &GrepTool{root: root, pipeline: pipeline}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return `Search files in the problem directory for a regular expression.

Use this tool to find error messages, stack traces, and suspicious log lines.

Input:
- pattern: Regular expression to search for (required)
- glob: File glob to restrict the search (default: all files)
- max_matches: Maximum matching lines to return (default 100, max 500)
- context: Lines of surrounding context per match (default 0)
- after_time: Only lines at or after this HH:mm:ss clock time
- before_time: Only lines at or before this HH:mm:ss clock time`
}

func (t *GrepTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"pattern"},
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "File glob to restrict the search (default: all files)",
			},
			"max_matches": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum matching lines to return (default 100, max 500)",
			},
			"context": map[string]interface{}{
				"type":        "integer",
				"description": "Lines of surrounding context per match (default 0)",
			},
			"after_time": map[string]interface{}{
				"type":        "string",
				"description": "Only lines at or after this HH:mm:ss clock time",
			},
			"before_time": map[string]interface{}{
				"type":        "string",
				"description": "Only lines at or before this HH:mm:ss clock time",
			},
		},
	}
}

type grepInput struct {
	Pattern    string `json:"pattern"`
	Glob       string `json:"glob"`
	MaxMatches int    `json:"max_matches"`
	Context    int    `json:"context"`
	AfterTime  string `json:"after_time"`
	BeforeTime string `json:"before_time"`
}

type grepMatch struct {
	File    string   `json:"file"`
	Line    int      `json:"line"`
	Text    string   `json:"text"`
	Context []string `json:"context,omitempty"`
}

var clockPattern = regexp.MustCompile(`\b(\d{2}):(\d{2}):(\d{2})\b`)

func (t *GrepTool) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	var args grepInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("failed to parse grep input: %w", err)
	}

	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("bad pattern: %v", err)}, nil
	}

	if args.MaxMatches <= 0 {
		args.MaxMatches = defaultGrepMaxMatches
	}
	if args.MaxMatches > maxGrepMaxMatches {
		args.MaxMatches = maxGrepMaxMatches
	}

	files, err := t.candidateFiles(args.Glob)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	var matches []grepMatch
	var items []evidence.Item
	total := 0

	for _, file := range files {
		if total >= args.MaxMatches {
			break
		}
		content, err := t.pipeline.ProcessFile(file)
		if err != nil {
			// Unreadable files are skipped, not fatal to the search.
			continue
		}
		relPath, _ := filepath.Rel(t.root, file)
		lines := strings.Split(content, "\n")
		fileMatches := 0
		var excerptLines []string
		firstLine := 0

		for i, line := range lines {
			if total >= args.MaxMatches {
				break
			}
			if !re.MatchString(line) {
				continue
			}
			if !withinTimeWindow(line, args.AfterTime, args.BeforeTime) {
				continue
			}

			m := grepMatch{File: relPath, Line: i + 1, Text: line}
			if args.Context > 0 {
				m.Context = contextLines(lines, i, args.Context)
			}
			matches = append(matches, m)
			excerptLines = append(excerptLines, line)
			if fileMatches == 0 {
				firstLine = i + 1
			}
			fileMatches++
			total++
		}

		if fileMatches > 0 {
			items = append(items, evidence.Item{
				Kind:    kindForPath(file),
				Content: strings.Join(excerptLines, "\n"),
				Source:  "grep",
				Locator: fmt.Sprintf("%s:%d", relPath, firstLine),
			})
		}
	}

	return &Result{
		Success:  true,
		Data:     map[string]interface{}{"matches": matches, "total": total},
		Summary:  fmt.Sprintf("Found %d matches for %q in %d files", total, args.Pattern, len(items)),
		Evidence: items,
	}, nil
}

// candidateFiles returns all regular files under root, optionally filtered by
// a glob, in lexical order.
func (t *GrepTool) candidateFiles(glob string) ([]string, error) {
	if glob != "" {
		if _, err := resolvePath(t.root, glob); err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(filepath.Join(t.root, glob))
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern: %v", err)
		}
		var files []string
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				files = append(files, m)
			}
		}
		sort.Strings(files)
		return files, nil
	}

	var files []string
	err := filepath.Walk(t.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// withinTimeWindow checks a line's first HH:mm:ss token against the window.
// Lines without a clock token always pass; the filter narrows, it does not
// exclude untimed lines.
func withinTimeWindow(line, after, before string) bool {
	if after == "" && before == "" {
		return true
	}
	token := clockPattern.FindString(line)
	if token == "" {
		return true
	}
	if after != "" && token < after {
		return false
	}
	if before != "" && token > before {
		return false
	}
	return true
}

func contextLines(lines []string, idx, n int) []string {
	start := idx - n
	if start < 0 {
		start = 0
	}
	end := idx + n + 1
	if end > len(lines) {
		end = len(lines)
	}
	out := make([]string, 0, end-start)
	out = append(out, lines[start:idx]...)
	out = append(out, lines[idx+1:end]...)
	return out
}

// ReadTool reads a file from the issue directory through the preprocessing
// pipeline and records it as evidence.
type ReadTool struct {
	root     string
	pipeline *preprocess.Pipeline
}

// NewReadTool creates a read tool rooted at the issue directory.
func NewReadTool(root string, pipeline *preprocess.Pipeline) *ReadTool {
	return &ReadTool{root: root, pipeline: pipeline}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return `Read a file from the problem directory.

Use this tool to read log files, traces, and source code. Large files can be
read in slices with offset and max_lines.

Input:
- path: File path relative to the problem directory (required)
- offset: 1-based line to start reading from (default 1)
- max_lines: Maximum lines to return (default 500, max 2000)`
}

func (t *ReadTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"path"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path relative to the problem directory",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-based line to start reading from (default 1)",
			},
			"max_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum lines to return (default 500, max 2000)",
			},
		},
	}
}

type readInput struct {
	Path     string `json:"path"`
	Offset   int    `json:"offset"`
	MaxLines int    `json:"max_lines"`
}

func (t *ReadTool) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	var args readInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("failed to parse read input: %w", err)
	}

	abs, err := resolvePath(t.root, args.Path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	content, err := t.pipeline.ProcessFile(abs)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	if args.Offset < 1 {
		args.Offset = 1
	}
	if args.MaxLines <= 0 {
		args.MaxLines = defaultReadMaxLines
	}
	if args.MaxLines > maxReadMaxLines {
		args.MaxLines = maxReadMaxLines
	}

	lines := strings.Split(content, "\n")
	totalLines := len(lines)
	start := args.Offset - 1
	if start > totalLines {
		start = totalLines
	}
	end := start + args.MaxLines
	if end > totalLines {
		end = totalLines
	}
	slice := strings.Join(lines[start:end], "\n")

	item := evidence.Item{
		Kind:    kindForPath(abs),
		Content: slice,
		Source:  "read",
		Locator: fmt.Sprintf("%s:%d", args.Path, args.Offset),
	}

	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"path":        args.Path,
			"content":     slice,
			"total_lines": totalLines,
			"offset":      args.Offset,
			"returned":    end - start,
		},
		Summary:  fmt.Sprintf("Read %s lines %d-%d of %d", args.Path, args.Offset, end, totalLines),
		Evidence: []evidence.Item{item},
	}, nil
}
