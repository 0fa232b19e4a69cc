package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/fathomlabs/fathom/internal/evidence"
)

const defaultAnalyzeTimeout = 60 * time.Second

// AnalyzeCodeTool runs an external static-analysis command against a source
// file in the issue directory and records its output as code evidence. The
// command is host-supplied configuration, for example a linter or a
// project-specific analyzer script.
type AnalyzeCodeTool struct {
	root    string
	command []string
	timeout time.Duration
}

// NewAnalyzeCodeTool creates the tool. command is the analyzer argv; the
// target file path is appended as the final argument on each call.
func NewAnalyzeCodeTool(root string, command []string) *AnalyzeCodeTool {
	return &AnalyzeCodeTool{
		root:    root,
		command: command,
		timeout: defaultAnalyzeTimeout,
	}
}

func (t *AnalyzeCodeTool) Name() string { return "analyze_code" }

func (t *AnalyzeCodeTool) Description() string {
	return `Run static analysis on a source file from the problem directory.

Use this tool when log evidence points at a specific source file and you need
a deeper look at its structure or defects.

Input:
- path: Source file path relative to the problem directory (required)`
}

func (t *AnalyzeCodeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"path"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Source file path relative to the problem directory",
			},
		},
	}
}

type analyzeInput struct {
	Path string `json:"path"`
}

func (t *AnalyzeCodeTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args analyzeInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("failed to parse analyze_code input: %w", err)
	}

	if len(t.command) == 0 {
		return &Result{Success: false, Error: "no analyzer command configured"}, nil
	}

	abs, err := resolvePath(t.root, args.Path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	argv := append(append([]string{}, t.command[1:]...), abs)
	// analyzer command comes from operator configuration
	// #nosec G204 -- Analyzer argv is fixed at construction time
	cmd := exec.CommandContext(ctx, t.command[0], argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("analyzer failed: %v: %s", err, stderr.String()),
		}, nil
	}

	output := stdout.String()
	item := evidence.Item{
		Kind:    evidence.KindCode,
		Content: output,
		Source:  "analyze_code",
		Locator: args.Path,
	}

	return &Result{
		Success:  true,
		Data:     map[string]interface{}{"path": args.Path, "output": output},
		Summary:  fmt.Sprintf("Analyzed %s (%d bytes of output)", args.Path, len(output)),
		Evidence: []evidence.Item{item},
	}, nil
}
