package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathom/internal/evidence"
	"github.com/fathomlabs/fathom/internal/preprocess"
)

func issueDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func maskedPipeline(t *testing.T) *preprocess.Pipeline {
	t.Helper()
	p, err := preprocess.NewPipeline(preprocess.NewRegexMasker(preprocess.DefaultMaskRules()))
	require.NoError(t, err)
	return p
}

func TestGlobListsMatchingFiles(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log":      "line",
		"kernel.log":   "line",
		"notes.md":     "notes",
		"logs/old.log": "line",
	})
	tool := NewGlobTool(dir)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"*.log"}`))
	require.NoError(t, err)
	require.True(t, result.Success)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, []string{"app.log", "kernel.log"}, data["files"])
	assert.Empty(t, result.Evidence)
}

func TestGlobRejectsEscapingPattern(t *testing.T) {
	tool := NewGlobTool(issueDir(t, nil))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"../*"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "escapes")
}

func TestGrepFindsMatchesAndProducesEvidence(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log": "10:00:01 INFO started\n10:00:05 ERROR connection refused\n10:00:09 INFO retrying",
	})
	tool := NewGrepTool(dir, maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"ERROR"}`))
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, result.Evidence, 1)
	item := result.Evidence[0]
	assert.Equal(t, evidence.KindLog, item.Kind)
	assert.Equal(t, "grep", item.Source)
	assert.Equal(t, "app.log:2", item.Locator)
	assert.Contains(t, item.Content, "connection refused")
}

func TestGrepMasksBeforeMatching(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log": "10:00:05 ERROR auth failed password=hunter2",
	})
	tool := NewGrepTool(dir, maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"ERROR"}`))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Evidence, 1)
	assert.NotContains(t, result.Evidence[0].Content, "hunter2")
	assert.Contains(t, result.Evidence[0].Content, "password=[MASKED]")
}

func TestGrepHonorsMaxMatches(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log": "ERROR a\nERROR b\nERROR c\nERROR d",
	})
	tool := NewGrepTool(dir, maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"ERROR","max_matches":2}`))
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 2, data["total"])
}

func TestGrepTimeWindowFiltersClockedLines(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log": "09:59:59 ERROR early\n10:00:05 ERROR inside\n10:01:00 ERROR late\nERROR untimed",
	})
	tool := NewGrepTool(dir, maskedPipeline(t))

	input := `{"pattern":"ERROR","after_time":"10:00:00","before_time":"10:00:59"}`
	result, err := tool.Execute(context.Background(), json.RawMessage(input))
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	matches := data["matches"].([]grepMatch)
	require.Len(t, matches, 2)
	assert.Contains(t, matches[0].Text, "inside")
	// Lines without a clock token pass the filter.
	assert.Contains(t, matches[1].Text, "untimed")
}

func TestGrepContextLines(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log": "one\ntwo\nERROR three\nfour\nfive",
	})
	tool := NewGrepTool(dir, maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"ERROR","context":1}`))
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	matches := data["matches"].([]grepMatch)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"two", "four"}, matches[0].Context)
}

func TestReadReturnsMaskedSlice(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"src/server.go": "package main\n\nconst apiKey = \"x\"\n// token=abc123\nfunc main() {}",
	})
	tool := NewReadTool(dir, maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"src/server.go"}`))
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, result.Evidence, 1)
	item := result.Evidence[0]
	assert.Equal(t, evidence.KindCode, item.Kind)
	assert.Equal(t, "read", item.Source)
	assert.NotContains(t, item.Content, "abc123")
}

func TestReadOffsetAndMaxLines(t *testing.T) {
	dir := issueDir(t, map[string]string{
		"app.log": "l1\nl2\nl3\nl4\nl5",
	})
	tool := NewReadTool(dir, maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"app.log","offset":2,"max_lines":2}`))
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, "l2\nl3", data["content"])
	assert.Equal(t, 5, data["total_lines"])
	assert.Equal(t, 2, data["returned"])
}

func TestReadRejectsAbsoluteAndEscapingPaths(t *testing.T) {
	tool := NewReadTool(issueDir(t, nil), maskedPipeline(t))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"/etc/passwd"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = tool.Execute(context.Background(), json.RawMessage(`{"path":"../secret"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestKindForPath(t *testing.T) {
	assert.Equal(t, evidence.KindLog, kindForPath("app.log"))
	assert.Equal(t, evidence.KindCode, kindForPath("server.go"))
	assert.Equal(t, evidence.KindTrace, kindForPath("trace-2026.txt"))
	assert.Equal(t, evidence.KindLog, kindForPath("unknown.bin"))
}
