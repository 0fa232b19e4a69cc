package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestLoggerWritesJSONLEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewLogger(path, "run-1")
	require.NoError(t, err)

	require.NoError(t, logger.LogRunStart("node-crash", "scripted", "scripted:demo"))
	require.NoError(t, logger.LogRoleActivated("investigator"))
	require.NoError(t, logger.LogToolStart("investigator", "grep", json.RawMessage(`{"pattern":"ERROR"}`)))
	require.NoError(t, logger.LogToolComplete("investigator", "grep", true, "", 12, "Found 3 matches"))
	require.NoError(t, logger.LogDelegateRequest("investigator", "scripted", "scripted:demo", 100, 20, "tool_use"))
	require.NoError(t, logger.LogKnowledgeInjected("investigator", []string{"oom"}))
	require.NoError(t, logger.LogDraftSubmitted(1, "medium", 2))
	require.NoError(t, logger.LogReviewVerdict(1, false, []string{"citation E9 does not resolve"}))
	require.NoError(t, logger.LogBudgetExhausted("investigator", 3, 5000, 1500))
	require.NoError(t, logger.LogError("investigator", errors.New("boom")))
	require.NoError(t, logger.LogRunEnd("done", 2, 7, 3*time.Second))
	require.NoError(t, logger.Close())

	events := readEvents(t, path)
	require.Len(t, events, 11)

	assert.Equal(t, EventTypeRunStart, events[0].Type)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "node-crash", events[0].Data["issue_id"])

	assert.Equal(t, EventTypeToolComplete, events[3].Type)
	assert.Equal(t, "investigator", events[3].Role)
	assert.Equal(t, true, events[3].Data["success"])

	assert.Equal(t, EventTypeDelegateRequest, events[4].Type)
	assert.Equal(t, float64(120), events[4].Data["total_tokens"])

	assert.Equal(t, EventTypeReviewVerdict, events[7].Type)
	assert.Equal(t, false, events[7].Data["accepted"])

	assert.Equal(t, EventTypeRunEnd, events[10].Type)
	assert.Equal(t, "done", events[10].Data["outcome"])
}

func TestLoggerAppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	first, err := NewLogger(path, "run-1")
	require.NoError(t, err)
	require.NoError(t, first.LogRoleActivated("investigator"))
	require.NoError(t, first.Close())

	second, err := NewLogger(path, "run-2")
	require.NoError(t, err)
	require.NoError(t, second.LogRoleActivated("reviewer"))
	require.NoError(t, second.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "run-2", events[1].RunID)
}
