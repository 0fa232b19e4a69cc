// Package audit provides audit logging for diagnosis runs. It captures all
// run events (role activations, tool calls, delegate requests, verdicts) to
// a JSONL file for debugging, analysis, and reproducibility.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeRunStart marks the start of a diagnosis run.
	EventTypeRunStart EventType = "run_start"
	// EventTypeRoleActivated marks when a role's loop becomes active.
	EventTypeRoleActivated EventType = "role_activated"
	// EventTypeToolStart marks the start of a tool call.
	EventTypeToolStart EventType = "tool_start"
	// EventTypeToolComplete marks the completion of a tool call.
	EventTypeToolComplete EventType = "tool_complete"
	// EventTypeDelegateRequest logs each delegate request with token usage.
	EventTypeDelegateRequest EventType = "delegate_request"
	// EventTypeKnowledgeInjected marks knowledge documents seeded into context.
	EventTypeKnowledgeInjected EventType = "knowledge_injected"
	// EventTypeDraftSubmitted marks a draft diagnosis submission.
	EventTypeDraftSubmitted EventType = "draft_submitted"
	// EventTypeReviewVerdict marks a reviewer verdict on a draft.
	EventTypeReviewVerdict EventType = "review_verdict"
	// EventTypeBudgetExhausted marks a role hitting a budget ceiling.
	EventTypeBudgetExhausted EventType = "budget_exhausted"
	// EventTypeError marks an error during processing.
	EventTypeError EventType = "error"
	// EventTypeRunEnd marks the end of a diagnosis run.
	EventTypeRunEnd EventType = "run_end"
)

// Event represents a single audit log event.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Type is the event type.
	Type EventType `json:"type"`
	// RunID is the diagnosis run identifier.
	RunID string `json:"run_id"`
	// Role is the name of the role that generated the event (if applicable).
	Role string `json:"role,omitempty"`
	// Data contains event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Logger writes audit events to a JSONL file.
type Logger struct {
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
	runID  string
}

// NewLogger creates a new audit logger that writes to the specified file path.
// If the file exists, new events are appended.
func NewLogger(filePath, runID string) (*Logger, error) {
	// filePath is user-provided configuration for audit log location
	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		file:   file,
		writer: bufio.NewWriter(file),
		runID:  runID,
	}, nil
}

// write writes an event to the audit log.
func (l *Logger) write(event Event) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}

	return nil
}

// LogRunStart logs the start of a diagnosis run.
func (l *Logger) LogRunStart(issueID, providerName, model string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeRunStart,
		RunID:     l.runID,
		Data: map[string]interface{}{
			"issue_id": issueID,
			"provider": providerName,
			"model":    model,
		},
	})
}

// LogRoleActivated logs when a role's loop becomes active.
func (l *Logger) LogRoleActivated(role string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeRoleActivated,
		RunID:     l.runID,
		Role:      role,
	})
}

// LogToolStart logs the start of a tool call.
func (l *Logger) LogToolStart(role, toolName string, args json.RawMessage) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeToolStart,
		RunID:     l.runID,
		Role:      role,
		Data: map[string]interface{}{
			"tool_name": toolName,
			"args":      string(args),
		},
	})
}

// LogToolComplete logs the completion of a tool call.
func (l *Logger) LogToolComplete(role, toolName string, success bool, code string, durationMs int64, summary string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeToolComplete,
		RunID:     l.runID,
		Role:      role,
		Data: map[string]interface{}{
			"tool_name":   toolName,
			"success":     success,
			"code":        code,
			"duration_ms": durationMs,
			"summary":     truncateString(summary, 500),
		},
	})
}

// LogDelegateRequest logs an individual delegate request with token usage.
func (l *Logger) LogDelegateRequest(role, providerName, model string, inputTokens, outputTokens int, stopReason string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeDelegateRequest,
		RunID:     l.runID,
		Role:      role,
		Data: map[string]interface{}{
			"provider":      providerName,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
			"stop_reason":   stopReason,
		},
	})
}

// LogKnowledgeInjected logs the documents seeded into a role's context.
func (l *Logger) LogKnowledgeInjected(role string, keys []string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeKnowledgeInjected,
		RunID:     l.runID,
		Role:      role,
		Data: map[string]interface{}{
			"keys": keys,
		},
	})
}

// LogDraftSubmitted logs a draft diagnosis submission.
func (l *Logger) LogDraftSubmitted(draftNumber int, confidence string, citations int) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeDraftSubmitted,
		RunID:     l.runID,
		Role:      "investigator",
		Data: map[string]interface{}{
			"draft_number": draftNumber,
			"confidence":   confidence,
			"citations":    citations,
		},
	})
}

// LogReviewVerdict logs a reviewer verdict on a draft.
func (l *Logger) LogReviewVerdict(draftNumber int, accepted bool, reasons []string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeReviewVerdict,
		RunID:     l.runID,
		Role:      "reviewer",
		Data: map[string]interface{}{
			"draft_number": draftNumber,
			"accepted":     accepted,
			"reasons":      reasons,
		},
	})
}

// LogBudgetExhausted logs a role hitting a budget ceiling.
func (l *Logger) LogBudgetExhausted(role string, steps, tokens int, elapsedMs int64) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeBudgetExhausted,
		RunID:     l.runID,
		Role:      role,
		Data: map[string]interface{}{
			"steps":      steps,
			"tokens":     tokens,
			"elapsed_ms": elapsedMs,
		},
	})
}

// LogError logs an error during processing.
func (l *Logger) LogError(role string, err error) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeError,
		RunID:     l.runID,
		Role:      role,
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

// LogRunEnd logs the end of a diagnosis run.
func (l *Logger) LogRunEnd(outcome string, drafts, evidenceItems int, duration time.Duration) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeRunEnd,
		RunID:     l.runID,
		Data: map[string]interface{}{
			"outcome":        outcome,
			"drafts":         drafts,
			"evidence_items": evidenceItems,
			"duration_ms":    duration.Milliseconds(),
		},
	})
}

// Close closes the audit logger and flushes any pending writes.
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error

	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush audit log: %w", err))
	}

	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log file: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing audit log: %v", errs)
	}

	return nil
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
