// Package tools implements the tool dispatch gateway. Every tool call from a
// reasoning role passes through the Registry, which validates the tool name
// and arguments, executes the tool, and returns a uniform Result. Tool
// failures never propagate past the gateway; they come back as structured
// error results the roles can reason about.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fathomlabs/fathom/internal/evidence"
	"github.com/fathomlabs/fathom/internal/logging"
	"github.com/fathomlabs/fathom/internal/provider"
)

const (
	// MaxToolResponseBytes is the maximum size of a tool response in bytes.
	// Responses larger than this will be truncated to prevent context overflow.
	// 50KB is a reasonable limit (~12,500 tokens at 4 chars/token).
	MaxToolResponseBytes = 50 * 1024
)

// ErrorCode classifies gateway failures so roles can distinguish a bad
// request from a tool that ran and failed.
type ErrorCode string

const (
	// ErrCodeNone means the call succeeded.
	ErrCodeNone ErrorCode = ""

	// ErrCodeInvalidArgument means the tool name is unregistered or the
	// arguments violate the tool's input schema. The tool never ran.
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"

	// ErrCodeExecution means the tool ran and failed internally.
	ErrCodeExecution ErrorCode = "execution_error"
)

// Tool defines the interface for dispatchable tools.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description for the delegate.
	Description() string

	// InputSchema returns JSON Schema for input validation.
	InputSchema() map[string]interface{}

	// Execute runs the tool with given input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result represents the output of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success"`

	// Code classifies the failure when Success is false
	Code ErrorCode `json:"code,omitempty"`

	// Data contains the tool's output (tool-specific structure)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details if Success is false
	Error string `json:"error,omitempty"`

	// Summary is a brief description of what happened (for display)
	Summary string `json:"summary,omitempty"`

	// ExecutionTimeMs is how long the tool took to run
	ExecutionTimeMs int64 `json:"executionTimeMs"`

	// Evidence holds ledger items produced by this call. The engine appends
	// them after a successful call; they are not part of the wire payload.
	Evidence []evidence.Item `json:"-"`
}

// truncatedData is used when tool output exceeds MaxToolResponseBytes.
// It preserves structure while indicating data was truncated.
type truncatedData struct {
	Truncated      bool   `json:"_truncated"`
	OriginalBytes  int    `json:"_original_bytes"`
	TruncatedBytes int    `json:"_truncated_bytes"`
	TruncationNote string `json:"_truncation_note"`
	PartialData    string `json:"partial_data"`
}

// truncateResult checks if the result data exceeds maxBytes and truncates it
// if necessary to prevent context overflow.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil {
		// If we can't marshal, return as-is and let the caller handle it
		return result
	}

	if len(dataBytes) <= maxBytes {
		return result
	}

	// Keep the first ~80% of allowed bytes for partial data
	partialDataBytes := maxBytes * 80 / 100
	partialData := string(dataBytes)
	if len(partialData) > partialDataBytes {
		partialData = partialData[:partialDataBytes]
	}

	truncated := &truncatedData{
		Truncated:      true,
		OriginalBytes:  len(dataBytes),
		TruncatedBytes: maxBytes,
		TruncationNote: fmt.Sprintf("Response truncated from %d to ~%d bytes to prevent context overflow. Consider using more specific filters to reduce result size.", len(dataBytes), maxBytes),
		PartialData:    partialData,
	}

	summary := result.Summary
	if summary != "" {
		summary = fmt.Sprintf("%s [TRUNCATED: %d to %d bytes]", summary, len(dataBytes), maxBytes)
	} else {
		summary = fmt.Sprintf("[TRUNCATED: %d to %d bytes]", len(dataBytes), maxBytes)
	}

	return &Result{
		Success:         result.Success,
		Code:            result.Code,
		Data:            truncated,
		Error:           result.Error,
		Summary:         summary,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Evidence:        result.Evidence,
	}
}

// Registry manages tool registration and dispatch.
type Registry struct {
	tools  map[string]Tool
	order  []string
	mu     sync.RWMutex
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logging.GetLogger("tools.registry"),
	}
}

// Register adds a tool to the registry. Re-registering a name replaces the
// previous tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.logger.DebugWithFields("registered tool", logging.Field("name", tool.Name()))
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Subset returns a new registry containing only the named tools. Unknown
// names are skipped. Used to give the Inspector a narrower tool surface.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, name := range names {
		if tool, ok := r.Get(name); ok {
			sub.Register(tool)
		}
	}
	return sub
}

// ToProviderTools converts registry tools to provider tool definitions.
func (r *Registry) ToProviderTools() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, provider.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// Execute dispatches a tool call. The returned Result is never nil and an
// error never escapes; unregistered names and schema violations come back as
// invalid_argument, tool-internal failures as execution_error.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return &Result{
			Success: false,
			Code:    ErrCodeInvalidArgument,
			Error:   fmt.Sprintf("tool %q not found", name),
		}
	}

	if err := validateInput(tool.InputSchema(), input); err != nil {
		return &Result{
			Success: false,
			Code:    ErrCodeInvalidArgument,
			Error:   fmt.Sprintf("invalid arguments for tool %q: %v", name, err),
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return &Result{
			Success:         false,
			Code:            ErrCodeExecution,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	if !result.Success && result.Code == ErrCodeNone {
		result.Code = ErrCodeExecution
	}

	return truncateResult(result, MaxToolResponseBytes)
}
