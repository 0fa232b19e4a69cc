package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fathomlabs/fathom/internal/evidence"
	"github.com/fathomlabs/fathom/internal/knowledge"
)

// LoadKnowledgeTool lets a role pull a knowledge document by key mid-loop.
// This complements the one-shot seeding at loop start: seeding covers keys
// matched against the issue text, this tool covers keys the role discovers
// while reading evidence.
type LoadKnowledgeTool struct {
	store *knowledge.Store
}

// NewLoadKnowledgeTool creates the tool backed by the run's knowledge store.
func NewLoadKnowledgeTool(store *knowledge.Store) *LoadKnowledgeTool {
	return &LoadKnowledgeTool{store: store}
}

func (t *LoadKnowledgeTool) Name() string { return "load_knowledge" }

func (t *LoadKnowledgeTool) Description() string {
	return fmt.Sprintf(`Load a knowledge document by key.

Available keys: %v

Input:
- key: Knowledge document key (required)`, t.store.Keys())
}

func (t *LoadKnowledgeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"key"},
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Knowledge document key",
			},
		},
	}
}

type loadKnowledgeInput struct {
	Key string `json:"key"`
}

func (t *LoadKnowledgeTool) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	var args loadKnowledgeInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("failed to parse load_knowledge input: %w", err)
	}

	doc, ok := t.store.Get(args.Key)
	if !ok {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("unknown knowledge key %q, available: %v", args.Key, t.store.Keys()),
		}, nil
	}

	item := evidence.Item{
		Kind:    evidence.KindKnowledge,
		Content: doc.Content,
		Source:  "load_knowledge",
		Locator: doc.Key,
	}

	return &Result{
		Success:  true,
		Data:     map[string]interface{}{"key": doc.Key, "title": doc.Title, "content": doc.Content},
		Summary:  fmt.Sprintf("Loaded knowledge document %q", doc.Key),
		Evidence: []evidence.Item{item},
	}, nil
}
