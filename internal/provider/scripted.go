package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Scenario defines a sequence of scripted delegate responses loaded from
// YAML. Scenarios drive tests and offline demo runs without real API calls.
type Scenario struct {
	// Name is the scenario identifier.
	Name string `yaml:"name"`

	// Description is a human-readable description of what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Steps defines the sequence of delegate responses.
	Steps []ScenarioStep `yaml:"steps"`
}

// ScenarioStep defines a single scripted delegate response.
type ScenarioStep struct {
	// Trigger is an optional pattern that must be present in the request to
	// activate this step. Supported forms:
	//   - "contains:text"          request text contains 'text'
	//   - "tool_result:tool_name"  previous turn returned results for 'tool_name'
	// If empty, the step fires unconditionally in sequence.
	Trigger string `yaml:"trigger,omitempty"`

	// Text is the text portion of the response.
	Text string `yaml:"text,omitempty"`

	// ToolCalls defines tool calls the scripted delegate will make.
	ToolCalls []ScriptedToolCall `yaml:"tool_calls,omitempty"`
}

// ScriptedToolCall defines a tool call the scripted delegate will make.
type ScriptedToolCall struct {
	Name string                 `yaml:"name"`
	Args map[string]interface{} `yaml:"args"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	// path is operator-provided configuration for scripted runs
	// #nosec G304 -- Scenario file path is intentionally configurable
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	return &scenario, nil
}

// ScriptedProvider implements Provider by replaying a Scenario. When the
// script runs out of steps it repeats the final step, which keeps
// budget-exhaustion tests simple.
type ScriptedProvider struct {
	mu       sync.Mutex
	scenario *Scenario
	idx      int
}

// NewScripted creates a provider that replays the given scenario.
func NewScripted(scenario *Scenario) *ScriptedProvider {
	return &ScriptedProvider{scenario: scenario}
}

// Chat implements Provider.Chat by emitting the next matching step.
func (s *ScriptedProvider) Chat(_ context.Context, _ string, messages []Message, _ []ToolDefinition) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.nextStep(messages)

	resp := &Response{
		Content:    step.Text,
		StopReason: StopReasonEndTurn,
		Usage: Usage{
			InputTokens:  EstimateTokens(messages),
			OutputTokens: len(step.Text) / 4,
		},
	}

	for _, tc := range step.ToolCalls {
		input, err := json.Marshal(tc.Args)
		if err != nil {
			return nil, fmt.Errorf("scripted tool call %s has unmarshalable args: %w", tc.Name, err)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolUseBlock{
			ID:    uuid.NewString(),
			Name:  tc.Name,
			Input: input,
		})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopReasonToolUse
	}

	return resp, nil
}

// nextStep advances the script, honoring triggers. Non-matching triggered
// steps are skipped; the final step repeats once the script is exhausted.
func (s *ScriptedProvider) nextStep(messages []Message) ScenarioStep {
	for ; s.idx < len(s.scenario.Steps); s.idx++ {
		step := s.scenario.Steps[s.idx]
		if step.Trigger == "" || triggerMatches(step.Trigger, messages) {
			s.idx++
			return step
		}
	}
	return s.scenario.Steps[len(s.scenario.Steps)-1]
}

func triggerMatches(trigger string, messages []Message) bool {
	switch {
	case strings.HasPrefix(trigger, "contains:"):
		needle := strings.TrimPrefix(trigger, "contains:")
		for _, m := range messages {
			if strings.Contains(m.Content, needle) {
				return true
			}
			for _, tr := range m.ToolResult {
				if strings.Contains(tr.Content, needle) {
					return true
				}
			}
		}
	case strings.HasPrefix(trigger, "tool_result:"):
		// Matching on the last message only: triggers react to the most
		// recent turn, not the whole transcript.
		if len(messages) == 0 {
			return false
		}
		name := strings.TrimPrefix(trigger, "tool_result:")
		last := messages[len(messages)-1]
		for _, tr := range last.ToolResult {
			if strings.Contains(tr.Content, name) {
				return true
			}
		}
	}
	return false
}

// Name implements Provider.Name.
func (s *ScriptedProvider) Name() string { return "scripted" }

// Model implements Provider.Model.
func (s *ScriptedProvider) Model() string {
	return fmt.Sprintf("scripted:%s", s.scenario.Name)
}
