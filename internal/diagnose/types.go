// Package diagnose implements the diagnosis orchestration engine: the
// investigator loop, the inspector sub-loop, the review protocol, and the
// report synthesizer.
package diagnose

import (
	"encoding/json"
	"fmt"

	"github.com/fathomlabs/fathom/internal/provider"
)

// Confidence is the discrete confidence level of a diagnosis.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ValidConfidence reports whether c is one of the known levels.
func ValidConfidence(c Confidence) bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// EvidenceStrength grades how strongly the gathered evidence supports the
// diagnosis.
type EvidenceStrength string

const (
	StrengthWeak     EvidenceStrength = "weak"
	StrengthModerate EvidenceStrength = "moderate"
	StrengthStrong   EvidenceStrength = "strong"
)

// ValidStrength reports whether s is one of the known levels.
func ValidStrength(s EvidenceStrength) bool {
	switch s {
	case StrengthWeak, StrengthModerate, StrengthStrong:
		return true
	}
	return false
}

// Diagnosis is a root-cause hypothesis. It is a draft until the reviewer
// accepts it; exactly one diagnosis is final per run.
type Diagnosis struct {
	// RootCause is the root-cause statement.
	RootCause string `json:"root_cause"`

	// Confidence is the discrete confidence level.
	Confidence Confidence `json:"confidence"`

	// EvidenceStrength grades the supporting evidence.
	EvidenceStrength EvidenceStrength `json:"evidence_strength"`

	// CausalChain is ordered from root cause to observed symptom.
	CausalChain []string `json:"causal_chain"`

	// Citations reference evidence ledger item IDs.
	Citations []string `json:"citations"`

	// Recommendations are optional remediation suggestions.
	Recommendations []string `json:"recommendations,omitempty"`

	// Annotations carry engine-added notes, such as unresolved reviewer
	// concerns on a forced acceptance. Never set by the delegate.
	Annotations []string `json:"annotations,omitempty"`
}

// ReviewVerdict is the reviewer's decision on a draft.
type ReviewVerdict struct {
	// Accepted terminates the revision loop when true.
	Accepted bool `json:"accepted"`

	// Reasons lists the structured rejection reasons; empty when accepted.
	Reasons []string `json:"reasons,omitempty"`
}

// Protocol tool names. These are recognized by the engine itself rather than
// the dispatch gateway: the delegate uses them to hand off or submit.
const (
	// ToolDelegateInspector hands off to the inspector sub-loop.
	ToolDelegateInspector = "delegate_inspector"

	// ToolSubmitDiagnosis submits a draft diagnosis for review.
	ToolSubmitDiagnosis = "submit_diagnosis"

	// ToolSubmitFinding ends the inspector sub-loop with its finding.
	ToolSubmitFinding = "submit_finding"
)

// ActionKind tags the variant of a parsed delegate response.
type ActionKind string

const (
	// ActionToolCall requests one or more gateway tool executions.
	ActionToolCall ActionKind = "tool_call"

	// ActionDelegate requests an inspector hand-off.
	ActionDelegate ActionKind = "delegate"

	// ActionDraft submits a draft diagnosis.
	ActionDraft ActionKind = "draft"

	// ActionFinding ends an inspector sub-loop.
	ActionFinding ActionKind = "finding"

	// ActionText is a plain text response with no tool use.
	ActionText ActionKind = "text"
)

// Action is the tagged variant decoded from a delegate response. Exactly one
// payload field is populated, per Kind.
type Action struct {
	Kind ActionKind

	// ToolUseID is the protocol tool call's ID, used to pair the follow-up
	// tool result. Set for delegate, draft, and finding actions.
	ToolUseID string

	// ToolCalls is set for ActionToolCall.
	ToolCalls []provider.ToolUseBlock

	// Focus is set for ActionDelegate: what the inspector should dig into.
	Focus string

	// Draft is set for ActionDraft.
	Draft *Diagnosis

	// Finding is set for ActionFinding.
	Finding string

	// Text is set for ActionText.
	Text string
}

type delegateInput struct {
	Focus string `json:"focus"`
}

type findingInput struct {
	Finding string `json:"finding"`
}

// parseAction decodes a delegate response into exactly one Action. Protocol
// tools take precedence over gateway tools; a response mixing a protocol tool
// with other calls resolves to the protocol action and drops the rest.
func parseAction(resp *provider.Response) (*Action, error) {
	for _, tc := range resp.ToolCalls {
		switch tc.Name {
		case ToolSubmitDiagnosis:
			var draft Diagnosis
			if err := json.Unmarshal(tc.Input, &draft); err != nil {
				return nil, fmt.Errorf("malformed %s payload: %w", ToolSubmitDiagnosis, err)
			}
			return &Action{Kind: ActionDraft, ToolUseID: tc.ID, Draft: &draft}, nil

		case ToolDelegateInspector:
			var in delegateInput
			if err := json.Unmarshal(tc.Input, &in); err != nil {
				return nil, fmt.Errorf("malformed %s payload: %w", ToolDelegateInspector, err)
			}
			return &Action{Kind: ActionDelegate, ToolUseID: tc.ID, Focus: in.Focus}, nil

		case ToolSubmitFinding:
			var in findingInput
			if err := json.Unmarshal(tc.Input, &in); err != nil {
				return nil, fmt.Errorf("malformed %s payload: %w", ToolSubmitFinding, err)
			}
			return &Action{Kind: ActionFinding, ToolUseID: tc.ID, Finding: in.Finding}, nil
		}
	}

	if len(resp.ToolCalls) > 0 {
		return &Action{Kind: ActionToolCall, ToolCalls: resp.ToolCalls}, nil
	}

	return &Action{Kind: ActionText, Text: resp.Content}, nil
}

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeDone means the reviewer accepted a diagnosis.
	OutcomeDone Outcome = "done"

	// OutcomeAborted means a budget ceiling ended the run before acceptance.
	OutcomeAborted Outcome = "aborted"
)
