package diagnose

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathom/internal/provider"
)

func TestParseActionToolCall(t *testing.T) {
	resp := &provider.Response{
		ToolCalls: []provider.ToolUseBlock{
			{ID: "t1", Name: "grep", Input: json.RawMessage(`{"pattern":"ERROR"}`)},
			{ID: "t2", Name: "read", Input: json.RawMessage(`{"path":"app.log"}`)},
		},
	}

	action, err := parseAction(resp)
	require.NoError(t, err)
	assert.Equal(t, ActionToolCall, action.Kind)
	assert.Len(t, action.ToolCalls, 2)
}

func TestParseActionDraft(t *testing.T) {
	input := `{"root_cause":"disk full","confidence":"medium","evidence_strength":"moderate","causal_chain":["disk filled","writes failed"],"citations":["E1","E2"]}`
	resp := &provider.Response{
		ToolCalls: []provider.ToolUseBlock{
			{ID: "t1", Name: ToolSubmitDiagnosis, Input: json.RawMessage(input)},
		},
	}

	action, err := parseAction(resp)
	require.NoError(t, err)
	assert.Equal(t, ActionDraft, action.Kind)
	assert.Equal(t, "t1", action.ToolUseID)
	require.NotNil(t, action.Draft)
	assert.Equal(t, "disk full", action.Draft.RootCause)
	assert.Equal(t, ConfidenceMedium, action.Draft.Confidence)
	assert.Equal(t, []string{"E1", "E2"}, action.Draft.Citations)
}

func TestParseActionDelegate(t *testing.T) {
	resp := &provider.Response{
		ToolCalls: []provider.ToolUseBlock{
			{ID: "t1", Name: ToolDelegateInspector, Input: json.RawMessage(`{"focus":"why the worker OOMed"}`)},
		},
	}

	action, err := parseAction(resp)
	require.NoError(t, err)
	assert.Equal(t, ActionDelegate, action.Kind)
	assert.Equal(t, "why the worker OOMed", action.Focus)
}

func TestParseActionFinding(t *testing.T) {
	resp := &provider.Response{
		ToolCalls: []provider.ToolUseBlock{
			{ID: "t1", Name: ToolSubmitFinding, Input: json.RawMessage(`{"finding":"the retry loop never backs off"}`)},
		},
	}

	action, err := parseAction(resp)
	require.NoError(t, err)
	assert.Equal(t, ActionFinding, action.Kind)
	assert.Equal(t, "the retry loop never backs off", action.Finding)
}

func TestParseActionProtocolTakesPrecedence(t *testing.T) {
	resp := &provider.Response{
		ToolCalls: []provider.ToolUseBlock{
			{ID: "t1", Name: "grep", Input: json.RawMessage(`{"pattern":"x"}`)},
			{ID: "t2", Name: ToolDelegateInspector, Input: json.RawMessage(`{"focus":"f"}`)},
		},
	}

	action, err := parseAction(resp)
	require.NoError(t, err)
	assert.Equal(t, ActionDelegate, action.Kind)
	assert.Equal(t, "t2", action.ToolUseID)
}

func TestParseActionText(t *testing.T) {
	action, err := parseAction(&provider.Response{Content: "thinking..."})
	require.NoError(t, err)
	assert.Equal(t, ActionText, action.Kind)
	assert.Equal(t, "thinking...", action.Text)
}

func TestParseActionMalformedProtocolPayload(t *testing.T) {
	resp := &provider.Response{
		ToolCalls: []provider.ToolUseBlock{
			{ID: "t1", Name: ToolSubmitDiagnosis, Input: json.RawMessage(`not json`)},
		},
	}

	_, err := parseAction(resp)
	assert.Error(t, err)
}

func TestValidityHelpers(t *testing.T) {
	assert.True(t, ValidConfidence(ConfidenceLow))
	assert.False(t, ValidConfidence("certain"))
	assert.True(t, ValidStrength(StrengthStrong))
	assert.False(t, ValidStrength(""))
}
