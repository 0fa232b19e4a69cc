package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/evidence"
	"github.com/fathomlabs/fathom/internal/issue"
	"github.com/fathomlabs/fathom/internal/knowledge"
	"github.com/fathomlabs/fathom/internal/preprocess"
	"github.com/fathomlabs/fathom/internal/provider"
	"github.com/fathomlabs/fathom/internal/tools"
)

// sequenceProvider replays a fixed list of responses and records every
// request it receives. The final response repeats once exhausted.
type sequenceProvider struct {
	responses []*provider.Response
	requests  [][]provider.Message
	idx       int
}

func (s *sequenceProvider) Chat(_ context.Context, _ string, messages []provider.Message, _ []provider.ToolDefinition) (*provider.Response, error) {
	recorded := make([]provider.Message, len(messages))
	copy(recorded, messages)
	s.requests = append(s.requests, recorded)

	i := s.idx
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.idx++
	return s.responses[i], nil
}

func (s *sequenceProvider) Name() string  { return "stub" }
func (s *sequenceProvider) Model() string { return "stub-model" }

type failingProvider struct{}

func (failingProvider) Chat(_ context.Context, _ string, _ []provider.Message, _ []provider.ToolDefinition) (*provider.Response, error) {
	return nil, fmt.Errorf("%w: 3 attempts failed: connection refused", provider.ErrDelegateUnavailable)
}
func (failingProvider) Name() string  { return "stub" }
func (failingProvider) Model() string { return "stub-model" }

// stub reviewers

type acceptAllReviewer struct{}

func (acceptAllReviewer) Review(_ *Diagnosis, _ *evidence.Ledger) ReviewVerdict {
	return ReviewVerdict{Accepted: true}
}

type rejectNReviewer struct {
	rejections int
	reasons    []string
	calls      int
}

func (r *rejectNReviewer) Review(_ *Diagnosis, _ *evidence.Ledger) ReviewVerdict {
	r.calls++
	if r.calls <= r.rejections {
		return ReviewVerdict{Accepted: false, Reasons: r.reasons}
	}
	return ReviewVerdict{Accepted: true}
}

type alwaysRejectReviewer struct{ reasons []string }

func (r alwaysRejectReviewer) Review(_ *Diagnosis, _ *evidence.Ledger) ReviewVerdict {
	return ReviewVerdict{Accepted: false, Reasons: r.reasons}
}

// fixtures

func testIssue(t *testing.T, description string) *issue.Issue {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "issue.md"), []byte(description), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"),
		[]byte("10:00:01 INFO started\n10:00:05 ERROR connection refused\n10:00:06 FATAL node crashed"), 0o644))

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	return &issue.Issue{ID: "test-issue", Description: description, Dir: abs}
}

func testRegistry(t *testing.T, root string) *tools.Registry {
	t.Helper()
	pipeline, err := preprocess.NewPipeline(preprocess.NewRegexMasker(preprocess.DefaultMaskRules()))
	require.NoError(t, err)

	r := tools.NewRegistry()
	r.Register(tools.NewGlobTool(root))
	r.Register(tools.NewGrepTool(root, pipeline))
	r.Register(tools.NewReadTool(root, pipeline))
	return r
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.IssueDirs = []string{"/tmp/unused"}
	return cfg
}

func testEngine(t *testing.T, cfg *config.Config, p provider.Provider, iss *issue.Issue, store *knowledge.Store, reviewer Reviewer) *Engine {
	t.Helper()
	e, err := NewEngine(Options{
		Config:   cfg,
		Provider: p,
		Registry: testRegistry(t, iss.Dir),
		Store:    store,
		Reviewer: reviewer,
	})
	require.NoError(t, err)
	return e
}

func toolCallResp(id, name, input string) *provider.Response {
	return &provider.Response{
		StopReason: provider.StopReasonToolUse,
		ToolCalls: []provider.ToolUseBlock{
			{ID: id, Name: name, Input: json.RawMessage(input)},
		},
		Usage: provider.Usage{InputTokens: 100, OutputTokens: 20},
	}
}

func draftResp(id string, citations ...string) *provider.Response {
	draft := map[string]interface{}{
		"root_cause":        "database connection pool exhausted",
		"confidence":        "low",
		"evidence_strength": "weak",
		"causal_chain":      []string{"pool exhausted", "requests refused"},
		"citations":         citations,
	}
	input, _ := json.Marshal(draft)
	return toolCallResp(id, ToolSubmitDiagnosis, string(input))
}

// tests

func TestRunCompletesWithAcceptedDiagnosis(t *testing.T) {
	iss := testIssue(t, "API requests fail with connection refused")
	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", "grep", `{"pattern":"ERROR"}`),
		draftResp("t2", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, report.Outcome)
	assert.False(t, report.BudgetLimited)
	assert.Equal(t, 1, report.Drafts)
	require.NotNil(t, report.Diagnosis)
	assert.Equal(t, "database connection pool exhausted", report.Diagnosis.RootCause)

	// Referential integrity: every citation renders from a real ledger item.
	require.Len(t, report.Citations[evidence.KindLog], 1)
	assert.Equal(t, "E1", report.Citations[evidence.KindLog][0].ID)
	assert.Equal(t, 2, report.Usage.Steps)

	// Token accounting reflects what the delegate reported (120 per turn),
	// not the pre-turn estimates stacked on top of it.
	assert.Equal(t, 240, report.Usage.Tokens)
}

func TestKnowledgeInjectionAttachesExactlyMatchingDocument(t *testing.T) {
	dir := t.TempDir()
	index := `documents:
  - key: crash
    file: crash.md
    keywords: ["stack trace"]
  - key: oom
    file: oom.md
    keywords: ["OOMKilled"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.yaml"), []byte(index), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crash.md"), []byte("Crash handling guide."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oom.md"), []byte("OOM guide."), 0o644))
	store, err := knowledge.Load(dir)
	require.NoError(t, err)

	iss := testIssue(t, "node crashed: found a stack trace in app.log")
	p := &sequenceProvider{responses: []*provider.Response{
		draftResp("t1", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, store, NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, report.Outcome)

	// Exactly the matching document was injected, no others.
	require.Len(t, report.Citations[evidence.KindKnowledge], 1)
	assert.Equal(t, "crash", report.Citations[evidence.KindKnowledge][0].Locator)

	// The seed context carries the document content.
	require.NotEmpty(t, p.requests)
	seed := p.requests[0][0].Content
	assert.Contains(t, seed, "Crash handling guide.")
	assert.NotContains(t, seed, "OOM guide.")
}

func TestUnregisteredToolContinuesRun(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", "no_such_tool", `{}`),
		toolCallResp("t2", "grep", `{"pattern":"ERROR"}`),
		draftResp("t3", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)

	// The run continued past the invalid call and completed.
	assert.Equal(t, OutcomeDone, report.Outcome)
	assert.Equal(t, 1, report.EvidenceCount)

	// The gateway reported invalid_argument back to the delegate.
	require.GreaterOrEqual(t, len(p.requests), 2)
	second := p.requests[1]
	last := second[len(second)-1]
	require.Len(t, last.ToolResult, 1)
	assert.Contains(t, last.ToolResult[0].Content, "invalid_argument")
	assert.True(t, last.ToolResult[0].IsError)
}

func TestLedgerTurnsAreMonotonic(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", "grep", `{"pattern":"ERROR"}`),
		toolCallResp("t2", "read", `{"path":"app.log"}`),
		draftResp("t3", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	require.Equal(t, OutcomeDone, report.Outcome)

	// Timeline and citations derive from the ledger; the run recorded one
	// item per successful read-type call in discovery order.
	assert.Equal(t, 2, report.EvidenceCount)
}

func TestBudgetAbortsRunAfterMaxSteps(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	cfg := testConfig()
	cfg.Investigator.MaxSteps = 3

	// The delegate always wants another tool call.
	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", "grep", `{"pattern":"ERROR"}`),
	}}
	e := testEngine(t, cfg, p, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAborted, report.Outcome)
	assert.True(t, report.BudgetLimited)
	assert.Nil(t, report.Diagnosis)

	// Exactly 3 steps consumed, no fourth turn executed.
	assert.Equal(t, 3, report.Usage.Steps)
	assert.Len(t, p.requests, 3)
}

func TestReviewRejectTwiceThenAccept(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	cfg := testConfig()
	cfg.Reviewer.MaxReviewRounds = 5

	reviewer := &rejectNReviewer{rejections: 2, reasons: []string{"needs stronger citations"}}
	p := &sequenceProvider{responses: []*provider.Response{
		draftResp("t1", "E1"),
	}}
	e := testEngine(t, cfg, p, iss, knowledge.Empty(), reviewer)

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, report.Outcome)
	assert.Equal(t, 3, report.Drafts)
	require.NotNil(t, report.Diagnosis)
	assert.Empty(t, report.Diagnosis.Annotations)
}

func TestReviewLoopBoundWithAlwaysRejectingReviewer(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	cfg := testConfig()
	cfg.Reviewer.MaxReviewRounds = 2

	reviewer := alwaysRejectReviewer{reasons: []string{"never good enough"}}
	p := &sequenceProvider{responses: []*provider.Response{
		draftResp("t1", "E1"),
	}}
	e := testEngine(t, cfg, p, iss, knowledge.Empty(), reviewer)

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)

	// Terminates within max_review_rounds + 1 drafts, forced acceptance.
	assert.Equal(t, OutcomeDone, report.Outcome)
	assert.Equal(t, 3, report.Drafts)
	require.NotNil(t, report.Diagnosis)
	require.Len(t, report.Diagnosis.Annotations, 1)
	assert.Contains(t, report.Diagnosis.Annotations[0], "unresolved reviewer concerns")
	assert.Contains(t, report.Diagnosis.Annotations[0], "never good enough")
}

func TestRejectionReasonsCarriedVerbatim(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	reasons := []string{
		"citation E9 does not resolve to a recorded evidence item",
		"causal_chain must trace at least root cause and observed symptom",
	}
	reviewer := &rejectNReviewer{rejections: 1, reasons: reasons}
	p := &sequenceProvider{responses: []*provider.Response{
		draftResp("t1", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, knowledge.Empty(), reviewer)

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	require.Equal(t, OutcomeDone, report.Outcome)

	// The context of the second draft contains every reason verbatim.
	require.GreaterOrEqual(t, len(p.requests), 2)
	var transcript strings.Builder
	for _, msg := range p.requests[1] {
		transcript.WriteString(msg.Content)
		for _, tr := range msg.ToolResult {
			transcript.WriteString(tr.Content)
		}
	}
	for _, reason := range reasons {
		assert.Contains(t, transcript.String(), reason)
	}
}

func TestAbortedRunAnnotatesLastDraft(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	cfg := testConfig()
	cfg.Investigator.MaxSteps = 2
	cfg.Reviewer.MaxReviewRounds = 5

	reviewer := alwaysRejectReviewer{reasons: []string{"insufficient evidence"}}
	p := &sequenceProvider{responses: []*provider.Response{
		draftResp("t1", "E1"),
	}}
	e := testEngine(t, cfg, p, iss, knowledge.Empty(), reviewer)

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAborted, report.Outcome)
	assert.True(t, report.BudgetLimited)
	assert.Equal(t, 2, report.Drafts)
	require.NotNil(t, report.Diagnosis)
	require.Len(t, report.Diagnosis.Annotations, 1)
	assert.Contains(t, report.Diagnosis.Annotations[0], "aborted by budget")
}

func TestDelegateUnavailableIsFatal(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	e := testEngine(t, testConfig(), failingProvider{}, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, provider.ErrDelegateUnavailable)
}

func TestInspectorHandoff(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", ToolDelegateInspector, `{"focus":"why connections are refused"}`),
		toolCallResp("t2", "grep", `{"pattern":"ERROR"}`),
		toolCallResp("t3", ToolSubmitFinding, `{"finding":"the database listener is down"}`),
		draftResp("t4", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, report.Outcome)

	// Inspector evidence landed in the shared ledger and is citable.
	require.Len(t, report.Citations[evidence.KindLog], 1)

	// The finding came back into the investigator's context.
	require.Len(t, p.requests, 4)
	final := p.requests[3]
	var sawFinding bool
	for _, msg := range final {
		for _, tr := range msg.ToolResult {
			if strings.Contains(tr.Content, "the database listener is down") {
				sawFinding = true
			}
		}
	}
	assert.True(t, sawFinding)
}

func TestInspectorSeedCarriesKnowledge(t *testing.T) {
	dir := t.TempDir()
	index := `documents:
  - key: pool
    file: pool.md
    keywords: ["connection refused"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.yaml"), []byte(index), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pool.md"), []byte("Pool sizing guide."), 0o644))
	store, err := knowledge.Load(dir)
	require.NoError(t, err)

	iss := testIssue(t, "API requests fail with connection refused")
	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", ToolDelegateInspector, `{"focus":"check pool limits"}`),
		toolCallResp("t2", ToolSubmitFinding, `{"finding":"pool is capped at 5"}`),
		draftResp("t3", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, store, NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, report.Outcome)

	// The inspector's seed context carries the matched document.
	require.Len(t, p.requests, 3)
	inspectorSeed := p.requests[1][0].Content
	assert.Contains(t, inspectorSeed, "Pool sizing guide.")
	assert.Contains(t, inspectorSeed, "check pool limits")

	// Seeding both roles did not duplicate the ledger item.
	require.Len(t, report.Citations[evidence.KindKnowledge], 1)
	assert.Equal(t, 1, report.EvidenceCount)
}

func TestInspectorBudgetProducesPartialFinding(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	cfg := testConfig()
	cfg.Inspector.MaxSteps = 1

	p := &sequenceProvider{responses: []*provider.Response{
		toolCallResp("t1", ToolDelegateInspector, `{"focus":"dig into the logs"}`),
		// Inspector keeps calling tools and never submits; its single step
		// is consumed by this call.
		toolCallResp("t2", "grep", `{"pattern":"ERROR"}`),
		draftResp("t3", "E1"),
	}}
	e := testEngine(t, cfg, p, iss, knowledge.Empty(), NewLedgerReviewer())

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, report.Outcome)

	// The investigator received the budget-limited hand-back.
	require.Len(t, p.requests, 3)
	final := p.requests[2]
	var sawPartial bool
	for _, msg := range final {
		for _, tr := range msg.ToolResult {
			if strings.Contains(tr.Content, "Inspection ended by budget") {
				sawPartial = true
			}
		}
	}
	assert.True(t, sawPartial)
}

func TestTextResponseIsNudgedForward(t *testing.T) {
	iss := testIssue(t, "API requests fail")
	p := &sequenceProvider{responses: []*provider.Response{
		{Content: "Let me think about this.", StopReason: provider.StopReasonEndTurn},
		draftResp("t1", "E1"),
	}}
	e := testEngine(t, testConfig(), p, iss, knowledge.Empty(), acceptAllReviewer{})

	report, err := e.Run(context.Background(), iss)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, report.Outcome)

	require.Len(t, p.requests, 2)
	second := p.requests[1]
	last := second[len(second)-1]
	assert.Contains(t, last.Content, "Continue the investigation")
}
