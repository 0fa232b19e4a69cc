package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fathomlabs/fathom/internal/audit"
	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/evidence"
	"github.com/fathomlabs/fathom/internal/issue"
	"github.com/fathomlabs/fathom/internal/knowledge"
	"github.com/fathomlabs/fathom/internal/logging"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/provider"
	"github.com/fathomlabs/fathom/internal/tools"
)

// inspectorToolNames is the narrow gateway subset the inspector may use.
var inspectorToolNames = []string{"glob", "grep", "read", "analyze_code"}

// Engine orchestrates a diagnosis run: investigator loop, inspector
// hand-offs, review protocol, and report synthesis. All dependencies are
// resolved at construction and never re-selected mid-run.
type Engine struct {
	cfg      *config.Config
	provider provider.Provider
	registry *tools.Registry
	store    *knowledge.Store
	reviewer Reviewer
	audit    *audit.Logger
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Options collects the engine's injected dependencies. Audit and Metrics are
// optional; the rest are required.
type Options struct {
	Config   *config.Config
	Provider provider.Provider
	Registry *tools.Registry
	Store    *knowledge.Store
	Reviewer Reviewer
	Audit    *audit.Logger
	Metrics  *metrics.Metrics
}

// NewEngine creates an engine from resolved dependencies.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("engine requires a config")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("engine requires a reasoning delegate")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a tool registry")
	}
	if opts.Store == nil {
		opts.Store = knowledge.Empty()
	}
	if opts.Reviewer == nil {
		opts.Reviewer = NewLedgerReviewer()
	}

	return &Engine{
		cfg:      opts.Config,
		provider: opts.Provider,
		registry: opts.Registry,
		store:    opts.Store,
		reviewer: opts.Reviewer,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   logging.GetLogger("diagnose.engine"),
		tracer:   otel.Tracer("fathom/diagnose"),
	}, nil
}

// runState is the mutable state of one run, shared across role loops. The
// turn counter is global so ledger appends stay monotonic across hand-offs.
type runState struct {
	ledger   *evidence.Ledger
	turn     int
	drafts   int
	rejected int

	// knowledge holds the seeded document sections. Matching happens once
	// per run; both role loops prime their seed context from here.
	knowledge []string

	// lastDraft is the most recent submitted draft, kept for partial
	// reports when the budget ends the run.
	lastDraft *Diagnosis
}

// Run diagnoses one issue. A budget-limited run returns a report with
// Outcome aborted and a nil error; only delegate failures and internal
// errors return a non-nil error.
func (e *Engine) Run(ctx context.Context, iss *issue.Issue) (*Report, error) {
	runID := uuid.NewString()
	started := time.Now()
	logger := e.logger.WithField("run_id", runID).WithField("issue", iss.ID)

	ctx, span := e.tracer.Start(ctx, "diagnose.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("issue.id", iss.ID),
	))
	defer span.End()

	e.auditRunStart(iss.ID)
	logger.Info("Starting diagnosis run")

	state := &runState{ledger: evidence.NewLedger()}
	ctrl := budget.NewController(budget.Limits{
		MaxSteps:  e.cfg.Investigator.MaxSteps,
		MaxTokens: e.cfg.Investigator.MaxTokens,
		MaxWall:   e.cfg.Investigator.MaxWall(),
	})

	// One-shot knowledge seeding: matched documents become ledger items and
	// part of each role's opening context. No injection happens mid-loop.
	state.knowledge = e.injectKnowledge(iss, state)

	outcome, budgetLimited, diag, err := e.runInvestigator(ctx, iss, state, ctrl)
	if err != nil {
		e.auditError("investigator", err)
		e.observeRun("fatal")
		span.RecordError(err)
		span.SetStatus(codes.Error, "delegate failure")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("run.outcome", string(outcome)),
		attribute.Int("run.drafts", state.drafts),
		attribute.Int("run.evidence_items", state.ledger.Len()),
	)

	u := ctrl.Usage()
	report := synthesizeReport(runID, iss.ID, outcome, budgetLimited, diag, state.drafts, state.ledger, Usage{
		Steps:   u.Steps,
		Tokens:  u.Tokens,
		Elapsed: u.Elapsed,
	})

	e.observeRun(string(outcome))
	if e.metrics != nil {
		e.metrics.EvidenceItems.Set(float64(state.ledger.Len()))
	}
	e.auditRunEnd(string(outcome), state.drafts, state.ledger.Len(), time.Since(started))
	logger.InfoWithFields("Diagnosis run finished",
		logging.Field("outcome", string(outcome)),
		logging.Field("drafts", state.drafts),
		logging.Field("evidence_items", state.ledger.Len()),
	)

	return report, nil
}

// injectKnowledge matches the issue text against the knowledge index,
// records each matched document as a knowledge evidence item, and returns
// the context sections to seed the investigator with.
func (e *Engine) injectKnowledge(iss *issue.Issue, state *runState) []string {
	docs := e.store.Match(iss.Description)
	if len(docs) == 0 {
		return nil
	}

	sections := make([]string, 0, len(docs))
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		item, err := state.ledger.Append(evidence.Item{
			Kind:    evidence.KindKnowledge,
			Content: doc.Content,
			Source:  "knowledge_injector",
			Turn:    state.turn,
			Locator: doc.Key,
		})
		if err != nil {
			e.logger.Error("Failed to record knowledge item: %v", err)
			continue
		}
		keys = append(keys, doc.Key)
		sections = append(sections, fmt.Sprintf("Knowledge document %q (%s):\n\n%s", doc.Key, item.ID, doc.Content))
	}

	e.auditKnowledge("investigator", keys)
	return sections
}

// executeToolCalls dispatches gateway tool calls, appends produced evidence,
// and returns the tool result blocks to feed back to the delegate.
func (e *Engine) executeToolCalls(ctx context.Context, role string, state *runState, calls []provider.ToolUseBlock, registry *tools.Registry) []provider.ToolResultBlock {
	results := make([]provider.ToolResultBlock, 0, len(calls))

	for _, call := range calls {
		e.auditToolStart(role, call.Name, call.Input)
		callCtx, span := e.tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(
			attribute.String("tool.role", role),
		))
		result := registry.Execute(callCtx, call.Name, call.Input)
		span.SetAttributes(
			attribute.Bool("tool.success", result.Success),
			attribute.String("tool.code", string(result.Code)),
		)
		span.End()
		if e.metrics != nil {
			e.metrics.ObserveToolExecution(call.Name, result.Success)
		}
		e.auditToolComplete(role, call.Name, result)

		var evidenceIDs []string
		if result.Success {
			for _, item := range result.Evidence {
				item.Turn = state.turn
				appended, err := state.ledger.Append(item)
				if err != nil {
					e.logger.Error("Failed to append evidence: %v", err)
					continue
				}
				evidenceIDs = append(evidenceIDs, appended.ID)
			}
		}

		results = append(results, provider.ToolResultBlock{
			ToolUseID: call.ID,
			Content:   renderToolResult(result, evidenceIDs),
			IsError:   !result.Success,
		})
	}

	return results
}

// renderToolResult serializes a gateway result for the delegate, including
// the IDs of any evidence items the call produced so they can be cited.
func renderToolResult(result *tools.Result, evidenceIDs []string) string {
	payload := map[string]interface{}{
		"success": result.Success,
	}
	if result.Code != tools.ErrCodeNone {
		payload["code"] = string(result.Code)
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if result.Summary != "" {
		payload["summary"] = result.Summary
	}
	if result.Data != nil {
		payload["data"] = result.Data
	}
	if len(evidenceIDs) > 0 {
		payload["evidence_ids"] = evidenceIDs
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to serialize tool result: %v"}`, err)
	}
	return string(out)
}

// chat sends one delegate request, truing up the budget with actual usage.
func (e *Engine) chat(ctx context.Context, role, systemPrompt string, messages []provider.Message, defs []provider.ToolDefinition, ctrl *budget.Controller) (*provider.Response, error) {
	resp, err := e.provider.Chat(ctx, systemPrompt, messages, defs)
	if err != nil {
		return nil, err
	}

	ctrl.Record(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	if e.metrics != nil {
		e.metrics.ObserveDelegateRequest(role, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	e.auditDelegate(role, resp)
	return resp, nil
}

func estimateRequest(systemPrompt string, messages []provider.Message) int {
	return len(systemPrompt)/4 + provider.EstimateTokens(messages)
}

// audit helpers; the audit logger is optional and its failures must never
// affect the run.

func (e *Engine) auditRunStart(issueID string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogRunStart(issueID, e.provider.Name(), e.provider.Model()); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditRoleActivated(role string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogRoleActivated(role); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditKnowledge(role string, keys []string) {
	if e.audit == nil || len(keys) == 0 {
		return
	}
	if err := e.audit.LogKnowledgeInjected(role, keys); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditToolStart(role, name string, args json.RawMessage) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogToolStart(role, name, args); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditToolComplete(role, name string, result *tools.Result) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogToolComplete(role, name, result.Success, string(result.Code), result.ExecutionTimeMs, result.Summary); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditDelegate(role string, resp *provider.Response) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogDelegateRequest(role, e.provider.Name(), e.provider.Model(),
		resp.Usage.InputTokens, resp.Usage.OutputTokens, string(resp.StopReason)); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditDraft(draftNumber int, draft *Diagnosis) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogDraftSubmitted(draftNumber, string(draft.Confidence), len(draft.Citations)); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditVerdict(draftNumber int, verdict ReviewVerdict) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogReviewVerdict(draftNumber, verdict.Accepted, verdict.Reasons); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditBudget(role string, ctrl *budget.Controller) {
	if e.audit == nil {
		return
	}
	u := ctrl.Usage()
	if err := e.audit.LogBudgetExhausted(role, u.Steps, u.Tokens, u.Elapsed.Milliseconds()); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) auditError(role string, err error) {
	if e.audit == nil {
		return
	}
	if logErr := e.audit.LogError(role, err); logErr != nil {
		e.logger.Warn("audit write failed: %v", logErr)
	}
}

func (e *Engine) auditRunEnd(outcome string, drafts, items int, d time.Duration) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogRunEnd(outcome, drafts, items, d); err != nil {
		e.logger.Warn("audit write failed: %v", err)
	}
}

func (e *Engine) observeRun(outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RunsTotal.WithLabelValues(outcome).Inc()
}
