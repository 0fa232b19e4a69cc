package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/issue"
	"github.com/fathomlabs/fathom/internal/logging"
	"github.com/fathomlabs/fathom/internal/provider"
)

// runInvestigator drives the primary reasoning loop until a diagnosis is
// accepted, the budget ends the run, or the delegate fails fatally.
func (e *Engine) runInvestigator(ctx context.Context, iss *issue.Issue, state *runState, ctrl *budget.Controller) (Outcome, bool, *Diagnosis, error) {
	e.auditRoleActivated("investigator")
	logger := e.logger.WithName("investigator")

	messages := []provider.Message{{
		Role:    provider.RoleUser,
		Content: seedUserMessage(iss.Description, state.knowledge),
	}}
	toolDefs := append(e.registry.ToProviderTools(), investigatorProtocolTools()...)

	for {
		if err := ctrl.Consume(estimateRequest(investigatorSystemPrompt, messages)); err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				e.auditBudget("investigator", ctrl)
				logger.Warn("Budget exhausted after %d steps, aborting run", ctrl.Usage().Steps)
				if state.lastDraft != nil {
					state.lastDraft.Annotations = append(state.lastDraft.Annotations,
						"draft was not accepted before the run was aborted by budget")
				}
				return OutcomeAborted, true, state.lastDraft, nil
			}
			return OutcomeAborted, false, nil, err
		}
		state.turn++

		resp, err := e.chat(ctx, "investigator", investigatorSystemPrompt, messages, toolDefs, ctrl)
		if err != nil {
			return OutcomeAborted, false, nil, fmt.Errorf("investigator turn %d: %w", state.turn, err)
		}

		action, perr := parseAction(resp)
		if perr != nil {
			// A malformed protocol payload is evidence of delegate confusion,
			// not a fatal error. Feed it back and let the loop continue.
			logger.Warn("Turn %d: %v", state.turn, perr)
			messages = append(messages, assistantMessage(resp))
			messages = append(messages, provider.Message{
				Role:       provider.RoleUser,
				ToolResult: errorResults(resp, perr.Error()),
			})
			continue
		}

		switch action.Kind {
		case ActionToolCall:
			messages = append(messages, assistantMessage(resp))
			results := e.executeToolCalls(ctx, "investigator", state, action.ToolCalls, e.registry)
			messages = append(messages, provider.Message{Role: provider.RoleUser, ToolResult: results})

		case ActionDelegate:
			logger.InfoWithFields("Delegating to inspector", logging.Field("focus", action.Focus))
			messages = append(messages, assistantMessage(resp))
			finding, err := e.runInspector(ctx, iss, state, action.Focus)
			if err != nil {
				return OutcomeAborted, false, nil, err
			}
			messages = append(messages, provider.Message{
				Role:       provider.RoleUser,
				ToolResult: protocolResults(resp, action.ToolUseID, "Inspector finding:\n\n"+finding),
			})

		case ActionDraft:
			state.drafts++
			state.lastDraft = action.Draft
			e.auditDraft(state.drafts, action.Draft)
			if e.metrics != nil {
				e.metrics.DraftsTotal.Inc()
			}

			verdict := e.reviewer.Review(action.Draft, state.ledger)
			e.auditVerdict(state.drafts, verdict)

			if verdict.Accepted {
				logger.Info("Draft %d accepted by reviewer", state.drafts)
				return OutcomeDone, false, action.Draft, nil
			}

			state.rejected++
			if state.rejected > e.cfg.Reviewer.MaxReviewRounds {
				// Revision loop bound: accept the latest draft rather than
				// looping forever, and surface the open concerns.
				logger.Warn("Review round limit reached after %d drafts, forcing acceptance", state.drafts)
				action.Draft.Annotations = append(action.Draft.Annotations, unresolvedConcernsNote(verdict.Reasons))
				return OutcomeDone, false, action.Draft, nil
			}

			logger.InfoWithFields("Draft rejected",
				logging.Field("draft", state.drafts),
				logging.Field("reasons", len(verdict.Reasons)),
			)
			messages = append(messages, assistantMessage(resp))
			messages = append(messages, provider.Message{
				Role:       provider.RoleUser,
				ToolResult: protocolResults(resp, action.ToolUseID, rejectionMessage(state.drafts, verdict.Reasons)),
			})

		case ActionFinding:
			messages = append(messages, assistantMessage(resp))
			messages = append(messages, provider.Message{
				Role:       provider.RoleUser,
				ToolResult: protocolResults(resp, action.ToolUseID, "submit_finding is only available to the inspector; use submit_diagnosis or gather more evidence"),
			})

		case ActionText:
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})
			messages = append(messages, provider.Message{
				Role:    provider.RoleUser,
				Content: "Continue the investigation: call a tool to gather evidence, delegate_inspector for a deep look, or submit_diagnosis when ready.",
			})
		}
	}
}

func unresolvedConcernsNote(reasons []string) string {
	return "unresolved reviewer concerns: " + strings.Join(reasons, "; ")
}

// assistantMessage echoes the delegate response into the context, tool use
// blocks included, so the follow-up tool results pair correctly.
func assistantMessage(resp *provider.Response) provider.Message {
	return provider.Message{
		Role:    provider.RoleAssistant,
		Content: resp.Content,
		ToolUse: resp.ToolCalls,
	}
}

// protocolResults answers every tool call in a response: the protocol call
// with the given content, any extra calls with an ignored note.
func protocolResults(resp *provider.Response, protocolID, content string) []provider.ToolResultBlock {
	results := make([]provider.ToolResultBlock, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		if tc.ID == protocolID {
			results = append(results, provider.ToolResultBlock{ToolUseID: tc.ID, Content: content})
			continue
		}
		results = append(results, provider.ToolResultBlock{
			ToolUseID: tc.ID,
			Content:   `{"success":false,"error":"call ignored: a protocol action took precedence"}`,
			IsError:   true,
		})
	}
	return results
}

// errorResults answers every tool call in a response with the same error.
func errorResults(resp *provider.Response, msg string) []provider.ToolResultBlock {
	results := make([]provider.ToolResultBlock, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		results = append(results, provider.ToolResultBlock{
			ToolUseID: tc.ID,
			Content:   fmt.Sprintf(`{"success":false,"error":%q}`, msg),
			IsError:   true,
		})
	}
	return results
}
