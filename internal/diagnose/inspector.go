package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/issue"
	"github.com/fathomlabs/fathom/internal/provider"
)

// runInspector executes the bounded inspection sub-loop. It has its own
// budget, a narrow tool subset, and ends with a single synthesized finding.
// Evidence it gathers lands in the shared ledger; the finding itself goes
// back into the investigator's context.
func (e *Engine) runInspector(ctx context.Context, iss *issue.Issue, state *runState, focus string) (string, error) {
	e.auditRoleActivated("inspector")
	logger := e.logger.WithName("inspector")

	ctrl := budget.NewController(budget.Limits{
		MaxSteps:  e.cfg.Inspector.MaxSteps,
		MaxTokens: e.cfg.Inspector.MaxTokens,
		MaxWall:   e.cfg.Inspector.MaxWall(),
	})

	registry := e.registry.Subset(inspectorToolNames...)
	toolDefs := append(registry.ToProviderTools(), inspectorProtocolTools()...)

	// The inspector gets the same one-shot knowledge seeding as the
	// investigator; the documents were already recorded as ledger items.
	var seed strings.Builder
	fmt.Fprintf(&seed, "Problem description:\n\n%s\n\nInspection focus:\n\n%s", iss.Description, focus)
	for _, section := range state.knowledge {
		seed.WriteString("\n\n---\n\n")
		seed.WriteString(section)
	}
	seed.WriteString("\n\nInvestigate the focus area and report with submit_finding.")

	messages := []provider.Message{{
		Role:    provider.RoleUser,
		Content: seed.String(),
	}}

	// lastText is the fallback finding when the budget runs out before the
	// inspector submits.
	var lastText string

	for {
		if err := ctrl.Consume(estimateRequest(inspectorSystemPrompt, messages)); err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				e.auditBudget("inspector", ctrl)
				logger.Warn("Inspector budget exhausted after %d steps", ctrl.Usage().Steps)
				return partialFinding(lastText), nil
			}
			return "", err
		}
		state.turn++

		resp, err := e.chat(ctx, "inspector", inspectorSystemPrompt, messages, toolDefs, ctrl)
		if err != nil {
			return "", fmt.Errorf("inspector turn %d: %w", state.turn, err)
		}

		action, perr := parseAction(resp)
		if perr != nil {
			logger.Warn("Inspector turn %d: %v", state.turn, perr)
			messages = append(messages, assistantMessage(resp))
			messages = append(messages, provider.Message{
				Role:       provider.RoleUser,
				ToolResult: errorResults(resp, perr.Error()),
			})
			continue
		}

		switch action.Kind {
		case ActionFinding:
			logger.Info("Inspector finished after %d steps", ctrl.Usage().Steps)
			return action.Finding, nil

		case ActionToolCall:
			messages = append(messages, assistantMessage(resp))
			results := e.executeToolCalls(ctx, "inspector", state, action.ToolCalls, registry)
			messages = append(messages, provider.Message{Role: provider.RoleUser, ToolResult: results})

		case ActionDelegate, ActionDraft:
			// The inspector cannot hand off or submit diagnoses.
			messages = append(messages, assistantMessage(resp))
			messages = append(messages, provider.Message{
				Role:       provider.RoleUser,
				ToolResult: protocolResults(resp, action.ToolUseID, "only submit_finding and the inspection tools are available here"),
			})

		case ActionText:
			lastText = resp.Content
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})
			messages = append(messages, provider.Message{
				Role:    provider.RoleUser,
				Content: "Continue the inspection, or report with submit_finding.",
			})
		}
	}
}

func partialFinding(lastText string) string {
	if lastText == "" {
		return "Inspection ended by budget before a finding was submitted; no partial notes were produced."
	}
	return "Inspection ended by budget before a finding was submitted. Partial notes:\n\n" + lastText
}
