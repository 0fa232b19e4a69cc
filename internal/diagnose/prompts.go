package diagnose

import (
	"fmt"
	"strings"

	"github.com/fathomlabs/fathom/internal/provider"
)

const investigatorSystemPrompt = `You are the lead investigator diagnosing a software incident.

You are given a problem description and a problem directory containing logs,
traces, and possibly source code. Work iteratively:

1. Use the available tools to gather evidence. Prefer cheap, targeted reads
   (glob, then grep with filters) over reading whole files.
2. When shallow evidence is insufficient and a specific file or subsystem
   needs deep inspection, call delegate_inspector with a focused question.
3. When you can explain the incident, call submit_diagnosis with:
   - root_cause: one precise statement of the root cause
   - confidence: low, medium, or high
   - evidence_strength: weak, moderate, or strong
   - causal_chain: ordered steps from root cause to the observed symptom
   - citations: evidence IDs (E1, E2, ...) that support the diagnosis
   - recommendations: optional remediation steps

Cite only evidence IDs that were reported back to you in tool results. If a
reviewer rejects your draft, address every rejection reason before
resubmitting. Do not guess; gather evidence first.`

const inspectorSystemPrompt = `You are an inspector performing a deep, focused investigation of one
aspect of a software incident. You have a narrow tool set and a tight budget.

Dig into the assigned focus area only. When you have an answer (or have
exhausted reasonable avenues), call submit_finding with a concise finding
that the lead investigator can act on. Reference evidence IDs where you can.`

// investigatorProtocolTools are the protocol tool definitions exposed to the
// investigator in addition to the gateway tools.
func investigatorProtocolTools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		{
			Name: ToolDelegateInspector,
			Description: `Hand off to the inspector for a deep, focused look at one aspect of the incident.

Input:
- focus: What the inspector should investigate (required)`,
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"focus"},
				"properties": map[string]interface{}{
					"focus": map[string]interface{}{
						"type":        "string",
						"description": "What the inspector should investigate",
					},
				},
			},
		},
		{
			Name: ToolSubmitDiagnosis,
			Description: `Submit a draft diagnosis for review. Only submit once the evidence supports a root cause.

Input:
- root_cause: One precise root-cause statement (required)
- confidence: low, medium, or high (required)
- evidence_strength: weak, moderate, or strong (required)
- causal_chain: Ordered steps from root cause to symptom (required)
- citations: Supporting evidence IDs, e.g. ["E1","E4"] (required)
- recommendations: Optional remediation steps`,
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"root_cause", "confidence", "evidence_strength", "causal_chain", "citations"},
				"properties": map[string]interface{}{
					"root_cause": map[string]interface{}{
						"type":        "string",
						"description": "One precise root-cause statement",
					},
					"confidence": map[string]interface{}{
						"type":        "string",
						"description": "low, medium, or high",
					},
					"evidence_strength": map[string]interface{}{
						"type":        "string",
						"description": "weak, moderate, or strong",
					},
					"causal_chain": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Ordered steps from root cause to symptom",
					},
					"citations": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Supporting evidence IDs",
					},
					"recommendations": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Optional remediation steps",
					},
				},
			},
		},
	}
}

// inspectorProtocolTools are the protocol tool definitions exposed to the
// inspector in addition to its gateway tool subset.
func inspectorProtocolTools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		{
			Name: ToolSubmitFinding,
			Description: `End the inspection and report the finding to the lead investigator.

Input:
- finding: Concise answer to the assigned focus question (required)`,
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"finding"},
				"properties": map[string]interface{}{
					"finding": map[string]interface{}{
						"type":        "string",
						"description": "Concise answer to the assigned focus question",
					},
				},
			},
		},
	}
}

// seedUserMessage assembles the opening context message: the issue text plus
// any injected knowledge documents.
func seedUserMessage(issueText string, knowledgeSections []string) string {
	var b strings.Builder
	b.WriteString("Problem description:\n\n")
	b.WriteString(issueText)
	b.WriteString("\n")
	for _, section := range knowledgeSections {
		b.WriteString("\n---\n")
		b.WriteString(section)
		b.WriteString("\n")
	}
	b.WriteString("\nBegin your investigation.")
	return b.String()
}

// rejectionMessage carries every rejection reason verbatim back into the
// investigator's context.
func rejectionMessage(draftNumber int, reasons []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The reviewer rejected draft %d for the following reasons:\n", draftNumber)
	for _, r := range reasons {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	b.WriteString("\nAddress every reason, gather more evidence if needed, and resubmit with submit_diagnosis.")
	return b.String()
}
