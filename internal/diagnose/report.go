package diagnose

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fathomlabs/fathom/internal/evidence"
)

// Citation is a rendered reference to a ledger item.
type Citation struct {
	ID      string        `json:"id"`
	Kind    evidence.Kind `json:"kind"`
	Source  string        `json:"source"`
	Locator string        `json:"locator,omitempty"`
	Excerpt string        `json:"excerpt"`
}

// Usage summarizes resource consumption for the report.
type Usage struct {
	Steps   int           `json:"steps"`
	Tokens  int           `json:"tokens"`
	Elapsed time.Duration `json:"elapsed"`
}

// Report is the structured output of a diagnosis run.
type Report struct {
	RunID   string  `json:"run_id"`
	IssueID string  `json:"issue_id"`
	Outcome Outcome `json:"outcome"`

	// BudgetLimited marks runs ended by a budget ceiling.
	BudgetLimited bool `json:"budget_limited,omitempty"`

	// Diagnosis is the final (accepted or forced) diagnosis. Nil when the
	// run aborted before any draft existed.
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`

	// Drafts is the number of draft diagnoses submitted.
	Drafts int `json:"drafts"`

	// Citations groups the cited evidence by source kind.
	Citations map[evidence.Kind][]Citation `json:"citations,omitempty"`

	// Timeline is the ordered incident timeline.
	Timeline []evidence.TimelineEvent `json:"timeline"`

	// EvidenceCount is the total ledger size at run end.
	EvidenceCount int `json:"evidence_count"`

	Usage       Usage     `json:"usage"`
	GeneratedAt time.Time `json:"generated_at"`
}

const maxCitationExcerpt = 200

// synthesizeReport assembles the report from the run state.
func synthesizeReport(runID, issueID string, outcome Outcome, budgetLimited bool, diag *Diagnosis, drafts int, ledger *evidence.Ledger, usage Usage) *Report {
	items := ledger.Snapshot()

	report := &Report{
		RunID:         runID,
		IssueID:       issueID,
		Outcome:       outcome,
		BudgetLimited: budgetLimited,
		Diagnosis:     diag,
		Drafts:        drafts,
		Timeline:      evidence.BuildTimeline(items),
		EvidenceCount: len(items),
		Usage:         usage,
		GeneratedAt:   time.Now(),
	}

	if diag != nil {
		report.Citations = make(map[evidence.Kind][]Citation)
		for _, id := range diag.Citations {
			item, ok := ledger.Resolve(id)
			if !ok {
				continue
			}
			report.Citations[item.Kind] = append(report.Citations[item.Kind], Citation{
				ID:      item.ID,
				Kind:    item.Kind,
				Source:  item.Source,
				Locator: item.Locator,
				Excerpt: citationExcerpt(item.Content),
			})
		}
	}

	return report
}

func citationExcerpt(content string) string {
	line := strings.TrimSpace(content)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if len(line) > maxCitationExcerpt {
		cut := maxCitationExcerpt
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut] + "..."
	}
	return line
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the report for terminal or document display.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Diagnosis: %s\n\n", r.IssueID)

	switch {
	case r.Outcome == OutcomeDone:
		fmt.Fprintf(&b, "**Status:** complete\n\n")
	case r.BudgetLimited:
		fmt.Fprintf(&b, "**Status:** aborted (budget limit reached); findings below are partial\n\n")
	default:
		fmt.Fprintf(&b, "**Status:** aborted\n\n")
	}

	if r.Diagnosis == nil {
		b.WriteString("No diagnosis was produced before the run ended.\n")
	} else {
		d := r.Diagnosis
		fmt.Fprintf(&b, "## Conclusion\n\n%s\n\n", d.RootCause)
		fmt.Fprintf(&b, "**Confidence:** %s | **Evidence strength:** %s | **Drafts:** %d\n\n",
			d.Confidence, d.EvidenceStrength, r.Drafts)

		for _, note := range d.Annotations {
			fmt.Fprintf(&b, "> %s\n\n", note)
		}

		if len(d.CausalChain) > 0 {
			b.WriteString("## Causal Chain\n\n")
			for i, step := range d.CausalChain {
				fmt.Fprintf(&b, "%d. %s\n", i+1, step)
			}
			b.WriteString("\n")
		}

		if len(r.Citations) > 0 {
			b.WriteString("## Evidence\n\n")
			for _, kind := range []evidence.Kind{evidence.KindLog, evidence.KindTrace, evidence.KindCode, evidence.KindKnowledge} {
				cites := r.Citations[kind]
				if len(cites) == 0 {
					continue
				}
				fmt.Fprintf(&b, "### %s\n\n", titleKind(kind))
				for _, c := range cites {
					if c.Locator != "" {
						fmt.Fprintf(&b, "- **%s** (%s): %s\n", c.ID, c.Locator, c.Excerpt)
					} else {
						fmt.Fprintf(&b, "- **%s**: %s\n", c.ID, c.Excerpt)
					}
				}
				b.WriteString("\n")
			}
		}

		if len(d.Recommendations) > 0 {
			b.WriteString("## Recommendations\n\n")
			for _, rec := range d.Recommendations {
				fmt.Fprintf(&b, "- %s\n", rec)
			}
			b.WriteString("\n")
		}
	}

	if len(r.Timeline) > 0 {
		b.WriteString("## Timeline\n\n")
		b.WriteString("| Time | Event | Source |\n|------|-------|--------|\n")
		for _, ev := range r.Timeline {
			ts := "unknown"
			if ev.Time != nil {
				ts = ev.Time.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(&b, "| %s | %s | %s (%s) |\n", ts, escapePipes(ev.Event), ev.Source, ev.EvidenceID)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\n%d evidence items | %d steps | %d tokens | %s\n",
		r.EvidenceCount, r.Usage.Steps, r.Usage.Tokens, r.Usage.Elapsed.Round(time.Millisecond))

	return b.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func titleKind(kind evidence.Kind) string {
	s := string(kind)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
