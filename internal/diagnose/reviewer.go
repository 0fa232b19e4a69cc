package diagnose

import (
	"fmt"

	"github.com/fathomlabs/fathom/internal/evidence"
)

// Reviewer validates a draft diagnosis against the evidence ledger. It is
// stateless: each call judges one draft on its own merits and returns a
// verdict. Carrying rejection context across drafts is the engine's job.
type Reviewer interface {
	Review(draft *Diagnosis, ledger *evidence.Ledger) ReviewVerdict
}

// LedgerReviewer is the default reviewer. Its checks are mechanical and
// deterministic: citation referential integrity, causal chain shape, and
// consistency between the claimed confidence and the cited evidence.
type LedgerReviewer struct{}

// NewLedgerReviewer creates the default reviewer.
func NewLedgerReviewer() *LedgerReviewer {
	return &LedgerReviewer{}
}

// Review implements Reviewer.
func (r *LedgerReviewer) Review(draft *Diagnosis, ledger *evidence.Ledger) ReviewVerdict {
	var reasons []string

	if draft.RootCause == "" {
		reasons = append(reasons, "root_cause is empty")
	}
	if !ValidConfidence(draft.Confidence) {
		reasons = append(reasons, fmt.Sprintf("confidence %q is not one of low/medium/high", draft.Confidence))
	}
	if !ValidStrength(draft.EvidenceStrength) {
		reasons = append(reasons, fmt.Sprintf("evidence_strength %q is not one of weak/moderate/strong", draft.EvidenceStrength))
	}

	if len(draft.Citations) == 0 {
		reasons = append(reasons, "diagnosis cites no evidence")
	}
	seen := make(map[string]bool, len(draft.Citations))
	for _, id := range draft.Citations {
		if seen[id] {
			reasons = append(reasons, fmt.Sprintf("citation %s is listed more than once", id))
			continue
		}
		seen[id] = true
		if _, ok := ledger.Resolve(id); !ok {
			reasons = append(reasons, fmt.Sprintf("citation %s does not resolve to a recorded evidence item", id))
		}
	}

	if len(draft.CausalChain) < 2 {
		reasons = append(reasons, "causal_chain must trace at least root cause and observed symptom")
	}

	reasons = append(reasons, consistencyReasons(draft)...)

	if len(reasons) > 0 {
		return ReviewVerdict{Accepted: false, Reasons: reasons}
	}
	return ReviewVerdict{Accepted: true}
}

// consistencyReasons checks the claimed confidence against the strength
// grade and citation count. High confidence on thin evidence is rejected.
func consistencyReasons(draft *Diagnosis) []string {
	var reasons []string
	switch draft.Confidence {
	case ConfidenceHigh:
		if draft.EvidenceStrength != StrengthStrong {
			reasons = append(reasons, "high confidence requires strong evidence_strength")
		}
		if len(draft.Citations) < 3 {
			reasons = append(reasons, "high confidence requires at least 3 citations")
		}
	case ConfidenceMedium:
		if draft.EvidenceStrength == StrengthWeak {
			reasons = append(reasons, "medium confidence is inconsistent with weak evidence_strength")
		}
		if len(draft.Citations) < 2 {
			reasons = append(reasons, "medium confidence requires at least 2 citations")
		}
	}
	return reasons
}
