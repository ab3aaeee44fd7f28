package matcher

import "github.com/dvloznov/receipt-flow/internal/domain"

// Outcome is the result of matching one receipt. It is exactly one of
// Matched, Ambiguous or NoMatch.
type Outcome interface {
	outcome()
}

// Matched carries the single transaction the receipt belongs to.
type Matched struct {
	Transaction domain.CandidateTransaction
}

// Ambiguous carries two or more plausible transactions in their original
// order. The caller must pick one; position is never used as a tie-break here.
type Ambiguous struct {
	Candidates []domain.CandidateTransaction
}

// NoMatch means no candidate survived the amount filter.
type NoMatch struct{}

func (Matched) outcome()   {}
func (Ambiguous) outcome() {}
func (NoMatch) outcome()   {}
