// Package matcher decides which unregistered transaction a receipt belongs to.
package matcher

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/receipt-flow/internal/domain"
)

// AmountTolerance is the allowed difference in yen between receipt and transaction.
const AmountTolerance = 10

// Match narrows candidates by amount, then date, then description.
// It performs no I/O and never reorders candidates. A missing or zero amount
// never matches.
func Match(receipt domain.ExtractedReceipt, candidates []domain.CandidateTransaction) Outcome {
	if receipt.Amount == nil || *receipt.Amount == 0 {
		return NoMatch{}
	}

	byAmount := filterByAmount(candidates, *receipt.Amount)
	switch len(byAmount) {
	case 0:
		return NoMatch{}
	case 1:
		return Matched{Transaction: byAmount[0]}
	}

	if receipt.Date != nil {
		byDate := filterByDate(byAmount, *receipt.Date)
		if len(byDate) == 1 {
			return Matched{Transaction: byDate[0]}
		}
		if len(byDate) > 1 {
			return narrowByDescription(byDate, receipt.StoreName)
		}
		// No candidate on the receipt date: the date signal is dropped and
		// all amount matches stay eligible (settlement can lag a day or more).
	}

	return narrowByDescription(byAmount, receipt.StoreName)
}

func narrowByDescription(candidates []domain.CandidateTransaction, storeName *string) Outcome {
	byDesc := filterByDescription(candidates, storeName)
	if len(byDesc) == 1 {
		return Matched{Transaction: byDesc[0]}
	}
	if len(byDesc) > 0 {
		return Ambiguous{Candidates: byDesc}
	}
	return Ambiguous{Candidates: candidates}
}

// filterByAmount keeps candidates within AmountTolerance. Repeated IDs are
// dropped after the first occurrence.
func filterByAmount(candidates []domain.CandidateTransaction, amount int64) []domain.CandidateTransaction {
	var out []domain.CandidateTransaction
	seen := make(map[int64]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		diff := c.Amount - amount
		if diff < 0 {
			diff = -diff
		}
		if diff <= AmountTolerance {
			out = append(out, c)
		}
	}
	return out
}

func filterByDate(candidates []domain.CandidateTransaction, date civil.Date) []domain.CandidateTransaction {
	var out []domain.CandidateTransaction
	for _, c := range candidates {
		if c.Date == date {
			out = append(out, c)
		}
	}
	return out
}

// filterByDescription keeps candidates whose description and the store name
// contain one another, compared both lower-cased and normalized.
// A missing store name keeps everything.
func filterByDescription(candidates []domain.CandidateTransaction, storeName *string) []domain.CandidateTransaction {
	if storeName == nil {
		return candidates
	}

	store := strings.ToLower(*storeName)
	storeNorm := Normalize(store)

	var out []domain.CandidateTransaction
	for _, c := range candidates {
		desc := strings.ToLower(c.Description)
		descNorm := Normalize(desc)

		if strings.Contains(desc, store) ||
			strings.Contains(store, desc) ||
			strings.Contains(descNorm, storeNorm) ||
			strings.Contains(storeNorm, descNorm) {
			out = append(out, c)
		}
	}
	return out
}
