package domain

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
)

func TestCandidateTransaction_YearMonth(t *testing.T) {
	tx := CandidateTransaction{Date: civil.Date{Year: 2026, Month: 1, Day: 9}}
	assert.Equal(t, "2026-01", tx.YearMonth())

	tx.Date = civil.Date{Year: 2025, Month: 12, Day: 31}
	assert.Equal(t, "2025-12", tx.YearMonth())
}

func TestAccountItem_HasCategory(t *testing.T) {
	item := AccountItem{Categories: []string{"expense", "cost"}}
	assert.True(t, item.HasCategory("expense"))
	assert.False(t, item.HasCategory("income"))
	assert.False(t, AccountItem{}.HasCategory("expense"))
}

func TestSummarize(t *testing.T) {
	results := []ProcessingResult{
		{Status: ResultSuccess},
		{Status: ResultPending},
		{Status: ResultError},
		{Status: ResultSuccess},
	}
	assert.Equal(t, Summary{Total: 4, Success: 2, Pending: 1, Error: 1}, Summarize(results))
	assert.Equal(t, Summary{}, Summarize(nil))
}
