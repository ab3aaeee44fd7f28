package pipeline

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

func TestBuildDescription(t *testing.T) {
	store := "ローソン"
	empty := ""

	tests := []struct {
		name    string
		receipt domain.ExtractedReceipt
		want    string
	}{
		{"store and items", domain.ExtractedReceipt{StoreName: &store, Items: []string{"おにぎり", "お茶"}}, "ローソン - おにぎり、お茶"},
		{"at most three items", domain.ExtractedReceipt{Items: []string{"a", "b", "c", "d"}}, "a、b、c"},
		{"store only", domain.ExtractedReceipt{StoreName: &store}, "ローソン"},
		{"nothing", domain.ExtractedReceipt{}, DefaultDealDescription},
		{"empty store name", domain.ExtractedReceipt{StoreName: &empty}, DefaultDealDescription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDescription(tt.receipt))
		})
	}
}

func TestBuildDealRequest_UsesTransactionValues(t *testing.T) {
	receiptAmount := int64(1975)
	receiptDate := civil.Date{Year: 2026, Month: 1, Day: 8}
	tx := domain.CandidateTransaction{
		ID:             5,
		Date:           civil.Date{Year: 2026, Month: 1, Day: 9},
		Amount:         1980,
		WalletableType: domain.WalletableBankAccount,
		WalletableID:   11,
	}
	account := domain.AccountItem{ID: 77, DefaultTaxCode: 136}

	req := buildDealRequest(1, tx, account, domain.ExtractedReceipt{Amount: &receiptAmount, Date: &receiptDate}, 99)

	assert.Equal(t, tx.Date, req.IssueDate)
	assert.Equal(t, domain.DealExpense, req.Type)
	assert.Equal(t, []int64{99}, req.ReceiptIDs)
	if assert.Len(t, req.Details, 1) {
		assert.Equal(t, int64(1980), req.Details[0].Amount)
		assert.Equal(t, int64(77), req.Details[0].AccountItemID)
		assert.Equal(t, int64(136), req.Details[0].TaxCode)
	}
	if assert.Len(t, req.Payments, 1) {
		assert.Equal(t, domain.DealPayment{
			Amount:             1980,
			FromWalletableType: domain.WalletableBankAccount,
			FromWalletableID:   11,
			Date:               tx.Date,
		}, req.Payments[0])
	}
}
