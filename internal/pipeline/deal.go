package pipeline

import (
	"strings"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

const (
	// DefaultDealDescription is used when the receipt has neither store nor items.
	DefaultDealDescription = "経費"

	maxDescriptionItems = 3
	itemSeparator       = "、"
	partSeparator       = " - "
)

// buildDealRequest creates an expense deal for the matched transaction.
// Amounts and dates come from the transaction, not the receipt.
func buildDealRequest(companyID int64, tx domain.CandidateTransaction, account domain.AccountItem, receipt domain.ExtractedReceipt, attachmentID int64) domain.DealRequest {
	return domain.DealRequest{
		CompanyID: companyID,
		IssueDate: tx.Date,
		Type:      domain.DealExpense,
		Details: []domain.DealDetail{
			{
				AccountItemID: account.ID,
				TaxCode:       account.DefaultTaxCode,
				Amount:        tx.Amount,
				Description:   buildDescription(receipt),
			},
		},
		Payments: []domain.DealPayment{
			{
				Amount:             tx.Amount,
				FromWalletableType: tx.WalletableType,
				FromWalletableID:   tx.WalletableID,
				Date:               tx.Date,
			},
		},
		ReceiptIDs: []int64{attachmentID},
	}
}

// buildDescription renders "store - item1、item2、item3".
func buildDescription(receipt domain.ExtractedReceipt) string {
	var parts []string
	if receipt.StoreName != nil && *receipt.StoreName != "" {
		parts = append(parts, *receipt.StoreName)
	}

	items := receipt.Items
	if len(items) > maxDescriptionItems {
		items = items[:maxDescriptionItems]
	}
	if len(items) > 0 {
		parts = append(parts, strings.Join(items, itemSeparator))
	}

	if len(parts) == 0 {
		return DefaultDealDescription
	}
	return strings.Join(parts, partSeparator)
}
