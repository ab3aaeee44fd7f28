package domain

import "time"

// ResultStatus is the per-receipt outcome of a batch run.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	// ResultPending means no transaction matched; the receipt stays in the inbox.
	ResultPending ResultStatus = "pending"
	ResultError   ResultStatus = "error"
)

// ProcessingResult is created once per receipt per run and never modified.
type ProcessingResult struct {
	ReceiptID      string       `json:"receipt_id"`
	FileName       string       `json:"file_name"`
	Status         ResultStatus `json:"status"`
	WalletTxnID    *int64       `json:"freee_wallet_txn_id,omitempty"`
	DealID         *int64       `json:"freee_deal_id,omitempty"`
	FreeeReceiptID *int64       `json:"freee_receipt_id,omitempty"`
	Error          string       `json:"error,omitempty"`
	ProcessedAt    time.Time    `json:"processed_at"`
}

// Summary counts results per status.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Pending int `json:"pending"`
	Error   int `json:"error"`
}

// Summarize counts results per status.
func Summarize(results []ProcessingResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ResultSuccess:
			s.Success++
		case ResultPending:
			s.Pending++
		case ResultError:
			s.Error++
		}
	}
	return s
}
