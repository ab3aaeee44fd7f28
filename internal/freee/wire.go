package freee

import (
	"cloud.google.com/go/civil"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

type walletTxn struct {
	ID             int64      `json:"id"`
	CompanyID      int64      `json:"company_id"`
	Date           civil.Date `json:"date"`
	Amount         int64      `json:"amount"`
	DueAmount      int64      `json:"due_amount"`
	Balance        int64      `json:"balance"`
	EntrySide      string     `json:"entry_side"`
	WalletableType string     `json:"walletable_type"`
	WalletableID   int64      `json:"walletable_id"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
}

type walletTxnsResponse struct {
	WalletTxns []walletTxn `json:"wallet_txns"`
}

func (t walletTxn) candidate() domain.CandidateTransaction {
	amount := t.Amount
	if amount < 0 {
		amount = -amount
	}
	return domain.CandidateTransaction{
		ID:             t.ID,
		Date:           t.Date,
		Amount:         amount,
		Description:    t.Description,
		WalletableType: domain.WalletableType(t.WalletableType),
		WalletableID:   t.WalletableID,
		Status:         domain.TransactionStatus(t.Status),
	}
}

type accountItem struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Shortcut       string   `json:"shortcut"`
	ShortcutNum    string   `json:"shortcut_num"`
	DefaultTaxCode int64    `json:"default_tax_code"`
	Categories     []string `json:"categories"`
}

type accountItemsResponse struct {
	AccountItems []accountItem `json:"account_items"`
}

type dealDetail struct {
	AccountItemID int64  `json:"account_item_id"`
	TaxCode       int64  `json:"tax_code"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
}

type dealPayment struct {
	Amount             int64      `json:"amount"`
	FromWalletableType string     `json:"from_walletable_type"`
	FromWalletableID   int64      `json:"from_walletable_id"`
	Date               civil.Date `json:"date"`
}

type createDealRequest struct {
	CompanyID  int64         `json:"company_id"`
	IssueDate  civil.Date    `json:"issue_date"`
	Type       string        `json:"type"`
	Details    []dealDetail  `json:"details"`
	Payments   []dealPayment `json:"payments"`
	ReceiptIDs []int64       `json:"receipt_ids,omitempty"`
}

func newCreateDealRequest(req domain.DealRequest) createDealRequest {
	out := createDealRequest{
		CompanyID:  req.CompanyID,
		IssueDate:  req.IssueDate,
		Type:       string(req.Type),
		Details:    make([]dealDetail, 0, len(req.Details)),
		Payments:   make([]dealPayment, 0, len(req.Payments)),
		ReceiptIDs: req.ReceiptIDs,
	}
	for _, d := range req.Details {
		out.Details = append(out.Details, dealDetail{
			AccountItemID: d.AccountItemID,
			TaxCode:       d.TaxCode,
			Amount:        d.Amount,
			Description:   d.Description,
		})
	}
	for _, p := range req.Payments {
		out.Payments = append(out.Payments, dealPayment{
			Amount:             p.Amount,
			FromWalletableType: string(p.FromWalletableType),
			FromWalletableID:   p.FromWalletableID,
			Date:               p.Date,
		})
	}
	return out
}

type dealResponse struct {
	Deal struct {
		ID        int64      `json:"id"`
		CompanyID int64      `json:"company_id"`
		IssueDate civil.Date `json:"issue_date"`
		Type      string     `json:"type"`
	} `json:"deal"`
}

type receiptResponse struct {
	Receipt struct {
		ID      int64  `json:"id"`
		Status  string `json:"status"`
		FileSrc string `json:"file_src"`
	} `json:"receipt"`
}

type registrationRequest struct {
	CompanyID int64 `json:"company_id"`
	DealID    int64 `json:"deal_id"`
}

type attachReceiptRequest struct {
	CompanyID  int64   `json:"company_id"`
	ReceiptIDs []int64 `json:"receipt_ids"`
}
