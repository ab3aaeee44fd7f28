package domain

import "cloud.google.com/go/civil"

// DealType is the direction of a ledger entry.
type DealType string

const (
	DealExpense DealType = "expense"
	DealIncome  DealType = "income"
)

// DealDetail is one account line of a ledger entry.
type DealDetail struct {
	AccountItemID int64
	TaxCode       int64
	Amount        int64
	Description   string
}

// DealPayment records which wallet settled the entry.
type DealPayment struct {
	Amount             int64
	FromWalletableType WalletableType
	FromWalletableID   int64
	Date               civil.Date
}

// DealRequest is the payload for creating a ledger entry.
type DealRequest struct {
	CompanyID  int64
	IssueDate  civil.Date
	Type       DealType
	Details    []DealDetail
	Payments   []DealPayment
	ReceiptIDs []int64
}

// Deal is a ledger entry as created by the accounting backend.
type Deal struct {
	ID        int64
	CompanyID int64
	IssueDate civil.Date
	Type      DealType
}

// ReceiptAttachment is an uploaded receipt image on the accounting backend.
type ReceiptAttachment struct {
	ID      int64
	Status  string // "unconfirmed" or "confirmed"
	FileSrc string
}
