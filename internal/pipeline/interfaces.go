package pipeline

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mock_pipeline -source=interfaces.go

import (
	"context"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

// Inbox is the storage holding receipt images waiting to be processed.
type Inbox interface {
	// ListPending returns pending images, oldest first.
	ListPending(ctx context.Context) ([]domain.InboxFile, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	// Archive moves the file into the yearMonth ("YYYY-MM") grouping, creating it if needed.
	Archive(ctx context.Context, fileID, yearMonth string) error
}

// Extractor reads structured fields from a receipt image.
type Extractor interface {
	Extract(ctx context.Context, image []byte, fileName string) (domain.ExtractedReceipt, error)
}

// Selector picks one transaction out of several equally plausible candidates.
// It returns the chosen transaction ID.
type Selector interface {
	SelectBest(ctx context.Context, receipt domain.ExtractedReceipt, candidates []domain.CandidateTransaction) (int64, error)
}

// Accounting is the accounting backend holding wallet transactions and deals.
type Accounting interface {
	ListUnregistered(ctx context.Context) ([]domain.CandidateTransaction, error)
	UploadReceipt(ctx context.Context, image []byte, fileName string) (domain.ReceiptAttachment, error)
	CreateDeal(ctx context.Context, req domain.DealRequest) (domain.Deal, error)
	Reconcile(ctx context.Context, walletTxnID, dealID int64) error
}

// AccountResolver maps a suggested account code onto a chart-of-accounts entry.
type AccountResolver interface {
	Resolve(ctx context.Context, code string) (domain.AccountItem, error)
}
