package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// Defaults applied when the extraction service cannot determine a field.
const (
	DefaultCategory    = "雑費"
	DefaultAccountCode = "7990"
	DefaultConfidence  = 0.5
)

// ExtractedReceipt holds the structured fields read from one receipt image.
// Nil pointers mean the field could not be read.
type ExtractedReceipt struct {
	Date                 *civil.Date `json:"date"`
	Amount               *int64      `json:"amount"` // tax included
	StoreName            *string     `json:"storeName"`
	Items                []string    `json:"items"`
	PaymentMethod        *string     `json:"paymentMethod"`
	SuggestedCategory    string      `json:"suggestedCategory"`
	SuggestedAccountCode string      `json:"suggestedAccountCode"`
	Confidence           float64     `json:"confidence"` // informational only
}

// InboxFile is a pending receipt image as listed by the storage inbox.
type InboxFile struct {
	ID        string
	Name      string
	MimeType  string
	CreatedAt time.Time
}
