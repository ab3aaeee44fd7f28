package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// WalletableType identifies the kind of wallet a transaction was imported from.
type WalletableType string

const (
	WalletableCreditCard  WalletableType = "credit_card"
	WalletableBankAccount WalletableType = "bank_account"
	WalletableWallet      WalletableType = "wallet"
)

// TransactionStatus is the registration state of a wallet transaction.
type TransactionStatus string

const (
	StatusUnregistered TransactionStatus = "unregistered"
	StatusRegistered   TransactionStatus = "registered"
)

// CandidateTransaction is one unregistered wallet transaction fetched from the
// accounting backend. It is never mutated locally; filters build new slices.
type CandidateTransaction struct {
	ID             int64
	Date           civil.Date
	Amount         int64 // absolute value, minor currency unit (yen)
	Description    string
	WalletableType WalletableType
	WalletableID   int64
	Status         TransactionStatus
}

// YearMonth returns the "YYYY-MM" archive grouping for the transaction date.
func (t CandidateTransaction) YearMonth() string {
	return fmt.Sprintf("%04d-%02d", t.Date.Year, int(t.Date.Month))
}
