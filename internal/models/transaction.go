package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is a persisted ledger entry extracted from a document.
// AmountMinor is signed: positive means money leaving the account (expense),
// negative means money entering (income), regardless of how the source
// statement displays signs.
type Transaction struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	TenantID     uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	DocumentID   uuid.UUID  `json:"document_id" db:"document_id"`
	CategoryID   *uuid.UUID `json:"category_id,omitempty" db:"category_id"`
	Date         time.Time  `json:"date" db:"date"`
	MerchantName string     `json:"merchant_name" db:"merchant_name"`
	Description  string     `json:"description,omitempty" db:"description"`
	AmountMinor  int64      `json:"amount_minor" db:"amount_minor"`
	Currency     string     `json:"currency" db:"currency"`
	Confidence   int        `json:"confidence" db:"confidence"`
	DeletedAt    *time.Time `json:"-" db:"deleted_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Candidate is an in-flight transaction produced by extraction. It is never
// persisted directly; the committer decides what survives.
type Candidate struct {
	Date              time.Time `json:"date"`
	MerchantName      string    `json:"merchant_name"`
	Description       string    `json:"description,omitempty"`
	AmountMinor       int64     `json:"amount_minor"`
	Currency          string    `json:"currency"`
	SuggestedCategory string    `json:"suggested_category,omitempty"`
	Confidence        int       `json:"confidence"`
}

type Category struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	TenantID  uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Name      string     `json:"name" db:"name"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// MerchantMapping is one confirmed merchant→category association. The log is
// append-only and only ever used as context for inference, never as an
// override.
type MerchantMapping struct {
	ID           uuid.UUID `json:"id" db:"id"`
	TenantID     uuid.UUID `json:"tenant_id" db:"tenant_id"`
	MerchantName string    `json:"merchant_name" db:"merchant_name"`
	CategoryName string    `json:"category_name" db:"category_name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
