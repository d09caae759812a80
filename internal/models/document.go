package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is one user-submitted statement moving through the ingestion
// pipeline. Status is only mutated through transition-checked writes.
type Document struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	TenantID         uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	OriginalFilename string     `json:"original_filename" db:"original_filename"`
	FilePath         string     `json:"file_path,omitempty" db:"file_path"`
	FileSizeBytes    int64      `json:"file_size_bytes" db:"file_size_bytes"`
	PageCount        *int       `json:"page_count,omitempty" db:"page_count"`
	Subtype          string     `json:"subtype" db:"subtype"`
	Status           string     `json:"status" db:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	ColumnMapping    []byte     `json:"-" db:"column_mapping"` // CSV uploads only, JSON answers
	PeriodStart      *time.Time `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd        *time.Time `json:"period_end,omitempty" db:"period_end"`
	AccountLabel     *string    `json:"account_label,omitempty" db:"account_label"`
	DeletedAt        *time.Time `json:"-" db:"deleted_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	DocStatusQueued     = "queued"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
	DocStatusCancelled  = "cancelled"
)

const (
	SubtypeChecking   = "checking"
	SubtypeSavings    = "savings"
	SubtypeCreditCard = "credit-card"
	SubtypeCSV        = "csv"
	SubtypeUnknown    = "unknown"
)

// documentTransitions is the status state machine. Terminal states have no
// outgoing edges; cancellation is only reachable from queued/processing.
var documentTransitions = map[string][]string{
	DocStatusQueued:     {DocStatusProcessing, DocStatusCancelled},
	DocStatusProcessing: {DocStatusCompleted, DocStatusFailed, DocStatusCancelled},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range documentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return len(documentTransitions[status]) == 0
}
