package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
)

// DocumentStore is the pipeline's view of document rows. Transition performs
// a guarded status update (UPDATE ... WHERE status = from) and reports
// whether the write happened, which is how cancel races are lost safely.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	Transition(ctx context.Context, id uuid.UUID, from, to string, reason *string) (bool, error)
	SetPageCount(ctx context.Context, id uuid.UUID, n int) error
	SetSubtype(ctx context.Context, id uuid.UUID, subtype string) error
	SetStatementMetadata(ctx context.Context, id uuid.UUID, meta StatementMetadata) error
}

// StatementMetadata is the output of the metadata enrichment stage.
type StatementMetadata struct {
	PeriodStart  *time.Time
	PeriodEnd    *time.Time
	AccountLabel string
}

// CommitStore runs the import commit as one atomic unit.
type CommitStore interface {
	RunInTx(ctx context.Context, fn func(tx CommitTx) error) error
}

// CommitTx is the transactional surface the committer needs. Name lookups
// are case-insensitive; CreateCategories tolerates a concurrent insert of
// the same name by re-fetching after a unique-constraint conflict, and
// reports how many rows it actually inserted.
type CommitTx interface {
	DocumentStatus(ctx context.Context, docID uuid.UUID) (string, error)
	CategoriesByNames(ctx context.Context, tenantID uuid.UUID, names []string) (map[string]uuid.UUID, error)
	CreateCategories(ctx context.Context, tenantID uuid.UUID, names []string) (map[string]uuid.UUID, int, error)
	LiveCategoryIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	InsertTransactions(ctx context.Context, txs []models.Transaction) error
	SetDocumentStatus(ctx context.Context, docID uuid.UUID, status string) error
}

// TransactionStore is the refiner's view of persisted transactions.
type TransactionStore interface {
	ListBelowConfidence(ctx context.Context, docID uuid.UUID, threshold int) ([]models.Transaction, error)
	UpdateCategorization(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, confidence int) error
}

// CategoryReader lists a tenant's live categories for extraction hints and
// second-pass resolution.
type CategoryReader interface {
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]models.Category, error)
}

// MerchantContext feeds previously confirmed merchant→category associations
// into extraction and refinement. Context only, never an override.
type MerchantContext interface {
	Recent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.MerchantMapping, error)
	Similar(ctx context.Context, tenantID uuid.UUID, merchant string, k int) ([]models.MerchantMapping, error)
}

// RuleSource supplies the ordered, enabled, non-deleted rule list consumed
// at commit time.
type RuleSource interface {
	ListForEvaluation(ctx context.Context, tenantID uuid.UUID) ([]models.Rule, error)
}

// Notifier delivers templated notifications. Fire-and-forget; delivery
// failures never affect pipeline outcomes.
type Notifier interface {
	Send(template, recipient string, params map[string]any)
}

// RecipientResolver finds who to notify for a tenant.
type RecipientResolver interface {
	OwnerEmail(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// RefineEnqueuer schedules the second pass after a successful commit.
type RefineEnqueuer interface {
	EnqueueRefine(docID, tenantID uuid.UUID) error
}

// PageRasterizer converts a document's PDF into ordered page images.
// maxPages = 0 means all pages. Implementations must be idempotent: cached
// pages are returned without re-running conversion.
type PageRasterizer interface {
	Rasterize(ctx context.Context, doc *models.Document, maxPages int) ([][]byte, error)
}
