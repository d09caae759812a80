package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spendsight/spendsight/internal/models"
	"github.com/spendsight/spendsight/internal/pipeline"
	"github.com/spendsight/spendsight/internal/storage"
)

// PipelineEnqueuer schedules processing for a submitted document.
type PipelineEnqueuer interface {
	EnqueuePipelineRun(docID, tenantID uuid.UUID) error
}

// Service owns document rows and their blobs: submission, cancellation,
// status reads, and retention. It is also the pipeline's view of documents.
type Service struct {
	db      *pgxpool.Pool
	storage storage.Storage
	bucket  string
	queue   PipelineEnqueuer
}

func NewService(db *pgxpool.Pool, store storage.Storage, bucket string, queue PipelineEnqueuer) *Service {
	return &Service{db: db, storage: store, bucket: bucket, queue: queue}
}

// SubmitRequest is one upload. ColumnMapping is required for CSV files and
// holds the user's answers about which column means what.
type SubmitRequest struct {
	TenantID      uuid.UUID
	Filename      string
	ContentType   string
	Size          int64
	Data          io.Reader
	ColumnMapping json.RawMessage
}

// Submit stores the blob, creates the queued row and schedules processing.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Document, error) {
	subtype := models.SubtypeUnknown
	isCSV := strings.EqualFold(path.Ext(req.Filename), ".csv") || req.ContentType == "text/csv"
	if isCSV {
		subtype = models.SubtypeCSV
		if len(req.ColumnMapping) == 0 {
			return nil, fmt.Errorf("csv uploads require a column mapping")
		}
	}

	id := uuid.New()
	filePath := fmt.Sprintf("%s/%s/original/%s", req.TenantID, id, path.Base(req.Filename))

	if err := s.storage.Upload(ctx, s.bucket, filePath, req.Data, req.ContentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := &models.Document{
		ID:               id,
		TenantID:         req.TenantID,
		OriginalFilename: req.Filename,
		FilePath:         filePath,
		FileSizeBytes:    req.Size,
		Subtype:          subtype,
		Status:           models.DocStatusQueued,
		ColumnMapping:    req.ColumnMapping,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, tenant_id, original_filename, file_path, file_size_bytes, subtype, status, column_mapping)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		doc.ID, doc.TenantID, doc.OriginalFilename, doc.FilePath, doc.FileSizeBytes, doc.Subtype, doc.Status, doc.ColumnMapping,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	if err := s.queue.EnqueuePipelineRun(doc.ID, doc.TenantID); err != nil {
		return nil, fmt.Errorf("enqueue processing: %w", err)
	}
	return doc, nil
}

// Cancel moves a queued or processing document to cancelled. Cancelling a
// document that already reached any terminal status is a no-op: callers get
// nil and the stored status stays as it is. Work already in flight observes
// the cancellation at its next transition-checked write.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID) error {
	doc, err := s.getForTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return cancel(ctx, s, doc)
}

// statusTransitioner is the slice of Service that cancellation needs.
type statusTransitioner interface {
	Transition(ctx context.Context, id uuid.UUID, from, to string, reason *string) (bool, error)
}

func cancel(ctx context.Context, t statusTransitioner, doc *models.Document) error {
	if models.IsTerminalStatus(doc.Status) {
		return nil
	}

	for _, from := range []string{models.DocStatusQueued, models.DocStatusProcessing} {
		ok, err := t.Transition(ctx, doc.ID, from, models.DocStatusCancelled, nil)
		if err != nil {
			return err
		}
		if ok {
			slog.Info("document cancelled", "document_id", doc.ID, "from", from)
			return nil
		}
	}

	// Both guarded writes missed: the document went terminal between the
	// read and the updates. Still a no-op.
	return nil
}

const docColumns = `id, tenant_id, original_filename, file_path, file_size_bytes, page_count, subtype, status, failure_reason, column_mapping, period_start, period_end, account_label, deleted_at, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.OriginalFilename, &d.FilePath, &d.FileSizeBytes, &d.PageCount,
		&d.Subtype, &d.Status, &d.FailureReason, &d.ColumnMapping, &d.PeriodStart, &d.PeriodEnd,
		&d.AccountLabel, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+docColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *Service) getForTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+docColumns+` FROM documents WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID))
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetForTenant is the API read path: tenant-scoped, hides soft deletes.
func (s *Service) GetForTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error) {
	return s.getForTenant(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+docColumns+` FROM documents
		 WHERE tenant_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Transition performs a guarded status move. The state machine is enforced
// here, and the WHERE clause makes concurrent writers race safely: exactly
// one guarded update wins.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, from, to string, reason *string) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET status = $3, failure_reason = $4, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, from, to, reason,
	)
	if err != nil {
		return false, fmt.Errorf("transition document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Service) SetPageCount(ctx context.Context, id uuid.UUID, n int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET page_count = $2, updated_at = now() WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	return nil
}

func (s *Service) SetSubtype(ctx context.Context, id uuid.UUID, subtype string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET subtype = $2, updated_at = now() WHERE id = $1`, id, subtype)
	if err != nil {
		return fmt.Errorf("set subtype: %w", err)
	}
	return nil
}

func (s *Service) SetStatementMetadata(ctx context.Context, id uuid.UUID, meta pipeline.StatementMetadata) error {
	var label *string
	if meta.AccountLabel != "" {
		label = &meta.AccountLabel
	}
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET period_start = $2, period_end = $3, account_label = COALESCE($4, account_label), updated_at = now()
		 WHERE id = $1`,
		id, meta.PeriodStart, meta.PeriodEnd, label)
	if err != nil {
		return fmt.Errorf("set statement metadata: %w", err)
	}
	return nil
}

// SoftDelete hides the document and its transactions. Blobs stay until the
// retention sweep hard-deletes them after the grace period.
func (s *Service) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET deleted_at = now() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID)
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document not found")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET deleted_at = now() WHERE document_id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID); err != nil {
		return fmt.Errorf("soft delete transactions: %w", err)
	}
	return tx.Commit(ctx)
}

// SweepExpired hard-deletes documents soft-deleted longer ago than the grace
// period: blobs first, then rows. Returns how many documents were purged.
func (s *Service) SweepExpired(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)

	rows, err := s.db.Query(ctx,
		`SELECT `+docColumns+` FROM documents WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired documents: %w", err)
	}
	var expired []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan document: %w", err)
		}
		expired = append(expired, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	purged := 0
	for _, doc := range expired {
		if err := s.deleteBlobs(ctx, &doc); err != nil {
			slog.Error("retention blob cleanup failed, keeping row for next sweep", "document_id", doc.ID, "error", err)
			continue
		}
		if _, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE document_id = $1`, doc.ID); err != nil {
			return purged, fmt.Errorf("purge transactions: %w", err)
		}
		if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, doc.ID); err != nil {
			return purged, fmt.Errorf("purge document: %w", err)
		}
		purged++
	}
	return purged, nil
}

func (s *Service) deleteBlobs(ctx context.Context, doc *models.Document) error {
	if err := s.storage.Delete(ctx, s.bucket, doc.FilePath); err != nil {
		return fmt.Errorf("delete original: %w", err)
	}
	if doc.PageCount == nil {
		return nil
	}
	for i := 0; i < *doc.PageCount; i++ {
		p := fmt.Sprintf("%s/%s/pages/page-%03d.png", doc.TenantID, doc.ID, i)
		if err := s.storage.Delete(ctx, s.bucket, p); err != nil {
			return fmt.Errorf("delete page %d: %w", i, err)
		}
	}
	return nil
}

// SignedURL returns a short-lived download link for the original upload.
func (s *Service) SignedURL(ctx context.Context, tenantID, id uuid.UUID, ttl time.Duration) (string, error) {
	doc, err := s.getForTenant(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	return s.storage.SignedDownloadURL(ctx, s.bucket, doc.FilePath, ttl)
}
