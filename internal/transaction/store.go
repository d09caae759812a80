package transaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spendsight/spendsight/internal/models"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const txColumns = `id, tenant_id, document_id, category_id, date, merchant_name, description, amount_minor, currency, confidence, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.TenantID, &t.DocumentID, &t.CategoryID, &t.Date, &t.MerchantName,
		&t.Description, &t.AmountMinor, &t.Currency, &t.Confidence, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListBelowConfidence returns a document's live transactions with confidence
// strictly below the threshold, in stable creation order.
func (s *Store) ListBelowConfidence(ctx context.Context, docID uuid.UUID, threshold int) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE document_id = $1 AND confidence < $2 AND deleted_at IS NULL
		 ORDER BY created_at ASC, id ASC`,
		docID, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("list low-confidence transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCategorization(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, confidence int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions SET category_id = $2, confidence = $3, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id, categoryID, confidence,
	)
	if err != nil {
		return fmt.Errorf("update transaction categorization: %w", err)
	}
	return nil
}

func (s *Store) ListByDocument(ctx context.Context, tenantID, docID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE tenant_id = $1 AND document_id = $2 AND deleted_at IS NULL
		 ORDER BY date ASC, created_at ASC
		 LIMIT $3 OFFSET $4`,
		tenantID, docID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SoftDeleteByDocument hides a document's transactions alongside the
// document's own soft delete.
func (s *Store) SoftDeleteByDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions SET deleted_at = now()
		 WHERE tenant_id = $1 AND document_id = $2 AND deleted_at IS NULL`,
		tenantID, docID,
	)
	if err != nil {
		return fmt.Errorf("soft delete transactions: %w", err)
	}
	return nil
}
