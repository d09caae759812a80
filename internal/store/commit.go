package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spendsight/spendsight/internal/models"
	"github.com/spendsight/spendsight/internal/pipeline"
)

// CommitStore runs import commits in one database transaction.
type CommitStore struct {
	db *pgxpool.Pool
}

func NewCommitStore(db *pgxpool.Pool) *CommitStore {
	return &CommitStore{db: db}
}

func (s *CommitStore) RunInTx(ctx context.Context, fn func(tx pipeline.CommitTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&commitTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type commitTx struct {
	tx pgx.Tx
}

// DocumentStatus reads the status with a row lock so a concurrent cancel
// either happens before this read or waits until the commit finishes.
func (c *commitTx) DocumentStatus(ctx context.Context, docID uuid.UUID) (string, error) {
	var status string
	err := c.tx.QueryRow(ctx,
		`SELECT status FROM documents WHERE id = $1 FOR UPDATE`,
		docID,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("lock document row: %w", err)
	}
	return status, nil
}

func (c *commitTx) CategoriesByNames(ctx context.Context, tenantID uuid.UUID, names []string) (map[string]uuid.UUID, error) {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}

	rows, err := c.tx.Query(ctx,
		`SELECT id, lower(name) FROM categories
		 WHERE tenant_id = $1 AND lower(name) = ANY($2) AND deleted_at IS NULL`,
		tenantID, lowered,
	)
	if err != nil {
		return nil, fmt.Errorf("select categories by name: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uuid.UUID)
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out[name] = id
	}
	return out, rows.Err()
}

// CreateCategories inserts the given names in one batch, tolerating a
// concurrent insert of the same name via ON CONFLICT DO NOTHING, then
// re-selects so the returned map always holds the winning row's id. Keys are
// lowercased names. The count is the number of rows this call actually
// inserted; names swallowed by the conflict clause are not counted.
func (c *commitTx) CreateCategories(ctx context.Context, tenantID uuid.UUID, names []string) (map[string]uuid.UUID, int, error) {
	batch := &pgx.Batch{}
	for _, name := range names {
		batch.Queue(
			`INSERT INTO categories (id, tenant_id, name)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (tenant_id, lower(name)) WHERE deleted_at IS NULL DO NOTHING`,
			uuid.New(), tenantID, name,
		)
	}

	var created int
	results := c.tx.SendBatch(ctx, batch)
	for range names {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return nil, 0, fmt.Errorf("insert categories: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return nil, 0, fmt.Errorf("close category batch: %w", err)
	}

	byName, err := c.CategoriesByNames(ctx, tenantID, names)
	if err != nil {
		return nil, 0, err
	}
	return byName, created, nil
}

func (c *commitTx) LiveCategoryIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		out[id] = false
	}

	rows, err := c.tx.Query(ctx,
		`SELECT id FROM categories WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		tenantID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select live categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (c *commitTx) InsertTransactions(ctx context.Context, txs []models.Transaction) error {
	batch := &pgx.Batch{}
	for _, t := range txs {
		batch.Queue(
			`INSERT INTO transactions (id, tenant_id, document_id, category_id, date, merchant_name, description, amount_minor, currency, confidence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			uuid.New(), t.TenantID, t.DocumentID, t.CategoryID, t.Date, t.MerchantName, t.Description, t.AmountMinor, t.Currency, t.Confidence,
		)
	}

	results := c.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range txs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert: %w", err)
		}
	}
	return nil
}

func (c *commitTx) SetDocumentStatus(ctx context.Context, docID uuid.UUID, status string) error {
	_, err := c.tx.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
		docID, status,
	)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return nil
}

// Recipients resolves who gets notified for a tenant: the earliest created
// user, treated as the account owner.
type Recipients struct {
	db *pgxpool.Pool
}

func NewRecipients(db *pgxpool.Pool) *Recipients {
	return &Recipients{db: db}
}

func (r *Recipients) OwnerEmail(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT email FROM users WHERE tenant_id = $1 ORDER BY created_at ASC LIMIT 1`,
		tenantID,
	).Scan(&email)
	if err != nil {
		return "", fmt.Errorf("find tenant owner: %w", err)
	}
	return email, nil
}
