package category

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spendsight/spendsight/internal/models"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// ListActive returns the tenant's non-deleted categories, name-ordered.
func (s *Service) ListActive(ctx context.Context, tenantID uuid.UUID) ([]models.Category, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, created_at FROM categories
		 WHERE tenant_id = $1 AND deleted_at IS NULL
		 ORDER BY name ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete soft-deletes a category. Transactions keep their category_id; rules
// pointing here fall back to suggestions at the next import.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE categories SET deleted_at = now() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}
