package rules

import (
	"context"
	"encoding/json"
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

// ListForEvaluation returns the tenant's enabled, non-deleted rules in
// evaluation order: priority descending, then creation ascending.
func (s *Store) ListForEvaluation(ctx context.Context, tenantID uuid.UUID) ([]models.Rule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, priority, logic, conditions, actions, enabled, created_at
		 FROM categorization_rules
		 WHERE tenant_id = $1 AND enabled = true AND deleted_at IS NULL
		 ORDER BY priority DESC, created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var r models.Rule
		var conditions, actions []byte
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority, &r.Logic, &conditions, &actions, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return nil, fmt.Errorf("decode rule %s conditions: %w", r.ID, err)
		}
		if err := json.Unmarshal(actions, &r.Actions); err != nil {
			return nil, fmt.Errorf("decode rule %s actions: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, r *models.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO categorization_rules (id, tenant_id, name, priority, logic, conditions, actions, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		r.ID, r.TenantID, r.Name, r.Priority, r.Logic, conditions, actions, r.Enabled,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE categorization_rules SET deleted_at = now() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID,
	)
	return err
}

func (s *Store) List(ctx context.Context, tenantID uuid.UUID) ([]models.Rule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, priority, logic, conditions, actions, enabled, created_at
		 FROM categorization_rules
		 WHERE tenant_id = $1 AND deleted_at IS NULL
		 ORDER BY priority DESC, created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var r models.Rule
		var conditions, actions []byte
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority, &r.Logic, &conditions, &actions, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return nil, fmt.Errorf("decode rule %s conditions: %w", r.ID, err)
		}
		if err := json.Unmarshal(actions, &r.Actions); err != nil {
			return nil, fmt.Errorf("decode rule %s actions: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
