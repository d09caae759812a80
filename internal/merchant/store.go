package merchant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/models"
)

// Store is the append-only merchant mapping log. Each confirmed mapping is
// embedded so later lookups can find associations for merchants that are
// spelled differently but mean the same thing.
type Store struct {
	db             *pgxpool.Pool
	gateway        llm.Gateway
	embeddingModel string
}

func NewStore(db *pgxpool.Pool, gateway llm.Gateway, embeddingModel string) *Store {
	return &Store{db: db, gateway: gateway, embeddingModel: embeddingModel}
}

// Append records one confirmed merchant→category association. Mappings are
// never updated or deleted; the newest entry wins by recency in Recent.
func (s *Store) Append(ctx context.Context, tenantID uuid.UUID, merchantName, categoryName string) (*models.MerchantMapping, error) {
	resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
		Model: s.embeddingModel,
		Input: []string{merchantName},
	})
	if err != nil {
		return nil, fmt.Errorf("embed merchant name: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}

	m := &models.MerchantMapping{
		ID:           uuid.New(),
		TenantID:     tenantID,
		MerchantName: merchantName,
		CategoryName: categoryName,
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO merchant_mappings (id, tenant_id, merchant_name, category_name, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		m.ID, m.TenantID, m.MerchantName, m.CategoryName, pgvector.NewVector(resp.Embeddings[0]),
	).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert merchant mapping: %w", err)
	}
	return m, nil
}

// Recent returns the newest mappings for extraction hints.
func (s *Store) Recent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.MerchantMapping, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, merchant_name, category_name, created_at
		 FROM merchant_mappings
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent mappings: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows)
}

// Similar finds the k mappings whose merchant names embed closest to the
// given merchant, cosine-ordered.
func (s *Store) Similar(ctx context.Context, tenantID uuid.UUID, merchantName string, k int) ([]models.MerchantMapping, error) {
	resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
		Model: s.embeddingModel,
		Input: []string{merchantName},
	})
	if err != nil {
		return nil, fmt.Errorf("embed merchant name: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, merchant_name, category_name, created_at
		 FROM merchant_mappings
		 WHERE tenant_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		tenantID, pgvector.NewVector(resp.Embeddings[0]), k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows)
}

func scanMappings(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]models.MerchantMapping, error) {
	var out []models.MerchantMapping
	for rows.Next() {
		var m models.MerchantMapping
		if err := rows.Scan(&m.ID, &m.TenantID, &m.MerchantName, &m.CategoryName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
