package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/inference"
	"github.com/spendsight/spendsight/internal/llm"
	"github.com/spendsight/spendsight/internal/models"
)

// RefineResult summarizes one refinement pass.
type RefineResult struct {
	Reviewed               int
	Updated                int
	ImprovedAboveThreshold int
}

// Refiner re-categorizes a document's low-confidence transactions after the
// import has committed. It only ever assigns existing category names; a pass
// over a document with nothing below threshold is a silent no-op, which makes
// repeat runs converge.
type Refiner struct {
	transactions TransactionStore
	categories   CategoryReader
	merchants    MerchantContext
	inf          inference.Client
	model        string
	threshold    int
}

func NewRefiner(transactions TransactionStore, categories CategoryReader, merchants MerchantContext, inf inference.Client, model string, threshold int) *Refiner {
	return &Refiner{transactions: transactions, categories: categories, merchants: merchants, inf: inf, model: model, threshold: threshold}
}

type refinedTransaction struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type refinerOutput struct {
	Transactions []refinedTransaction `json:"transactions"`
}

func (r *Refiner) Refine(ctx context.Context, docID, tenantID uuid.UUID) (*RefineResult, error) {
	result := &RefineResult{}

	txs, err := r.transactions.ListBelowConfidence(ctx, docID, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("list low-confidence transactions: %w", err)
	}
	if len(txs) == 0 {
		return result, nil
	}
	result.Reviewed = len(txs)

	cats, err := r.categories.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	byName := make(map[string]uuid.UUID, len(cats))
	byID := make(map[uuid.UUID]string, len(cats))
	names := make([]string, 0, len(cats))
	for _, cat := range cats {
		byName[strings.ToLower(cat.Name)] = cat.ID
		byID[cat.ID] = cat.Name
		names = append(names, cat.Name)
	}

	var out refinerOutput
	err = r.inf.GenerateStructured(ctx, inference.Request{
		Model:  r.model,
		System: refinerSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: refinePrompt(txs, byID, names, r.similarMappings(ctx, tenantID, txs)),
		}},
		Schema: []inference.SchemaField{
			{Name: "transactions", Type: "array", Description: "objects with id, category, confidence", Required: true},
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("refine transactions: %w", err)
	}

	refined := make(map[uuid.UUID]refinedTransaction, len(out.Transactions))
	for _, rt := range out.Transactions {
		id, err := uuid.Parse(rt.ID)
		if err != nil {
			slog.Debug("refiner returned unknown transaction id", "id", rt.ID)
			continue
		}
		refined[id] = rt
	}

	for _, tx := range txs {
		rt, ok := refined[tx.ID]
		if !ok {
			continue
		}

		var newCategory *uuid.UUID
		if name := strings.TrimSpace(rt.Category); name != "" {
			if id, ok := byName[strings.ToLower(name)]; ok {
				newCategory = &id
			}
		}
		newConfidence := normalizeConfidence(rt.Confidence)

		categoryChanged := newCategory != nil && (tx.CategoryID == nil || *tx.CategoryID != *newCategory)
		confidenceRaised := newConfidence > tx.Confidence
		if !categoryChanged && !confidenceRaised {
			continue
		}

		category := tx.CategoryID
		if categoryChanged {
			category = newCategory
		}
		confidence := tx.Confidence
		if confidenceRaised {
			confidence = newConfidence
		}

		if err := r.transactions.UpdateCategorization(ctx, tx.ID, category, confidence); err != nil {
			return nil, fmt.Errorf("update transaction %s: %w", tx.ID, err)
		}
		result.Updated++
		if confidence >= r.threshold {
			result.ImprovedAboveThreshold++
		}
	}

	return result, nil
}

// similarMappings pulls confirmed merchant mappings near each transaction's
// merchant out of the vector index. Lookup failures degrade to no context.
func (r *Refiner) similarMappings(ctx context.Context, tenantID uuid.UUID, txs []models.Transaction) []models.MerchantMapping {
	var out []models.MerchantMapping
	seen := make(map[string]bool)
	for _, tx := range txs {
		similar, err := r.merchants.Similar(ctx, tenantID, tx.MerchantName, 3)
		if err != nil {
			slog.Debug("merchant similarity lookup failed", "merchant", tx.MerchantName, "error", err)
			continue
		}
		for _, m := range similar {
			key := strings.ToLower(m.MerchantName) + "|" + strings.ToLower(m.CategoryName)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}

func refinePrompt(txs []models.Transaction, categoryNames map[uuid.UUID]string, names []string, mappings []models.MerchantMapping) string {
	var sb strings.Builder
	sb.WriteString("Categories: ")
	sb.WriteString(strings.Join(names, ", "))
	if len(mappings) > 0 {
		sb.WriteString("\n\nConfirmed merchant mappings:\n")
		for _, m := range mappings {
			fmt.Fprintf(&sb, "- %s => %s\n", m.MerchantName, m.CategoryName)
		}
	}
	sb.WriteString("\n\nTransactions:\n")
	for _, tx := range txs {
		current := ""
		if tx.CategoryID != nil {
			current = categoryNames[*tx.CategoryID]
		}
		fmt.Fprintf(&sb, "- id=%s date=%s merchant=%q description=%q amount_minor=%d current_category=%q confidence=%d\n",
			tx.ID, tx.Date.Format("2006-01-02"), tx.MerchantName, tx.Description, tx.AmountMinor, current, tx.Confidence)
	}
	return sb.String()
}
