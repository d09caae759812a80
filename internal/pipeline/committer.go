package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spendsight/spendsight/internal/models"
	"github.com/spendsight/spendsight/internal/rules"
)

// CommitResult summarizes one import commit.
type CommitResult struct {
	// NoOp is set when the document was no longer processing at commit time
	// (a cancel won the race). Nothing was written.
	NoOp              bool
	Inserted          int
	Skipped           int
	CategoriesCreated int
	RulesApplied      int
}

type evaluated struct {
	candidate models.Candidate
	outcome   rules.Result
}

// Committer persists extracted candidates in a single transaction. Rule
// evaluation, category resolution, transaction inserts and the completed
// status write all commit or roll back together.
type Committer struct {
	store      CommitStore
	notifier   Notifier
	recipients RecipientResolver
	refine     RefineEnqueuer
}

func NewCommitter(store CommitStore, notifier Notifier, recipients RecipientResolver, refine RefineEnqueuer) *Committer {
	return &Committer{store: store, notifier: notifier, recipients: recipients, refine: refine}
}

func (c *Committer) Commit(ctx context.Context, doc *models.Document, extraction *Extraction, ruleSet []models.Rule) (*CommitResult, error) {
	result := &CommitResult{}

	err := c.store.RunInTx(ctx, func(tx CommitTx) error {
		status, err := tx.DocumentStatus(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("read document status: %w", err)
		}
		if status != models.DocStatusProcessing {
			// Most likely cancelled while extraction ran. Insert nothing and
			// leave the stored status alone.
			result.NoOp = true
			return nil
		}

		kept := make([]evaluated, 0, len(extraction.Candidates))
		for _, cand := range extraction.Candidates {
			outcome := rules.Evaluate(cand, ruleSet)
			result.RulesApplied += outcome.RulesApplied
			if outcome.Skip {
				result.Skipped++
				continue
			}
			if outcome.AmountOverride != nil {
				cand.AmountMinor = *outcome.AmountOverride
			}
			kept = append(kept, evaluated{candidate: cand, outcome: outcome})
		}

		if len(kept) == 0 {
			return tx.SetDocumentStatus(ctx, doc.ID, models.DocStatusCompleted)
		}

		// Overrides pointing at soft-deleted or foreign categories are
		// dropped in favor of the extractor's suggestion.
		liveOverrides, err := c.resolveOverrides(ctx, tx, doc.TenantID, kept)
		if err != nil {
			return err
		}

		names := make(map[string]string) // lower -> original spelling
		for _, ev := range kept {
			if ev.outcome.CategoryOverride != nil && liveOverrides[*ev.outcome.CategoryOverride] {
				continue
			}
			if ev.candidate.SuggestedCategory == "" {
				continue
			}
			key := strings.ToLower(ev.candidate.SuggestedCategory)
			if _, ok := names[key]; !ok {
				names[key] = ev.candidate.SuggestedCategory
			}
		}

		byName, created, err := c.resolveCategories(ctx, tx, doc.TenantID, names)
		if err != nil {
			return err
		}
		result.CategoriesCreated = created

		txs := make([]models.Transaction, 0, len(kept))
		for _, ev := range kept {
			var categoryID *uuid.UUID
			switch {
			case ev.outcome.CategoryOverride != nil && liveOverrides[*ev.outcome.CategoryOverride]:
				id := *ev.outcome.CategoryOverride
				categoryID = &id
			case ev.candidate.SuggestedCategory != "":
				if id, ok := byName[strings.ToLower(ev.candidate.SuggestedCategory)]; ok {
					categoryID = &id
				}
			}
			txs = append(txs, models.Transaction{
				TenantID:     doc.TenantID,
				DocumentID:   doc.ID,
				CategoryID:   categoryID,
				Date:         ev.candidate.Date,
				MerchantName: ev.candidate.MerchantName,
				Description:  ev.candidate.Description,
				AmountMinor:  ev.candidate.AmountMinor,
				Currency:     ev.candidate.Currency,
				Confidence:   ev.candidate.Confidence,
			})
		}

		if err := tx.InsertTransactions(ctx, txs); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		result.Inserted = len(txs)

		return tx.SetDocumentStatus(ctx, doc.ID, models.DocStatusCompleted)
	})
	if err != nil {
		return nil, err
	}

	if !result.NoOp {
		c.notifyCompleted(ctx, doc, result)
		if err := c.refine.EnqueueRefine(doc.ID, doc.TenantID); err != nil {
			slog.Error("failed to enqueue refinement pass", "document_id", doc.ID, "error", err)
		}
	}
	return result, nil
}

func (c *Committer) resolveOverrides(ctx context.Context, tx CommitTx, tenantID uuid.UUID, kept []evaluated) (map[uuid.UUID]bool, error) {
	ids := make([]uuid.UUID, 0)
	seen := make(map[uuid.UUID]bool)
	for _, ev := range kept {
		if ev.outcome.CategoryOverride == nil || seen[*ev.outcome.CategoryOverride] {
			continue
		}
		seen[*ev.outcome.CategoryOverride] = true
		ids = append(ids, *ev.outcome.CategoryOverride)
	}
	if len(ids) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	live, err := tx.LiveCategoryIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("verify rule category overrides: %w", err)
	}
	for id, ok := range live {
		if !ok {
			slog.Warn("rule points at missing or deleted category, falling back to suggestion", "category_id", id)
		}
	}
	return live, nil
}

func (c *Committer) resolveCategories(ctx context.Context, tx CommitTx, tenantID uuid.UUID, names map[string]string) (map[string]uuid.UUID, int, error) {
	if len(names) == 0 {
		return map[string]uuid.UUID{}, 0, nil
	}

	wanted := make([]string, 0, len(names))
	for _, original := range names {
		wanted = append(wanted, original)
	}

	existing, err := tx.CategoriesByNames(ctx, tenantID, wanted)
	if err != nil {
		return nil, 0, fmt.Errorf("look up categories: %w", err)
	}

	missing := make([]string, 0)
	for key, original := range names {
		if _, ok := existing[key]; !ok {
			missing = append(missing, original)
		}
	}
	if len(missing) == 0 {
		return existing, 0, nil
	}

	createdMap, created, err := tx.CreateCategories(ctx, tenantID, missing)
	if err != nil {
		return nil, 0, fmt.Errorf("create categories: %w", err)
	}
	for key, id := range createdMap {
		existing[key] = id
	}
	return existing, created, nil
}

func (c *Committer) notifyCompleted(ctx context.Context, doc *models.Document, result *CommitResult) {
	email, err := c.recipients.OwnerEmail(ctx, doc.TenantID)
	if err != nil {
		slog.Warn("could not resolve notification recipient", "tenant_id", doc.TenantID, "error", err)
		return
	}
	c.notifier.Send("import_completed", email, map[string]any{
		"document_id": doc.ID.String(),
		"filename":    doc.OriginalFilename,
		"imported":    result.Inserted,
		"skipped":     result.Skipped,
	})
}
