package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spendsight/spendsight/internal/pipeline"
	"github.com/spendsight/spendsight/internal/queue"
)

type RefineWorker struct {
	refiner *pipeline.Refiner
}

func NewRefineWorker(r *pipeline.Refiner) *RefineWorker {
	return &RefineWorker{refiner: r}
}

func (w *RefineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.RefineRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	docID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("parse document ID: %v: %w", err, asynq.SkipRetry)
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("parse tenant ID: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.refiner.Refine(ctx, docID, tenantID)
	if err != nil {
		return fmt.Errorf("refine document %s: %w", docID, err)
	}

	slog.Info("refinement pass finished",
		"document_id", docID,
		"reviewed", result.Reviewed,
		"updated", result.Updated,
		"improved_above_threshold", result.ImprovedAboveThreshold)
	return nil
}
