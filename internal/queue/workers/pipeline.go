package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spendsight/spendsight/internal/pipeline"
	"github.com/spendsight/spendsight/internal/queue"
)

// PipelineWorker drives one document through the ingestion pipeline. Fatal
// pipeline errors are mapped to asynq's skip-retry so hopeless documents are
// not retried; transient errors retry up to the task's budget, and the
// document is marked failed when that budget runs out.
type PipelineWorker struct {
	pipeline *pipeline.Pipeline
}

func NewPipelineWorker(p *pipeline.Pipeline) *PipelineWorker {
	return &PipelineWorker{pipeline: p}
}

func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.PipelineRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	docID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("parse document ID: %v: %w", err, asynq.SkipRetry)
	}

	slog.Info("processing document", "document_id", docID)

	err = w.pipeline.Run(ctx, docID)
	if err == nil {
		return nil
	}

	if errors.Is(err, pipeline.ErrFatal) {
		slog.Error("pipeline failed fatally", "document_id", docID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried >= maxRetry {
		slog.Error("pipeline exhausted retries", "document_id", docID, "error", err)
		w.pipeline.MarkFailed(ctx, docID)
	}
	return err
}
