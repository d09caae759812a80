package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spendsight/spendsight/internal/document"
)

// RetentionWorker hard-deletes soft-deleted documents once the grace period
// has passed. Scheduled periodically, safe to overlap with itself.
type RetentionWorker struct {
	docs  *document.Service
	grace time.Duration
}

func NewRetentionWorker(docs *document.Service, grace time.Duration) *RetentionWorker {
	return &RetentionWorker{docs: docs, grace: grace}
}

func (w *RetentionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	purged, err := w.docs.SweepExpired(ctx, w.grace)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	if purged > 0 {
		slog.Info("retention sweep purged documents", "count", purged)
	}
	return nil
}
