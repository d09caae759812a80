package pipeline

import (
	"errors"
	"fmt"
)

// ErrFatal marks stage errors that must not be retried by the task queue.
// Workers translate it to the queue's skip-retry semantics.
var ErrFatal = errors.New("fatal pipeline error")

// fatal wraps err so errors.Is(err, ErrFatal) holds.
func fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Generic user-facing failure text for anything outside the validator's
// controlled vocabulary. Internal causes never reach the stored reason.
const genericFailureReason = "We couldn't process this document. Please try uploading it again."
