package ingest

import (
	"context"
	"errors"
)

// maxAttempts is the number of tries per batch: the first call plus one retry.
const maxAttempts = 2

// nextAttempt decides whether a failed batch is tried again. attempt is the
// 1-indexed number of the call that just failed.
func nextAttempt(attempt int, err error) bool {
	if err == nil || attempt >= maxAttempts {
		return false
	}
	// Caller cancellation is not a batch failure.
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
