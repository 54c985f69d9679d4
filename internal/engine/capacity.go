package engine

import (
	"context"
	"fmt"

	"qms/clinic-queue-service/internal/models"
)

// CheckCapacity rejects a new ticket once count has reached maxTickets. A
// maximum of zero means the queue is unbounded.
func CheckCapacity(maxTickets, count int) error {
	if maxTickets > 0 && count >= maxTickets {
		return fmt.Errorf("%w: %d of %d tickets issued", ErrCapacityExceeded, count, maxTickets)
	}
	return nil
}

// capacityCount is best-effort: a concurrent creation may land between the
// count and the allocation.
func (e *Engine) capacityCount(ctx context.Context, queueID string) (int, error) {
	if e.excludeTerminal {
		return e.store.CountTickets(ctx, queueID, models.StatusWaiting, models.StatusServing)
	}
	return e.store.CountTickets(ctx, queueID)
}
