package engine

import (
	"fmt"

	"qms/clinic-queue-service/internal/models"
)

// CheckAcceptingTickets rejects ticket creation on a queue that is not open.
func CheckAcceptingTickets(queue models.Queue) error {
	if queue.Status != models.QueueOpen {
		return fmt.Errorf("%w: queue %s is %s", ErrQueueNotAcceptingTickets, queue.QueueID, queue.Status)
	}
	return nil
}

func validateQueueStatus(status models.QueueStatus) error {
	if !status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("must be open, closed or paused, got %q", status)}
	}
	return nil
}
