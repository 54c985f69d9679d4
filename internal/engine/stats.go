package engine

import (
	"context"

	"qms/clinic-queue-service/internal/models"
)

// QueueStats summarises a queue for display boards and reporting.
type QueueStats struct {
	QueueID        string  `json:"queue_id"`
	Waiting        int     `json:"waiting"`
	Serving        int     `json:"serving"`
	Completed      int     `json:"completed"`
	Cancelled      int     `json:"cancelled"`
	Total          int     `json:"total"`
	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
	CurrentTicket  *string `json:"current_ticket,omitempty"`
}

func (e *Engine) QueueStats(ctx context.Context, queueID string) (QueueStats, error) {
	queue, err := e.GetQueue(ctx, queueID)
	if err != nil {
		return QueueStats{}, err
	}
	tickets, err := e.store.ListTickets(ctx, queueID)
	if err != nil {
		return QueueStats{}, err
	}
	stats := summarize(tickets)
	stats.QueueID = queue.QueueID
	stats.CurrentTicket = queue.CurrentTicket
	return stats, nil
}

// summarize averages wait time over tickets that have been called.
func summarize(tickets []models.Ticket) QueueStats {
	var stats QueueStats
	var waited float64
	var called int
	for _, ticket := range tickets {
		stats.Total++
		switch ticket.Status {
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusServing:
			stats.Serving++
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusCancelled:
			stats.Cancelled++
		}
		if ticket.ServedAt != nil {
			waited += ticket.ServedAt.Sub(ticket.IssuedAt).Seconds()
			called++
		}
	}
	if called > 0 {
		stats.AvgWaitSeconds = waited / float64(called)
	}
	return stats
}
