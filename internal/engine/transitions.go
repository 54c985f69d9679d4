package engine

import (
	"time"

	"qms/clinic-queue-service/internal/models"
)

type Action string

const (
	ActionCallNext Action = "call_next"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

type transition struct {
	from []models.TicketStatus
	to   models.TicketStatus
}

var transitionMap = map[Action]transition{
	ActionCallNext: {from: []models.TicketStatus{models.StatusWaiting}, to: models.StatusServing},
	ActionComplete: {from: []models.TicketStatus{models.StatusServing}, to: models.StatusCompleted},
	ActionCancel:   {from: []models.TicketStatus{models.StatusWaiting, models.StatusServing}, to: models.StatusCancelled},
}

func ValidTransition(action Action, fromStatus models.TicketStatus) bool {
	rule, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range rule.from {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// ApplyTransition moves ticket through action at the given time. It is the
// only place a ticket's status or served_at changes after creation.
func ApplyTransition(ticket *models.Ticket, action Action, at time.Time) error {
	rule, ok := transitionMap[action]
	if !ok {
		return &ValidationError{Field: "action", Reason: "unknown action " + string(action)}
	}
	if !ValidTransition(action, ticket.Status) {
		return &TransitionError{TicketID: ticket.TicketID, From: ticket.Status, To: rule.to}
	}
	ticket.Status = rule.to
	if rule.to == models.StatusServing {
		servedAt := at.UTC()
		ticket.ServedAt = &servedAt
	}
	return nil
}
