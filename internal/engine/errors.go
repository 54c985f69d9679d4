package engine

import (
	"errors"
	"fmt"

	"qms/clinic-queue-service/internal/models"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrNotFound                 = errors.New("not found")
	ErrCapacityExceeded         = errors.New("queue capacity exceeded")
	ErrQueueNotAcceptingTickets = errors.New("queue is not accepting tickets")
	ErrInvalidTransition        = errors.New("invalid ticket transition")
	ErrAllocationExhausted      = errors.New("ticket allocation exhausted")
	ErrForbidden                = errors.New("forbidden")
	ErrNoWaitingTickets         = errors.New("no waiting tickets")
	ErrQueueInUse               = errors.New("queue has active tickets")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError names the status a ticket was in and the one requested.
type TransitionError struct {
	TicketID string
	From     models.TicketStatus
	To       models.TicketStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ticket %s: cannot move from %s to %s", e.TicketID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func queueNotFound(queueID string) error {
	return &NotFoundError{Kind: "queue", ID: queueID}
}

func ticketNotFound(ticketID string) error {
	return &NotFoundError{Kind: "ticket", ID: ticketID}
}
