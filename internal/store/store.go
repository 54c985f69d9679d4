package store

import (
	"context"

	"qms/clinic-queue-service/internal/models"
)

// TicketMutation is applied to a ticket while the store holds it locked. A
// non-nil error aborts the write.
type TicketMutation func(ticket *models.Ticket) error

// QueueMutation is applied to a queue while the store holds it locked.
type QueueMutation func(queue *models.Queue) error

// Store is the persistence contract the engine depends on. Implementations
// must make InsertTicket reject a ticket id that already exists with
// ErrDuplicateTicket, and must run UpdateTicket and PromoteNext as single
// atomic units.
type Store interface {
	CreateQueue(ctx context.Context, queue models.Queue) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListQueues(ctx context.Context, clinicID string) ([]models.Queue, error)
	UpdateQueue(ctx context.Context, queueID string, apply QueueMutation) (models.Queue, error)
	DeleteQueue(ctx context.Context, queueID string) error

	// CountTickets counts the queue's tickets in the given statuses, or all
	// tickets when none are given.
	CountTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) (int, error)
	// HighestSequence returns the largest sequence among tickets whose id
	// starts with the {queueID}-{period}- prefix, or 0 when there are none.
	HighestSequence(ctx context.Context, queueID, period string) (int, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) error
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	// ListTickets returns tickets in serving order: issue month, then sequence.
	ListTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) ([]models.Ticket, error)
	UpdateTicket(ctx context.Context, ticketID string, apply TicketMutation) (models.Ticket, error)
	// PromoteNext locks the queue, applies the mutation to the first waiting
	// ticket in serving order and records it as the queue's current ticket.
	PromoteNext(ctx context.Context, queueID string, apply TicketMutation) (models.Ticket, error)
	NextWaiting(ctx context.Context, queueID string) (models.Ticket, bool, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)

	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
}

type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	CreatePatient(ctx context.Context, patient models.Patient) error
	DeleteAccount(ctx context.Context, accountID string) error
}
