// Package engine issues clinic queue tickets and advances queues. It owns
// ticket numbering, the ticket and queue state machines, the capacity guard
// and the call-next coordination; persistence and delivery sit behind the
// store and notify contracts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/notify"
	"qms/clinic-queue-service/internal/store"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultNotifyTimeout = 5 * time.Second

type Options struct {
	AllocationAttempts int
	// ExcludeTerminalFromCapacity stops completed and cancelled tickets from
	// counting toward a queue's maximum.
	ExcludeTerminalFromCapacity bool
	// AvgServiceMinutes drives the estimated wait of new tickets; zero
	// leaves the estimate unset.
	AvgServiceMinutes int
	NotifyTimeout     time.Duration
	// Location decides which calendar month a ticket is issued in.
	Location *time.Location
	Now      func() time.Time
}

type Engine struct {
	store             store.Store
	notifier          notify.Notifier
	allocator         *Allocator
	excludeTerminal   bool
	avgServiceMinutes int
	notifyTimeout     time.Duration
	now               func() time.Time
	tracer            trace.Tracer
	validate          *validator.Validate
	dispatches        sync.WaitGroup
}

type CreateQueueInput struct {
	QueueID    string
	Name       string
	ClinicID   string
	StaffID    string
	MaxTickets int
}

type UpdateQueueInput struct {
	Name       *string
	StaffID    *string
	MaxTickets *int
}

type CreateTicketInput struct {
	QueueID   string
	PatientID string
	Contact   string
}

func New(st store.Store, notifier notify.Notifier, options Options) *Engine {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	timeout := options.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &Engine{
		store:             st,
		notifier:          notifier,
		allocator:         NewAllocator(st, options.AllocationAttempts, options.Location),
		excludeTerminal:   options.ExcludeTerminalFromCapacity,
		avgServiceMinutes: options.AvgServiceMinutes,
		notifyTimeout:     timeout,
		now:               now,
		tracer:            otel.Tracer("qms/clinic-queue-service/engine"),
		validate:          validator.New(),
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) CreateQueue(ctx context.Context, actor models.Actor, input CreateQueueInput) (queue models.Queue, err error) {
	ctx, span := e.startSpan(ctx, "engine.CreateQueue", attribute.String("queue.id", input.QueueID))
	defer func() { endSpan(span, err) }()

	input.QueueID = strings.TrimSpace(input.QueueID)
	input.Name = strings.TrimSpace(input.Name)
	input.ClinicID = strings.TrimSpace(input.ClinicID)
	input.StaffID = strings.TrimSpace(input.StaffID)

	switch {
	case input.QueueID == "":
		return models.Queue{}, &ValidationError{Field: "queue_id", Reason: "required"}
	case strings.ContainsAny(input.QueueID, " \t\r\n/?#%"):
		return models.Queue{}, &ValidationError{Field: "queue_id", Reason: "must not contain whitespace or URL delimiters"}
	case input.Name == "":
		return models.Queue{}, &ValidationError{Field: "name", Reason: "required"}
	case input.ClinicID == "":
		return models.Queue{}, &ValidationError{Field: "clinic_id", Reason: "required"}
	case input.MaxTickets < 0:
		return models.Queue{}, &ValidationError{Field: "max_tickets", Reason: "must not be negative"}
	}
	if !CanManage(actor, models.Queue{ClinicID: input.ClinicID}) {
		return models.Queue{}, fmt.Errorf("%w: cannot create queues for clinic %s", ErrForbidden, input.ClinicID)
	}

	queue, err = e.store.CreateQueue(ctx, models.Queue{
		QueueID:    input.QueueID,
		Name:       input.Name,
		ClinicID:   input.ClinicID,
		StaffID:    input.StaffID,
		Status:     models.QueueOpen,
		MaxTickets: input.MaxTickets,
		CreatedAt:  e.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrQueueExists) {
			return models.Queue{}, &ValidationError{Field: "queue_id", Reason: "already exists"}
		}
		return models.Queue{}, fmt.Errorf("create queue: %w", err)
	}
	log.Printf("queue created queue=%s clinic=%s max=%d", queue.QueueID, queue.ClinicID, queue.MaxTickets)
	return queue, nil
}

func (e *Engine) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	queue, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		if errors.Is(err, store.ErrQueueNotFound) {
			return models.Queue{}, queueNotFound(queueID)
		}
		return models.Queue{}, fmt.Errorf("get queue: %w", err)
	}
	return queue, nil
}

func (e *Engine) ListQueues(ctx context.Context, clinicID string) ([]models.Queue, error) {
	if strings.TrimSpace(clinicID) == "" {
		return nil, &ValidationError{Field: "clinic_id", Reason: "required"}
	}
	return e.store.ListQueues(ctx, clinicID)
}

func (e *Engine) UpdateQueue(ctx context.Context, actor models.Actor, queueID string, input UpdateQueueInput) (queue models.Queue, err error) {
	ctx, span := e.startSpan(ctx, "engine.UpdateQueue", attribute.String("queue.id", queueID))
	defer func() { endSpan(span, err) }()

	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return models.Queue{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if input.MaxTickets != nil && *input.MaxTickets < 0 {
		return models.Queue{}, &ValidationError{Field: "max_tickets", Reason: "must not be negative"}
	}
	return e.mutateQueue(ctx, actor, queueID, func(q *models.Queue) error {
		if input.Name != nil {
			q.Name = strings.TrimSpace(*input.Name)
		}
		if input.StaffID != nil {
			q.StaffID = strings.TrimSpace(*input.StaffID)
		}
		if input.MaxTickets != nil {
			q.MaxTickets = *input.MaxTickets
		}
		return nil
	})
}

// SetQueueStatus is an unconditional administrative change; any status may
// follow any other.
func (e *Engine) SetQueueStatus(ctx context.Context, actor models.Actor, queueID string, status models.QueueStatus) (queue models.Queue, err error) {
	ctx, span := e.startSpan(ctx, "engine.SetQueueStatus", attribute.String("queue.id", queueID), attribute.String("queue.status", string(status)))
	defer func() { endSpan(span, err) }()

	if err := validateQueueStatus(status); err != nil {
		return models.Queue{}, err
	}
	var previous models.QueueStatus
	queue, err = e.mutateQueue(ctx, actor, queueID, func(q *models.Queue) error {
		previous = q.Status
		q.Status = status
		return nil
	})
	if err != nil {
		return models.Queue{}, err
	}
	log.Printf("queue status queue=%s from=%s to=%s", queueID, previous, status)
	return queue, nil
}

func (e *Engine) mutateQueue(ctx context.Context, actor models.Actor, queueID string, apply store.QueueMutation) (models.Queue, error) {
	queue, err := e.store.UpdateQueue(ctx, queueID, func(q *models.Queue) error {
		if !CanManage(actor, *q) {
			return fmt.Errorf("%w: cannot manage queue %s", ErrForbidden, q.QueueID)
		}
		return apply(q)
	})
	if err != nil {
		if errors.Is(err, store.ErrQueueNotFound) {
			return models.Queue{}, queueNotFound(queueID)
		}
		return models.Queue{}, err
	}
	return queue, nil
}

// DeleteQueue refuses while any waiting or serving ticket references the queue.
func (e *Engine) DeleteQueue(ctx context.Context, actor models.Actor, queueID string) (err error) {
	ctx, span := e.startSpan(ctx, "engine.DeleteQueue", attribute.String("queue.id", queueID))
	defer func() { endSpan(span, err) }()

	queue, err := e.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	if !CanManage(actor, queue) {
		return fmt.Errorf("%w: cannot manage queue %s", ErrForbidden, queueID)
	}
	if err := e.store.DeleteQueue(ctx, queueID); err != nil {
		switch {
		case errors.Is(err, store.ErrQueueInUse):
			return fmt.Errorf("%w: %s", ErrQueueInUse, queueID)
		case errors.Is(err, store.ErrQueueNotFound):
			return queueNotFound(queueID)
		}
		return fmt.Errorf("delete queue: %w", err)
	}
	log.Printf("queue deleted queue=%s", queueID)
	return nil
}

// CreateTicket runs the queue status check and the capacity guard, then
// allocates the ticket id and stores the ticket as waiting.
func (e *Engine) CreateTicket(ctx context.Context, actor models.Actor, input CreateTicketInput) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "engine.CreateTicket", attribute.String("queue.id", input.QueueID))
	defer func() { endSpan(span, err) }()

	input.QueueID = strings.TrimSpace(input.QueueID)
	input.PatientID = strings.TrimSpace(input.PatientID)
	input.Contact = strings.TrimSpace(input.Contact)
	if input.QueueID == "" {
		return models.Ticket{}, &ValidationError{Field: "queue_id", Reason: "required"}
	}

	queue, err := e.GetQueue(ctx, input.QueueID)
	if err != nil {
		return models.Ticket{}, err
	}

	switch actor.Role {
	case models.RolePatient:
		if actor.ID == "" {
			return models.Ticket{}, fmt.Errorf("%w: anonymous patient", ErrForbidden)
		}
		input.PatientID = actor.ID
	case models.RoleStaff:
		if !CanManage(actor, queue) {
			return models.Ticket{}, fmt.Errorf("%w: cannot issue tickets for queue %s", ErrForbidden, queue.QueueID)
		}
	default:
		return models.Ticket{}, fmt.Errorf("%w: unknown role", ErrForbidden)
	}
	if input.PatientID != "" {
		if _, err := e.store.GetPatient(ctx, input.PatientID); err != nil {
			if errors.Is(err, store.ErrPatientNotFound) {
				return models.Ticket{}, &NotFoundError{Kind: "patient", ID: input.PatientID}
			}
			return models.Ticket{}, fmt.Errorf("get patient: %w", err)
		}
	}

	if err := CheckAcceptingTickets(queue); err != nil {
		return models.Ticket{}, err
	}
	count, err := e.capacityCount(ctx, queue.QueueID)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("count tickets: %w", err)
	}
	if err := CheckCapacity(queue.MaxTickets, count); err != nil {
		return models.Ticket{}, err
	}

	ticket = models.Ticket{
		QueueID:   queue.QueueID,
		PatientID: input.PatientID,
		Contact:   input.Contact,
		Status:    models.StatusWaiting,
		IssuedAt:  e.now().UTC(),
	}
	if e.avgServiceMinutes > 0 {
		waiting, err := e.store.CountTickets(ctx, queue.QueueID, models.StatusWaiting)
		if err != nil {
			return models.Ticket{}, fmt.Errorf("count waiting: %w", err)
		}
		estimate := waiting * e.avgServiceMinutes
		ticket.EstimatedWait = &estimate
	}

	ticket, err = e.allocator.Allocate(ctx, ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	span.SetAttributes(attribute.String("ticket.id", ticket.TicketID))
	log.Printf("ticket created queue=%s ticket=%s", ticket.QueueID, ticket.TicketID)
	return ticket, nil
}

func (e *Engine) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return models.Ticket{}, ticketNotFound(ticketID)
		}
		return models.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return ticket, nil
}

func (e *Engine) ListTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	for _, status := range statuses {
		if !status.Valid() {
			return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
	}
	if _, err := e.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	return e.store.ListTickets(ctx, queueID, statuses...)
}

func (e *Engine) TicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	if _, err := e.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return e.store.ListTicketEvents(ctx, ticketID)
}

// CancelTicket lets a patient withdraw their own waiting or serving ticket.
func (e *Engine) CancelTicket(ctx context.Context, actor models.Actor, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "engine.CancelTicket", attribute.String("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	ticket, err = e.store.UpdateTicket(ctx, ticketID, func(t *models.Ticket) error {
		if !CanCancel(actor, *t) {
			return fmt.Errorf("%w: ticket %s belongs to another patient", ErrForbidden, t.TicketID)
		}
		return ApplyTransition(t, ActionCancel, e.now())
	})
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return models.Ticket{}, ticketNotFound(ticketID)
		}
		return models.Ticket{}, err
	}
	log.Printf("ticket cancelled queue=%s ticket=%s", ticket.QueueID, ticket.TicketID)
	return ticket, nil
}

// CompleteTicket closes a serving ticket on behalf of the queue's staff.
func (e *Engine) CompleteTicket(ctx context.Context, actor models.Actor, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "engine.CompleteTicket", attribute.String("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	current, err := e.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	queue, err := e.GetQueue(ctx, current.QueueID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !CanManage(actor, queue) {
		return models.Ticket{}, fmt.Errorf("%w: cannot manage queue %s", ErrForbidden, queue.QueueID)
	}

	ticket, err = e.store.UpdateTicket(ctx, ticketID, func(t *models.Ticket) error {
		return ApplyTransition(t, ActionComplete, e.now())
	})
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return models.Ticket{}, ticketNotFound(ticketID)
		}
		return models.Ticket{}, err
	}
	log.Printf("ticket completed queue=%s ticket=%s", ticket.QueueID, ticket.TicketID)
	return ticket, nil
}
