package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/notify"
	"qms/clinic-queue-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

// CallNext promotes the queue's next waiting ticket to serving and records it
// as the current ticket. A ticket still serving from the previous call is left
// as it is. Once the promotion is stored the call has succeeded; the upcoming
// patient is notified in the background.
func (e *Engine) CallNext(ctx context.Context, actor models.Actor, queueID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "engine.CallNext", attribute.String("queue.id", queueID))
	defer func() { endSpan(span, err) }()

	queue, err := e.GetQueue(ctx, queueID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !CanManage(actor, queue) {
		return models.Ticket{}, fmt.Errorf("%w: cannot manage queue %s", ErrForbidden, queueID)
	}

	if queue.CurrentTicket != nil {
		current, err := e.store.GetTicket(ctx, *queue.CurrentTicket)
		switch {
		case err == nil && !current.Status.Terminal():
			log.Printf("call-next queue=%s previous=%s still %s", queueID, current.TicketID, current.Status)
		case err != nil && !errors.Is(err, store.ErrTicketNotFound):
			return models.Ticket{}, fmt.Errorf("get current ticket: %w", err)
		}
	}

	ticket, err = e.store.PromoteNext(ctx, queueID, func(t *models.Ticket) error {
		return ApplyTransition(t, ActionCallNext, e.now())
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoWaitingTickets):
			return models.Ticket{}, fmt.Errorf("%w: queue %s", ErrNoWaitingTickets, queueID)
		case errors.Is(err, store.ErrQueueNotFound):
			return models.Ticket{}, queueNotFound(queueID)
		}
		return models.Ticket{}, fmt.Errorf("promote next: %w", err)
	}
	span.SetAttributes(attribute.String("ticket.id", ticket.TicketID))
	log.Printf("call-next queue=%s ticket=%s", queueID, ticket.TicketID)

	e.notifyUpcoming(ctx, queue)
	return ticket, nil
}

// notifyUpcoming finds the new head of the waiting line and dispatches to it.
// Every failure here is logged and dropped.
func (e *Engine) notifyUpcoming(ctx context.Context, queue models.Queue) {
	if e.notifier == nil {
		return
	}
	next, found, err := e.store.NextWaiting(ctx, queue.QueueID)
	if err != nil {
		log.Printf("notify lookup error queue=%s: %v", queue.QueueID, err)
		return
	}
	if !found {
		return
	}
	contact := e.resolveContact(ctx, next)
	if contact == "" {
		log.Printf("notify skipped queue=%s ticket=%s: no contact", queue.QueueID, next.TicketID)
		return
	}

	data := map[string]string{
		"ticket_id":  next.TicketID,
		"queue_id":   queue.QueueID,
		"queue_name": queue.Name,
	}
	dispatchCtx := context.WithoutCancel(ctx)
	e.dispatches.Add(1)
	go func() {
		defer e.dispatches.Done()
		sendCtx, cancel := context.WithTimeout(dispatchCtx, e.notifyTimeout)
		defer cancel()
		if err := e.notifier.Send(sendCtx, contact, notify.KindTicketUpcoming, data); err != nil {
			log.Printf("notify error queue=%s ticket=%s: %v", queue.QueueID, next.TicketID, err)
		}
	}()
}

// resolveContact prefers the ticket's own contact when it is an email
// address, then the linked patient's registered email, then whatever
// contact the ticket carries (a phone number, or nothing).
func (e *Engine) resolveContact(ctx context.Context, ticket models.Ticket) string {
	if e.isEmail(ticket.Contact) {
		return ticket.Contact
	}
	if ticket.PatientID != "" {
		patient, err := e.store.GetPatient(ctx, ticket.PatientID)
		if err != nil {
			log.Printf("notify patient lookup error ticket=%s patient=%s: %v", ticket.TicketID, ticket.PatientID, err)
		} else if patient.Email != "" {
			return patient.Email
		}
	}
	return ticket.Contact
}

func (e *Engine) isEmail(contact string) bool {
	return contact != "" && e.validate.Var(contact, "email") == nil
}

// Wait blocks until every background notification has finished.
func (e *Engine) Wait() {
	e.dispatches.Wait()
}
