package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/store"
)

const (
	ticketSequencePad         = 4
	maxTicketSequence         = 9999
	DefaultAllocationAttempts = 3
)

// PeriodKey is the two-digit month followed by the two-digit year of t,
// e.g. "1125" for November 2025.
func PeriodKey(t time.Time) string {
	return t.Format("0106")
}

// FormatTicketID renders {queueID}-{period}-{sequence}, e.g. 5-1125-0007.
func FormatTicketID(queueID, period string, sequence int) string {
	return fmt.Sprintf("%s-%s-%0*d", queueID, period, ticketSequencePad, sequence)
}

// ParseTicketID splits a ticket id from the right, so queue ids may contain
// dashes themselves.
func ParseTicketID(ticketID string) (queueID, period string, sequence int, err error) {
	seqAt := strings.LastIndex(ticketID, "-")
	if seqAt <= 0 {
		return "", "", 0, &ValidationError{Field: "ticket_id", Reason: "missing sequence"}
	}
	periodAt := strings.LastIndex(ticketID[:seqAt], "-")
	if periodAt <= 0 {
		return "", "", 0, &ValidationError{Field: "ticket_id", Reason: "missing period"}
	}
	queueID = ticketID[:periodAt]
	period = ticketID[periodAt+1 : seqAt]
	rawSeq := ticketID[seqAt+1:]
	if len(period) != 4 || len(rawSeq) != ticketSequencePad {
		return "", "", 0, &ValidationError{Field: "ticket_id", Reason: "malformed period or sequence"}
	}
	if _, err := strconv.Atoi(period); err != nil {
		return "", "", 0, &ValidationError{Field: "ticket_id", Reason: "period is not numeric"}
	}
	sequence, err = strconv.Atoi(rawSeq)
	if err != nil || sequence <= 0 {
		return "", "", 0, &ValidationError{Field: "ticket_id", Reason: "sequence is not a positive number"}
	}
	return queueID, period, sequence, nil
}

// Allocator hands out ticket ids per (queue, period). Within one process
// allocations for the same key run one at a time; across processes the
// store's uniqueness on ticket id plus a bounded retry keeps ids distinct.
type Allocator struct {
	store       store.Store
	maxAttempts int
	location    *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAllocator(st store.Store, maxAttempts int, location *time.Location) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAllocationAttempts
	}
	if location == nil {
		location = time.UTC
	}
	return &Allocator{
		store:       st,
		maxAttempts: maxAttempts,
		location:    location,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (a *Allocator) lockFor(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}

// Allocate assigns the next id to ticket and persists it. The ticket is
// either stored exactly once or not at all.
func (a *Allocator) Allocate(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	period := PeriodKey(ticket.IssuedAt.In(a.location))
	lock := a.lockFor(ticket.QueueID + "\x00" + period)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		highest, err := a.store.HighestSequence(ctx, ticket.QueueID, period)
		if err != nil {
			return models.Ticket{}, fmt.Errorf("highest sequence: %w", err)
		}
		next := highest + 1
		if next > maxTicketSequence {
			return models.Ticket{}, fmt.Errorf("%w: queue %s has used every sequence for period %s", ErrAllocationExhausted, ticket.QueueID, period)
		}

		candidate := ticket
		candidate.Period = period
		candidate.Sequence = next
		candidate.TicketID = FormatTicketID(ticket.QueueID, period, next)

		err = a.store.InsertTicket(ctx, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, store.ErrDuplicateTicket) {
			return models.Ticket{}, fmt.Errorf("insert ticket: %w", err)
		}
		log.Printf("allocation conflict queue=%s ticket=%s attempt=%d", ticket.QueueID, candidate.TicketID, attempt)
	}
	return models.Ticket{}, fmt.Errorf("%w: queue %s period %s after %d attempts", ErrAllocationExhausted, ticket.QueueID, period, a.maxAttempts)
}
