package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/store"
)

func seedQueue(t *testing.T, st *Store, queueID string) {
	t.Helper()
	if _, err := st.CreateQueue(context.Background(), models.Queue{QueueID: queueID, Name: queueID, ClinicID: "c-1", Status: models.QueueOpen}); err != nil {
		t.Fatalf("create queue: %v", err)
	}
}

func waitingTicket(queueID, period string, seq int, issued time.Time) models.Ticket {
	return models.Ticket{
		TicketID: fmt.Sprintf("%s-%s-%04d", queueID, period, seq),
		QueueID:  queueID,
		Period:   period,
		Sequence: seq,
		Status:   models.StatusWaiting,
		IssuedAt: issued,
	}
}

func TestInsertTicketRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	seedQueue(t, st, "Q1")
	ticket := waitingTicket("Q1", "1125", 1, time.Now())

	if err := st.InsertTicket(ctx, ticket); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertTicket(ctx, ticket); !errors.Is(err, store.ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}
}

func TestHighestSequenceMatchesPrefix(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	seedQueue(t, st, "Q1")
	seedQueue(t, st, "Q2")
	now := time.Now()
	for _, ticket := range []models.Ticket{
		waitingTicket("Q1", "1125", 1, now),
		waitingTicket("Q1", "1125", 2, now),
		waitingTicket("Q1", "1225", 7, now),
		waitingTicket("Q2", "1125", 5, now),
	} {
		if err := st.InsertTicket(ctx, ticket); err != nil {
			t.Fatalf("insert %s: %v", ticket.TicketID, err)
		}
	}

	cases := []struct {
		queue, period string
		want          int
	}{
		{"Q1", "1125", 2},
		{"Q1", "1225", 7},
		{"Q2", "1125", 5},
		{"Q3", "1125", 0},
	}
	for _, tt := range cases {
		got, err := st.HighestSequence(ctx, tt.queue, tt.period)
		if err != nil {
			t.Fatalf("highest: %v", err)
		}
		if got != tt.want {
			t.Fatalf("HighestSequence(%s, %s)=%d, want %d", tt.queue, tt.period, got, tt.want)
		}
	}
}

func TestPromoteNextRollsBackOnMutationError(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	seedQueue(t, st, "Q1")
	if err := st.InsertTicket(ctx, waitingTicket("Q1", "1125", 1, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	boom := errors.New("boom")
	_, err := st.PromoteNext(ctx, "Q1", func(ticket *models.Ticket) error {
		ticket.Status = models.StatusServing
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}

	ticket, err := st.GetTicket(ctx, "Q1-1125-0001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ticket.Status != models.StatusWaiting {
		t.Fatalf("expected ticket to stay waiting, got %s", ticket.Status)
	}
	queue, _ := st.GetQueue(ctx, "Q1")
	if queue.CurrentTicket != nil {
		t.Fatalf("expected no current ticket, got %s", *queue.CurrentTicket)
	}
}

func TestPromoteNextEmptyQueue(t *testing.T) {
	st := NewStore()
	seedQueue(t, st, "Q1")
	_, err := st.PromoteNext(context.Background(), "Q1", func(*models.Ticket) error { return nil })
	if !errors.Is(err, store.ErrNoWaitingTickets) {
		t.Fatalf("expected ErrNoWaitingTickets, got %v", err)
	}
}

func TestDeleteQueueRefusedWhileActive(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	seedQueue(t, st, "Q1")
	if err := st.InsertTicket(ctx, waitingTicket("Q1", "1125", 1, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.DeleteQueue(ctx, "Q1"); !errors.Is(err, store.ErrQueueInUse) {
		t.Fatalf("expected ErrQueueInUse, got %v", err)
	}

	if _, err := st.UpdateTicket(ctx, "Q1-1125-0001", func(ticket *models.Ticket) error {
		ticket.Status = models.StatusCancelled
		return nil
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := st.DeleteQueue(ctx, "Q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetQueue(ctx, "Q1"); !errors.Is(err, store.ErrQueueNotFound) {
		t.Fatalf("expected queue gone, got %v", err)
	}
}

func TestTicketMutationsRecordEvents(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	seedQueue(t, st, "Q1")
	if err := st.InsertTicket(ctx, waitingTicket("Q1", "1125", 1, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := st.PromoteNext(ctx, "Q1", func(ticket *models.Ticket) error {
		ticket.Status = models.StatusServing
		return nil
	}); err != nil {
		t.Fatalf("promote: %v", err)
	}

	events, err := st.ListTicketEvents(ctx, "Q1-1125-0001")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Type != store.EventTicketCreated || events[1].Type != store.EventTicketCalled {
		t.Fatalf("unexpected events: %+v", events)
	}
	if err := store.VerifyTicketEvents(events); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestAccountEmailsAreUnique(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	if err := st.CreateAccount(ctx, models.Account{AccountID: "a-1", Email: "Ana@Example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateAccount(ctx, models.Account{AccountID: "a-2", Email: "ana@example.com"}); !errors.Is(err, store.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}
