package store

import (
	"testing"
	"time"

	"qms/clinic-queue-service/internal/models"
)

func TestTicketEventChain(t *testing.T) {
	issued := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	served := issued.Add(15 * time.Minute)
	ticket := models.Ticket{
		TicketID: "Q1-1125-0001",
		QueueID:  "Q1",
		Status:   models.StatusWaiting,
		IssuedAt: issued,
	}

	first, err := NextTicketEvent(nil, ticket, issued)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if first.Type != EventTicketCreated || first.TicketSeq != 1 || first.PrevHash != "" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	ticket.Status = models.StatusServing
	ticket.ServedAt = &served
	second, err := NextTicketEvent(&first, ticket, served)
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if second.Type != EventTicketCalled || second.PrevHash != first.Hash {
		t.Fatalf("unexpected second event: %+v", second)
	}

	events := []TicketEvent{first, second}
	if err := VerifyTicketEvents(events); err != nil {
		t.Fatalf("verify: %v", err)
	}

	got, err := RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if got.TicketID != ticket.TicketID || got.Status != models.StatusServing || !got.IssuedAt.Equal(issued) {
		t.Fatalf("unexpected rehydrated ticket: %+v", got)
	}
	if got.ServedAt == nil || !got.ServedAt.Equal(served) {
		t.Fatalf("expected served_at %v, got %v", served, got.ServedAt)
	}
}

func TestVerifyTicketEventsDetectsTampering(t *testing.T) {
	at := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	ticket := models.Ticket{TicketID: "Q1-1125-0001", QueueID: "Q1", Status: models.StatusWaiting, IssuedAt: at}
	first, err := NextTicketEvent(nil, ticket, at)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	first.Type = EventTicketCancelled
	if err := VerifyTicketEvents([]TicketEvent{first}); err == nil {
		t.Fatalf("expected hash mismatch")
	}
}
