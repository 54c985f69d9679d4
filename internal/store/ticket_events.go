package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/clinic-queue-service/internal/models"
)

const (
	EventTicketCreated   = "ticket.created"
	EventTicketCalled    = "ticket.called"
	EventTicketCompleted = "ticket.completed"
	EventTicketCancelled = "ticket.cancelled"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID  string              `json:"ticket_id"`
	QueueID   string              `json:"queue_id"`
	PatientID string              `json:"patient_id,omitempty"`
	Status    models.TicketStatus `json:"status"`
	IssuedAt  *time.Time          `json:"issued_at,omitempty"`
	ServedAt  *time.Time          `json:"served_at,omitempty"`
}

// EventTypeFor names the event recorded when a ticket enters status.
func EventTypeFor(status models.TicketStatus) string {
	switch status {
	case models.StatusServing:
		return EventTicketCalled
	case models.StatusCompleted:
		return EventTicketCompleted
	case models.StatusCancelled:
		return EventTicketCancelled
	default:
		return EventTicketCreated
	}
}

// NextTicketEvent builds the event that follows prev in a ticket's chain.
// prev is nil for the first event.
func NextTicketEvent(prev *TicketEvent, ticket models.Ticket, at time.Time) (TicketEvent, error) {
	payload := eventPayload{
		TicketID:  ticket.TicketID,
		QueueID:   ticket.QueueID,
		PatientID: ticket.PatientID,
		Status:    ticket.Status,
		ServedAt:  ticket.ServedAt,
	}
	if prev == nil {
		issued := ticket.IssuedAt
		payload.IssuedAt = &issued
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return TicketEvent{}, err
	}

	event := TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: 1,
		Type:      EventTypeFor(ticket.Status),
		Payload:   raw,
		CreatedAt: at.UTC(),
	}
	if prev != nil {
		event.TicketSeq = prev.TicketSeq + 1
		event.PrevHash = prev.Hash
	}
	event.Hash = ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
	return event, nil
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents checks sequence numbering and hash links of a chain.
func VerifyTicketEvents(events []TicketEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("event %d: sequence %d out of order", i, event.TicketSeq)
		}
		if event.PrevHash != prevHash {
			return fmt.Errorf("event %d: broken link", event.TicketSeq)
		}
		want := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", event.TicketSeq)
		}
		prevHash = event.Hash
	}
	return nil
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.QueueID != "" {
			ticket.QueueID = payload.QueueID
		}
		if payload.PatientID != "" {
			ticket.PatientID = payload.PatientID
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.IssuedAt != nil {
			ticket.IssuedAt = *payload.IssuedAt
		}
		if payload.ServedAt != nil {
			ticket.ServedAt = payload.ServedAt
		}
	}
	return ticket, nil
}
