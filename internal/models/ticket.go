package models

import "time"

type TicketStatus string

const (
	StatusWaiting   TicketStatus = "waiting"
	StatusServing   TicketStatus = "serving"
	StatusCompleted TicketStatus = "completed"
	StatusCancelled TicketStatus = "cancelled"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusServing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s TicketStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Ticket struct {
	TicketID      string       `json:"ticket_id"`
	QueueID       string       `json:"queue_id"`
	Period        string       `json:"period"`
	Sequence      int          `json:"sequence"`
	PatientID     string       `json:"patient_id,omitempty"`
	Contact       string       `json:"contact,omitempty"`
	Status        TicketStatus `json:"status"`
	IssuedAt      time.Time    `json:"issued_at"`
	ServedAt      *time.Time   `json:"served_at,omitempty"`
	EstimatedWait *int         `json:"estimated_wait,omitempty"`
}
