package models

import "time"

type QueueStatus string

const (
	QueueOpen   QueueStatus = "open"
	QueueClosed QueueStatus = "closed"
	QueuePaused QueueStatus = "paused"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueOpen, QueueClosed, QueuePaused:
		return true
	}
	return false
}

type Queue struct {
	QueueID       string      `json:"queue_id"`
	Name          string      `json:"name"`
	ClinicID      string      `json:"clinic_id"`
	StaffID       string      `json:"staff_id,omitempty"`
	Status        QueueStatus `json:"status"`
	MaxTickets    int         `json:"max_tickets"`
	CurrentTicket *string     `json:"current_ticket,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
