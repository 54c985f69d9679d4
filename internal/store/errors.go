package store

import "errors"

var (
	ErrQueueNotFound    = errors.New("queue not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrDuplicateTicket  = errors.New("ticket id already exists")
	ErrNoWaitingTickets = errors.New("no waiting tickets")
	ErrQueueInUse       = errors.New("queue has active tickets")
	ErrAccountExists    = errors.New("account already exists")
	ErrQueueExists      = errors.New("queue already exists")
)
