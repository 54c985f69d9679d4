// Package memory keeps queues and tickets in process memory. It satisfies the
// same contract as the postgres store and backs tests and single-instance
// deployments without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	queues   map[string]models.Queue
	tickets  map[string]models.Ticket
	events   map[string][]store.TicketEvent
	patients map[string]models.Patient
	accounts map[string]models.Account
	emails   map[string]string
}

func NewStore() *Store {
	return &Store{
		queues:   make(map[string]models.Queue),
		tickets:  make(map[string]models.Ticket),
		events:   make(map[string][]store.TicketEvent),
		patients: make(map[string]models.Patient),
		accounts: make(map[string]models.Account),
		emails:   make(map[string]string),
	}
}

func (s *Store) CreateQueue(ctx context.Context, queue models.Queue) (models.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queue.QueueID]; ok {
		return models.Queue{}, store.ErrQueueExists
	}
	queue.CurrentTicket = nil
	s.queues[queue.QueueID] = queue
	return cloneQueue(queue), nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queue, ok := s.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return cloneQueue(queue), nil
}

func (s *Store) ListQueues(ctx context.Context, clinicID string) ([]models.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var queues []models.Queue
	for _, queue := range s.queues {
		if queue.ClinicID == clinicID {
			queues = append(queues, cloneQueue(queue))
		}
	}
	sortQueues(queues)
	return queues, nil
}

func (s *Store) UpdateQueue(ctx context.Context, queueID string, apply store.QueueMutation) (models.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	updated := cloneQueue(current)
	if err := apply(&updated); err != nil {
		return models.Queue{}, err
	}
	// Identity and the current-ticket pointer are not editable here.
	updated.QueueID = current.QueueID
	updated.CurrentTicket = current.CurrentTicket
	s.queues[queueID] = updated
	return cloneQueue(updated), nil
}

func (s *Store) DeleteQueue(ctx context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queueID]; !ok {
		return store.ErrQueueNotFound
	}
	for _, ticket := range s.tickets {
		if ticket.QueueID == queueID && !ticket.Status.Terminal() {
			return store.ErrQueueInUse
		}
	}
	for id, ticket := range s.tickets {
		if ticket.QueueID == queueID {
			delete(s.tickets, id)
			delete(s.events, id)
		}
	}
	delete(s.queues, queueID)
	return nil
}

func (s *Store) CountTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ticket := range s.tickets {
		if ticket.QueueID == queueID && statusIn(ticket.Status, statuses) {
			count++
		}
	}
	return count, nil
}

func (s *Store) HighestSequence(ctx context.Context, queueID, period string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := queueID + "-" + period + "-"
	highest := 0
	for id, ticket := range s.tickets {
		if ticket.QueueID == queueID && strings.HasPrefix(id, prefix) && ticket.Sequence > highest {
			highest = ticket.Sequence
		}
	}
	return highest, nil
}

func (s *Store) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[ticket.QueueID]; !ok {
		return store.ErrQueueNotFound
	}
	if _, ok := s.tickets[ticket.TicketID]; ok {
		return store.ErrDuplicateTicket
	}
	stored := cloneTicket(ticket)
	if err := s.appendEvent(stored, stored.IssuedAt); err != nil {
		return err
	}
	s.tickets[ticket.TicketID] = stored
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *Store) ListTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(queueID, statuses...), nil
}

func (s *Store) listLocked(queueID string, statuses ...models.TicketStatus) []models.Ticket {
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.QueueID == queueID && statusIn(ticket.Status, statuses) {
			tickets = append(tickets, cloneTicket(ticket))
		}
	}
	store.SortTickets(tickets)
	return tickets
}

func (s *Store) UpdateTicket(ctx context.Context, ticketID string, apply store.TicketMutation) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return s.applyLocked(current, apply)
}

func (s *Store) PromoteNext(ctx context.Context, queueID string, apply store.TicketMutation) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[queueID]
	if !ok {
		return models.Ticket{}, store.ErrQueueNotFound
	}
	waiting := s.listLocked(queueID, models.StatusWaiting)
	if len(waiting) == 0 {
		return models.Ticket{}, store.ErrNoWaitingTickets
	}
	promoted, err := s.applyLocked(waiting[0], apply)
	if err != nil {
		return models.Ticket{}, err
	}
	currentID := promoted.TicketID
	queue.CurrentTicket = &currentID
	s.queues[queueID] = queue
	return promoted, nil
}

func (s *Store) applyLocked(current models.Ticket, apply store.TicketMutation) (models.Ticket, error) {
	updated := cloneTicket(current)
	if err := apply(&updated); err != nil {
		return models.Ticket{}, err
	}
	updated.TicketID = current.TicketID
	updated.QueueID = current.QueueID
	if updated.Status != current.Status {
		if err := s.appendEvent(updated, time.Now()); err != nil {
			return models.Ticket{}, err
		}
	}
	s.tickets[current.TicketID] = updated
	return cloneTicket(updated), nil
}

func (s *Store) NextWaiting(ctx context.Context, queueID string) (models.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	waiting := s.listLocked(queueID, models.StatusWaiting)
	if len(waiting) == 0 {
		return models.Ticket{}, false, nil
	}
	return waiting[0], true, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[ticketID]
	out := make([]store.TicketEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) appendEvent(ticket models.Ticket, at time.Time) error {
	events := s.events[ticket.TicketID]
	var prev *store.TicketEvent
	if len(events) > 0 {
		prev = &events[len(events)-1]
	}
	event, err := store.NextTicketEvent(prev, ticket, at)
	if err != nil {
		return err
	}
	s.events[ticket.TicketID] = append(events, event)
	return nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patient, ok := s.patients[patientID]
	if !ok {
		return models.Patient{}, store.ErrPatientNotFound
	}
	return patient, nil
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(account.Email)
	if _, ok := s.emails[email]; ok {
		return store.ErrAccountExists
	}
	if _, ok := s.accounts[account.AccountID]; ok {
		return store.ErrAccountExists
	}
	s.accounts[account.AccountID] = account
	s.emails[email] = account.AccountID
	return nil
}

func (s *Store) CreatePatient(ctx context.Context, patient models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[patient.AccountID]; !ok {
		return store.ErrPatientNotFound
	}
	s.patients[patient.PatientID] = patient
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil
	}
	for id, patient := range s.patients {
		if patient.AccountID == accountID {
			delete(s.patients, id)
		}
	}
	delete(s.emails, strings.ToLower(account.Email))
	delete(s.accounts, accountID)
	return nil
}

func statusIn(status models.TicketStatus, statuses []models.TicketStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func cloneQueue(queue models.Queue) models.Queue {
	if queue.CurrentTicket != nil {
		current := *queue.CurrentTicket
		queue.CurrentTicket = &current
	}
	return queue
}

func cloneTicket(ticket models.Ticket) models.Ticket {
	if ticket.ServedAt != nil {
		servedAt := *ticket.ServedAt
		ticket.ServedAt = &servedAt
	}
	if ticket.EstimatedWait != nil {
		wait := *ticket.EstimatedWait
		ticket.EstimatedWait = &wait
	}
	return ticket
}

func sortQueues(queues []models.Queue) {
	sort.Slice(queues, func(i, j int) bool {
		if queues[i].Name != queues[j].Name {
			return queues[i].Name < queues[j].Name
		}
		return queues[i].QueueID < queues[j].QueueID
	})
}
