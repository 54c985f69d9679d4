package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const ticketColumns = `ticket_id, queue_id, period, sequence, patient_id, contact, status, issued_at, served_at, estimated_wait`

const queueColumns = `queue_id, name, clinic_id, staff_id, status, max_tickets, current_ticket, created_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateQueue(ctx context.Context, queue models.Queue) (models.Queue, error) {
	if queue.CreatedAt.IsZero() {
		queue.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queues (queue_id, name, clinic_id, staff_id, status, max_tickets, current_ticket, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, queue.QueueID, queue.Name, queue.ClinicID, queue.StaffID, string(queue.Status), queue.MaxTickets, queue.CurrentTicket, queue.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return models.Queue{}, store.ErrQueueExists
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, clinicID string) ([]models.Queue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE clinic_id = $1
		ORDER BY name, queue_id
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	return queues, rows.Err()
}

func (s *Store) UpdateQueue(ctx context.Context, queueID string, apply store.QueueMutation) (queue models.Queue, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Queue{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	queue, err = lockQueue(ctx, tx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	if err = apply(&queue); err != nil {
		return models.Queue{}, err
	}
	// The key is not mutable through this path.
	queue.QueueID = queueID

	if _, err = tx.Exec(ctx, `
		UPDATE queues
		SET name = $2, staff_id = $3, status = $4, max_tickets = $5, current_ticket = $6
		WHERE queue_id = $1
	`, queue.QueueID, queue.Name, queue.StaffID, string(queue.Status), queue.MaxTickets, queue.CurrentTicket); err != nil {
		return models.Queue{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) DeleteQueue(ctx context.Context, queueID string) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = lockQueue(ctx, tx, queueID); err != nil {
		return err
	}
	var active int
	if err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE queue_id = $1 AND status IN ('waiting', 'serving')
	`, queueID).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return store.ErrQueueInUse
	}
	if _, err = tx.Exec(ctx, `DELETE FROM queues WHERE queue_id = $1`, queueID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CountTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) (int, error) {
	var count int
	var err error
	if len(statuses) == 0 {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE queue_id = $1`, queueID).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM tickets WHERE queue_id = $1 AND status = ANY($2)
		`, queueID, statusStrings(statuses)).Scan(&count)
	}
	return count, err
}

// HighestSequence reads the (queue_id, period) unique key; every ticket id
// with the {queue}-{period}- prefix carries exactly that key.
func (s *Store) HighestSequence(ctx context.Context, queueID, period string) (int, error) {
	var highest int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM tickets WHERE queue_id = $1 AND period = $2
	`, queueID, period).Scan(&highest)
	return highest, err
}

func (s *Store) InsertTicket(ctx context.Context, ticket models.Ticket) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, queue_id, period, period_order, sequence, patient_id, contact, status, issued_at, served_at, estimated_wait)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ticket.TicketID, ticket.QueueID, ticket.Period, store.PeriodOrder(ticket.Period), ticket.Sequence,
		nullString(ticket.PatientID), ticket.Contact, string(ticket.Status), ticket.IssuedAt, ticket.ServedAt, ticket.EstimatedWait)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			err = store.ErrDuplicateTicket
		case pgForeignKeyViolation:
			err = store.ErrQueueNotFound
		}
		return err
	}
	if err = appendTicketEvent(ctx, tx, ticket, ticket.IssuedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT `+ticketColumns+`
			FROM tickets
			WHERE queue_id = $1
			ORDER BY period_order, sequence, issued_at
		`, queueID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+ticketColumns+`
			FROM tickets
			WHERE queue_id = $1 AND status = ANY($2)
			ORDER BY period_order, sequence, issued_at
		`, queueID, statusStrings(statuses))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (s *Store) UpdateTicket(ctx context.Context, ticketID string, apply store.TicketMutation) (ticket models.Ticket, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1 FOR UPDATE`, ticketID)
	current, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	ticket, err = applyTicketMutation(ctx, tx, current, apply)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// PromoteNext holds the queue row for the whole transaction, so concurrent
// calls on one queue take turns and each promotes a different ticket.
func (s *Store) PromoteNext(ctx context.Context, queueID string, apply store.TicketMutation) (ticket models.Ticket, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = lockQueue(ctx, tx, queueID); err != nil {
		return models.Ticket{}, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE queue_id = $1 AND status = 'waiting'
		ORDER BY period_order, sequence, issued_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, queueID)
	next, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoWaitingTickets
		}
		return models.Ticket{}, err
	}

	ticket, err = applyTicketMutation(ctx, tx, next, apply)
	if err != nil {
		return models.Ticket{}, err
	}
	if _, err = tx.Exec(ctx, `UPDATE queues SET current_ticket = $2 WHERE queue_id = $1`, queueID, ticket.TicketID); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) NextWaiting(ctx context.Context, queueID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE queue_id = $1 AND status = 'waiting'
		ORDER BY period_order, sequence, issued_at
		LIMIT 1
	`, queueID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	var patient models.Patient
	err := s.pool.QueryRow(ctx, `
		SELECT patient_id, account_id, full_name, email, phone, created_at
		FROM patients
		WHERE patient_id = $1
	`, patientID).Scan(&patient.PatientID, &patient.AccountID, &patient.FullName, &patient.Email, &patient.Phone, &patient.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (account_id, email, role, clinic_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, account.AccountID, account.Email, account.Role.String(), account.ClinicID, account.PasswordHash, createdAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return store.ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *Store) CreatePatient(ctx context.Context, patient models.Patient) error {
	createdAt := patient.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, account_id, full_name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, patient.PatientID, patient.AccountID, patient.FullName, patient.Email, patient.Phone, createdAt)
	if err != nil && pgErrorCode(err) == pgForeignKeyViolation {
		return store.ErrPatientNotFound
	}
	return err
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE account_id = $1`, accountID)
	return err
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	row := tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1 FOR UPDATE`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

// applyTicketMutation runs apply against a locked row and writes the result
// back, appending an event when the status moved.
func applyTicketMutation(ctx context.Context, tx pgx.Tx, current models.Ticket, apply store.TicketMutation) (models.Ticket, error) {
	updated := current
	if err := apply(&updated); err != nil {
		return models.Ticket{}, err
	}
	updated.TicketID = current.TicketID
	updated.QueueID = current.QueueID
	updated.Period = current.Period
	updated.Sequence = current.Sequence

	if _, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, served_at = $3, contact = $4, estimated_wait = $5
		WHERE ticket_id = $1
	`, updated.TicketID, string(updated.Status), updated.ServedAt, updated.Contact, updated.EstimatedWait); err != nil {
		return models.Ticket{}, err
	}
	if updated.Status != current.Status {
		if err := appendTicketEvent(ctx, tx, updated, time.Now()); err != nil {
			return models.Ticket{}, err
		}
	}
	return updated, nil
}

func appendTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, at time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticket.TicketID); err != nil {
		return err
	}

	var prev *store.TicketEvent
	var last store.TicketEvent
	err := tx.QueryRow(ctx, `
		SELECT ticket_id, ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticket.TicketID).Scan(&last.TicketID, &last.TicketSeq, &last.Hash)
	switch {
	case err == nil:
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event, err := store.NextTicketEvent(prev, ticket, at)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.TicketSeq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	var status string
	if err := row.Scan(&queue.QueueID, &queue.Name, &queue.ClinicID, &queue.StaffID, &status, &queue.MaxTickets, &queue.CurrentTicket, &queue.CreatedAt); err != nil {
		return models.Queue{}, err
	}
	queue.Status = models.QueueStatus(status)
	return queue, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var status string
	var patientID sql.NullString
	if err := row.Scan(&ticket.TicketID, &ticket.QueueID, &ticket.Period, &ticket.Sequence, &patientID, &ticket.Contact,
		&status, &ticket.IssuedAt, &ticket.ServedAt, &ticket.EstimatedWait); err != nil {
		return models.Ticket{}, err
	}
	ticket.Status = models.TicketStatus(status)
	if patientID.Valid {
		ticket.PatientID = patientID.String
	}
	return ticket, nil
}

func statusStrings(statuses []models.TicketStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
