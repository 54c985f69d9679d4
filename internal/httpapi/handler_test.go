package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"qms/clinic-queue-service/internal/engine"
	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/registration"
	"qms/clinic-queue-service/internal/store"
	"qms/clinic-queue-service/internal/store/memory"

	"golang.org/x/crypto/bcrypt"
)

type fakeQueueService struct {
	QueueService
	callNextFn     func(ctx context.Context, actor models.Actor, queueID string) (models.Ticket, error)
	createTicketFn func(ctx context.Context, actor models.Actor, input engine.CreateTicketInput) (models.Ticket, error)
	cancelFn       func(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
}

func (f *fakeQueueService) CallNext(ctx context.Context, actor models.Actor, queueID string) (models.Ticket, error) {
	return f.callNextFn(ctx, actor, queueID)
}

func (f *fakeQueueService) CreateTicket(ctx context.Context, actor models.Actor, input engine.CreateTicketInput) (models.Ticket, error) {
	return f.createTicketFn(ctx, actor, input)
}

func (f *fakeQueueService) CancelTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error) {
	return f.cancelFn(ctx, actor, ticketID)
}

type testServer struct {
	handler http.Handler
	engine  *engine.Engine
	store   *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.NewStore()
	eng := engine.New(st, nil, engine.Options{})
	h := NewHandler(eng, registration.NewService(st, bcrypt.MinCost))
	return &testServer{
		handler: LoggingMiddleware(ActorMiddleware(h.Routes())),
		engine:  eng,
		store:   st,
	}
}

func (s *testServer) do(t *testing.T, method, path string, actor *models.Actor, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("X-Actor-ID", actor.ID)
		req.Header.Set("X-Actor-Role", actor.Role.String())
		req.Header.Set("X-Clinic-ID", actor.ClinicID)
	}
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body
}

var staffActor = models.Actor{ID: "staff-1", Role: models.RoleStaff, ClinicID: "clinic-1"}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/queues", nil, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queues", nil)
	req.Header.Set("X-Actor-ID", "someone")
	req.Header.Set("X-Actor-Role", "admin")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown role, got %d", rec.Code)
	}
}

func TestQueueTicketFlow(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/queues", &staffActor, map[string]interface{}{
		"queue_id":    "Q1",
		"name":        "General",
		"max_tickets": 2,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create queue: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var queue models.Queue
	if err := json.NewDecoder(resp.Body).Decode(&queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if queue.ClinicID != "clinic-1" || queue.Status != models.QueueOpen {
		t.Fatalf("unexpected queue %+v", queue)
	}

	var ids []string
	for i := 0; i < 2; i++ {
		resp = s.do(t, http.MethodPost, "/api/queues/Q1/tickets", &staffActor, map[string]string{"contact": fmt.Sprintf("p%d@example.com", i)})
		if resp.Code != http.StatusCreated {
			t.Fatalf("create ticket: expected 201, got %d: %s", resp.Code, resp.Body.String())
		}
		var ticket models.Ticket
		if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
			t.Fatalf("decode ticket: %v", err)
		}
		ids = append(ids, ticket.TicketID)
	}

	resp = s.do(t, http.MethodPost, "/api/queues/Q1/tickets", &staffActor, map[string]string{})
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != "capacity_exceeded" {
		t.Fatalf("expected capacity_exceeded, got %d", resp.Code)
	}

	resp = s.do(t, http.MethodPost, "/api/queues/Q1/call-next", &staffActor, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("call next: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var called models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&called); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if called.TicketID != ids[0] || called.Status != models.StatusServing {
		t.Fatalf("unexpected called ticket %+v", called)
	}

	resp = s.do(t, http.MethodGet, "/api/queues/Q1/tickets?status=waiting", &staffActor, nil)
	var waiting []models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&waiting); err != nil {
		t.Fatalf("decode tickets: %v", err)
	}
	if len(waiting) != 1 || waiting[0].TicketID != ids[1] {
		t.Fatalf("unexpected waiting tickets %+v", waiting)
	}

	resp = s.do(t, http.MethodPost, "/api/tickets/"+ids[0]+"/complete", &staffActor, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = s.do(t, http.MethodPost, "/api/tickets/"+ids[0]+"/complete", &staffActor, nil)
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %d", resp.Code)
	}

	resp = s.do(t, http.MethodGet, "/api/queues/Q1/stats", &staffActor, nil)
	var stats engine.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Completed != 1 || stats.Waiting != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resp = s.do(t, http.MethodGet, "/api/tickets/"+ids[0]+"/events", &staffActor, nil)
	var events []store.TicketEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestQueueStatusAndDelete(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/queues", &staffActor, map[string]interface{}{"queue_id": "Q1", "name": "General"})

	resp := s.do(t, http.MethodPost, "/api/queues/Q1/status", &staffActor, map[string]string{"status": "archived"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
	resp = s.do(t, http.MethodPost, "/api/queues/Q1/status", &staffActor, map[string]string{"status": "paused"})
	if resp.Code != http.StatusOK {
		t.Fatalf("set status: expected 200, got %d", resp.Code)
	}
	resp = s.do(t, http.MethodPost, "/api/queues/Q1/tickets", &staffActor, map[string]string{})
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != "queue_not_accepting" {
		t.Fatalf("expected queue_not_accepting, got %d", resp.Code)
	}

	resp = s.do(t, http.MethodPatch, "/api/queues/Q1", &staffActor, map[string]interface{}{"max_tickets": 10})
	if resp.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.Code)
	}
	resp = s.do(t, http.MethodDelete, "/api/queues/Q1", &staffActor, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}
	resp = s.do(t, http.MethodGet, "/api/queues/Q1", &staffActor, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/queues", &staffActor, map[string]interface{}{"queue_id": "Q1", "name": "General"})

	resp := s.do(t, http.MethodPost, "/api/queues/Q1/call-next", &staffActor, nil)
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != "queue_empty" {
		t.Fatalf("expected queue_empty, got %d", resp.Code)
	}
}

func TestRegisterAndTakeTicket(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/queues", &staffActor, map[string]interface{}{"queue_id": "Q1", "name": "General"})

	resp := s.do(t, http.MethodPost, "/api/register", nil, map[string]string{
		"email":     "ana@example.com",
		"password":  "s3cret-pass",
		"role":      "patient",
		"full_name": "Ana",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var result registration.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	if result.Patient == nil {
		t.Fatalf("expected patient profile")
	}

	patient := models.Actor{ID: result.Patient.PatientID, Role: models.RolePatient}
	resp = s.do(t, http.MethodPost, "/api/queues/Q1/tickets", &patient, map[string]string{})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create ticket: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.PatientID != patient.ID {
		t.Fatalf("expected ticket for %s, got %s", patient.ID, ticket.PatientID)
	}

	other := models.Actor{ID: "someone-else", Role: models.RolePatient}
	resp = s.do(t, http.MethodPost, "/api/tickets/"+ticket.TicketID+"/cancel", &other, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	resp = s.do(t, http.MethodPost, "/api/tickets/"+ticket.TicketID+"/cancel", &patient, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.Code)
	}

	resp = s.do(t, http.MethodPost, "/api/register", nil, map[string]string{
		"email":     "ana@example.com",
		"password":  "s3cret-pass",
		"role":      "patient",
		"full_name": "Ana",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		path string
		body interface{}
		code string
	}{
		{name: "missing name", path: "/api/queues", body: map[string]interface{}{"queue_id": "Q1"}, code: "invalid_request"},
		{name: "negative max", path: "/api/queues", body: map[string]interface{}{"queue_id": "Q1", "name": "x", "max_tickets": -1}, code: "invalid_request"},
		{name: "unknown field", path: "/api/queues", body: map[string]interface{}{"queue_id": "Q1", "name": "x", "color": "red"}, code: "invalid_json"},
		{name: "bad role", path: "/api/register", body: map[string]string{"email": "a@example.com", "password": "s3cret-pass", "role": "admin"}, code: "invalid_request"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			actor := &staffActor
			if tt.path == "/api/register" {
				actor = nil
			}
			resp := s.do(t, http.MethodPost, tt.path, actor, tt.body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			if got := decodeError(t, resp).Error.Code; got != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: &engine.ValidationError{Field: "queue_id", Reason: "required"}, status: http.StatusBadRequest, code: "invalid_request"},
		{err: &engine.NotFoundError{Kind: "queue", ID: "Q1"}, status: http.StatusNotFound, code: "not_found"},
		{err: engine.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
		{err: engine.ErrCapacityExceeded, status: http.StatusConflict, code: "capacity_exceeded"},
		{err: engine.ErrQueueNotAcceptingTickets, status: http.StatusConflict, code: "queue_not_accepting"},
		{err: &engine.TransitionError{TicketID: "Q1-1125-0001", From: models.StatusCompleted, To: models.StatusCancelled}, status: http.StatusConflict, code: "invalid_transition"},
		{err: fmt.Errorf("wrap: %w", engine.ErrAllocationExhausted), status: http.StatusConflict, code: "allocation_exhausted"},
		{err: engine.ErrNoWaitingTickets, status: http.StatusConflict, code: "queue_empty"},
		{err: engine.ErrQueueInUse, status: http.StatusConflict, code: "queue_in_use"},
		{err: registration.ErrEmailTaken, status: http.StatusConflict, code: "email_taken"},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tt := range cases {
		status, code, _ := mapError(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("mapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestHandlerPassesActorAndQueue(t *testing.T) {
	var gotActor models.Actor
	var gotInput engine.CreateTicketInput
	svc := &fakeQueueService{
		createTicketFn: func(ctx context.Context, actor models.Actor, input engine.CreateTicketInput) (models.Ticket, error) {
			gotActor = actor
			gotInput = input
			return models.Ticket{TicketID: "front-desk-1125-0001", Status: models.StatusWaiting}, nil
		},
	}
	handler := ActorMiddleware(NewHandler(svc, nil).Routes())

	body, _ := json.Marshal(map[string]string{"contact": "+628123456789"})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/front-desk/tickets", bytes.NewReader(body))
	req.Header.Set("X-Actor-ID", "staff-7")
	req.Header.Set("X-Actor-Role", "Staff")
	req.Header.Set("X-Clinic-ID", "clinic-9")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if gotActor.ID != "staff-7" || gotActor.Role != models.RoleStaff || gotActor.ClinicID != "clinic-9" {
		t.Fatalf("unexpected actor %+v", gotActor)
	}
	if gotInput.QueueID != "front-desk" || gotInput.Contact != "+628123456789" {
		t.Fatalf("unexpected input %+v", gotInput)
	}
}
