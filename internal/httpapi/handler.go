package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"qms/clinic-queue-service/internal/engine"
	"qms/clinic-queue-service/internal/models"
	"qms/clinic-queue-service/internal/registration"
	"qms/clinic-queue-service/internal/store"

	"github.com/go-playground/validator/v10"
)

// QueueService is the slice of the engine the HTTP layer drives.
type QueueService interface {
	CreateQueue(ctx context.Context, actor models.Actor, input engine.CreateQueueInput) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListQueues(ctx context.Context, clinicID string) ([]models.Queue, error)
	UpdateQueue(ctx context.Context, actor models.Actor, queueID string, input engine.UpdateQueueInput) (models.Queue, error)
	SetQueueStatus(ctx context.Context, actor models.Actor, queueID string, status models.QueueStatus) (models.Queue, error)
	DeleteQueue(ctx context.Context, actor models.Actor, queueID string) error
	CreateTicket(ctx context.Context, actor models.Actor, input engine.CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, queueID string, statuses ...models.TicketStatus) ([]models.Ticket, error)
	TicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error)
	CancelTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	CompleteTicket(ctx context.Context, actor models.Actor, ticketID string) (models.Ticket, error)
	CallNext(ctx context.Context, actor models.Actor, queueID string) (models.Ticket, error)
	QueueStats(ctx context.Context, queueID string) (engine.QueueStats, error)
}

type Registrar interface {
	Register(ctx context.Context, input registration.Input) (registration.Result, error)
}

type Handler struct {
	queues    QueueService
	registrar Registrar
	validate  *validator.Validate
}

type createQueueRequest struct {
	QueueID    string `json:"queue_id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=120"`
	ClinicID   string `json:"clinic_id" validate:"omitempty,max=64"`
	StaffID    string `json:"staff_id" validate:"omitempty,max=64"`
	MaxTickets int    `json:"max_tickets" validate:"gte=0"`
}

type updateQueueRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=120"`
	StaffID    *string `json:"staff_id" validate:"omitempty,max=64"`
	MaxTickets *int    `json:"max_tickets" validate:"omitempty,gte=0"`
}

type queueStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open closed paused"`
}

type createTicketRequest struct {
	PatientID string `json:"patient_id" validate:"omitempty,max=64"`
	Contact   string `json:"contact" validate:"omitempty,max=254"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=patient staff"`
	ClinicID string `json:"clinic_id" validate:"omitempty,max=64"`
	FullName string `json:"full_name" validate:"omitempty,max=200"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queues QueueService, registrar Registrar) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		queues:    queues,
		registrar: registrar,
		validate:  validate,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/register", h.handleRegister)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/", h.handleQueue)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.registrar.Register(r.Context(), registration.Input{
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
		ClinicID: req.ClinicID,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
		if clinicID == "" {
			clinicID = actor.ClinicID
		}
		queues, err := h.queues.ListQueues(r.Context(), clinicID)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		if queues == nil {
			queues = []models.Queue{}
		}
		writeJSON(w, http.StatusOK, queues)
	case http.MethodPost:
		var req createQueueRequest
		if !h.decodeRequest(w, r, &req) {
			return
		}
		if req.ClinicID == "" {
			req.ClinicID = actor.ClinicID
		}
		queue, err := h.queues.CreateQueue(r.Context(), actor, engine.CreateQueueInput{
			QueueID:    req.QueueID,
			Name:       req.Name,
			ClinicID:   req.ClinicID,
			StaffID:    req.StaffID,
			MaxTickets: req.MaxTickets,
		})
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, queue)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleQueue serves /api/queues/{id} and its sub-resources.
func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	queueID, action, ok := splitResourcePath(r.URL.Path, "/api/queues/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	switch action {
	case "":
		h.handleQueueResource(w, r, actor, queueID)
	case "status":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req queueStatusRequest
		if !h.decodeRequest(w, r, &req) {
			return
		}
		queue, err := h.queues.SetQueueStatus(r.Context(), actor, queueID, models.QueueStatus(req.Status))
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, queue)
	case "tickets":
		h.handleQueueTickets(w, r, actor, queueID)
	case "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stats, err := h.queues.QueueStats(r.Context(), queueID)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case "call-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, err := h.queues.CallNext(r.Context(), actor, queueID)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueueResource(w http.ResponseWriter, r *http.Request, actor models.Actor, queueID string) {
	switch r.Method {
	case http.MethodGet:
		queue, err := h.queues.GetQueue(r.Context(), queueID)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, queue)
	case http.MethodPatch:
		var req updateQueueRequest
		if !h.decodeRequest(w, r, &req) {
			return
		}
		queue, err := h.queues.UpdateQueue(r.Context(), actor, queueID, engine.UpdateQueueInput{
			Name:       req.Name,
			StaffID:    req.StaffID,
			MaxTickets: req.MaxTickets,
		})
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, queue)
	case http.MethodDelete:
		if err := h.queues.DeleteQueue(r.Context(), actor, queueID); err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleQueueTickets(w http.ResponseWriter, r *http.Request, actor models.Actor, queueID string) {
	switch r.Method {
	case http.MethodGet:
		statuses, err := parseStatuses(r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		tickets, err := h.queues.ListTickets(r.Context(), queueID, statuses...)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		if tickets == nil {
			tickets = []models.Ticket{}
		}
		writeJSON(w, http.StatusOK, tickets)
	case http.MethodPost:
		var req createTicketRequest
		if !h.decodeRequest(w, r, &req) {
			return
		}
		ticket, err := h.queues.CreateTicket(r.Context(), actor, engine.CreateTicketInput{
			QueueID:   queueID,
			PatientID: req.PatientID,
			Contact:   req.Contact,
		})
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ticket)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleTicket serves /api/tickets/{id} and its actions.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, action, ok := splitResourcePath(r.URL.Path, "/api/tickets/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var (
		result interface{}
		err    error
	)
	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		result, err = h.queues.GetTicket(r.Context(), ticketID)
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var events []store.TicketEvent
		events, err = h.queues.TicketEvents(r.Context(), ticketID)
		if events == nil {
			events = []store.TicketEvent{}
		}
		result = events
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		result, err = h.queues.CancelTicket(r.Context(), actor, ticketID)
	case "complete":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		result, err = h.queues.CompleteTicket(r.Context(), actor, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// splitResourcePath turns "/prefix/{id}" or "/prefix/{id}/{action}" into
// its parts.
func splitResourcePath(path, prefix string) (string, string, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

func parseStatuses(raw string) ([]models.TicketStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var statuses []models.TicketStatus
	for _, part := range strings.Split(raw, ",") {
		status := models.TicketStatus(strings.TrimSpace(part))
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	requestID := requestIDFromRequest(r)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return "invalid request"
	}
	fe := fieldErrors[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "email", "e164":
		return fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag())
	default:
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
}

func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	writeError(w, requestIDFromRequest(r), status, code, message)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden, "forbidden", "not allowed to act on this resource"
	case errors.Is(err, engine.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "queue is full"
	case errors.Is(err, engine.ErrQueueNotAcceptingTickets):
		return http.StatusConflict, "queue_not_accepting", "queue is not accepting tickets"
	case errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, engine.ErrAllocationExhausted):
		return http.StatusConflict, "allocation_exhausted", "no ticket number available for this queue"
	case errors.Is(err, engine.ErrNoWaitingTickets):
		return http.StatusConflict, "queue_empty", "no waiting tickets"
	case errors.Is(err, engine.ErrQueueInUse):
		return http.StatusConflict, "queue_in_use", "queue still has active tickets"
	case errors.Is(err, registration.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, registration.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email already registered"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
