package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/core/session"
	"github.com/ClareAI/astra-outbound-caller/internal/core/task"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/ClareAI/astra-outbound-caller/pkg/twilio"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/livekit/protocol/livekit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxBulkContacts = 500
	batchRetention  = time.Hour
)

// Bulk contact states.
const (
	BulkStatusQueued    = "queued"
	BulkStatusInitiated = "initiated"
	BulkStatusFailed    = "failed"
	BulkStatusSkipped   = "skipped"
)

// RoomAPI creates and removes call rooms.
type RoomAPI interface {
	CreateRoom(ctx context.Context, name, metadata string) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, name string) error
}

// PhoneNormalizer validates a number and returns its E.164 form.
type PhoneNormalizer interface {
	Normalize(phoneNumber string) (string, error)
}

// CallHandlerConfig holds the intake settings.
type CallHandlerConfig struct {
	AgentName  string
	ScriptPath string
	// RatePerSec paces bulk initiation. Zero or less disables pacing.
	RatePerSec float64
}

// CallHandler is the intake API: it prepares a room and dispatches the call to a worker.
type CallHandler struct {
	rooms    RoomAPI
	tasks    task.Bus
	phones   PhoneNormalizer
	registry session.Registry
	cfg      CallHandlerConfig
	limiter  *rate.Limiter
	now      func() time.Time

	// bulk batches outlive their request and stop with Close
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	batches map[string]*bulkBatch
}

func NewCallHandler(rooms RoomAPI, tasks task.Bus, phones PhoneNormalizer, registry session.Registry, cfg CallHandlerConfig) *CallHandler {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CallHandler{
		rooms:    rooms,
		tasks:    tasks,
		phones:   phones,
		registry: registry,
		cfg:      cfg,
		limiter:  limiter,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		batches:  make(map[string]*bulkBatch),
	}
}

// Close stops every bulk batch and waits for it to record its results. Contacts not yet
// dispatched are marked skipped.
func (h *CallHandler) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
	h.wg.Wait()
}

// InitiateCallRequest is the body of POST /initiate_call.
type InitiateCallRequest struct {
	UserName    string `json:"user_name"`
	PhoneNumber string `json:"phone_number"`
}

// CallDetails describes a dispatched call.
type CallDetails struct {
	UserName    string `json:"user_name"`
	PhoneNumber string `json:"phone_number"`
	RoomName    string `json:"room_name"`
	RoomID      string `json:"room_id"`
	DispatchID  string `json:"dispatch_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

type InitiateCallResponse struct {
	Message     string      `json:"message"`
	CallDetails CallDetails `json:"call_details"`
}

// BulkCallRequest is the body of POST /initiate_calls.
type BulkCallRequest struct {
	Contacts []InitiateCallRequest `json:"contacts"`
}

// BulkCallResult reports one contact of a bulk request. DispatchID is assigned at intake,
// so a caller can match it against the task the worker receives.
type BulkCallResult struct {
	UserName    string       `json:"user_name"`
	PhoneNumber string       `json:"phone_number"`
	DispatchID  string       `json:"dispatch_id,omitempty"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	CallDetails *CallDetails `json:"call_details,omitempty"`
}

type BulkCallResponse struct {
	BatchID   string           `json:"batch_id"`
	Total     int              `json:"total"`
	Queued    int              `json:"queued"`
	Initiated int              `json:"initiated"`
	Done      bool             `json:"done"`
	Results   []BulkCallResult `json:"results"`
}

type bulkBatch struct {
	id string

	mu         sync.Mutex
	results    []BulkCallResult
	finishedAt time.Time
}

func (b *bulkBatch) set(i int, result BulkCallResult) {
	b.mu.Lock()
	b.results[i] = result
	b.mu.Unlock()
}

func (b *bulkBatch) finish(at time.Time) {
	b.mu.Lock()
	b.finishedAt = at
	b.mu.Unlock()
}

func (b *bulkBatch) expired(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.finishedAt.IsZero() && now.Sub(b.finishedAt) > batchRetention
}

func (b *bulkBatch) snapshot() BulkCallResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	resp := BulkCallResponse{
		BatchID: b.id,
		Total:   len(b.results),
		Done:    !b.finishedAt.IsZero(),
		Results: append([]BulkCallResult{}, b.results...),
	}
	for _, r := range b.results {
		switch r.Status {
		case BulkStatusQueued:
			resp.Queued++
		case BulkStatusInitiated:
			resp.Initiated++
		}
	}
	return resp
}

type pendingContact struct {
	index      int
	req        InitiateCallRequest
	dispatchID string
}

// initiateError carries the HTTP status for a failed initiation.
type initiateError struct {
	status int
	detail string
}

func (e *initiateError) Error() string { return e.detail }

// SetupCallRoutes registers the intake routes.
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/initiate_call", h.HandleInitiateCall).Methods("POST")
	router.HandleFunc("/initiate_calls", h.HandleInitiateCalls).Methods("POST")
	router.HandleFunc("/initiate_calls/{batch_id}", h.HandleBulkStatus).Methods("GET")
	router.HandleFunc("/calls/active", h.HandleActiveCalls).Methods("GET")
}

// HandleInitiateCall handles POST /initiate_call
func (h *CallHandler) HandleInitiateCall(w http.ResponseWriter, r *http.Request) {
	var req InitiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	details, err := h.initiate(r.Context(), req, newDispatchID())
	if err != nil {
		var ie *initiateError
		if errors.As(err, &ie) {
			writeDetail(w, ie.status, ie.detail)
			return
		}
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Failed to initiate call: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, InitiateCallResponse{
		Message:     "Call initiated successfully",
		CallDetails: *details,
	})
}

// HandleInitiateCalls handles POST /initiate_calls. Contacts are checked and given a dispatch id
// up front; rooms are created and calls dispatched in the background, paced by the limiter.
// The 202 response lists every dispatch id, and GET /initiate_calls/{batch_id} reports progress.
func (h *CallHandler) HandleInitiateCalls(w http.ResponseWriter, r *http.Request) {
	var req BulkCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Contacts) == 0 {
		writeDetail(w, http.StatusBadRequest, "contacts must not be empty")
		return
	}
	if len(req.Contacts) > maxBulkContacts {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("at most %d contacts per request", maxBulkContacts))
		return
	}

	batch := &bulkBatch{id: "BT_" + newDispatchID()[3:], results: make([]BulkCallResult, len(req.Contacts))}
	pending := make([]pendingContact, 0, len(req.Contacts))
	for i, contact := range req.Contacts {
		contact.UserName = strings.TrimSpace(contact.UserName)
		contact.PhoneNumber = withPlusPrefix(contact.PhoneNumber)
		result := BulkCallResult{UserName: contact.UserName, PhoneNumber: contact.PhoneNumber}
		if contact.UserName == "" || contact.PhoneNumber == "" {
			result.Status = BulkStatusFailed
			result.Error = "user_name and phone_number are required"
		} else {
			result.Status = BulkStatusQueued
			result.DispatchID = newDispatchID()
			pending = append(pending, pendingContact{index: i, req: contact, dispatchID: result.DispatchID})
		}
		batch.results[i] = result
	}
	if len(pending) == 0 {
		batch.finish(h.now())
	}

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		writeDetail(w, http.StatusServiceUnavailable, "intake is shutting down")
		return
	}
	for id, b := range h.batches {
		if b.expired(h.now()) {
			delete(h.batches, id)
		}
	}
	h.batches[batch.id] = batch
	if len(pending) > 0 {
		h.wg.Add(1)
	}
	h.mu.Unlock()

	resp := batch.snapshot()
	if len(pending) > 0 {
		go h.runBatch(batch, pending)
	}

	logger.Info(r.Context(), "Bulk initiation accepted",
		zap.String("batch_id", batch.id), zap.Int("total", resp.Total), zap.Int("queued", resp.Queued))
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleBulkStatus handles GET /initiate_calls/{batch_id}
func (h *CallHandler) HandleBulkStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["batch_id"]
	h.mu.Lock()
	batch, ok := h.batches[id]
	h.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, batch.snapshot())
}

func (h *CallHandler) runBatch(batch *bulkBatch, pending []pendingContact) {
	defer h.wg.Done()
	ctx := logger.WithFields(h.ctx, zap.String("batch_id", batch.id))

	for _, p := range pending {
		result := BulkCallResult{UserName: p.req.UserName, PhoneNumber: p.req.PhoneNumber, DispatchID: p.dispatchID}
		if err := h.limiter.Wait(ctx); err != nil {
			result.Status = BulkStatusSkipped
			result.Error = err.Error()
			batch.set(p.index, result)
			logger.Warn(ctx, "Bulk contact not dispatched", zap.String("dispatch_id", p.dispatchID), zap.Error(err))
			continue
		}

		details, err := h.initiate(ctx, p.req, p.dispatchID)
		if err != nil {
			result.Status = BulkStatusFailed
			result.Error = err.Error()
		} else {
			result.Status = details.Status
			result.PhoneNumber = details.PhoneNumber
			result.CallDetails = details
		}
		batch.set(p.index, result)
	}

	batch.finish(h.now())
	resp := batch.snapshot()
	logger.Info(ctx, "Bulk initiation finished", zap.Int("total", resp.Total), zap.Int("initiated", resp.Initiated))
}

// HandleActiveCalls handles GET /calls/active
func (h *CallHandler) HandleActiveCalls(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"calls": []session.CallInfo{}})
		return
	}
	calls, err := h.registry.List(r.Context())
	if err != nil {
		logger.Error(r.Context(), "Failed to list active calls", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Failed to list active calls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"calls": calls})
}

func (h *CallHandler) initiate(ctx context.Context, req InitiateCallRequest, dispatchID string) (*CallDetails, error) {
	req.UserName = strings.TrimSpace(req.UserName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.UserName == "" || req.PhoneNumber == "" {
		return nil, &initiateError{status: http.StatusBadRequest, detail: "user_name and phone_number are required"}
	}

	if h.phones != nil {
		normalized, err := h.phones.Normalize(req.PhoneNumber)
		if errors.Is(err, twilio.ErrInvalidPhoneNumber) {
			return nil, &initiateError{status: http.StatusBadRequest, detail: err.Error()}
		}
		if err != nil {
			return nil, err
		}
		req.PhoneNumber = normalized
	}

	script, err := os.ReadFile(h.cfg.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	metadata, err := domain.CallJob{
		PhoneNumber:     req.PhoneNumber,
		CustomerName:    req.UserName,
		Script:          string(script),
		AppointmentTime: domain.DefaultAppointmentTime,
		BusinessName:    domain.DefaultBusinessName,
	}.Encode()
	if err != nil {
		return nil, err
	}

	roomName := domain.NewRoomName(req.PhoneNumber, h.now())
	ctx = logger.WithFields(ctx, zap.String("room_name", roomName), zap.String("phone_number", req.PhoneNumber))

	room, err := h.rooms.CreateRoom(ctx, roomName, "")
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	dispatch := task.SessionTask{
		ID:        dispatchID,
		Type:      task.TaskTypeOutboundCall,
		AgentName: h.cfg.AgentName,
		RoomName:  roomName,
		Metadata:  metadata,
		CreatedAt: h.now(),
	}
	if err := h.tasks.Publish(ctx, dispatch); err != nil {
		if derr := h.rooms.DeleteRoom(context.WithoutCancel(ctx), roomName); derr != nil {
			logger.Warn(ctx, "Failed to remove room after dispatch error", zap.Error(derr))
		}
		return nil, fmt.Errorf("dispatch call: %w", err)
	}

	logger.Info(ctx, "Call dispatched", zap.String("dispatch_id", dispatch.ID), zap.String("room_id", room.GetSid()))
	return &CallDetails{
		UserName:    req.UserName,
		PhoneNumber: req.PhoneNumber,
		RoomName:    roomName,
		RoomID:      room.GetSid(),
		DispatchID:  dispatch.ID,
		Status:      BulkStatusInitiated,
		Timestamp:   h.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func newDispatchID() string {
	return "AD_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func withPlusPrefix(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone != "" && !strings.HasPrefix(phone, "+") {
		return "+" + phone
	}
	return phone
}

// HandleHealth handles GET /health
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Warn("Failed to encode response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
