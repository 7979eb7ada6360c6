package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/core/session"
	"github.com/ClareAI/astra-outbound-caller/internal/core/task"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/ClareAI/astra-outbound-caller/pkg/twilio"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeRooms struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	createErr error
}

func (f *fakeRooms) CreateRoom(_ context.Context, name, _ string) (*livekit.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, name)
	return &livekit.Room{Name: name, Sid: "RM_" + name}, nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []task.SessionTask
	err   error
}

func (f *fakeTasks) Publish(_ context.Context, t task.SessionTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeTasks) published() []task.SessionTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]task.SessionTask{}, f.tasks...)
}

func (f *fakeTasks) Subscribe(context.Context, func(task.SessionTask)) error { return nil }

type phoneMap map[string]string

func (m phoneMap) Normalize(phone string) (string, error) {
	if v, ok := m[phone]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: not a number", twilio.ErrInvalidPhoneNumber)
}

type intakeFixture struct {
	rooms   *fakeRooms
	tasks   *fakeTasks
	handler *CallHandler
	router  *mux.Router
}

func newIntakeFixture(t *testing.T, phones PhoneNormalizer, secret string) *intakeFixture {
	t.Helper()
	script := filepath.Join(t.TempDir(), "script.txt")
	require.NoError(t, os.WriteFile(script, []byte("Invite them to the showcase."), 0o600))

	f := &intakeFixture{rooms: &fakeRooms{}, tasks: &fakeTasks{}}
	registry := session.NewMemoryRegistry("pod-1")
	require.NoError(t, registry.Register(context.Background(), session.CallInfo{RoomName: "call-live", PhoneNumber: "+15550123", State: "active"}))

	f.handler = NewCallHandler(f.rooms, f.tasks, phones, registry, CallHandlerConfig{
		AgentName:  "outbound_cold_caller",
		ScriptPath: script,
	})
	f.handler.now = func() time.Time { return time.Unix(1700000000, 0) }
	t.Cleanup(f.handler.Close)

	f.router = mux.NewRouter()
	NewHandlerManager(f.handler, nil, secret).SetupAllRoutes(f.router)
	return f
}

func (f *intakeFixture) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestInitiateCallDispatchesJob(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	rec := f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "+1 555 0100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp InitiateCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Call initiated successfully", resp.Message)
	assert.Equal(t, "initiated", resp.CallDetails.Status)
	assert.Regexp(t, `^call-1700000000-15550100-[0-9a-f]{8}$`, resp.CallDetails.RoomName)
	assert.Equal(t, "RM_"+resp.CallDetails.RoomName, resp.CallDetails.RoomID)

	require.Len(t, f.tasks.tasks, 1)
	dispatched := f.tasks.tasks[0]
	assert.Equal(t, resp.CallDetails.DispatchID, dispatched.ID)
	assert.Equal(t, "outbound_cold_caller", dispatched.AgentName)
	assert.Equal(t, resp.CallDetails.RoomName, dispatched.RoomName)

	job, err := domain.DecodeCallJob(dispatched.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "+1 555 0100", job.PhoneNumber)
	assert.Equal(t, "Dana", job.CustomerName)
	assert.Equal(t, "Invite them to the showcase.", job.Script)
	assert.False(t, job.CanTransfer())
}

func TestInitiateCallValidation(t *testing.T) {
	f := newIntakeFixture(t, nil, "")

	rec := f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")

	rec = f.do(http.MethodPost, "/initiate_call", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.rooms.created)
}

func TestInitiateCallRejectsInvalidNumber(t *testing.T) {
	f := newIntakeFixture(t, phoneMap{"5550100": "+15550100"}, "")

	rec := f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "12"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.rooms.created)

	rec = f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "5550100"})
	require.Equal(t, http.StatusOK, rec.Code)
	job, err := domain.DecodeCallJob(f.tasks.tasks[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, "+15550100", job.PhoneNumber)
}

func TestInitiateCallRoomFailure(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	f.rooms.createErr = errors.New("livekit unavailable")

	rec := f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "+15550100"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to initiate call")
	assert.Empty(t, f.tasks.tasks)
}

func TestInitiateCallDispatchFailureRemovesRoom(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	f.tasks.err = errors.New("queue full")

	rec := f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "+15550100"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, f.rooms.created, 1)
	assert.Equal(t, f.rooms.created, f.rooms.deleted)
}

func (f *intakeFixture) batchStatus(t *testing.T, id string) BulkCallResponse {
	t.Helper()
	rec := f.do(http.MethodGet, "/initiate_calls/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp BulkCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestInitiateCallsBulk(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	rec := f.do(http.MethodPost, "/initiate_calls", BulkCallRequest{Contacts: []InitiateCallRequest{
		{UserName: "Dana", PhoneNumber: "15550100"},
		{UserName: "", PhoneNumber: "+15550101"},
		{UserName: "Lee", PhoneNumber: "+15550102"},
	}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted BulkCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Regexp(t, `^BT_[0-9a-f]{12}$`, accepted.BatchID)
	assert.Equal(t, 3, accepted.Total)
	assert.Equal(t, 2, accepted.Queued)
	require.Len(t, accepted.Results, 3)
	assert.Equal(t, "+15550100", accepted.Results[0].PhoneNumber)
	assert.Equal(t, BulkStatusQueued, accepted.Results[0].Status)
	assert.Regexp(t, `^AD_[0-9a-f]{12}$`, accepted.Results[0].DispatchID)
	assert.Equal(t, BulkStatusFailed, accepted.Results[1].Status)
	assert.Empty(t, accepted.Results[1].DispatchID)
	assert.NotEqual(t, accepted.Results[0].DispatchID, accepted.Results[2].DispatchID)

	var final BulkCallResponse
	require.Eventually(t, func() bool {
		final = f.batchStatus(t, accepted.BatchID)
		return final.Done
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, final.Initiated)
	assert.Zero(t, final.Queued)
	assert.Equal(t, BulkStatusInitiated, final.Results[2].Status)
	require.NotNil(t, final.Results[2].CallDetails)
	assert.Equal(t, accepted.Results[2].DispatchID, final.Results[2].CallDetails.DispatchID)

	tasks := f.tasks.published()
	require.Len(t, tasks, 2)
	assert.Equal(t, accepted.Results[0].DispatchID, tasks[0].ID)
	assert.Equal(t, accepted.Results[2].DispatchID, tasks[1].ID)
}

func TestInitiateCallsRespondsBeforeWriteTimeout(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	f.handler.limiter = rate.NewLimiter(rate.Limit(config.DefaultIntakeRatePerSec), 1)

	srv := httptest.NewUnstartedServer(f.router)
	srv.Config.ReadTimeout = config.DefaultHTTPReadTimeout
	srv.Config.WriteTimeout = config.DefaultHTTPWriteTimeout
	srv.Config.IdleTimeout = config.DefaultHTTPIdleTimeout
	srv.Start()
	defer srv.Close()

	// paced dispatch of this batch takes far longer than the write timeout
	contacts := make([]InitiateCallRequest, 40)
	for i := range contacts {
		contacts[i] = InitiateCallRequest{UserName: "Dana", PhoneNumber: fmt.Sprintf("+1555010%02d", i)}
	}
	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(BulkCallRequest{Contacts: contacts}))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(srv.URL+"/initiate_calls", "application/json", &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted BulkCallResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.Len(t, accepted.Results, 40)
	ids := make(map[string]bool)
	for _, r := range accepted.Results {
		require.NotEmpty(t, r.DispatchID)
		ids[r.DispatchID] = true
	}
	assert.Len(t, ids, 40)

	require.Eventually(t, func() bool { return len(f.tasks.published()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	f.handler.Close()

	final := f.batchStatus(t, accepted.BatchID)
	assert.True(t, final.Done)
	tasks := f.tasks.published()
	assert.Equal(t, len(tasks), final.Initiated)
	skipped := 0
	for _, r := range final.Results {
		if r.Status == BulkStatusSkipped {
			skipped++
		}
	}
	assert.Equal(t, 40-len(tasks), skipped)
	for _, d := range tasks {
		assert.True(t, ids[d.ID])
	}
}

func TestBulkStatusUnknownBatch(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	rec := f.do(http.MethodGet, "/initiate_calls/BT_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitiateCallsAfterCloseIsRejected(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	f.handler.Close()
	rec := f.do(http.MethodPost, "/initiate_calls", BulkCallRequest{Contacts: []InitiateCallRequest{{UserName: "Dana", PhoneNumber: "+15550100"}}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, f.tasks.published())
}

func TestInitiateCallsRejectsEmptyList(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	rec := f.do(http.MethodPost, "/initiate_calls", BulkCallRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveCalls(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	rec := f.do(http.MethodGet, "/calls/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Calls []session.CallInfo `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Calls, 1)
	assert.Equal(t, "call-live", body.Calls[0].RoomName)
	assert.Equal(t, "pod-1", body.Calls[0].PodID)
}

func TestAPIKeyRequired(t *testing.T) {
	f := newIntakeFixture(t, nil, "s3cret")

	rec := f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "+15550100"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"})
	badToken, err := bad.SignedString([]byte("other"))
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "+15550100"}, "X-API-Key", badToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	good := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(time.Hour).Unix()})
	goodToken, err := good.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/initiate_call", InitiateCallRequest{UserName: "Dana", PhoneNumber: "+15550100"}, "X-API-Key", goodToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays open
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
}

func TestRejectsNonJSONBody(t *testing.T) {
	f := newIntakeFixture(t, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/initiate_call", bytes.NewBufferString("user_name=Dana"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestWithPlusPrefix(t *testing.T) {
	assert.Equal(t, "+15550100", withPlusPrefix(" 15550100 "))
	assert.Equal(t, "+15550100", withPlusPrefix("+15550100"))
	assert.Equal(t, "", withPlusPrefix(""))
}
