package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/internal/admission/ledger"
	"turnstile/internal/admission/service"
	apperrors "turnstile/pkg/errors"
	"turnstile/pkg/logger"
	"turnstile/pkg/middleware"
	"turnstile/pkg/model"
)

type mockAdmissionService struct {
	JoinFunc          func(ctx context.Context, eventID, participantID string) (*service.JoinResult, error)
	QueuePositionFunc func(ctx context.Context, eventID, participantID string) (*service.QueueStatus, error)
	ReleaseFunc       func(ctx context.Context, eventID, entryID, participantID string) error
	ExpireFunc        func(ctx context.Context, entryID string) error
	CancelEventFunc   func(ctx context.Context, eventID string) error
	AvailabilityFunc  func(ctx context.Context, eventID string) (*ledger.Availability, error)
	CommitFunc        func(ctx context.Context, entryID, participantID string) (*model.Ticket, error)
	GetTicketFunc     func(ctx context.Context, ticketID string) (*model.Ticket, error)
	RefundTicketFunc  func(ctx context.Context, ticketID string) (*model.Ticket, error)
}

func (m *mockAdmissionService) Join(ctx context.Context, eventID, participantID string) (*service.JoinResult, error) {
	return m.JoinFunc(ctx, eventID, participantID)
}

func (m *mockAdmissionService) QueuePosition(ctx context.Context, eventID, participantID string) (*service.QueueStatus, error) {
	return m.QueuePositionFunc(ctx, eventID, participantID)
}

func (m *mockAdmissionService) Release(ctx context.Context, eventID, entryID, participantID string) error {
	return m.ReleaseFunc(ctx, eventID, entryID, participantID)
}

func (m *mockAdmissionService) Expire(ctx context.Context, entryID string) error {
	return m.ExpireFunc(ctx, entryID)
}

func (m *mockAdmissionService) CancelEvent(ctx context.Context, eventID string) error {
	return m.CancelEventFunc(ctx, eventID)
}

func (m *mockAdmissionService) Availability(ctx context.Context, eventID string) (*ledger.Availability, error) {
	return m.AvailabilityFunc(ctx, eventID)
}

func (m *mockAdmissionService) Commit(ctx context.Context, entryID, participantID string) (*model.Ticket, error) {
	return m.CommitFunc(ctx, entryID, participantID)
}

func (m *mockAdmissionService) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return m.GetTicketFunc(ctx, ticketID)
}

func (m *mockAdmissionService) RefundTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return m.RefundTicketFunc(ctx, ticketID)
}

func newRouter(svc service.AdmissionService) *httprouter.Router {
	router := httprouter.New()
	NewAdmissionHandler(svc, logger.Discard()).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var body apperrors.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestJoin(t *testing.T) {
	deadline := time.Date(2026, 7, 1, 18, 10, 0, 0, time.UTC)

	tests := []struct {
		name       string
		result     *service.JoinResult
		wantStatus int
	}{
		{"granted", &service.JoinResult{EntryID: "e1", Granted: true, OfferDeadline: &deadline}, http.StatusCreated},
		{"queued", &service.JoinResult{EntryID: "e2", Position: 3}, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAdmissionService{JoinFunc: func(_ context.Context, eventID, participantID string) (*service.JoinResult, error) {
				assert.Equal(t, "ev-1", eventID)
				assert.Equal(t, "alice", participantID)
				return tt.result, nil
			}}

			rec := serve(newRouter(svc), http.MethodPost, "/api/v1/events/ev-1/queue",
				strings.NewReader(`{"participant_id":"alice"}`), nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got service.JoinResult
			decodeData(t, rec, &got)
			assert.Equal(t, tt.result.EntryID, got.EntryID)
			assert.Equal(t, tt.result.Position, got.Position)
		})
	}
}

func TestJoin_ParticipantFromHeader(t *testing.T) {
	svc := &mockAdmissionService{JoinFunc: func(_ context.Context, _, participantID string) (*service.JoinResult, error) {
		assert.Equal(t, "bob", participantID)
		return &service.JoinResult{EntryID: "e1", Granted: true}, nil
	}}

	rec := serve(newRouter(svc), http.MethodPost, "/api/v1/events/ev-1/queue", nil,
		map[string]string{middleware.ParticipantIDHeader: "bob"})

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestJoin_BadParticipant(t *testing.T) {
	svc := &mockAdmissionService{JoinFunc: func(context.Context, string, string) (*service.JoinResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	router := newRouter(svc)

	tests := []struct {
		name    string
		body    io.Reader
		headers map[string]string
	}{
		{"missing", nil, nil},
		{"malformed body", strings.NewReader(`{"participant_id":`), nil},
		{"unknown field", strings.NewReader(`{"participant":"a"}`), nil},
		{"header mismatch", strings.NewReader(`{"participant_id":"alice"}`), map[string]string{middleware.ParticipantIDHeader: "mallory"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodPost, "/api/v1/events/ev-1/queue", tt.body, tt.headers)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Code)
		})
	}
}

func TestJoin_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"cancelled", apperrors.Wrap(admissionerrors.ErrEventCancelled, service.CodeEventCancelled, "Event has been cancelled", http.StatusGone), http.StatusGone, service.CodeEventCancelled},
		{"already admitted", apperrors.Wrap(admissionerrors.ErrAlreadyAdmitted, service.CodeAlreadyAdmitted, "dup", http.StatusConflict), http.StatusConflict, service.CodeAlreadyAdmitted},
		{"too many attempts", apperrors.Wrap(admissionerrors.ErrTooManyAttempts, service.CodeTooManyAttempts, "slow", http.StatusTooManyRequests), http.StatusTooManyRequests, service.CodeTooManyAttempts},
		{"plain error", errors.New("mongo exploded"), http.StatusInternalServerError, apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAdmissionService{JoinFunc: func(context.Context, string, string) (*service.JoinResult, error) {
				return nil, tt.err
			}}

			rec := serve(newRouter(svc), http.MethodPost, "/api/v1/events/ev-1/queue",
				strings.NewReader(`{"participant_id":"alice"}`), nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, body.Message, "mongo")
		})
	}
}

func TestQueuePosition(t *testing.T) {
	svc := &mockAdmissionService{QueuePositionFunc: func(_ context.Context, eventID, participantID string) (*service.QueueStatus, error) {
		assert.Equal(t, "ev-1", eventID)
		assert.Equal(t, "carol", participantID)
		return &service.QueueStatus{EntryID: "e3", State: model.EntryWaiting, Position: 2}, nil
	}}

	rec := serve(newRouter(svc), http.MethodGet, "/api/v1/events/ev-1/queue/carol", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got service.QueueStatus
	decodeData(t, rec, &got)
	assert.Equal(t, model.EntryWaiting, got.State)
	assert.Equal(t, 2, got.Position)
}

func TestRelease(t *testing.T) {
	var called bool
	svc := &mockAdmissionService{ReleaseFunc: func(_ context.Context, eventID, entryID, participantID string) error {
		called = true
		assert.Equal(t, "ev-1", eventID)
		assert.Equal(t, "e1", entryID)
		assert.Equal(t, "alice", participantID)
		return nil
	}}

	rec := serve(newRouter(svc), http.MethodPost, "/api/v1/events/ev-1/offers/e1/release",
		strings.NewReader(`{"participant_id":"alice"}`), nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, called)
}

func TestRelease_NotOwner(t *testing.T) {
	svc := &mockAdmissionService{ReleaseFunc: func(context.Context, string, string, string) error {
		return apperrors.Wrap(admissionerrors.ErrNotOwner, service.CodeNotOwner, "Offer belongs to another participant", http.StatusForbidden)
	}}

	rec := serve(newRouter(svc), http.MethodPost, "/api/v1/events/ev-1/offers/e1/release", nil,
		map[string]string{middleware.ParticipantIDHeader: "mallory"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, service.CodeNotOwner, decodeError(t, rec).Code)
}

func TestCommit(t *testing.T) {
	issued := time.Date(2026, 7, 1, 18, 5, 0, 0, time.UTC)
	svc := &mockAdmissionService{CommitFunc: func(_ context.Context, entryID, participantID string) (*model.Ticket, error) {
		return &model.Ticket{
			ID:            "t-1",
			EventID:       "ev-1",
			EntryID:       entryID,
			ParticipantID: participantID,
			Status:        model.TicketValid,
			IssuedAt:      issued,
		}, nil
	}}

	rec := serve(newRouter(svc), http.MethodPost, "/api/v1/offers/e1/commit",
		strings.NewReader(`{"participant_id":"alice"}`), nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var ticket model.Ticket
	decodeData(t, rec, &ticket)
	assert.Equal(t, "t-1", ticket.ID)
	assert.Equal(t, "e1", ticket.EntryID)
	assert.Equal(t, model.TicketValid, ticket.Status)
}

func TestCommit_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"expired", apperrors.Wrap(admissionerrors.ErrOfferExpired, service.CodeOfferExpired, "Offer has expired", http.StatusGone), http.StatusGone},
		{"already committed", apperrors.Wrap(admissionerrors.ErrAlreadyCommitted, service.CodeAlreadyCommitted, "dup", http.StatusConflict), http.StatusConflict},
		{"not found", apperrors.Wrap(admissionerrors.ErrOfferNotFound, service.CodeOfferNotFound, "Offer not found", http.StatusNotFound), http.StatusNotFound},
		{"busy", apperrors.Timeout("Event is busy, retry shortly"), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAdmissionService{CommitFunc: func(context.Context, string, string) (*model.Ticket, error) {
				return nil, tt.err
			}}

			rec := serve(newRouter(svc), http.MethodPost, "/api/v1/offers/e1/commit",
				strings.NewReader(`{"participant_id":"alice"}`), nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCancelEvent(t *testing.T) {
	cancelled := ""
	svc := &mockAdmissionService{CancelEventFunc: func(_ context.Context, eventID string) error {
		cancelled = eventID
		return nil
	}}

	rec := serve(newRouter(svc), http.MethodPost, "/api/v1/events/ev-9/cancel", nil, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ev-9", cancelled)
}

func TestAvailability(t *testing.T) {
	svc := &mockAdmissionService{AvailabilityFunc: func(context.Context, string) (*ledger.Availability, error) {
		a := ledger.Compute(10, 4, 3)
		return &a, nil
	}}

	rec := serve(newRouter(svc), http.MethodGet, "/api/v1/events/ev-1/availability", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got ledger.Availability
	decodeData(t, rec, &got)
	assert.Equal(t, 10, got.Capacity)
	assert.Equal(t, 7, got.Reserved)
	assert.Equal(t, 3, got.Free)
}

func TestTickets(t *testing.T) {
	svc := &mockAdmissionService{
		GetTicketFunc: func(_ context.Context, ticketID string) (*model.Ticket, error) {
			if ticketID == "missing" {
				return nil, apperrors.Wrap(admissionerrors.ErrTicketNotFound, service.CodeTicketNotFound, "Ticket not found", http.StatusNotFound)
			}
			return &model.Ticket{ID: ticketID, Status: model.TicketValid}, nil
		},
		RefundTicketFunc: func(_ context.Context, ticketID string) (*model.Ticket, error) {
			return &model.Ticket{ID: ticketID, Status: model.TicketRefunded}, nil
		},
	}
	router := newRouter(svc)

	rec := serve(router, http.MethodGet, "/api/v1/tickets/t-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/api/v1/tickets/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, service.CodeTicketNotFound, decodeError(t, rec).Code)

	rec = serve(router, http.MethodPost, "/api/v1/tickets/t-1/refund", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ticket model.Ticket
	decodeData(t, rec, &ticket)
	assert.Equal(t, model.TicketRefunded, ticket.Status)
}

type mockPinger struct {
	PingFunc func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.PingFunc(ctx) }

func TestHealthHandler(t *testing.T) {
	healthy := true
	pinger := &mockPinger{PingFunc: func(context.Context) error {
		if healthy {
			return nil
		}
		return fmt.Errorf("server selection timeout")
	}}
	router := httprouter.New()
	NewHealthHandler(pinger, func() any { return map[string]int{"dropped": 2} }, logger.Discard()).RegisterRoutes(router)

	rec := serve(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = serve(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(router, http.MethodGet, "/metrics/messaging", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int
	decodeData(t, rec, &stats)
	assert.Equal(t, 2, stats["dropped"])
}
