package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/internal/admission/validator"
	apperrors "turnstile/pkg/errors"
	"turnstile/pkg/kafka"
	"turnstile/pkg/logger"
	"turnstile/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entryID = "7b0c2f2e-4c55-4f1e-9a51-0d2f6f9e3a10"

type mockCommitter struct {
	CommitFunc func(ctx context.Context, entryID, participantID string) (*model.Ticket, error)
	calls      int
}

func (m *mockCommitter) Commit(ctx context.Context, entryID, participantID string) (*model.Ticket, error) {
	m.calls++
	return m.CommitFunc(ctx, entryID, participantID)
}

type mockRefunder struct {
	RequestRefundFunc func(ctx context.Context, instruction model.RefundInstruction) error
	requested         []model.RefundInstruction
}

func (m *mockRefunder) RequestRefund(ctx context.Context, instruction model.RefundInstruction) error {
	m.requested = append(m.requested, instruction)
	if m.RequestRefundFunc != nil {
		return m.RequestRefundFunc(ctx, instruction)
	}
	return nil
}

type mockPublisher struct {
	PublishFunc func(ctx context.Context, routingKey string, payload any) error
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	return m.PublishFunc(ctx, routingKey, payload)
}

func paymentMessage(t *testing.T, payment model.PaymentSucceeded) kafka.Message {
	t.Helper()
	msg, err := kafka.NewMessage().
		WithKey(payment.ParticipantID).
		WithValue(payment).
		WithType(MessageTypePaymentSucceeded).
		Build()
	require.NoError(t, err)
	return msg
}

func newHandler(committer *mockCommitter, refunds *mockRefunder) *ResultHandler {
	return NewResultHandler(committer, refunds, validator.NewAdmissionValidator(logger.Discard()), logger.Discard())
}

func validPayment() model.PaymentSucceeded {
	return model.PaymentSucceeded{
		PaymentID:     "pay-1",
		EntryID:       entryID,
		ParticipantID: "alice",
		EventID:       "ev-1",
	}
}

func TestHandle_Commits(t *testing.T) {
	committer := &mockCommitter{CommitFunc: func(_ context.Context, gotEntry, participant string) (*model.Ticket, error) {
		assert.Equal(t, entryID, gotEntry)
		assert.Equal(t, "alice", participant)
		return &model.Ticket{ID: "t-1", EntryID: gotEntry}, nil
	}}
	refunds := &mockRefunder{}

	err := newHandler(committer, refunds).Handle(context.Background(), paymentMessage(t, validPayment()))

	require.NoError(t, err)
	assert.Equal(t, 1, committer.calls)
	assert.Empty(t, refunds.requested)
}

func TestHandle_DuplicateIsAcked(t *testing.T) {
	committer := &mockCommitter{CommitFunc: func(context.Context, string, string) (*model.Ticket, error) {
		return nil, apperrors.Wrap(admissionerrors.ErrAlreadyCommitted, "ALREADY_COMMITTED", "dup", http.StatusConflict)
	}}
	refunds := &mockRefunder{}

	err := newHandler(committer, refunds).Handle(context.Background(), paymentMessage(t, validPayment()))

	require.NoError(t, err)
	assert.Empty(t, refunds.requested)
}

func TestHandle_LapsedOfferIsRefunded(t *testing.T) {
	causes := map[string]error{
		"expired":   admissionerrors.ErrOfferExpired,
		"not found": admissionerrors.ErrOfferNotFound,
		"not owner": admissionerrors.ErrNotOwner,
		"cancelled": admissionerrors.ErrEventCancelled,
	}

	for name, cause := range causes {
		t.Run(name, func(t *testing.T) {
			committer := &mockCommitter{CommitFunc: func(context.Context, string, string) (*model.Ticket, error) {
				return nil, apperrors.Wrap(cause, "X", "x", http.StatusGone)
			}}
			refunds := &mockRefunder{}

			err := newHandler(committer, refunds).Handle(context.Background(), paymentMessage(t, validPayment()))

			require.NoError(t, err)
			require.Len(t, refunds.requested, 1)
			got := refunds.requested[0]
			assert.Equal(t, "pay-1", got.PaymentID)
			assert.Equal(t, entryID, got.EntryID)
			assert.Equal(t, "ev-1", got.EventID)
			assert.Equal(t, model.ReasonOfferLapsed, got.Reason)
		})
	}
}

func TestHandle_RefundFailureIsRetried(t *testing.T) {
	committer := &mockCommitter{CommitFunc: func(context.Context, string, string) (*model.Ticket, error) {
		return nil, admissionerrors.ErrOfferExpired
	}}
	refunds := &mockRefunder{RequestRefundFunc: func(context.Context, model.RefundInstruction) error {
		return errors.New("channel closed")
	}}

	err := newHandler(committer, refunds).Handle(context.Background(), paymentMessage(t, validPayment()))

	require.Error(t, err)
	assert.Equal(t, kafka.ErrorTypeTransient, kafka.ClassifyError(err))
}

func TestHandle_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want kafka.ErrorType
	}{
		{"lock timeout", apperrors.Wrap(fmt.Errorf("%w: event ev-1", admissionerrors.ErrLockTimeout), apperrors.CodeTimeout, "busy", http.StatusGatewayTimeout), kafka.ErrorTypeTransient},
		{"internal", apperrors.Internal("boom", errors.New("mongo down")), kafka.ErrorTypeTransient},
		{"validation", apperrors.Validation("bad", nil), kafka.ErrorTypePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			committer := &mockCommitter{CommitFunc: func(context.Context, string, string) (*model.Ticket, error) {
				return nil, tt.err
			}}

			err := newHandler(committer, &mockRefunder{}).Handle(context.Background(), paymentMessage(t, validPayment()))

			require.Error(t, err)
			assert.Equal(t, tt.want, kafka.ClassifyError(err))
		})
	}
}

func TestHandle_PoisonMessages(t *testing.T) {
	committer := &mockCommitter{CommitFunc: func(context.Context, string, string) (*model.Ticket, error) {
		t.Fatal("commit must not be called")
		return nil, nil
	}}
	h := newHandler(committer, &mockRefunder{})

	t.Run("not json", func(t *testing.T) {
		msg := kafka.Message{Key: "k", Value: []byte("{"), Headers: map[string]string{}}
		assert.Equal(t, kafka.ErrorTypePermanent, kafka.ClassifyError(h.Handle(context.Background(), msg)))
	})

	t.Run("invalid entry id", func(t *testing.T) {
		payment := validPayment()
		payment.EntryID = "not-a-uuid"
		err := h.Handle(context.Background(), paymentMessage(t, payment))
		assert.Equal(t, kafka.ErrorTypePermanent, kafka.ClassifyError(err))
	})

	t.Run("other message type is ignored", func(t *testing.T) {
		msg := kafka.Message{Key: "k", Value: []byte("{}"), Headers: map[string]string{kafka.HeaderMessageType: "payment.failed"}}
		assert.NoError(t, h.Handle(context.Background(), msg))
	})
}

func TestRefundRequester_Publishes(t *testing.T) {
	var gotKey string
	var gotBody []byte
	publisher := &mockPublisher{PublishFunc: func(_ context.Context, routingKey string, payload any) error {
		gotKey = routingKey
		var err error
		gotBody, err = json.Marshal(payload)
		return err
	}}

	instruction := model.RefundInstruction{
		EventID:       "ev-1",
		ParticipantID: "alice",
		TicketID:      "t-1",
		Reason:        model.ReasonEventCancelled,
		RequestedAt:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewRefundRequester(publisher, logger.Discard()).RequestRefund(context.Background(), instruction))

	assert.Equal(t, RoutingKeyRefundRequested, gotKey)
	var decoded model.RefundInstruction
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "t-1", decoded.TicketID)
	assert.Equal(t, model.ReasonEventCancelled, decoded.Reason)
}

func TestRefundRequester_WrapsPublishError(t *testing.T) {
	wantErr := errors.New("connection closed")
	publisher := &mockPublisher{PublishFunc: func(context.Context, string, any) error { return wantErr }}

	err := NewRefundRequester(publisher, logger.Discard()).RequestRefund(context.Background(), model.RefundInstruction{ParticipantID: "p"})
	assert.ErrorIs(t, err, wantErr)
}
