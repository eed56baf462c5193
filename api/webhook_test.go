package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/gateway/stripegw"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(payload []byte, signature string) (*stripegw.Notification, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripegw.Notification), args.Error(1)
}

type MockDeduper struct {
	mock.Mock
}

func (m *MockDeduper) MarkEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	args := m.Called(ctx, provider, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeduper) ForgetEvent(ctx context.Context, provider, eventID string) error {
	args := m.Called(ctx, provider, eventID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	args := m.Called(ctx, topic, key, payload)
	return args.Error(0)
}

type MockPaymentReconciler struct {
	mock.Mock
}

func (m *MockPaymentReconciler) ReconcileByExternalRef(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	args := m.Called(ctx, paymentRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

var succeeded = &stripegw.Notification{EventID: "evt_1", Type: "payment_intent.succeeded", PaymentRef: "pi_1"}

func serveWebhook(h *WebhookHandler, payload string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBufferString(payload))
	c.Request.Header.Set("Stripe-Signature", "t=1,v1=abc")
	h.stripe(c)
	return w
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	verifier.On("Verify", []byte("{}"), "t=1,v1=abc").Return(nil, errors.New("bad signature"))

	w := serveWebhook(NewWebhookHandler(verifier, reconciler), "{}")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	reconciler.AssertNotCalled(t, "ReconcileByExternalRef", mock.Anything, mock.Anything)
}

func TestWebhookHandler_IgnoresNonPaymentEvents(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	verifier.On("Verify", mock.Anything, mock.Anything).
		Return(&stripegw.Notification{EventID: "evt_2", Type: "customer.created"}, nil)

	w := serveWebhook(NewWebhookHandler(verifier, reconciler), "{}")

	assert.Equal(t, http.StatusOK, w.Code)
	reconciler.AssertNotCalled(t, "ReconcileByExternalRef", mock.Anything, mock.Anything)
}

func TestWebhookHandler_ReconcilesInline(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	deduper := &MockDeduper{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(succeeded, nil)
	deduper.On("MarkEventProcessed", mock.Anything, "stripe", "evt_1").Return(true, nil)
	reconciler.On("ReconcileByExternalRef", mock.Anything, "pi_1").
		Return(&domain.Booking{ID: "b-1", Status: domain.BookingStatusConfirmed}, nil).Once()

	w := serveWebhook(NewWebhookHandler(verifier, reconciler, WithDeduper(deduper)), "{}")

	assert.Equal(t, http.StatusOK, w.Code)
	reconciler.AssertExpectations(t)
	deduper.AssertExpectations(t)
}

func TestWebhookHandler_DuplicateEvent(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	deduper := &MockDeduper{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(succeeded, nil)
	deduper.On("MarkEventProcessed", mock.Anything, "stripe", "evt_1").Return(false, nil)

	w := serveWebhook(NewWebhookHandler(verifier, reconciler, WithDeduper(deduper)), "{}")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")
	reconciler.AssertNotCalled(t, "ReconcileByExternalRef", mock.Anything, mock.Anything)
}

func TestWebhookHandler_PublishesToWorker(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	publisher := &MockPublisher{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(succeeded, nil)

	received := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	expected := kafka.PaymentEvent{EventID: "evt_1", Type: "payment_intent.succeeded", PaymentRef: "pi_1", ReceivedAt: received}
	publisher.On("Publish", mock.Anything, "payment_events", "pi_1", expected).Return(nil).Once()

	h := NewWebhookHandler(verifier, reconciler, WithPublisher(publisher, "payment_events"))
	h.now = func() time.Time { return received }

	w := serveWebhook(h, "{}")

	assert.Equal(t, http.StatusOK, w.Code)
	publisher.AssertExpectations(t)
	reconciler.AssertNotCalled(t, "ReconcileByExternalRef", mock.Anything, mock.Anything)
}

func TestWebhookHandler_PublishFailureFallsBackInline(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	publisher := &MockPublisher{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(succeeded, nil)
	publisher.On("Publish", mock.Anything, "payment_events", "pi_1", mock.Anything).Return(errors.New("broker down"))
	reconciler.On("ReconcileByExternalRef", mock.Anything, "pi_1").
		Return(nil, domain.ErrPaymentNotSuccessful).Once()

	w := serveWebhook(NewWebhookHandler(verifier, reconciler, WithPublisher(publisher, "payment_events")), "{}")

	// неуспешный платёж это штатный исход, Stripe не должен ретраить
	assert.Equal(t, http.StatusOK, w.Code)
	reconciler.AssertExpectations(t)
}

func TestWebhookHandler_InfrastructureErrorForgetsEvent(t *testing.T) {
	verifier := &MockVerifier{}
	reconciler := &MockPaymentReconciler{}
	deduper := &MockDeduper{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(succeeded, nil)
	deduper.On("MarkEventProcessed", mock.Anything, "stripe", "evt_1").Return(true, nil)
	deduper.On("ForgetEvent", mock.Anything, "stripe", "evt_1").Return(nil).Once()
	reconciler.On("ReconcileByExternalRef", mock.Anything, "pi_1").
		Return(nil, errors.Join(domain.ErrPersistence, errors.New("connection reset")))

	w := serveWebhook(NewWebhookHandler(verifier, reconciler, WithDeduper(deduper)), "{}")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	deduper.AssertExpectations(t)
}
