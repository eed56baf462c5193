package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/gateway/stripegw"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	stripeProvider     = "stripe"
	maxWebhookBodySize = 64 << 10
)

type NotificationVerifier interface {
	Verify(payload []byte, signature string) (*stripegw.Notification, error)
}

// EventDeduper remembers gateway event ids that were already accepted.
type EventDeduper interface {
	MarkEventProcessed(ctx context.Context, provider, eventID string) (bool, error)
	ForgetEvent(ctx context.Context, provider, eventID string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

type PaymentReconciler interface {
	ReconcileByExternalRef(ctx context.Context, paymentRef string) (*domain.Booking, error)
}

type WebhookHandler struct {
	verifier   NotificationVerifier
	reconciler PaymentReconciler
	deduper    EventDeduper
	publisher  EventPublisher
	topic      string
	logger     *zap.Logger
	now        func() time.Time
}

type WebhookOption func(*WebhookHandler)

func WithDeduper(deduper EventDeduper) WebhookOption {
	return func(h *WebhookHandler) {
		h.deduper = deduper
	}
}

// WithPublisher hands verified notifications to the worker through topic instead of
// reconciling them inside the request.
func WithPublisher(publisher EventPublisher, topic string) WebhookOption {
	return func(h *WebhookHandler) {
		h.publisher = publisher
		h.topic = topic
	}
}

func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(h *WebhookHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewWebhookHandler(verifier NotificationVerifier, reconciler PaymentReconciler, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/webhooks/stripe", h.stripe)
}

func (h *WebhookHandler) stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	n, err := h.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("rejected webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid signature"})
		return
	}

	if n.PaymentRef == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	ctx := c.Request.Context()
	log := h.logger.With(
		zap.String("event_id", n.EventID),
		zap.String("event_type", n.Type),
		zap.String("payment_ref", n.PaymentRef))

	if h.deduper != nil {
		first, err := h.deduper.MarkEventProcessed(ctx, stripeProvider, n.EventID)
		if err != nil {
			// reconciliation is idempotent, a second delivery only costs a gateway lookup
			log.Warn("webhook dedupe unavailable", zap.Error(err))
		} else if !first {
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
	}

	if h.publisher != nil {
		event := kafka.PaymentEvent{
			EventID:    n.EventID,
			Type:       n.Type,
			PaymentRef: n.PaymentRef,
			ReceivedAt: h.now().UTC(),
		}
		perr := h.publisher.Publish(ctx, h.topic, n.PaymentRef, event)
		if perr == nil {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		log.Warn("publish payment event failed, reconciling inline", zap.Error(perr))
	}

	_, err = h.reconciler.ReconcileByExternalRef(ctx, n.PaymentRef)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPaymentNotSuccessful):
		log.Info("payment not settled yet", zap.Error(err))
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("webhook for unknown payment")
	default:
		if h.deduper != nil {
			if ferr := h.deduper.ForgetEvent(ctx, stripeProvider, n.EventID); ferr != nil {
				log.Warn("forget webhook event failed", zap.Error(ferr))
			}
		}
		writeError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
