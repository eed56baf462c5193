package stripegw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Gateway charges bookings through Stripe customers and payment intents.
type Gateway struct {
	api       *client.API
	returnURL string
}

func New(secretKey, returnURL string) *Gateway {
	return &Gateway{
		api:       client.New(secretKey, nil),
		returnURL: returnURL,
	}
}

// CreatePayer creates a customer whose default payment method is methodRef.
func (g *Gateway) CreatePayer(ctx context.Context, methodRef string) (string, error) {
	params := &stripe.CustomerParams{
		PaymentMethod: stripe.String(methodRef),
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(methodRef),
		},
	}
	params.Context = ctx

	customer, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return customer.ID, nil
}

// ChargeNow creates and confirms a payment intent in one call. A declined card is reported as a
// failed charge, not as an error.
func (g *Gateway) ChargeNow(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.PayerRef),
		PaymentMethod: stripe.String(req.MethodRef),
		Confirm:       stripe.Bool(true),
	}
	if g.returnURL != "" {
		params.ReturnURL = stripe.String(g.returnURL)
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	params.SetIdempotencyKey("booking-charge-" + req.BookingID)

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.PaymentIntent != nil && stripeErr.PaymentIntent.ID != "" {
			return &domain.Charge{
				Ref:          stripeErr.PaymentIntent.ID,
				ClientSecret: stripeErr.PaymentIntent.ClientSecret,
				Outcome:      domain.PaymentOutcomeFailed,
			}, nil
		}
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}

	return &domain.Charge{
		Ref:          intent.ID,
		ClientSecret: intent.ClientSecret,
		Outcome:      Outcome(intent.Status),
	}, nil
}

func (g *Gateway) GetOutcome(ctx context.Context, paymentRef string) (domain.PaymentOutcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := g.api.PaymentIntents.Get(paymentRef, params)
	if err != nil {
		return "", fmt.Errorf("stripe get payment intent %s: %w", paymentRef, err)
	}
	return Outcome(intent.Status), nil
}

// Outcome maps a payment intent status. Intents are confirmed on creation, so
// requires_payment_method afterwards means the attempt was declined.
func Outcome(status stripe.PaymentIntentStatus) domain.PaymentOutcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.PaymentOutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.PaymentOutcomeFailed
	default:
		return domain.PaymentOutcomePending
	}
}

// Notification is the part of a webhook event the booking service acts on.
type Notification struct {
	EventID    string
	Type       string
	PaymentRef string
}

// WebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify returns the payment intent referenced by a payment_intent.* event. Other event types
// yield a Notification with an empty PaymentRef.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify stripe webhook: %w", err)
	}

	n := &Notification{EventID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(n.Type, "payment_intent.") || event.Data == nil {
		return n, nil
	}
	if id, ok := event.Data.Object["id"].(string); ok {
		n.PaymentRef = id
	}
	return n, nil
}
