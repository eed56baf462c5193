package domain

// PaymentOutcome is the gateway's view of a charge.
type PaymentOutcome string

const (
	PaymentOutcomeSucceeded PaymentOutcome = "SUCCEEDED"
	PaymentOutcomePending   PaymentOutcome = "PENDING"
	PaymentOutcomeFailed    PaymentOutcome = "FAILED"
)

type ChargeRequest struct {
	BookingID   string
	PayerRef    string
	MethodRef   string
	AmountCents int64
	Currency    string
}

type Charge struct {
	Ref          string
	ClientSecret string
	Outcome      PaymentOutcome
}
