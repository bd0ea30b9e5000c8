package license

import (
	"context"
	"errors"
)

// ErrNotPaid is returned when a checkout session has not been paid.
var ErrNotPaid = errors.New("license: payment not completed")

// CheckoutParams describes a checkout to open.
type CheckoutParams struct {
	ExtensionID string
	SuccessURL  string
	CancelURL   string
}

// Checkout is an opened checkout session.
type Checkout struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Payment is the state of a checkout session.
type Payment struct {
	Paid        bool
	ExtensionID string
}

// Provider is a payment processor.
type Provider interface {
	CreateCheckout(ctx context.Context, p CheckoutParams) (Checkout, error)
	Payment(ctx context.Context, sessionID string) (Payment, error)
}
