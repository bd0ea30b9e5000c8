package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// StripeProvider opens one-off card checkouts for a single price.
type StripeProvider struct {
	sessions session.Client
	priceID  string
}

// NewStripeProvider creates a provider with a secret API key and the
// price to charge.
func NewStripeProvider(secretKey, priceID string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, errors.New("license: stripe secret key is empty")
	}
	if priceID == "" {
		return nil, errors.New("license: stripe price id is empty")
	}
	return &StripeProvider{
		sessions: session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		priceID:  priceID,
	}, nil
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, cp CheckoutParams) (Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(p.priceID),
			Quantity: stripe.Int64(1),
		}},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(cp.SuccessURL),
		CancelURL:  stripe.String(cp.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("extensionId", cp.ExtensionID)

	s, err := p.sessions.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("license: stripe create: %w", err)
	}
	return Checkout{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) Payment(ctx context.Context, sessionID string) (Payment, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return Payment{}, fmt.Errorf("license: stripe retrieve: %w", err)
	}
	return Payment{
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		ExtensionID: s.Metadata["extensionId"],
	}, nil
}
