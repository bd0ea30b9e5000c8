package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Service opens checkouts and turns paid sessions into license keys.
type Service struct {
	provider Provider
	issuer   *Issuer
	store    *Store
	logger   *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default.
func NewService(p Provider, is *Issuer, st *Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: p, issuer: is, store: st, logger: logger}
}

// CheckoutURLs returns the success and cancel URLs for a checkout started
// from returnURL. The success URL carries the processor's session
// placeholder.
func CheckoutURLs(returnURL, extensionID string) (success, cancel string) {
	ext := url.QueryEscape(extensionID)
	success = returnURL + "?session_id={CHECKOUT_SESSION_ID}&ext_id=" + ext
	cancel = strings.Replace(returnURL, "success.html", "upgrade.html", 1) + "?ext_id=" + ext
	return success, cancel
}

// CreateCheckout opens a checkout for extensionID.
func (s *Service) CreateCheckout(ctx context.Context, extensionID, returnURL string) (Checkout, error) {
	if returnURL == "" {
		return Checkout{}, errors.New("license: returnUrl is required")
	}
	success, cancel := CheckoutURLs(returnURL, extensionID)
	co, err := s.provider.CreateCheckout(ctx, CheckoutParams{
		ExtensionID: extensionID,
		SuccessURL:  success,
		CancelURL:   cancel,
	})
	if err != nil {
		return Checkout{}, err
	}
	s.logger.Info("license: checkout created", "session_id", co.ID, "extension_id", extensionID)
	return co, nil
}

// Verify returns the license key of a paid session, or ErrNotPaid.
// Verifying a session again returns the same key without a new record.
func (s *Service) Verify(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("license: sessionId is required")
	}
	pay, err := s.provider.Payment(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !pay.Paid {
		return "", ErrNotPaid
	}
	key := s.issuer.Key(sessionID)
	rec, created, err := s.store.Record(ctx, sessionID, pay.ExtensionID, key)
	if err != nil {
		return "", fmt.Errorf("license: verify: %w", err)
	}
	if created {
		s.logger.Info("license: issued", "license_id", rec.ID, "session_id", sessionID)
	} else {
		s.logger.Info("license: re-verified", "license_id", rec.ID, "session_id", sessionID)
	}
	return key, nil
}
