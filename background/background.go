// Package background answers the messages the expander and the CLI send to
// the long-lived side of unclip: install defaults, usage stats, error
// reports and premium activation.
package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/unclip/license"
	"github.com/hazyhaar/unclip/messaging"
	"github.com/hazyhaar/unclip/settings"
)

// Message types served by the Service.
const (
	TypeReportError     = "REPORT_ERROR"
	TypeGetStats        = "GET_STATS"
	TypeActivatePremium = "ACTIVATE_PREMIUM"
	TypeVerifyPayment   = "VERIFY_PAYMENT"

	// typeBackendVerify is the remote half of VERIFY_PAYMENT.
	typeBackendVerify = "backend.verify-payment"
)

// Install reasons.
const (
	ReasonInstall = "install"
	ReasonUpdate  = "update"
)

// ErrInvalidKey is returned when a license key has the wrong format.
var ErrInvalidKey = errors.New("background: invalid license key format")

// Store is the settings surface the service needs.
type Store interface {
	Get(ctx context.Context) settings.Settings
	Save(ctx context.Context, p settings.Patch) error
}

// Stats is the GET_STATS reply.
type Stats struct {
	ExpandCount      int        `json:"expandCount"`
	LastExpanded     *time.Time `json:"lastExpanded"`
	DailyExpandCount int        `json:"dailyExpandCount"`
	IsPremium        bool       `json:"isPremium"`
}

// Ack is the reply of messages that return no data.
type Ack struct {
	Success bool `json:"success"`
}

// Service handles background messages.
type Service struct {
	store   Store
	router  *messaging.Router
	logger  *slog.Logger
	version string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithVersion sets the version reported on update.
func WithVersion(v string) Option { return func(s *Service) { s.version = v } }

// New creates a Service and registers its handlers on router.
func New(store Store, router *messaging.Router, opts ...Option) *Service {
	s := &Service{store: store, router: router, logger: slog.Default(), version: "dev"}
	for _, o := range opts {
		o(s)
	}
	router.RegisterLocal(TypeReportError, s.handleReportError)
	router.RegisterLocal(TypeGetStats, s.handleGetStats)
	router.RegisterLocal(TypeActivatePremium, s.handleActivatePremium)
	router.RegisterLocal(TypeVerifyPayment, s.handleVerifyPayment)
	return s
}

// ConnectBackend routes payment verification to the license backend at
// baseURL.
func (s *Service) ConnectBackend(baseURL string, opts ...messaging.RemoteOption) error {
	endpoint := strings.TrimRight(baseURL, "/") + "/api/verify-payment"
	return s.router.RegisterRemote(typeBackendVerify, endpoint, opts...)
}

// OnInstalled runs the lifecycle hook: a fresh install writes the default
// preferences and counters, an update only logs.
func (s *Service) OnInstalled(ctx context.Context, reason string) error {
	s.logger.Info("background: installed", "reason", reason)
	switch reason {
	case ReasonInstall:
		d := settings.Defaults()
		err := s.store.Save(ctx, settings.Patch{
			AutoExpandEnabled:     settings.Ptr(d.AutoExpandEnabled),
			DebugMode:             settings.Ptr(d.DebugMode),
			ErrorReportingEnabled: settings.Ptr(d.ErrorReportingEnabled),
			ExpandCount:           settings.Ptr(0),
			DailyExpandCount:      settings.Ptr(0),
		})
		if err != nil {
			return fmt.Errorf("background: install defaults: %w", err)
		}
		s.logger.Info("background: default settings initialized")
	case ReasonUpdate:
		s.logger.Info("background: updated", "version", s.version)
	}
	return nil
}

// Stats returns the usage counters.
func (s *Service) Stats(ctx context.Context) Stats {
	st := s.store.Get(ctx)
	return Stats{
		ExpandCount:      st.ExpandCount,
		LastExpanded:     st.LastExpanded,
		DailyExpandCount: st.DailyExpandCount,
		IsPremium:        st.IsPremium,
	}
}

// ReportError logs a report from the expander when the user opted in to
// error reporting. It reports whether the report was logged.
func (s *Service) ReportError(ctx context.Context, report json.RawMessage) bool {
	if !s.store.Get(ctx).ErrorReportingEnabled {
		return false
	}
	s.logger.ErrorContext(ctx, "background: error reported", "report", report)
	return true
}

// Activate stores a premium license key.
func (s *Service) Activate(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if !license.ValidKey(key) {
		return ErrInvalidKey
	}
	if err := s.store.Save(ctx, settings.Patch{IsPremium: settings.Ptr(true), LicenseKey: &key}); err != nil {
		return fmt.Errorf("background: activate: %w", err)
	}
	s.logger.Info("background: premium activated")
	return nil
}

// VerifyPayment asks the backend for the key of a paid checkout session
// and activates it.
func (s *Service) VerifyPayment(ctx context.Context, sessionID string) (string, error) {
	resp, err := s.router.Call(ctx, typeBackendVerify, map[string]string{"sessionId": sessionID})
	if err != nil {
		return "", fmt.Errorf("background: verify payment: %w", err)
	}
	var out struct {
		LicenseKey string `json:"licenseKey"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("background: verify payment: decode: %w", err)
	}
	if err := s.Activate(ctx, out.LicenseKey); err != nil {
		return "", err
	}
	return out.LicenseKey, nil
}

func (s *Service) handleReportError(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return nil, errors.New("background: REPORT_ERROR without data")
	}
	s.ReportError(ctx, payload)
	return json.Marshal(Ack{Success: true})
}

func (s *Service) handleGetStats(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(s.Stats(ctx))
}

func (s *Service) handleActivatePremium(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req struct {
		LicenseKey string `json:"licenseKey"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("background: ACTIVATE_PREMIUM: %w", err)
	}
	if err := s.Activate(ctx, req.LicenseKey); err != nil {
		return nil, err
	}
	return json.Marshal(Ack{Success: true})
}

func (s *Service) handleVerifyPayment(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("background: VERIFY_PAYMENT: %w", err)
	}
	key, err := s.VerifyPayment(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"success": true, "licenseKey": key})
}
