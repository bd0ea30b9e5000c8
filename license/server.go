package license

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/unclip/shield"
)

// RegisterHTTP mounts the checkout and verify endpoints on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.HandleFunc("/api/create-checkout", postOnly(s.handleCreateCheckout))
	r.HandleFunc("/api/verify-payment", postOnly(s.handleVerifyPayment))
}

// Handler returns the backend with the API middleware stack applied.
func (s *Service) Handler(cfg shield.StackConfig) (http.Handler, *shield.RateLimiter) {
	r := chi.NewRouter()
	stack, rl := shield.APIStack(cfg)
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.RegisterHTTP(r)
	return r, rl
}

func (s *Service) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExtensionID string `json:"extensionId"`
		ReturnURL   string `json:"returnUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.ReturnURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("returnUrl is required"))
		return
	}
	co, err := s.CreateCheckout(r.Context(), req.ExtensionID, req.ReturnURL)
	if err != nil {
		shield.GetLogger(r.Context()).Error("license: stripe error", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (s *Service) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("sessionId is required"))
		return
	}
	key, err := s.Verify(r.Context(), req.SessionID)
	if errors.Is(err, ErrNotPaid) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Payment not completed"})
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("license: verification error", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"licenseKey": key})
}

// postOnly answers preflight with 200 "ok" and other non-POST methods
// with 405.
func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		case http.MethodPost:
			h(w, r)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
