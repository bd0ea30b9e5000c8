package shield

import (
	"net/http"
	"strings"
)

// CORSConfig is the cross-origin policy. Zero fields take defaults:
// origin "*", methods POST and OPTIONS, header Content-Type.
type CORSConfig struct {
	Origin  string
	Methods []string
	Headers []string
}

// CORS returns middleware that sets the Access-Control headers on every
// response. Preflight requests still reach the handler.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	if cfg.Origin == "" {
		cfg.Origin = "*"
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodPost, http.MethodOptions}
	}
	if len(cfg.Headers) == 0 {
		cfg.Headers = []string{"Content-Type"}
	}
	methods := strings.Join(cfg.Methods, ", ")
	headers := strings.Join(cfg.Headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", cfg.Origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			next.ServeHTTP(w, r)
		})
	}
}
