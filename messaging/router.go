// Package messaging routes typed messages between the parts of unclip: the
// expander session, the background service and the license backend.
//
// A message type is served either by a local handler in the same process
// or by a remote HTTP endpoint. Callers do not see the difference.
//
//	r := messaging.New()
//	r.RegisterLocal("GET_STATS", svc.stats)
//	r.RegisterRemote("VERIFY_PAYMENT", "https://billing.example.com/api/verify-payment")
//	resp, err := r.Call(ctx, "GET_STATS", nil)
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler serves one message type: JSON in, JSON out.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Message is the envelope exchanged on the wire.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrUnknownType is returned by Call for a type with no handler.
var ErrUnknownType = errors.New("messaging: unknown message type")

type remoteEntry struct {
	endpoint string
	handler  Handler
	close    func()
}

// Router dispatches messages by type. Safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	local  map[string]Handler
	remote map[string]remoteEntry
	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		local:  make(map[string]Handler),
		remote: make(map[string]remoteEntry),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal serves typ with an in-process handler.
func (r *Router) RegisterLocal(typ string, h Handler) {
	r.mu.Lock()
	r.local[typ] = h
	r.mu.Unlock()
}

// RegisterRemote serves typ by POSTing the payload to endpoint. A remote
// registration takes precedence over a local one for the same type.
func (r *Router) RegisterRemote(typ, endpoint string, opts ...RemoteOption) error {
	h, closeFn, err := HTTPHandler(endpoint, opts...)
	if err != nil {
		return fmt.Errorf("messaging: register %s: %w", typ, err)
	}
	r.mu.Lock()
	old, ok := r.remote[typ]
	r.remote[typ] = remoteEntry{endpoint: endpoint, handler: h, close: closeFn}
	r.mu.Unlock()
	if ok && old.close != nil {
		old.close()
	}
	return nil
}

// Call sends payload to the handler of typ. payload is marshalled to JSON
// unless it already is a json.RawMessage; nil sends no payload.
func (r *Router) Call(ctx context.Context, typ string, payload any) (json.RawMessage, error) {
	raw, err := encode(payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: %s: encode payload: %w", typ, err)
	}
	return r.Dispatch(ctx, Message{Type: typ, Payload: raw})
}

// Dispatch routes an already-encoded message.
func (r *Router) Dispatch(ctx context.Context, m Message) (json.RawMessage, error) {
	r.mu.RLock()
	entry, hasRemote := r.remote[m.Type]
	localH := r.local[m.Type]
	r.mu.RUnlock()

	if hasRemote {
		r.logger.DebugContext(ctx, "messaging: routing remote", "type", m.Type, "endpoint", entry.endpoint)
		return entry.handler(ctx, m.Payload)
	}
	if localH != nil {
		r.logger.DebugContext(ctx, "messaging: routing local", "type", m.Type)
		return localH(ctx, m.Payload)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, m.Type)
}

// Types lists the registered message types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.local)+len(r.remote))
	var out []string
	for t := range r.remote {
		seen[t] = true
		out = append(out, t)
	}
	for t := range r.local {
		if !seen[t] {
			out = append(out, t)
		}
	}
	return out
}

// Close releases remote transports.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, e := range r.remote {
		if e.close != nil {
			e.close()
		}
		delete(r.remote, t)
	}
}

func encode(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(payload)
}
