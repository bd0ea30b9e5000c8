package browser

import "sync"

const (
	bindingName = "__unclip_binding"

	payloadMutation = "m"
	payloadLoad     = "load"
)

// signals turns binding payloads into coalescing notifications. A pending
// notification absorbs later ones until it is received.
type signals struct {
	mutations chan struct{}
	loads     chan struct{}
	once      sync.Once
}

func newSignals() *signals {
	return &signals{
		mutations: make(chan struct{}, 1),
		loads:     make(chan struct{}, 1),
	}
}

// deliver routes one payload. It reports false for unknown payloads.
func (s *signals) deliver(payload string) bool {
	var ch chan struct{}
	switch payload {
	case payloadMutation:
		ch = s.mutations
	case payloadLoad:
		ch = s.loads
	default:
		return false
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}

func (s *signals) close() {
	s.once.Do(func() {
		close(s.mutations)
		close(s.loads)
	})
}

// newDocumentScript is the bridge as a self-invoking script for
// Page.addScriptToEvaluateOnNewDocument.
func newDocumentScript() string { return "(" + bridgeJS + ")()" }
