package expand

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	"github.com/hazyhaar/unclip/dom"
)

// Registry holds the ids of messages attempted during the current page
// lifetime. It is touched only from the scheduler goroutine.
type Registry struct {
	ids map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry { return &Registry{ids: make(map[string]struct{})} }

func (r *Registry) Has(id string) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *Registry) Add(id string) { r.ids[id] = struct{}{} }

func (r *Registry) Remove(id string) { delete(r.ids, id) }

// Reset forgets every id. Called when the page is replaced.
func (r *Registry) Reset() { clear(r.ids) }

func (r *Registry) Len() int { return len(r.ids) }

const (
	idTextPrefix = 100
	idLen        = 32
)

// MessageID identifies the message shown in container: Gmail's
// data-message-id when present, else a digest of the first 100 characters
// of its text. Identical content gives identical ids.
func MessageID(container dom.Element) string {
	if id, ok := container.Attr("data-message-id"); ok && id != "" {
		return id
	}
	text := container.Text()
	if utf8.RuneCountInString(text) > idTextPrefix {
		text = string([]rune(text)[:idTextPrefix])
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:idLen]
}
