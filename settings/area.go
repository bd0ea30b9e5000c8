package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// Area is one key-value storage area. Values are JSON documents.
type Area interface {
	// Get returns the stored values for keys. Missing keys are absent from
	// the result. No keys means every key.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Set writes values, leaving other keys untouched.
	Set(ctx context.Context, values map[string]json.RawMessage) error
	// Clear removes every key.
	Clear(ctx context.Context) error
}

// MemoryArea is an in-process Area. Its failure hooks make it the area of
// choice for tests.
type MemoryArea struct {
	mu   sync.Mutex
	data map[string]json.RawMessage

	// GetErr and SetErr, when non-nil, are returned by every Get and Set.
	GetErr error
	SetErr error
}

// NewMemoryArea creates an empty MemoryArea.
func NewMemoryArea() *MemoryArea {
	return &MemoryArea{data: make(map[string]json.RawMessage)}
}

func (m *MemoryArea) Get(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if len(keys) == 0 {
		return maps.Clone(m.data), nil
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryArea) Set(_ context.Context, values map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryArea) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	clear(m.data)
	return nil
}

func encode(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("settings: encode %T: %v", v, err))
	}
	return b
}
