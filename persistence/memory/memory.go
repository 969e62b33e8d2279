// Package memory provides a thread-safe in-memory persistence.Backend.
// Suitable for tests and diskless development; state is lost on restart.
package memory

import (
	"sync"

	"github.com/jmcleod/ironbmc/persistence"
)

// Backend is an in-memory implementation of persistence.Backend.
type Backend struct {
	mu       sync.Mutex
	config   map[string][]byte
	sessions map[string][]byte
}

var _ persistence.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		config:   make(map[string][]byte),
		sessions: make(map[string][]byte),
	}
}

func cloneMap(src map[string][]byte) map[string][]byte {
	dst := make(map[string][]byte, len(src))
	for k, v := range src {
		dst[k] = append([]byte(nil), v...)
	}
	return dst
}

func (b *Backend) LoadConfig() (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneMap(b.config), nil
}

func (b *Backend) LoadSessions() ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs := make([][]byte, 0, len(b.sessions))
	for _, v := range b.sessions {
		docs = append(docs, append([]byte(nil), v...))
	}
	return docs, nil
}

func (b *Backend) Save(config map[string][]byte, sessions map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cloneMap(config)
	b.sessions = cloneMap(sessions)
	return nil
}

func (b *Backend) Close() error {
	return nil
}
