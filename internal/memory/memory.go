// Package memory provides per-session conversation history.
package memory

import (
	"context"
	"sync"

	edudoc "github.com/edudocai/edudoc"
)

// defaultWindow bounds how many exchanges a session keeps. Older exchanges
// fall off; the Router only ever looks at the recent ones anyway.
const defaultWindow = 20

// InMemorySessionStore implements edudoc.SessionStore in process memory.
// Safe for concurrent use.
type InMemorySessionStore struct {
	sessions map[string][]edudoc.Exchange
	mutex    sync.RWMutex
	window   int
}

// SessionStoreOption configures an InMemorySessionStore.
type SessionStoreOption func(*InMemorySessionStore)

// WithWindow sets how many exchanges each session retains.
func WithWindow(n int) SessionStoreOption {
	return func(s *InMemorySessionStore) {
		if n > 0 {
			s.window = n
		}
	}
}

// NewInMemorySessionStore creates an empty session store.
func NewInMemorySessionStore(options ...SessionStoreOption) *InMemorySessionStore {
	s := &InMemorySessionStore{
		sessions: make(map[string][]edudoc.Exchange),
		window:   defaultWindow,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// History implements edudoc.SessionStore. An unknown session has empty
// history, not an error.
func (s *InMemorySessionStore) History(ctx context.Context, sessionID string) (edudoc.History, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	exchanges := s.sessions[sessionID]
	out := make(edudoc.History, len(exchanges))
	copy(out, exchanges)
	return out, nil
}

// Append implements edudoc.SessionStore, trimming to the window.
func (s *InMemorySessionStore) Append(ctx context.Context, sessionID string, ex edudoc.Exchange) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	exchanges := append(s.sessions[sessionID], ex)
	if len(exchanges) > s.window {
		exchanges = exchanges[len(exchanges)-s.window:]
	}
	s.sessions[sessionID] = exchanges
	return nil
}

// Clear removes a session's history.
func (s *InMemorySessionStore) Clear(sessionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, sessionID)
}
