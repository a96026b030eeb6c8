// Package session holds the live chat sessions: a mutex-guarded store of
// session records, each owning one conversation engine, and a recycler that
// removes records whose lifetime has elapsed.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/biocypher/biochatter-server/internal/observability"
	"github.com/biocypher/biochatter-server/pkg/llm"
)

// Store maps session ids to live records. All methods are safe for
// concurrent use. The lock is never held across a chat call.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	factory llm.Factory
	maxAge  time.Duration

	nowFunc func() int64 // unix millis, swapped in tests
}

// NewStore creates an empty session store. maxAge <= 0 falls back to
// DefaultMaxAge.
func NewStore(factory llm.Factory, maxAge time.Duration) *Store {
	observability.EnsureRegistered()

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return &Store{
		records: make(map[string]*Record),
		factory: factory,
		maxAge:  maxAge,
		nowFunc: func() int64 { return time.Now().UnixMilli() },
	}
}

// Has reports whether a record exists for sessionID
func (s *Store) Has(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[sessionID]
	return ok
}

// Get returns the record for sessionID, if any
func (s *Store) Get(sessionID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[sessionID]
	return r, ok
}

// GetOrCreate returns the existing record for sessionID or atomically creates
// one with the supplied model parameters. A factory error leaves the store
// unchanged.
func (s *Store) GetOrCreate(sessionID string, mc llm.ModelConfig) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[sessionID]; ok {
		return r, nil
	}
	return s.insertLocked(sessionID, mc)
}

// Initialize creates a fresh record for sessionID, overwriting any existing
// one. The engine variant is re-evaluated from the new model parameters.
func (s *Store) Initialize(sessionID string, mc llm.ModelConfig) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(sessionID, mc)
}

func (s *Store) insertLocked(sessionID string, mc llm.ModelConfig) (*Record, error) {
	r, err := newRecord(sessionID, mc, s.factory, s.nowFunc(), s.maxAge)
	if err != nil {
		return nil, err
	}

	s.records[sessionID] = r
	observability.RecordSessionCreated()
	observability.SetActiveSessions(len(s.records))

	log.Info().Str("session_id", sessionID).Str("model", mc.Model).Msg("Session created")
	return r, nil
}

// Remove deletes the record for sessionID. Removing an absent id is a no-op.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[sessionID]; !ok {
		return
	}

	delete(s.records, sessionID)
	observability.SetActiveSessions(len(s.records))
	log.Info().Str("session_id", sessionID).Msg("Session removed")
}

// Len returns the number of live records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear drops all records. Used on shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
	observability.SetActiveSessions(0)
}

// ExpiredSessions returns the ids of all records expired at now
func (s *Store) ExpiredSessions(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []string
	millis := now.UnixMilli()
	for id, r := range s.records {
		if r.Expired(millis) {
			expired = append(expired, id)
		}
	}
	return expired
}
