package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluque/prospecto/internal/log"
)

// DefaultIdleTimeout is how long a session may stay inactive before the
// sweeper discards it.
const DefaultIdleTimeout = 30 * time.Minute

// sweepInterval is how often the sweeper scans for expired sessions.
const sweepInterval = time.Minute

// Store holds all live sessions in memory. Nothing survives a restart.
type Store struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*Session
	idleTimeout time.Duration
	logger      log.Logger
}

// NewStore creates a session store. idleTimeout <= 0 selects the default.
func NewStore(idleTimeout time.Duration, logger log.Logger) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		sessions:    make(map[uuid.UUID]*Session),
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Create registers a new empty session.
func (st *Store) Create() *Session {
	s := newSession()

	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()

	st.logger.Debug("session created", "session_id", s.id)
	return s
}

// Get returns the session for id, or ErrSessionNotFound.
func (st *Store) Get(id uuid.UUID) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (st *Store) Delete(id uuid.UUID) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// StartSweeper launches a background goroutine that discards idle sessions.
// It exits when ctx is canceled.
func (st *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.sweep(time.Now())
			}
		}
	}()
}

// sweep removes sessions idle past the timeout.
func (st *Store) sweep(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id, s := range st.sessions {
		if now.Sub(s.LastActive()) > st.idleTimeout {
			delete(st.sessions, id)
			st.logger.Debug("session expired", "session_id", id)
		}
	}
}
