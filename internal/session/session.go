// Package session owns the per-session state of a leaflet chat: the current
// search results, the selected product, the loaded leaflet text, and the
// chat transcript.
//
// Each session processes one user-triggered event at a time to completion;
// the per-session mutex serializes events so SessionState is never mutated
// concurrently. Sessions share no mutable state with each other.
//
// State model:
//   - Idle: no results, no leaflet, no transcript
//   - Browsing: results present, no leaflet loaded
//   - Grounded: leaflet loaded, transcript may be non-empty
//
// Invariants: the transcript is non-empty only while a leaflet is loaded,
// and a new search always clears results, selection, leaflet, and transcript
// so stale context can never leak into a later conversation.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aluque/prospecto/internal/registry"
)

// Role identifies the author of a transcript message.
type Role string

// Valid transcript roles. The system instruction is built per turn and never
// stored in the transcript.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the conceptual state of a session.
type State string

// Session states.
const (
	StateIdle     State = "idle"
	StateBrowsing State = "browsing"
	StateGrounded State = "grounded"
)

// StreamCallback receives response fragments in arrival order during a chat
// turn. Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, fragment string) error

// LeafletFetcher retrieves leaflet text for a registration number.
// The boolean is false when no leaflet text is available.
type LeafletFetcher interface {
	Fetch(ctx context.Context, registrationID string) (string, bool)
}

// TurnEngine produces one grounded assistant reply. history ends with the
// pending user message; fragments are delivered through cb in order, and the
// returned string is the complete reply, yielded exactly once.
type TurnEngine interface {
	RunTurn(ctx context.Context, leaflet string, history []Message, cb StreamCallback) (string, error)
}

// Searcher looks up drug products by name.
type Searcher interface {
	Search(ctx context.Context, name string) []registry.Product
}

// Session is the aggregate state of one chat session.
// The zero value is not useful; use Store.Create.
type Session struct {
	id      uuid.UUID
	created time.Time
	touched atomic.Int64 // unix nano of last event, read by the store sweeper

	mu         sync.Mutex
	results    []registry.Product
	selectedID string
	leaflet    string
	leafletID  string
	transcript []Message
}

func newSession() *Session {
	s := &Session{
		id:      uuid.New(),
		created: time.Now(),
	}
	s.touch()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// touch records event activity for idle expiry.
func (s *Session) touch() {
	s.touched.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent event.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.touched.Load())
}

// Search runs a new registry search and applies the full reset rule: the
// previous result set, selection, leaflet, and transcript are always cleared,
// even if the query repeats. Stale leaflet or chat context must never survive
// a new search.
func (s *Session) Search(ctx context.Context, searcher Searcher, query string) ([]registry.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	results := searcher.Search(ctx, query)

	s.results = results
	s.selectedID = ""
	s.leaflet = ""
	s.leafletID = ""
	s.transcript = nil

	return s.copyResults(), nil
}

// Select loads the leaflet for a product from the current result set.
//
// Selecting the already-selected id is a no-op: no fetch, no reset. This also
// holds when the previous attempt found no leaflet, so a repeat selection
// reports unavailability again instead of retrying endlessly.
//
// On a fresh selection the leaflet is fetched; when present it replaces the
// current leaflet and clears the transcript, when absent the session loses
// its grounding and ErrLeafletUnavailable is returned.
func (s *Session) Select(ctx context.Context, fetcher LeafletFetcher, registrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if !s.inResults(registrationID) {
		return ErrUnknownProduct
	}

	if registrationID == s.selectedID {
		if s.leafletID == registrationID {
			return nil
		}
		return ErrLeafletUnavailable
	}

	text, ok := fetcher.Fetch(ctx, registrationID)
	s.selectedID = registrationID
	s.transcript = nil
	if !ok {
		s.leaflet = ""
		s.leafletID = ""
		return ErrLeafletUnavailable
	}

	s.leaflet = text
	s.leafletID = registrationID
	return nil
}

// ClearChat clears the transcript, leaving leaflet and selection untouched.
func (s *Session) ClearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.transcript = nil
}

// SendMessage runs one grounded chat turn. The user message is appended
// first; the assistant message is appended only when the turn completes in
// full, so a failed or interrupted turn leaves the user message in place
// (ready for a retry) and commits no partial reply.
//
// The session lock is held for the whole turn: events on one session run
// one at a time to completion.
func (s *Session) SendMessage(ctx context.Context, engine TurnEngine, input string, cb StreamCallback) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.leafletID == "" {
		return "", ErrNotGrounded
	}

	s.transcript = append(s.transcript, Message{Role: RoleUser, Content: input})

	history := make([]Message, len(s.transcript))
	copy(history, s.transcript)

	reply, err := engine.RunTurn(ctx, s.leaflet, history, cb)
	if err != nil {
		return "", err
	}

	s.transcript = append(s.transcript, Message{Role: RoleAssistant, Content: reply})
	return reply, nil
}

// State derives the conceptual state from the aggregate.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.leafletID != "":
		return StateGrounded
	case len(s.results) > 0:
		return StateBrowsing
	default:
		return StateIdle
	}
}

// Results returns a copy of the current result set.
func (s *Session) Results() []registry.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyResults()
}

// SelectedID returns the registration id of the last selection attempt, or
// the empty string.
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Leaflet returns the loaded leaflet text. The boolean is false when the
// session is not grounded.
func (s *Session) Leaflet() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaflet, s.leafletID != ""
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// inResults reports whether the id belongs to the current result set.
// Caller must hold s.mu.
func (s *Session) inResults(registrationID string) bool {
	for _, p := range s.results {
		if p.RegistrationID == registrationID {
			return true
		}
	}
	return false
}

// copyResults returns a defensive copy. Caller must hold s.mu.
func (s *Session) copyResults() []registry.Product {
	out := make([]registry.Product, len(s.results))
	copy(out, s.results)
	return out
}
