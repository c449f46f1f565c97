package session

import "errors"

var (
	// ErrSessionNotFound indicates the session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownProduct indicates a selection that does not correspond to any
	// record in the most recent search result set.
	ErrUnknownProduct = errors.New("product not in current results")

	// ErrLeafletUnavailable indicates no leaflet text is available for the
	// selected product. The selection pointer is still updated so repeating
	// the same selection does not retry the fetch.
	ErrLeafletUnavailable = errors.New("leaflet unavailable")

	// ErrNotGrounded indicates a chat message was sent before a leaflet was
	// loaded.
	ErrNotGrounded = errors.New("no leaflet loaded")

	// ErrEmptyQuery indicates a search with empty or whitespace-only input.
	ErrEmptyQuery = errors.New("empty search query")
)
