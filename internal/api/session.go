package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/aluque/prospecto/internal/log"
	"github.com/aluque/prospecto/internal/registry"
	"github.com/aluque/prospecto/internal/session"
)

// MaxQueryLength bounds search queries and chat messages.
const MaxQueryLength = 2000

// sessionHandler handles session lifecycle, search, and selection.
type sessionHandler struct {
	store    *session.Store
	searcher session.Searcher
	fetcher  session.LeafletFetcher
	logger   log.Logger
}

// SessionView is the JSON snapshot of a session.
type SessionView struct {
	ID            string             `json:"id"`
	State         session.State      `json:"state"`
	Results       []registry.Product `json:"results"`
	SelectedID    string             `json:"selected_id,omitempty"`
	LeafletLoaded bool               `json:"leaflet_loaded"`
	Transcript    []session.Message  `json:"transcript"`
}

func viewOf(s *session.Session) SessionView {
	_, loaded := s.Leaflet()
	return SessionView{
		ID:            s.ID().String(),
		State:         s.State(),
		Results:       s.Results(),
		SelectedID:    s.SelectedID(),
		LeafletLoaded: loaded,
		Transcript:    s.Transcript(),
	}
}

// resolve parses the {id} path value and looks the session up, writing
// the error response itself when either step fails.
func (h *sessionHandler) resolve(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	return resolveSession(w, r, h.store)
}

func resolveSession(w http.ResponseWriter, r *http.Request, store *session.Store) (*session.Session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return nil, false
	}
	s, err := store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", "no such session")
		return nil, false
	}
	return s, true
}

func (h *sessionHandler) create(w http.ResponseWriter, _ *http.Request) {
	s := h.store.Create()
	h.logger.Info("session created", "session_id", s.ID())
	writeJSON(w, http.StatusCreated, viewOf(s))
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return
	}
	h.store.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// SearchRequest is the body for POST /api/sessions/{id}/search.
type SearchRequest struct {
	Query  string          `json:"query"`
	Filter registry.Filter `json:"filter,omitempty"`
}

// SearchResponse carries the (possibly filtered) result list. Filtering
// is a view over the session's full result set; selection always
// validates against the full set.
type SearchResponse struct {
	Results []registry.Product `json:"results"`
	Total   int                `json:"total"`
}

func (h *sessionHandler) search(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query exceeds maximum length")
		return
	}
	if req.Filter != "" && !req.Filter.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_filter", "filter must be all, generic, or brand")
		return
	}

	results, err := s.Search(r.Context(), h.searcher, req.Query)
	if err != nil {
		if errors.Is(err, session.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty")
			return
		}
		h.logger.Error("search failed", "session_id", s.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "search failed")
		return
	}

	filtered := req.Filter.Apply(results)
	writeJSON(w, http.StatusOK, SearchResponse{Results: filtered, Total: len(filtered)})
}

// SelectRequest is the body for POST /api/sessions/{id}/select.
type SelectRequest struct {
	RegistrationID string `json:"registration_id"`
}

func (h *sessionHandler) selectProduct(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	err := s.Select(r.Context(), h.fetcher, req.RegistrationID)
	switch {
	case errors.Is(err, session.ErrUnknownProduct):
		writeError(w, http.StatusBadRequest, "unknown_product", "registration id is not in the current results")
		return
	case errors.Is(err, session.ErrLeafletUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "leaflet_unavailable", "this product has no readable leaflet")
		return
	case err != nil:
		h.logger.Error("select failed", "session_id", s.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "select_failed", "selection failed")
		return
	}

	h.logger.Info("product selected", "session_id", s.ID(), "registration_id", req.RegistrationID)
	writeJSON(w, http.StatusOK, viewOf(s))
}
