package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aluque/prospecto/internal/log"
	"github.com/aluque/prospecto/internal/session"
)

// chatHandler handles the streaming chat turn and transcript clearing.
type chatHandler struct {
	store  *session.Store
	engine session.TurnEngine
	logger log.Logger
}

// ChatRequest is the body for POST /api/sessions/{id}/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// SSEChunkData is the payload of "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the payload of the final "done" event.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// SSEErrorData is the payload of "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stream runs one chat turn and streams the reply as Server-Sent Events.
//
// Event types:
//   - chunk: partial text {"text": "..."}
//   - done:  complete reply {"response": "...", "sessionId": "..."}
//   - error: turn failure {"code": "...", "message": "..."}
//
// A turn that fails mid-stream ends with an error event; its partial
// output is discarded by the session and never appears in the transcript.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := resolveSession(w, r, h.store)
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}
	if len(req.Message) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "message_too_long", "message exceeds maximum length")
		return
	}
	if s.State() != session.StateGrounded {
		writeError(w, http.StatusConflict, "not_grounded", "select a product with a leaflet before chatting")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	ctx := r.Context()
	cb := func(ctx context.Context, fragment string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		h.writeSSEChunk(w, flusher, fragment)
		return nil
	}

	reply, err := s.SendMessage(ctx, h.engine, req.Message, cb)
	if err != nil {
		h.logger.Error("chat turn failed", "session_id", s.ID(), "error", err)
		h.writeSSEError(w, flusher, errorCode(err), err.Error())
		return
	}

	h.writeSSEDone(w, flusher, reply, s.ID().String())
}

func errorCode(err error) string {
	if errors.Is(err, session.ErrNotGrounded) {
		return "not_grounded"
	}
	return "turn_failed"
}

// clear empties the transcript, keeping the leaflet and selection.
func (h *chatHandler) clear(w http.ResponseWriter, r *http.Request) {
	s, ok := resolveSession(w, r, h.store)
	if !ok {
		return
	}
	s.ClearChat()
	w.WriteHeader(http.StatusNoContent)
}

func (h *chatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

func (h *chatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

func (h *chatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
