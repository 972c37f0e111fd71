package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/harborline/steward/internal/model"
)

// HandleSubscribe handles GET /v1/events/subscribe (SSE).
//
// An optional since query parameter (RFC3339) replays retained events
// newer than the given time before live delivery starts. Clients that
// were evicted for reading too slowly reconnect with since set to their
// last seen timestamp to catch up.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	ch, cancel, err := h.bus.Subscribe(caller.ID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	// Replay retained events first so reconnecting clients see what they
	// missed before live delivery begins.
	if since != nil {
		for _, ev := range h.bus.Pending(caller.ID, *since) {
			if _, err := w.Write(formatSSE(ev)); err != nil {
				return
			}
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				// Evicted for falling behind. The client reconnects with
				// since to catch up from the replay buffer.
				return
			}
			if _, err := w.Write(formatSSE(ev)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// formatSSE renders one event as a Server-Sent Events message.
func formatSSE(ev model.Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return []byte("id: " + ev.ID + "\nevent: " + string(ev.Type) + "\ndata: " + string(data) + "\n\n")
}
