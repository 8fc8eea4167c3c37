package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	streamPollInterval = 400 * time.Millisecond
	// Idle polls between keepalive comments, roughly every 6 seconds.
	keepaliveEvery = 15
)

// handleEvents streams run events over SSE. Clients resume from their last
// seen event via the last_id query parameter or the Last-Event-ID header.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastID := int64(0)
	if v := r.URL.Query().Get("last_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = id
		}
	} else if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = id
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	idle := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		pending := s.bus.EventsSince(lastID)
		if len(pending) == 0 {
			idle++
			if idle >= keepaliveEvery {
				idle = 0
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
			continue
		}
		idle = 0

		for _, ev := range pending {
			payload, err := json.Marshal(map[string]any{
				"type":      ev.Type,
				"message":   ev.Message,
				"timestamp": ev.Timestamp,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload); err != nil {
				return
			}
			lastID = ev.ID
		}
		flusher.Flush()
	}
}
