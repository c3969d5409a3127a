package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hivemind/hivemind/internal/api/middleware"
)

// pingEvery keeps intermediaries from closing idle SSE connections.
const pingEvery = 25 * time.Second

// StreamFeed serves the live publication feed over SSE. Authenticated callers
// receive their tenant's events plus all public ones; anonymous callers get
// the public stream only.
func (h *Handlers) StreamFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	tenantID := middleware.TenantID(r.Context())
	events, cancel := h.Hub.Subscribe(tenantID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: knowledge_published\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
