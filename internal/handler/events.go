package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/events"
)

// EventsHandler streams engine events to dashboard clients as
// Server-Sent Events. Each event's kind doubles as the SSE event name so
// clients can register per-kind listeners.
type EventsHandler struct {
	bus *events.Bus
}

func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming is not supported")
		return
	}

	// the stream must outlive the server's write timeout; clear the
	// per-request deadline so subscribers are not cut off mid-stream
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("could not clear write deadline for event stream")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// initial comment so proxies and clients see the stream is live
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ch := h.bus.Subscribe(r.Context())
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to encode event")
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
		flusher.Flush()
	}
}
