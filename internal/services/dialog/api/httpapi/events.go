package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
	"github.com/louisbranch/dialog/internal/services/dialog/publish"
)

const eventStreamBuffer = 256

// EventSubscriber hands out live subscriptions to committed events.
type EventSubscriber interface {
	Subscribe(buffer int) (<-chan event.Event, func())
}

// WithEventStream enables GET /v1/events, streaming events from subscriber
// as server-sent events.
func WithEventStream(subscriber EventSubscriber) Option {
	return func(s *Server) {
		s.events = subscriber
	}
}

// CloseStreams ends every open event stream so the HTTP server can shut down.
func (s *Server) CloseStreams() {
	s.closeStreams.Do(func() { close(s.streamsDone) })
}

// handleEvents streams published events, optionally restricted to one
// conversation with ?conversation_id=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))

	events, cancel := s.events.Subscribe(eventStreamBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.streamsDone:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if conversationID != "" && evt.ConversationID != conversationID {
				continue
			}
			data, err := json.Marshal(publish.MessageOf(evt))
			if err != nil {
				s.logger.WarnContext(ctx, "marshal streamed event",
					slog.String("conversation_id", evt.ConversationID),
					slog.Uint64("seq", evt.Seq),
					slog.Any("error", err),
				)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s/%d\nevent: %s\ndata: %s\n\n", evt.ConversationID, evt.Seq, evt.Type, data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
