package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Miosa-osa/OSA-sub005/internal/bus"
)

const keepaliveInterval = 30 * time.Second

// handleSessionStream serves the session-scoped SSE feed. Ownership is
// enforced: a session belonging to another user is indistinguishable from
// a missing one.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, err := s.deps.Sessions.Lookup(sessionID, sessionUser(r)); err != nil {
		writeError(w, http.StatusNotFound, errNotFound, "unknown session")
		return
	}
	s.streamTopic(w, r, bus.SessionTopic(sessionID))
}

// handleFirehoseStream serves every event in the system on one SSE feed.
func (s *Server) handleFirehoseStream(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, bus.Firehose)
}

func (s *Server) streamTopic(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errInternal, "streaming unsupported")
		return
	}

	sub := s.deps.Events.Subscribe(topic, bus.DefaultBuffer)
	defer s.deps.Events.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if !writeSSE(w, ev) {
				continue
			}
			flusher.Flush()
		case <-keepalive.C:
			// Comment frames keep proxies from closing idle streams.
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE frames one event. A serialisation failure skips the event
// rather than killing the stream.
func writeSSE(w http.ResponseWriter, ev bus.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte("event: " + ev.Type + "\ndata: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	_, err = w.Write([]byte("\n\n"))
	return err == nil
}
