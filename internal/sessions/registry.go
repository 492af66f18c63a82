package sessions

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/providers"
	"github.com/Miosa-osa/OSA-sub005/pkg/protocol"
)

// ErrNotFound means no live session has the given id.
var ErrNotFound = errors.New("session not found")

// DefaultIdleTTL is how long a session may sit idle before the reaper ends it.
const DefaultIdleTTL = time.Hour

// HistoryLoader rehydrates persisted history when a session is first created.
type HistoryLoader func(sessionID string) []providers.Message

// Registry maps session_id to live sessions and supervises their lifecycles.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	events  *bus.Bus
	logger  *slog.Logger
	idleTTL time.Duration
	loader  HistoryLoader
	endHook func(sessionID, userID string)

	stopReaper chan struct{}
	stopOnce   sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

func WithHistoryLoader(l HistoryLoader) RegistryOption {
	return func(r *Registry) { r.loader = l }
}

// WithEndHook runs fn synchronously whenever a session is dropped, before
// the session_ended event is published. Used to fire lifecycle hook chains.
func WithEndHook(fn func(sessionID, userID string)) RegistryOption {
	return func(r *Registry) { r.endHook = fn }
}

func NewRegistry(events *bus.Bus, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions:   make(map[string]*Session),
		events:     events,
		logger:     logger.With("component", "sessions"),
		idleTTL:    DefaultIdleTTL,
		stopReaper: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.reap()
	return r
}

// Ensure returns the live session for id, creating it (and rehydrating its
// history) on first use. The creating user becomes the owner.
func (r *Registry) Ensure(id, userID, channel string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if err := checkOwner(s, userID); err != nil {
			return nil, err
		}
		return s, nil
	}

	s := newSession(id, userID, channel, r.logger)
	if r.loader != nil {
		s.History = r.loader(id)
	}
	r.sessions[id] = s

	go s.serve(func() { r.drop(id, "panic") })

	r.logger.Info("session started", "session_id", id, "user_id", userID, "channel", channel)
	r.publish(protocol.EventSessionStarted, id, map[string]any{
		"user_id": userID,
		"channel": channel,
	})
	return s, nil
}

// Lookup returns the session only when userID owns it. Sessions created by
// an anonymous user (empty owner) are open to anyone.
func (r *Registry) Lookup(id, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkOwner(s, userID); err != nil {
		return nil, err
	}
	return s, nil
}

// Terminate ends a session explicitly.
func (r *Registry) Terminate(id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.drop(id, "terminated")
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the reaper and ends every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopReaper) })

	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.drop(id, "shutdown")
	}
}

func (r *Registry) drop(id, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.close()
	if r.endHook != nil {
		r.endHook(id, s.UserID)
	}
	r.logger.Info("session ended", "session_id", id, "reason", reason)
	r.publish(protocol.EventSessionEnded, id, map[string]any{"reason": reason})
}

func (r *Registry) reap() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopReaper:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().UTC().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []string
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.drop(id, "idle_timeout")
	}
}

func (r *Registry) publish(eventType, sessionID string, payload map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Publish(bus.Event{Type: eventType, SessionID: sessionID, Payload: payload})
}

func checkOwner(s *Session, userID string) error {
	if s.OwnerUserID == "" || s.OwnerUserID == userID {
		return nil
	}
	return ErrNotOwner
}
