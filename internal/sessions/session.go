// Package sessions owns the per-conversation execution units. Each session
// runs a dedicated goroutine consuming a bounded request queue: work within
// a session is strictly serial, sessions run in parallel.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

var (
	// ErrSessionUnavailable means the session queue is full or the session
	// is terminating.
	ErrSessionUnavailable = errors.New("session_unavailable")
	// ErrNotOwner means the requesting user does not own the session.
	ErrNotOwner = errors.New("session owned by another user")
)

const requestBuffer = 16

// Usage tracks per-session token and tool counters.
type Usage struct {
	TokensIn   int
	TokensOut  int
	ToolCalls  map[string]int
	Iterations int
}

// Session is one supervised conversation. History and Usage must only be
// touched from inside Run closures; the run goroutine is the owner.
type Session struct {
	ID          string
	UserID      string
	Channel     string
	OwnerUserID string
	CreatedAt   time.Time

	History []providers.Message
	Usage   Usage

	lastActivity atomic.Int64 // unix nanos, read by the idle reaper
	requests     chan runRequest
	closing      chan struct{}
	closed       sync.Once

	logger *slog.Logger
}

// LastActivity is safe to call from any goroutine.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

type runRequest struct {
	fn   func(ctx context.Context)
	ctx  context.Context
	done chan struct{}
}

func newSession(id, userID, channel string, logger *slog.Logger) *Session {
	s := &Session{
		ID:          id,
		UserID:      userID,
		Channel:     channel,
		OwnerUserID: userID,
		CreatedAt:   time.Now().UTC(),
		Usage:       Usage{ToolCalls: make(map[string]int)},
		requests:    make(chan runRequest, requestBuffer),
		closing:     make(chan struct{}),
		logger:      logger.With("session_id", id),
	}
	s.touch()
	return s
}

// Run executes fn on the session goroutine and waits for it to finish. fn
// receives the caller's context and may freely mutate session state.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context)) error {
	req := runRequest{fn: fn, ctx: ctx, done: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.closing:
		return ErrSessionUnavailable
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrSessionUnavailable
	}

	select {
	case <-req.done:
		return nil
	case <-s.closing:
		return ErrSessionUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendMessage adds to the history. Caller must be inside a Run closure.
func (s *Session) AppendMessage(m providers.Message) {
	s.History = append(s.History, m)
	s.touch()
}

// serve is the session goroutine body. onPanic is called (once) when a run
// unit panics; the registry uses it to drop the session.
func (s *Session) serve(onPanic func()) {
	for {
		select {
		case <-s.closing:
			return
		case req := <-s.requests:
			if !s.execute(req, onPanic) {
				return
			}
		}
	}
}

// execute runs one request; returns false when a panic tore the session down.
func (s *Session) execute(req runRequest, onPanic func()) (ok bool) {
	defer close(req.done)
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("session run unit panic",
				"panic", rec, "stack", string(debug.Stack()))
			s.close()
			onPanic()
			ok = false
		}
	}()
	s.touch()
	req.fn(req.ctx)
	return true
}

func (s *Session) close() {
	s.closed.Do(func() { close(s.closing) })
}
