// Package gateway is the HTTP surface of the runtime: orchestration,
// classification, direct tool invocation, swarm control, and the SSE and
// WebSocket event feeds.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Miosa-osa/OSA-sub005/internal/agent"
	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/sessions"
	"github.com/Miosa-osa/OSA-sub005/internal/signal"
	"github.com/Miosa-osa/OSA-sub005/internal/swarm"
	"github.com/Miosa-osa/OSA-sub005/internal/tools"
)

// Options are the gateway's listener and policy knobs.
type Options struct {
	Host            string
	Port            int
	SharedSecret    string // empty = auth disabled
	AllowedOrigins  []string
	RateLimitRPM    int // 0 = disabled
	MaxMessageChars int
}

// Deps are the runtime components the gateway fronts.
type Deps struct {
	Classifier   *signal.Classifier
	Filter       *signal.Filter
	Sessions     *sessions.Registry
	Loop         *agent.Loop
	Tools        *tools.Registry
	Orchestrator *swarm.Orchestrator
	Events       *bus.Bus
	Logger       *slog.Logger
}

// Server handles the HTTP and WebSocket API.
type Server struct {
	opts   Options
	deps   Deps
	logger *slog.Logger

	auth     *auth
	limiter  *clientLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer wires the gateway. It does not start listening.
func NewServer(opts Options, deps Deps) *Server {
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = 32000
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:    opts,
		deps:    deps,
		logger:  logger,
		auth:    newAuth(opts.SharedSecret),
		limiter: newClientLimiter(opts.RateLimitRPM),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates WebSocket origins against the whitelist. No config
// means allow all; an empty Origin header (CLI/SDK clients) always passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.opts.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.logger.Warn("security.cors_rejected", "origin", origin)
	return false
}

// Handler builds the full route table with recovery, auth and rate-limit
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orchestrate", s.handleOrchestrate)
	mux.HandleFunc("POST /classify", s.handleClassify)
	mux.HandleFunc("GET /tools", s.handleToolsList)
	mux.HandleFunc("POST /tools/{name}/execute", s.handleToolExecute)
	mux.HandleFunc("POST /swarm/launch", s.handleSwarmLaunch)
	mux.HandleFunc("GET /swarm/{id}", s.handleSwarmStatus)
	mux.HandleFunc("DELETE /swarm/{id}", s.handleSwarmCancel)
	mux.HandleFunc("GET /stream/{session_id}", s.handleSessionStream)
	mux.HandleFunc("GET /events/stream", s.handleFirehoseStream)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	var h http.Handler = mux
	h = s.limiter.middleware(h)
	h = s.auth.middleware(h)
	h = s.recoverMiddleware(h)
	return h
}

// Start listens until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Sessions.Count(),
	})
}
