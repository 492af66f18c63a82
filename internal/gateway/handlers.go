package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Miosa-osa/OSA-sub005/internal/agent"
	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/sessions"
	"github.com/Miosa-osa/OSA-sub005/internal/swarm"
	"github.com/Miosa-osa/OSA-sub005/pkg/protocol"
)

type orchestrateRequest struct {
	Message   string `json:"message"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// handleOrchestrate runs one full turn: classify, filter, then the agent
// loop on the session goroutine. The reply is returned synchronously;
// intermediate events go out on /stream/{session_id}.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidInput, "malformed JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, errInvalidInput, "message is required")
		return
	}
	if len(req.Message) > s.opts.MaxMessageChars {
		writeError(w, http.StatusBadRequest, errInvalidInput, "message too long")
		return
	}
	if req.Channel == "" {
		req.Channel = "http"
	}

	sig := s.deps.Classifier.Classify(req.Message, req.Channel)
	sig, ok := s.deps.Filter.Admit(r.Context(), sig)
	if !ok {
		s.deps.Events.Publish(bus.Event{
			Type:      protocol.EventSignalFiltered,
			SessionID: req.SessionID,
			Payload:   sig.Map(),
			Timestamp: time.Now().UTC(),
		})
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   errSignalFiltered,
			"details": "weight below noise threshold",
			"signal":  sig,
		})
		return
	}

	if req.SessionID == "" {
		// Known callers get a stable per-user conversation; anonymous
		// callers get a throwaway session.
		if req.UserID != "" {
			req.SessionID = sessions.BuildKey(req.Channel, sessions.PeerDirect, req.UserID)
		} else {
			req.SessionID = uuid.NewString()
		}
	}
	sess, err := s.deps.Sessions.Ensure(req.SessionID, req.UserID, req.Channel)
	switch {
	case errors.Is(err, sessions.ErrNotOwner):
		// Indistinguishable from a missing session across users.
		writeError(w, http.StatusNotFound, errNotFound, "session not found")
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, errSessionUnavailable, err.Error())
		return
	}

	var (
		out     *agent.Outcome
		turnErr error
	)
	err = sess.Run(r.Context(), func(ctx context.Context) {
		out, turnErr = s.deps.Loop.ProcessMessage(ctx, sess, sig)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errSessionUnavailable, err.Error())
		return
	}

	switch {
	case errors.Is(turnErr, agent.ErrIterationLimit):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      errIterationLimit,
			"details":    "loop reached the iteration cap",
			"session_id": sess.ID,
			"content":    out.Content,
		})
		return
	case turnErr != nil:
		writeError(w, http.StatusInternalServerError, errProviderError, turnErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"reply":      out.Content,
		"silent":     out.Silent,
		"iterations": out.Iterations,
		"tokens_in":  out.Usage.PromptTokens,
		"tokens_out": out.Usage.CompletionTokens,
	})
}

// handleClassify scores a message without touching any session state.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, errInvalidInput, "message is required")
		return
	}
	if req.Channel == "" {
		req.Channel = "http"
	}
	writeJSON(w, http.StatusOK, s.deps.Classifier.Classify(req.Message, req.Channel))
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tools.Snapshot()
	list := make([]map[string]any, 0, len(snap.Names()))
	for _, name := range snap.Names() {
		t, _ := snap.Get(name)
		list = append(list, map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"schema":      t.Schema(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version(),
		"tools":   list,
	})
}

// handleToolExecute invokes a tool directly, bypassing the loop. Schema
// validation and the safety policy still apply.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.deps.Tools.Snapshot().Get(name); !ok {
		writeError(w, http.StatusNotFound, errNotFound, "unknown tool: "+name)
		return
	}

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidInput, "malformed JSON body")
		return
	}

	res := s.deps.Tools.Dispatch(r.Context(), name, args)
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":     name,
		"output":   res.ForLLM,
		"is_error": res.IsError,
	})
}

type swarmLaunchRequest struct {
	Task      string `json:"task"`
	Pattern   string `json:"pattern"`
	MaxAgents int    `json:"max_agents"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (s *Server) handleSwarmLaunch(w http.ResponseWriter, r *http.Request) {
	var req swarmLaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" {
		writeError(w, http.StatusBadRequest, errInvalidInput, "task is required")
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	id, err := s.deps.Orchestrator.Launch(req.Task, swarm.Pattern(req.Pattern), req.MaxAgents, timeout)
	switch {
	case errors.Is(err, swarm.ErrInvalidPattern):
		writeError(w, http.StatusBadRequest, errInvalidInput, err.Error())
		return
	case errors.Is(err, swarm.ErrLimitReached):
		writeError(w, http.StatusServiceUnavailable, errLimitReached, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, errInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"swarm_id": id})
}

func (s *Server) handleSwarmStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Orchestrator.Status(r.PathValue("id"))
	if errors.Is(err, swarm.ErrNotFound) {
		writeError(w, http.StatusNotFound, errNotFound, "unknown swarm")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSwarmCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.deps.Orchestrator.Cancel(id)
	switch {
	case errors.Is(err, swarm.ErrNotFound):
		writeError(w, http.StatusNotFound, errNotFound, "unknown swarm")
		return
	case errors.Is(err, swarm.ErrNotRunning):
		writeError(w, http.StatusUnprocessableEntity, errNotRunning, "swarm already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swarm_id": id, "status": string(swarm.StateCancelled)})
}

// sessionUser extracts the caller identity for ownership checks. When auth
// is disabled the header is advisory but still honoured, so tests can
// exercise cross-user access.
func sessionUser(r *http.Request) string {
	if u := r.Header.Get("X-User-ID"); u != "" {
		return u
	}
	return r.URL.Query().Get("user_id")
}
