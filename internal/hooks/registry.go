package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds hook registrations and runs them in priority order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Event][]*Registration
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[Event][]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// Register attaches a handler to an event and returns its registration ID.
func (r *Registry) Register(event Event, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		Event:    event,
		Priority: PriorityNormal,
		Handler:  handler,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = append(r.handlers[event], reg)
	sort.SliceStable(r.handlers[event], func(i, j int) bool {
		return r.handlers[event][i].Priority < r.handlers[event][j].Priority
	})

	r.logger.Debug("hook registered", "event", event, "name", reg.Name, "priority", reg.Priority)
	return reg.ID
}

// Unregister removes a handler by registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for event, regs := range r.handlers {
		for i, reg := range regs {
			if reg.ID == id {
				r.handlers[event] = append(regs[:i], regs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// HandlerCount returns the number of handlers attached to an event.
func (r *Registry) HandlerCount(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Run executes all handlers for the event in ascending priority order,
// threading payload mutations through the chain. A Block outcome stops the
// chain, but is only honoured for pre_tool_use; on other events it is logged
// and execution continues. A panicking handler is recovered and skipped.
func (r *Registry) Run(ctx context.Context, event Event, p *Payload) Outcome {
	r.mu.RLock()
	regs := make([]*Registration, len(r.handlers[event]))
	copy(regs, r.handlers[event])
	r.mu.RUnlock()

	if p.Data == nil {
		p.Data = make(map[string]any)
	}

	for _, reg := range regs {
		out := r.call(ctx, reg, event, p)
		switch out.Decision {
		case DecisionBlock:
			if event == EventPreToolUse {
				r.logger.Info("hook blocked operation",
					"event", event, "hook", reg.Name, "reason", out.Reason)
				return out
			}
			r.logger.Warn("hook block ignored outside pre_tool_use",
				"event", event, "hook", reg.Name, "reason", out.Reason)
		case DecisionSkip, DecisionContinue:
		}
	}
	return Continue()
}

// RunAsync executes the handlers in a goroutine, discarding outcomes. Used
// for post_* events where the loop must not wait.
func (r *Registry) RunAsync(ctx context.Context, event Event, p *Payload) {
	go func() {
		r.Run(context.WithoutCancel(ctx), event, p)
	}()
}

func (r *Registry) call(ctx context.Context, reg *Registration, event Event, p *Payload) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("hook panic", "event", event, "hook", reg.Name, "panic", rec)
			out = Continue()
		}
	}()
	return reg.Handler(ctx, p)
}
