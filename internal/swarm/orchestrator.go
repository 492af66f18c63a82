package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/providers"
	"github.com/Miosa-osa/OSA-sub005/pkg/protocol"
)

const (
	DefaultMaxConcurrentSwarms = 10
	DefaultMaxAgentsPerSwarm   = 10
	DefaultSwarmTimeout        = 5 * time.Minute
)

// Limits bound the orchestrator.
type Limits struct {
	MaxConcurrentSwarms int
	MaxAgentsPerSwarm   int
	DefaultTimeout      time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxConcurrentSwarms <= 0 {
		l.MaxConcurrentSwarms = DefaultMaxConcurrentSwarms
	}
	if l.MaxAgentsPerSwarm <= 0 {
		l.MaxAgentsPerSwarm = DefaultMaxAgentsPerSwarm
	}
	if l.DefaultTimeout <= 0 {
		l.DefaultTimeout = DefaultSwarmTimeout
	}
	return l
}

// swarm is the orchestrator's record of one run. The state field is the
// single source of truth: transitions happen once, under the mutex, and
// anything arriving after a terminal transition is ignored.
type swarm struct {
	mu          sync.Mutex
	id          string
	task        string
	pattern     Pattern
	state       State
	plan        []PlanItem
	result      string
	errMsg      string
	createdAt   time.Time
	completedAt *time.Time
	cancel      context.CancelFunc
}

// transition moves the swarm to a terminal state. Returns false when the
// swarm already terminated (the late arrival is dropped).
func (s *swarm) transition(to State, result, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = to
	s.result = result
	s.errMsg = errMsg
	now := time.Now().UTC()
	s.completedAt = &now
	return true
}

// beginSynthesis moves a running swarm into the synthesis phase. Returns
// false when the swarm already terminated (cancel or timeout won the race).
func (s *swarm) beginSynthesis() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = StateSynthesizing
	return true
}

func (s *swarm) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:          s.id,
		Task:        s.task,
		Pattern:     s.pattern,
		State:       s.state,
		Workers:     append([]PlanItem(nil), s.plan...),
		Result:      s.result,
		Error:       s.errMsg,
		CreatedAt:   s.createdAt,
		CompletedAt: s.completedAt,
	}
}

// Orchestrator launches and supervises swarms.
type Orchestrator struct {
	mu     sync.Mutex
	swarms map[string]*swarm

	provider providers.Provider
	planner  Planner
	events   *bus.Bus
	limits   Limits
	retry    providers.RetryConfig
	logger   *slog.Logger
}

func NewOrchestrator(provider providers.Provider, planner Planner, events *bus.Bus, limits Limits, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if planner == nil {
		planner = &LLMPlanner{Provider: provider, Logger: logger}
	}
	return &Orchestrator{
		swarms:   make(map[string]*swarm),
		provider: provider,
		planner:  planner,
		events:   events,
		limits:   limits.withDefaults(),
		retry:    providers.DefaultRetryConfig(),
		logger:   logger.With("component", "swarm"),
	}
}

// Launch validates, registers and starts a swarm, returning its id.
func (o *Orchestrator) Launch(task string, pattern Pattern, maxAgents int, timeout time.Duration) (string, error) {
	if !ValidPattern(pattern) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("empty task")
	}
	if maxAgents <= 0 || maxAgents > o.limits.MaxAgentsPerSwarm {
		maxAgents = o.limits.MaxAgentsPerSwarm
	}
	if timeout <= 0 {
		timeout = o.limits.DefaultTimeout
	}

	o.mu.Lock()
	running := 0
	for _, s := range o.swarms {
		if !s.status().State.Terminal() {
			running++
		}
	}
	if running >= o.limits.MaxConcurrentSwarms {
		o.mu.Unlock()
		return "", ErrLimitReached
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s := &swarm{
		id:        uuid.New().String(),
		task:      task,
		pattern:   pattern,
		state:     StateRunning,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
	}
	o.swarms[s.id] = s
	o.mu.Unlock()

	o.publish(protocol.EventSwarmStarted, s.id, map[string]any{
		"task":    task,
		"pattern": string(pattern),
	})

	go o.run(ctx, s, maxAgents)
	return s.id, nil
}

// Status returns a snapshot of the swarm.
func (o *Orchestrator) Status(id string) (Status, error) {
	o.mu.Lock()
	s, ok := o.swarms[id]
	o.mu.Unlock()
	if !ok {
		return Status{}, ErrNotFound
	}
	return s.status(), nil
}

// Cancel requests termination. Cancelling a terminal swarm returns
// ErrNotRunning; repeating a cancel is safe.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	s, ok := o.swarms[id]
	o.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if !s.transition(StateCancelled, "", "cancelled") {
		return ErrNotRunning
	}
	s.cancel()
	o.publish(protocol.EventSwarmCancelled, id, nil)
	return nil
}

// List returns snapshots of all known swarms.
func (o *Orchestrator) List() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, 0, len(o.swarms))
	for _, s := range o.swarms {
		out = append(out, s.status())
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, s *swarm, maxAgents int) {
	defer s.cancel()

	plan, err := o.planner.Plan(ctx, s.task, maxAgents)
	if err != nil || len(plan) == 0 {
		plan = generalistPlan(s.task)
	}
	if len(plan) > maxAgents {
		plan = plan[:maxAgents]
	}
	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()

	for _, item := range plan {
		o.publish(protocol.EventSwarmWorkerSpawned, s.id, map[string]any{
			"role":    item.Role,
			"subtask": item.Subtask,
		})
	}

	results, err := o.runPattern(ctx, s.pattern, plan)

	for _, r := range results {
		o.publish(protocol.EventSwarmWorkerDone, s.id, map[string]any{
			"role":     r.Role,
			"is_error": r.Err != nil,
		})
	}

	if err != nil {
		o.finish(ctx, s, "", err)
		return
	}

	if !s.beginSynthesis() {
		return
	}
	o.publish(protocol.EventSwarmSynthesizing, s.id, nil)
	final := o.synthesise(ctx, s.task, results)
	o.finish(ctx, s, final, nil)
}

func (o *Orchestrator) runPattern(ctx context.Context, pattern Pattern, plan []PlanItem) ([]WorkerResult, error) {
	run := o.workerFn()
	switch pattern {
	case PatternParallel:
		return runParallel(ctx, plan, run)
	case PatternPipeline:
		return runPipeline(ctx, plan, run)
	case PatternDebate:
		return runDebate(ctx, plan, run, defaultDebateRounds)
	case PatternReview:
		return runReview(ctx, plan, run, defaultReviewRounds)
	}
	return nil, ErrInvalidPattern
}

func (o *Orchestrator) workerFn() workerFn {
	return func(ctx context.Context, role, input string) (string, error) {
		resp, err := providers.Retry(ctx, o.retry, func() (*providers.ChatResponse, error) {
			return o.provider.Chat(ctx, providers.ChatRequest{
				System: []providers.SystemBlock{{
					Text: fmt.Sprintf("You are the %s in a multi-agent team. Work only on your assignment and answer directly.", role),
				}},
				Messages:  []providers.Message{{Role: "user", Content: input}},
				MaxTokens: 2048,
			})
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

// synthesise merges worker outputs into the final result, falling back to
// plain concatenation when the provider call fails.
func (o *Orchestrator) synthesise(ctx context.Context, task string, results []WorkerResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\n", r.Role, r.Output)
	}
	combined := sb.String()

	resp, err := o.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"Task: %s\n\nSynthesise the worker outputs below into one coherent final answer.\n\n%s",
				task, combined),
		}},
		MaxTokens: 2048,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		o.logger.Warn("synthesis failed, concatenating worker outputs", "error", err)
		return strings.TrimSpace(combined)
	}
	return resp.Content
}

// finish records the terminal state and publishes exactly one terminal
// event. Late completions after cancel or timeout are dropped by the
// transition check.
func (o *Orchestrator) finish(ctx context.Context, s *swarm, result string, err error) {
	switch {
	case err == nil:
		if s.transition(StateCompleted, result, "") {
			o.publish(protocol.EventSwarmCompleted, s.id, map[string]any{"result": result})
		}
	case ctx.Err() == context.DeadlineExceeded:
		if s.transition(StateTimeout, "", "timeout") {
			o.publish(protocol.EventSwarmTimeout, s.id, nil)
		}
	case ctx.Err() == context.Canceled:
		// Cancel already transitioned and published.
	default:
		if s.transition(StateFailed, "", err.Error()) {
			o.publish(protocol.EventSwarmFailed, s.id, map[string]any{"error": err.Error()})
		}
	}
}

func (o *Orchestrator) publish(eventType, swarmID string, payload map[string]any) {
	if o.events == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["swarm_id"] = swarmID
	o.events.Publish(bus.Event{Type: eventType, Payload: payload})
}
