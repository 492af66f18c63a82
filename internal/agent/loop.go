// Package agent runs the bounded reason-act loop for one session turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Miosa-osa/OSA-sub005/internal/budget"
	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/hooks"
	"github.com/Miosa-osa/OSA-sub005/internal/prompt"
	"github.com/Miosa-osa/OSA-sub005/internal/providers"
	"github.com/Miosa-osa/OSA-sub005/internal/sessions"
	"github.com/Miosa-osa/OSA-sub005/internal/signal"
	"github.com/Miosa-osa/OSA-sub005/internal/telemetry"
	"github.com/Miosa-osa/OSA-sub005/internal/tools"
	"github.com/Miosa-osa/OSA-sub005/pkg/protocol"
)

// ErrIterationLimit means the loop exhausted its iterations without the
// model producing a final, tool-free response.
var ErrIterationLimit = errors.New("iteration_limit")

// DefaultMaxIterations bounds the reason-act loop.
const DefaultMaxIterations = 20

// DefaultHistoryLimit is the message count that triggers history compaction.
const DefaultHistoryLimit = 200

// silentReply suppresses delivery when the model decides no reply is needed.
const silentReply = "NO_REPLY"

// Persister is called with every message appended to a session's history,
// on the session goroutine. Used for JSONL checkpointing.
type Persister func(sessionID string, m providers.Message)

// Config collects the loop's collaborators.
type Config struct {
	Provider      providers.Provider
	Tools         *tools.Registry
	Hooks         *hooks.Registry
	Events        *bus.Bus
	Gate          *budget.Gate
	Builder       *prompt.Builder
	Tokenizer     prompt.Tokenizer
	MaxIterations int
	HistoryLimit  int // messages kept before compaction kicks in
	Retry         providers.RetryConfig
	Model         string // empty means provider default
	MaxTokens     int    // response token cap passed to the provider
	Tracer        *telemetry.Tracer
	Persist       Persister
	Logger        *slog.Logger
}

// Loop wires the provider, tool registry, hooks, budget gate and prompt
// builder into one turn processor. Stateless across turns; all per-session
// state lives in the Session.
type Loop struct {
	provider providers.Provider
	tools    *tools.Registry
	hooks    *hooks.Registry
	events   *bus.Bus
	gate     *budget.Gate
	builder  *prompt.Builder
	tok      prompt.Tokenizer

	maxIterations int
	historyLimit  int
	retry         providers.RetryConfig
	model         string
	maxTokens     int
	tracer        *telemetry.Tracer
	persist       Persister
	logger        *slog.Logger
}

func New(cfg Config) *Loop {
	l := &Loop{
		provider:      cfg.Provider,
		tools:         cfg.Tools,
		hooks:         cfg.Hooks,
		events:        cfg.Events,
		gate:          cfg.Gate,
		builder:       cfg.Builder,
		tok:           cfg.Tokenizer,
		maxIterations: cfg.MaxIterations,
		historyLimit:  cfg.HistoryLimit,
		retry:         cfg.Retry,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		tracer:        cfg.Tracer,
		persist:       cfg.Persist,
		logger:        cfg.Logger,
	}
	if l.tok == nil {
		l.tok = prompt.HeuristicTokenizer{}
	}
	if l.maxIterations <= 0 {
		l.maxIterations = DefaultMaxIterations
	}
	if l.historyLimit <= 0 {
		l.historyLimit = DefaultHistoryLimit
	}
	if l.retry.MaxAttempts == 0 {
		l.retry = providers.DefaultRetryConfig()
	}
	if l.model == "" && l.provider != nil {
		l.model = l.provider.DefaultModel()
	}
	if l.maxTokens <= 0 {
		l.maxTokens = 4096
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Outcome is the result of one processed turn.
type Outcome struct {
	Content    string
	Silent     bool // final content was the silent-reply marker
	Iterations int
	Usage      providers.Usage
}

// ProcessMessage runs one turn of the reason-act loop. Must be called on the
// session goroutine (inside Session.Run); it owns the history for the turn.
func (l *Loop) ProcessMessage(ctx context.Context, sess *sessions.Session, sig signal.Signal) (*Outcome, error) {
	if len(sess.History) == 0 {
		l.hooks.Run(ctx, hooks.EventSessionStart, &hooks.Payload{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Text:      sig.RawText,
			Timestamp: time.Now().UTC(),
		})
	}

	l.append(sess, providers.Message{Role: "user", Content: sig.RawText})
	defer l.maybeCompact(ctx, sess)

	out := &Outcome{}
	var lastContent string

	for i := 1; i <= l.maxIterations; i++ {
		out.Iterations = i
		sess.Usage.Iterations++

		snap := l.tools.Snapshot()
		req := l.buildRequest(sess, sig, snap)

		l.publish(protocol.EventLLMRequest, sess.ID, map[string]any{
			"iteration": i,
			"model":     l.model,
			"tools":     len(snap.Names()),
		})

		callCtx := ctx
		var span trace.Span
		if l.tracer != nil {
			callCtx, span = l.tracer.StartLLM(ctx, l.provider.Name(), l.model)
		}
		resp, err := providers.Retry(callCtx, l.retry, func() (*providers.ChatResponse, error) {
			return l.provider.Chat(callCtx, req)
		})
		if span != nil {
			telemetry.End(span, err)
		}
		if err != nil {
			l.logger.Error("provider call failed",
				"session_id", sess.ID, "iteration", i, "error", err)
			return nil, fmt.Errorf("provider: %w", err)
		}

		out.Usage.Add(resp.Usage)
		sess.Usage.TokensIn += resp.Usage.PromptTokens
		sess.Usage.TokensOut += resp.Usage.CompletionTokens
		l.charge(resp.Usage)

		l.publish(protocol.EventLLMResponse, sess.ID, map[string]any{
			"iteration":     i,
			"finish_reason": resp.FinishReason,
			"tokens_in":     resp.Usage.PromptTokens,
			"tokens_out":    resp.Usage.CompletionTokens,
			"tool_calls":    len(resp.ToolCalls),
		})

		if len(resp.ToolCalls) == 0 {
			return l.finishTurn(ctx, sess, resp.Content, out)
		}

		lastContent = resp.Content
		l.append(sess, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tool calls run sequentially, in provider order.
		for _, call := range resp.ToolCalls {
			l.runToolCall(ctx, sess, snap, call)
		}
	}

	l.logger.Warn("iteration limit reached", "session_id", sess.ID, "max", l.maxIterations)
	out.Content = lastContent
	return out, ErrIterationLimit
}

// finishTurn handles the no-tool-call response path.
func (l *Loop) finishTurn(ctx context.Context, sess *sessions.Session, content string, out *Outcome) (*Outcome, error) {
	p := &hooks.Payload{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Text:      content,
		Timestamp: time.Now().UTC(),
	}
	l.hooks.Run(ctx, hooks.EventPreResponse, p)
	content = p.Text

	l.append(sess, providers.Message{Role: "assistant", Content: content})

	if content == silentReply {
		out.Silent = true
	} else {
		out.Content = content
	}

	l.publish(protocol.EventAgentResponse, sess.ID, map[string]any{
		"content":    out.Content,
		"silent":     out.Silent,
		"iterations": out.Iterations,
	})

	l.hooks.RunAsync(ctx, hooks.EventPostResponse, &hooks.Payload{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Text:      out.Content,
		Timestamp: time.Now().UTC(),
	})
	return out, nil
}

// runToolCall executes one tool call and appends its result message. Tool
// failures become tool results; the model self-corrects on the next pass.
func (l *Loop) runToolCall(ctx context.Context, sess *sessions.Session, snap *tools.Snapshot, call providers.ToolCall) {
	l.publish(protocol.EventToolCallStart, sess.ID, map[string]any{
		"tool":    call.Name,
		"call_id": call.ID,
	})

	p := &hooks.Payload{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ToolName:  call.Name,
		Args:      call.Arguments,
		Timestamp: time.Now().UTC(),
	}
	hookOut := l.hooks.Run(ctx, hooks.EventPreToolUse, p)

	var resultText string
	var isError bool
	switch {
	case hookOut.Decision == hooks.DecisionBlock:
		// Policy errors already carry the prefix; avoid doubling it.
		resultText = "blocked: " + strings.TrimPrefix(hookOut.Reason, "blocked: ")
		isError = true
		l.publish(protocol.EventHookBlocked, sess.ID, map[string]any{
			"tool":   call.Name,
			"reason": hookOut.Reason,
		})
	case l.gate != nil && l.gate.Check(sess.ID, l.estimateNextCallCost(sess)) == budget.Deny:
		resultText = "budget_exceeded"
		isError = true
	default:
		toolCtx := ctx
		var span trace.Span
		if l.tracer != nil {
			toolCtx, span = l.tracer.StartTool(ctx, call.Name)
		}
		res := l.tools.DispatchOn(toolCtx, snap, call.Name, call.Arguments)
		if span != nil {
			telemetry.End(span, res.Err)
		}
		resultText = res.ForLLM
		isError = res.IsError
		sess.Usage.ToolCalls[call.Name]++
	}

	l.append(sess, providers.Message{
		Role:       "tool",
		Content:    resultText,
		ToolCallID: call.ID,
	})

	l.publish(protocol.EventToolCallEnd, sess.ID, map[string]any{
		"tool":     call.Name,
		"call_id":  call.ID,
		"is_error": isError,
	})

	l.hooks.RunAsync(ctx, hooks.EventPostToolUse, &hooks.Payload{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		ToolName:   call.Name,
		Args:       call.Arguments,
		ToolResult: resultText,
		ToolErr:    isError,
		Timestamp:  time.Now().UTC(),
	})
}

// maybeCompact trims old history once a session grows past the limit. The
// pre_compact chain runs first so hooks can flush anything they need from
// the span about to be dropped.
func (l *Loop) maybeCompact(ctx context.Context, sess *sessions.Session) {
	if len(sess.History) <= l.historyLimit {
		return
	}
	l.hooks.Run(ctx, hooks.EventPreCompact, &hooks.Payload{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Timestamp: time.Now().UTC(),
	})

	keep := l.historyLimit / 2
	trimmed := sess.History[len(sess.History)-keep:]
	// Never lead with orphaned tool results.
	for len(trimmed) > 0 && trimmed[0].Role == "tool" {
		trimmed = trimmed[1:]
	}
	sess.History = append([]providers.Message(nil), trimmed...)
	l.logger.Info("history compacted", "session_id", sess.ID, "kept", len(sess.History))
}

func (l *Loop) buildRequest(sess *sessions.Session, sig signal.Signal, snap *tools.Snapshot) providers.ChatRequest {
	contents := make([]string, 0, len(sess.History))
	for _, m := range sess.History {
		contents = append(contents, m.Content)
	}
	historyTokens := prompt.CountMessages(l.tok, contents)

	built := l.builder.Build(prompt.Overlay{
		SignalHint: fmt.Sprintf("mode=%s genre=%s type=%s weight=%.2f",
			sig.Mode, sig.Genre, sig.Type, sig.Weight),
		SessionID:     sess.ID,
		Channel:       sess.Channel,
		Provider:      l.provider.Name(),
		Model:         l.model,
		Now:           time.Now().UTC(),
		UserText:      sig.RawText,
		HistoryTokens: historyTokens,
	})

	return providers.ChatRequest{
		System: []providers.SystemBlock{
			{Text: built.Static, Cache: true},
			{Text: built.Dynamic},
		},
		Messages:  sess.History,
		Tools:     snap.Defs(),
		Model:     l.model,
		MaxTokens: l.maxTokens,
	}
}

// estimateNextCallCost sizes the budget check from the session's running
// token counters plus a response allowance.
func (l *Loop) estimateNextCallCost(sess *sessions.Session) float64 {
	return budget.EstimateCost(l.model, sess.Usage.TokensIn+sess.Usage.TokensOut+1000, l.maxTokens)
}

func (l *Loop) charge(u providers.Usage) {
	if l.gate == nil || u.TotalTokens == 0 {
		return
	}
	c := budget.Charge{
		Provider:      l.provider.Name(),
		Model:         l.model,
		TokensIn:      u.PromptTokens,
		TokensOut:     u.CompletionTokens,
		EstimatedCost: budget.EstimateCost(l.model, u.PromptTokens, u.CompletionTokens),
	}
	if err := l.gate.Record(c); err != nil {
		l.logger.Warn("budget charge rejected", "error", err)
	}
}

func (l *Loop) append(sess *sessions.Session, m providers.Message) {
	m.Timestamp = time.Now().UTC()
	sess.AppendMessage(m)
	if l.persist != nil {
		l.persist(sess.ID, m)
	}
}

func (l *Loop) publish(eventType, sessionID string, payload map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Publish(bus.Event{Type: eventType, SessionID: sessionID, Payload: payload})
}
