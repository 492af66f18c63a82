package hooks

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// CommandPolicy is the slice of the tool safety policy the security hook
// needs. Satisfied by tools.Policy.
type CommandPolicy interface {
	CheckCommand(command string) error
	CheckPath(path string) (string, error)
}

// secretRe catches obvious credential material in outbound text.
var secretRe = regexp.MustCompile(`(?i)\b(sk-[a-zA-Z0-9]{20,}|AKIA[0-9A-Z]{16}|-----BEGIN [A-Z ]*PRIVATE KEY-----)`)

// BuiltinDeps wires external collaborators into the built-in handlers. Nil
// fields disable the corresponding behaviour.
type BuiltinDeps struct {
	Policy CommandPolicy

	// CheckBudget reports whether another model-costing call may proceed.
	// A non-nil error blocks the tool call with reason "budget".
	CheckBudget func(sessionID string) error

	// ToolAllowed gates tool use per session; nil allows everything.
	ToolAllowed func(sessionID, toolName string) bool

	// LoadProfile returns per-user context injected at session start.
	LoadProfile func(userID string) map[string]any

	// CaptureLearning persists an observation from a completed tool use.
	CaptureLearning func(sessionID, text string)

	// FlushMemory is called before history compaction with the accumulated
	// hook data.
	FlushMemory func(sessionID string, data map[string]any)

	// ConsolidatePatterns runs at session end.
	ConsolidatePatterns func(sessionID string)

	Logger *slog.Logger
}

// RegisterBuiltins attaches the standard handler set. Priorities put the
// security check first on pre_tool_use and telemetry last everywhere.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r.Register(EventPreToolUse, securityCheck(deps.Policy),
		WithName("security_check"), WithPriority(PriorityHighest))

	r.Register(EventPreToolUse, func(ctx context.Context, p *Payload) Outcome {
		if deps.CheckBudget == nil {
			return Skip()
		}
		if err := deps.CheckBudget(p.SessionID); err != nil {
			return Block("budget")
		}
		return Continue()
	}, WithName("budget_tracker"), WithPriority(PriorityHigh))

	r.Register(EventPreToolUse, func(ctx context.Context, p *Payload) Outcome {
		if deps.ToolAllowed == nil {
			return Skip()
		}
		if !deps.ToolAllowed(p.SessionID, p.ToolName) {
			return Block("tool not permitted: " + p.ToolName)
		}
		return Continue()
	}, WithName("tool_gating"), WithPriority(PriorityHigh))

	r.Register(EventSessionStart, func(ctx context.Context, p *Payload) Outcome {
		if deps.LoadProfile == nil || p.UserID == "" {
			return Skip()
		}
		if profile := deps.LoadProfile(p.UserID); len(profile) > 0 {
			p.Data["profile"] = profile
		}
		return Continue()
	}, WithName("context_injection"), WithPriority(PriorityHigh))

	r.Register(EventPostToolUse, func(ctx context.Context, p *Payload) Outcome {
		if deps.CaptureLearning == nil || p.ToolResult == "" || p.ToolErr {
			return Skip()
		}
		deps.CaptureLearning(p.SessionID, p.ToolName+": "+p.ToolResult)
		return Continue()
	}, WithName("learning_capture"), WithPriority(PriorityNormal))

	r.Register(EventPreResponse, qualityCheck(log),
		WithName("quality_check"), WithPriority(PriorityNormal))

	r.Register(EventPreCompact, func(ctx context.Context, p *Payload) Outcome {
		if deps.FlushMemory != nil {
			deps.FlushMemory(p.SessionID, p.Data)
		}
		return Continue()
	}, WithName("memory_flush"), WithPriority(PriorityNormal))

	r.Register(EventSessionEnd, func(ctx context.Context, p *Payload) Outcome {
		if deps.ConsolidatePatterns != nil {
			deps.ConsolidatePatterns(p.SessionID)
		}
		return Continue()
	}, WithName("pattern_consolidation"), WithPriority(PriorityNormal))

	telemetry := func(ctx context.Context, p *Payload) Outcome {
		log.Debug("hook event",
			"session_id", p.SessionID, "tool", p.ToolName, "at", p.Timestamp)
		return Continue()
	}
	for _, ev := range []Event{
		EventPreToolUse, EventPostToolUse, EventSessionStart,
		EventSessionEnd, EventPreResponse, EventPostResponse,
	} {
		r.Register(ev, telemetry, WithName("telemetry"), WithPriority(PriorityLowest))
	}
}

// securityCheck re-validates tool arguments against the safety policy. The
// tools themselves check too; this layer catches anything reaching dispatch
// through a path that skipped them.
func securityCheck(policy CommandPolicy) Handler {
	return func(ctx context.Context, p *Payload) Outcome {
		if policy == nil {
			return Skip()
		}
		switch p.ToolName {
		case "exec":
			if cmd, ok := p.Args["command"].(string); ok {
				if err := policy.CheckCommand(cmd); err != nil {
					return Block(err.Error())
				}
			}
		case "read_file", "write_file", "list_files":
			if path, ok := p.Args["path"].(string); ok && path != "" {
				if _, err := policy.CheckPath(path); err != nil {
					return Block(err.Error())
				}
			}
		}
		return Continue()
	}
}

// qualityCheck redacts credential-looking substrings from the outgoing
// response and normalises stray whitespace.
func qualityCheck(log *slog.Logger) Handler {
	return func(ctx context.Context, p *Payload) Outcome {
		if p.Text == "" {
			return Skip()
		}
		if secretRe.MatchString(p.Text) {
			log.Warn("security.secret_redacted", "session_id", p.SessionID)
			p.Text = secretRe.ReplaceAllString(p.Text, "[redacted]")
		}
		p.Text = strings.TrimRight(p.Text, " \t\n")
		return Continue()
	}
}
