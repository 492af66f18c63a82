// Package hooks provides lifecycle extension points around the agent loop.
package hooks

import (
	"context"
	"time"
)

// Event identifies a lifecycle point handlers can attach to.
type Event string

const (
	EventPreToolUse   Event = "pre_tool_use"
	EventPostToolUse  Event = "post_tool_use"
	EventPreCompact   Event = "pre_compact"
	EventSessionStart Event = "session_start"
	EventSessionEnd   Event = "session_end"
	EventPreResponse  Event = "pre_response"
	EventPostResponse Event = "post_response"
)

// Payload carries the mutable context a handler sees.
type Payload struct {
	SessionID string
	UserID    string

	// ToolName and Args are set for pre_tool_use and post_tool_use.
	ToolName string
	Args     map[string]any

	// ToolResult is set for post_tool_use.
	ToolResult string
	ToolErr    bool

	// Text is the candidate response for pre_response/post_response, or the
	// incoming message for session_start.
	Text string

	// Data holds handler-to-handler state accumulated along the chain.
	Data map[string]any

	Timestamp time.Time
}

// Decision is what a handler wants done with the current operation.
type Decision int

const (
	// DecisionContinue proceeds, carrying any payload mutations forward.
	DecisionContinue Decision = iota
	// DecisionBlock aborts the operation. Honoured only on pre_tool_use;
	// elsewhere it is logged and treated as continue.
	DecisionBlock
	// DecisionSkip leaves the payload untouched and moves to the next handler.
	DecisionSkip
)

// Outcome is a handler's verdict on the event.
type Outcome struct {
	Decision Decision
	Reason   string // set when blocking
}

func Continue() Outcome           { return Outcome{Decision: DecisionContinue} }
func Block(reason string) Outcome { return Outcome{Decision: DecisionBlock, Reason: reason} }
func Skip() Outcome               { return Outcome{Decision: DecisionSkip} }

// Handler processes a hook event. Handlers mutate the payload in place; they
// must be fast, long work belongs in a goroutine.
type Handler func(ctx context.Context, p *Payload) Outcome

// Priority orders handlers within an event; lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is one attached handler.
type Registration struct {
	ID       string
	Event    Event
	Name     string
	Priority Priority
	Handler  Handler
}
