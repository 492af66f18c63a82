// Package protocol defines the wire-level event names shared between the
// runtime and its SSE/WebSocket consumers.
package protocol

// ProtocolVersion is bumped when event payload shapes change incompatibly.
const ProtocolVersion = 1

// Agent loop lifecycle events.
const (
	EventSignalFiltered = "signal_filtered"
	EventLLMRequest     = "llm_request"
	EventLLMResponse    = "llm_response"
	EventToolCallStart  = "tool_call_start"
	EventToolCallEnd    = "tool_call_end"
	EventAgentResponse  = "agent_response"
	EventHookBlocked    = "hook_blocked"
)

// Budget gate events.
const (
	EventBudgetWarning  = "budget_warning"
	EventBudgetExceeded = "budget_exceeded"
)

// Session lifecycle events.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

// Swarm lifecycle events. Exactly one terminal event is emitted per swarm.
const (
	EventSwarmStarted       = "swarm_started"
	EventSwarmWorkerSpawned = "swarm_worker_spawned"
	EventSwarmWorkerDone    = "swarm_worker_done"
	EventSwarmSynthesizing  = "swarm_synthesizing"
	EventSwarmCompleted     = "swarm_completed"
	EventSwarmFailed        = "swarm_failed"
	EventSwarmCancelled     = "swarm_cancelled"
	EventSwarmTimeout       = "swarm_timeout"
)
