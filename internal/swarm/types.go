// Package swarm coordinates bounded multi-worker task execution.
package swarm

import (
	"errors"
	"time"
)

// Pattern selects how workers coordinate.
type Pattern string

const (
	PatternParallel Pattern = "parallel"
	PatternPipeline Pattern = "pipeline"
	PatternDebate   Pattern = "debate"
	PatternReview   Pattern = "review"
)

// ValidPattern reports whether p is one of the four patterns.
func ValidPattern(p Pattern) bool {
	switch p {
	case PatternParallel, PatternPipeline, PatternDebate, PatternReview:
		return true
	}
	return false
}

var (
	ErrInvalidPattern = errors.New("invalid_pattern")
	ErrLimitReached   = errors.New("too many concurrent swarms")
	ErrNotFound       = errors.New("swarm not found")
	ErrNotRunning     = errors.New("not_running")
)

// State is a swarm's lifecycle phase. Exactly one terminal state is ever
// reached.
type State string

const (
	StateRunning      State = "running"
	StateSynthesizing State = "synthesizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
	StateTimeout      State = "timeout"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	switch s {
	case StateRunning, StateSynthesizing:
		return false
	}
	return true
}

// PlanItem is one worker assignment.
type PlanItem struct {
	Role    string `json:"role"`
	Subtask string `json:"subtask"`
}

// WorkerResult is one worker's final output.
type WorkerResult struct {
	Role   string
	Output string
	Err    error
}

// Status is a point-in-time snapshot of a swarm.
type Status struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	Pattern     Pattern    `json:"pattern"`
	State       State      `json:"state"`
	Workers     []PlanItem `json:"workers,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
