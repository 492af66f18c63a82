package tools

import (
	"context"
	"time"
)

// CurrentTimeTool reports the current time; mainly useful for grounding the
// model's sense of "now" in scheduling conversations.
type CurrentTimeTool struct{}

func (CurrentTimeTool) Name() string { return "current_time" }

func (CurrentTimeTool) Description() string {
	return "Get the current date and time (UTC and local)."
}

func (CurrentTimeTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (CurrentTimeTool) Execute(ctx context.Context, args map[string]any) *Result {
	now := time.Now()
	return NewResult("utc: " + now.UTC().Format(time.RFC3339) + "\nlocal: " + now.Format(time.RFC3339))
}
