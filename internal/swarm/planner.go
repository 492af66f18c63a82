package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

// Planner decomposes a task into at most maxAgents worker assignments.
type Planner interface {
	Plan(ctx context.Context, task string, maxAgents int) ([]PlanItem, error)
}

// generalistPlan is the fallback when decomposition fails: one worker, the
// whole task.
func generalistPlan(task string) []PlanItem {
	return []PlanItem{{Role: "generalist", Subtask: task}}
}

// LLMPlanner asks the provider to decompose the task, falling back to rule
// splitting and finally a single generalist.
type LLMPlanner struct {
	Provider providers.Provider
	Model    string
	Logger   *slog.Logger
}

const plannerPrompt = `Decompose the task into at most %d independent subtasks.
Respond with ONLY a JSON array: [{"role": "...", "subtask": "..."}].
Roles are short kebab-case labels (researcher, critic, implementer, ...).

Task: %s`

func (p *LLMPlanner) Plan(ctx context.Context, task string, maxAgents int) ([]PlanItem, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	if p.Provider == nil {
		return RulePlan(task, maxAgents), nil
	}

	resp, err := p.Provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{
			Role:    "user",
			Content: fmt.Sprintf(plannerPrompt, maxAgents, task),
		}},
		Model:     p.Model,
		MaxTokens: 1024,
	})
	if err != nil {
		log.Warn("llm planner failed, using rule plan", "error", err)
		return RulePlan(task, maxAgents), nil
	}

	items, err := parsePlan(resp.Content)
	if err != nil || len(items) == 0 {
		log.Warn("llm plan unparseable, using rule plan", "error", err)
		return RulePlan(task, maxAgents), nil
	}
	if len(items) > maxAgents {
		items = items[:maxAgents]
	}
	return items, nil
}

// parsePlan extracts the first JSON array from model output, tolerating
// surrounding prose or code fences.
func parsePlan(content string) ([]PlanItem, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in plan output")
	}
	var items []PlanItem
	if err := json.Unmarshal([]byte(content[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	out := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.Subtask) == "" {
			continue
		}
		if it.Role == "" {
			it.Role = "generalist"
		}
		out = append(out, it)
	}
	return out, nil
}

// RulePlan splits the task on sentence and conjunction boundaries, one
// subtask per fragment, capped at maxAgents. A task that does not split
// becomes a single generalist plan.
func RulePlan(task string, maxAgents int) []PlanItem {
	fragments := splitTask(task)
	if len(fragments) < 2 {
		return generalistPlan(task)
	}
	if len(fragments) > maxAgents {
		fragments = fragments[:maxAgents]
	}
	items := make([]PlanItem, 0, len(fragments))
	for i, frag := range fragments {
		items = append(items, PlanItem{
			Role:    fmt.Sprintf("worker-%d", i+1),
			Subtask: frag,
		})
	}
	return items
}

func splitTask(task string) []string {
	seps := []string{". ", "; ", " then ", " and then "}
	parts := []string{task}
	for _, sep := range seps {
		var next []string
		for _, p := range parts {
			for _, piece := range strings.Split(p, sep) {
				piece = strings.TrimSpace(piece)
				if piece != "" {
					next = append(next, piece)
				}
			}
		}
		parts = next
	}
	return parts
}
