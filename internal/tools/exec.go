package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const execOutputCap = 64 * 1024

// ExecTool runs shell commands inside the policy workspace. Commands
// matching the deny-list are rejected before anything is spawned.
type ExecTool struct {
	policy *Policy
}

func NewExecTool(policy *Policy) *ExecTool {
	return &ExecTool{policy: policy}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command in the agent workspace. Output (stdout and stderr) is returned, truncated to 64KB."
}

func (t *ExecTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []any{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	if err := t.policy.CheckCommand(command); err != nil {
		slog.Warn("security.command_blocked", "command", firstToken(command), "reason", err)
		return ErrorResult(err.Error())
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.policy.Workspace()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	text := out.String()
	if len(text) > execOutputCap {
		text = text[:execOutputCap] + "\n[output truncated]"
	}

	if err != nil {
		if ctx.Err() != nil {
			return ErrorResult("cancelled").WithError(ctx.Err())
		}
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, text)).WithError(err)
	}
	if text == "" {
		text = "(no output)"
	}
	return NewResult(text)
}
