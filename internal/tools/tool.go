// Package tools provides the uniform tool interface, a hot-reloadable
// registry with versioned snapshots, schema-validated dispatch, and the
// built-in shell/file tools with their safety policy.
package tools

import (
	"context"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

// Tool is a named callable with a JSON-schema argument contract. Handlers
// never panic out of Execute; failures are reported through the Result.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema for the arguments object.
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Def converts a tool to its provider-facing definition.
func Def(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}
