package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const readFileCap = 256 * 1024

// ReadFileTool reads a file under the allowed roots.
type ReadFileTool struct {
	policy *Policy
}

func NewReadFileTool(policy *Policy) *ReadFileTool { return &ReadFileTool{policy: policy} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file. Paths are restricted to the configured allow-list."
}

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File path, absolute or workspace-relative"},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	abs, err := t.policy.CheckPath(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read failed: %v", err)).WithError(err)
	}
	if len(data) > readFileCap {
		data = append(data[:readFileCap], []byte("\n[truncated]")...)
	}
	return NewResult(string(data))
}

// WriteFileTool writes a file under the allowed roots, creating parent
// directories as needed.
type WriteFileTool struct {
	policy *Policy
}

func NewWriteFileTool(policy *Policy) *WriteFileTool { return &WriteFileTool{policy: policy} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, replacing it if it exists. Paths are restricted to the configured allow-list."
}

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
		"required": []any{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	abs, err := t.policy.CheckPath(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("mkdir failed: %v", err)).WithError(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), abs))
}

// ListFilesTool lists a directory under the allowed roots.
type ListFilesTool struct {
	policy *Policy
}

func NewListFilesTool(policy *Policy) *ListFilesTool { return &ListFilesTool{policy: policy} }

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List the entries of a directory. Defaults to the workspace root."
}

func (t *ListFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path (default: workspace root)"},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = t.policy.Workspace()
	}
	abs, err := t.policy.CheckPath(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list failed: %v", err)).WithError(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return NewResult("(empty directory)")
	}
	return NewResult(strings.Join(names, "\n"))
}
