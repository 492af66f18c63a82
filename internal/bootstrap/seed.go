// Package bootstrap seeds the workspace with the editable behaviour
// profile and loads it back, falling back to the embedded defaults when a
// file is missing or unreadable.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Miosa-osa/OSA-sub005/internal/prompt"
)

//go:embed templates/*.md
var templateFS embed.FS

// Workspace profile files. Users edit these to tune the agent; the
// embedded copies are the compiled-in defaults.
const (
	IdentityFile  = "IDENTITY.md"
	GuardrailFile = "GUARDRAIL.md"
	BehaviourFile = "BEHAVIOUR.md"
)

var profileFiles = []string{IdentityFile, GuardrailFile, BehaviourFile}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", strings.ToLower(name)))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspaceFiles seeds the profile files into a workspace directory.
// Only writes files that don't already exist (will not overwrite). Returns
// the list of files that were created.
func EnsureWorkspaceFiles(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return nil, err
	}

	var created []string
	for _, name := range profileFiles {
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed template", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedTemplate writes a template file to the workspace if it doesn't exist.
// Returns true if the file was created, false if it already exists.
func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := ReadTemplate(name)
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.WriteString(content); err != nil {
		return false, err
	}
	return true, nil
}

// LoadProfile assembles the behavioural profile from the workspace files.
// A missing or unreadable file falls back to its embedded default, so a
// half-deleted workspace still yields a complete profile.
func LoadProfile(workspaceDir string) prompt.Profile {
	return prompt.Profile{
		Identity:  loadSection(workspaceDir, IdentityFile),
		Guardrail: loadSection(workspaceDir, GuardrailFile),
		Behaviour: loadSection(workspaceDir, BehaviourFile),
	}
}

func loadSection(workspaceDir, name string) string {
	if data, err := os.ReadFile(filepath.Join(workspaceDir, name)); err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	fallback, err := ReadTemplate(name)
	if err != nil {
		slog.Warn("bootstrap: embedded template missing", "file", name, "error", err)
		return ""
	}
	return strings.TrimSpace(fallback)
}
