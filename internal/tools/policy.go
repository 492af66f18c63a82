package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Dangerous command patterns denied by default. Defence-in-depth on top of
// whatever sandbox the host provides.
var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--(recursive|force)`),
	regexp.MustCompile(`\b(mkfs|fdisk|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/`),
	regexp.MustCompile(`\bchown\b.*\s+/`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
	regexp.MustCompile(`\bkill\s+-9\s`),
}

// sensitivePathFragments are always denied for file tools, regardless of the
// configured allow-list.
var sensitivePathFragments = []string{
	".ssh/", "id_rsa", "id_ed25519", ".gnupg/",
	".aws/credentials", ".config/gcloud",
	"/etc/passwd", "/etc/shadow", "/etc/sudoers",
	".env", "credentials.json", "private_key",
}

// Policy validates shell commands against the deny-list and file paths
// against the allow-list.
type Policy struct {
	workspace  string
	allowPaths []string
	deny       []*regexp.Regexp
}

// NewPolicy builds a safety policy rooted at workspace. extraDeny patterns
// from configuration are compiled on top of the built-in list; allowPaths
// are additional roots file tools may touch.
func NewPolicy(workspace string, allowPaths []string, extraDeny []string) (*Policy, error) {
	p := &Policy{
		workspace: expandPath(workspace),
		deny:      defaultDenyPatterns,
	}
	p.allowPaths = append(p.allowPaths, p.workspace)
	for _, ap := range allowPaths {
		p.allowPaths = append(p.allowPaths, expandPath(ap))
	}
	for _, raw := range extraDeny {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("deny pattern %q: %w", raw, err)
		}
		p.deny = append(p.deny, re)
	}
	return p, nil
}

// Workspace returns the policy's working-directory root.
func (p *Policy) Workspace() string { return p.workspace }

// CheckCommand returns an error naming the first matched deny pattern.
func (p *Policy) CheckCommand(command string) error {
	for _, re := range p.deny {
		if re.MatchString(command) {
			return fmt.Errorf("blocked: %s", firstToken(re.FindString(command)))
		}
	}
	return nil
}

// CheckPath expands path and verifies it sits under an allowed root and
// touches nothing sensitive.
func (p *Policy) CheckPath(path string) (string, error) {
	abs := expandPath(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.workspace, abs)
	}
	abs = filepath.Clean(abs)

	lower := strings.ToLower(abs)
	for _, frag := range sensitivePathFragments {
		if strings.Contains(lower, frag) {
			return "", fmt.Errorf("path denied: sensitive location")
		}
	}

	for _, root := range p.allowPaths {
		if root == "" {
			continue
		}
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path denied: outside allowed roots")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i > 0 {
		return s[:i]
	}
	return s
}
