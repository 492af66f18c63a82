package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

// FileHistory stores one JSONL file per session under a base directory.
// Appends are line-atomic; a truncated trailing line (crash mid-write) is
// skipped on load.
type FileHistory struct {
	dir string
	mu  sync.Mutex
}

func NewFileHistory(dir string) (*FileHistory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileHistory{dir: dir}, nil
}

func (h *FileHistory) path(sessionID string) string {
	// Session ids come from callers; flatten anything path-like.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(sessionID)
	return filepath.Join(h.dir, safe+".jsonl")
}

func (h *FileHistory) Append(sessionID string, m providers.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (h *FileHistory) Load(sessionID string) ([]providers.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var msgs []providers.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m providers.Message
		if err := json.Unmarshal(line, &m); err != nil {
			// Torn or corrupt line; drop it and keep the rest.
			continue
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return msgs, fmt.Errorf("scan history: %w", err)
	}
	return msgs, nil
}

func (h *FileHistory) Delete(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Remove(h.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
