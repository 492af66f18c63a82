package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

func TestFileHistoryRoundTrip(t *testing.T) {
	h, err := NewFileHistory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	msgs := []providers.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi", ToolCalls: []providers.ToolCall{
			{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "x"}},
		}},
		{Role: "tool", Content: "echo: x", ToolCallID: "c1"},
	}
	for _, m := range msgs {
		if err := h.Append("s1", m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := h.Load("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("loaded %d messages, want 3", len(got))
	}
	if got[1].ToolCalls[0].Name != "echo" {
		t.Fatalf("tool calls lost: %+v", got[1])
	}
	if got[2].ToolCallID != "c1" {
		t.Fatalf("tool call id lost: %+v", got[2])
	}
}

func TestFileHistoryMissingSessionEmpty(t *testing.T) {
	h, err := NewFileHistory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Load("never-seen")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v; want nil, nil", got, err)
	}
}

func TestFileHistorySkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	h, err := NewFileHistory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Append("s1", providers.Message{Role: "user", Content: "ok"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-append.
	f, err := os.OpenFile(filepath.Join(dir, "s1.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"role":"assistant","cont`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := h.Load("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "ok" {
		t.Fatalf("got %+v, want just the intact message", got)
	}
}

func TestFileHistoryDelete(t *testing.T) {
	h, err := NewFileHistory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Append("s1", providers.Message{Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Delete("s1"); err != nil {
		t.Fatal(err)
	}
	got, _ := h.Load("s1")
	if got != nil {
		t.Fatalf("history survived delete: %v", got)
	}
	// Deleting again is fine.
	if err := h.Delete("s1"); err != nil {
		t.Fatal(err)
	}
}

func TestFileHistoryPathSanitised(t *testing.T) {
	dir := t.TempDir()
	h, err := NewFileHistory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Append("../escape", providers.Message{Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
}

func TestProfileStoreRoundTrip(t *testing.T) {
	p, err := NewProfileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Load("u1"); got != nil {
		t.Fatalf("missing profile = %v, want nil", got)
	}

	profile := map[string]any{"name": "Ada", "timezone": "UTC"}
	if err := p.Save("u1", profile); err != nil {
		t.Fatal(err)
	}
	got := p.Load("u1")
	if got == nil || got["name"] != "Ada" {
		t.Fatalf("loaded profile = %v", got)
	}
}
