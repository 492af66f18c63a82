package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeTool struct {
	name   string
	schema map[string]any
	fn     func(ctx context.Context, args map[string]any) *Result
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake tool " + f.name }
func (f *fakeTool) Schema() map[string]any { return f.schema }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) *Result {
	if f.fn != nil {
		return f.fn(ctx, args)
	}
	return NewResult("ok")
}

func TestRegistrySnapshotVersioning(t *testing.T) {
	r := NewRegistry()
	if v := r.Snapshot().Version(); v != 0 {
		t.Fatalf("initial version = %d, want 0", v)
	}

	if err := r.Register(&fakeTool{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{name: "b"}); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	if snap.Version() != 2 {
		t.Fatalf("version = %d, want 2", snap.Version())
	}
	if got := snap.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("names = %v", got)
	}
}

func TestRegistryHotReloadDoesNotDisturbCapturedSnapshot(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "a", fn: func(ctx context.Context, args map[string]any) *Result {
		return NewResult("old")
	}}); err != nil {
		t.Fatal(err)
	}

	captured := r.Snapshot()

	// Replace the tool after the snapshot was taken.
	if err := r.Register(&fakeTool{name: "a", fn: func(ctx context.Context, args map[string]any) *Result {
		return NewResult("new")
	}}); err != nil {
		t.Fatal(err)
	}

	res := r.DispatchOn(context.Background(), captured, "a", nil)
	if res.ForLLM != "old" {
		t.Fatalf("captured snapshot dispatched %q, want old", res.ForLLM)
	}
	res = r.Dispatch(context.Background(), "a", nil)
	if res.ForLLM != "new" {
		t.Fatalf("current snapshot dispatched %q, want new", res.ForLLM)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Dispatch(context.Background(), "nope", nil)
	if !res.IsError || res.ForLLM != "unknown_tool" {
		t.Fatalf("got %+v, want unknown_tool error", res)
	}
}

func TestRegistrySchemaValidation(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&fakeTool{
		name: "echo",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := r.Dispatch(context.Background(), "echo", map[string]any{})
	if !res.IsError || !strings.Contains(res.ForLLM, "invalid arguments") {
		t.Fatalf("missing required arg accepted: %+v", res)
	}

	res = r.Dispatch(context.Background(), "echo", map[string]any{"text": 42})
	if !res.IsError {
		t.Fatalf("wrong-typed arg accepted: %+v", res)
	}

	res = r.Dispatch(context.Background(), "echo", map[string]any{"text": "hi"})
	if res.IsError {
		t.Fatalf("valid args rejected: %+v", res)
	}
}

func TestRegistryMalformedSchemaFailsRegistration(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&fakeTool{
		name:   "bad",
		schema: map[string]any{"type": 12345},
	})
	if err == nil {
		t.Fatal("malformed schema registered without error")
	}
	if _, ok := r.Snapshot().Get("bad"); ok {
		t.Fatal("malformed tool present in snapshot")
	}
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetTimeout(50 * time.Millisecond)
	if err := r.Register(&fakeTool{name: "slow", fn: func(ctx context.Context, args map[string]any) *Result {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return NewResult("done")
	}}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	res := r.Dispatch(context.Background(), "slow", nil)
	if !res.IsError || res.ForLLM != "tool_timeout" {
		t.Fatalf("got %+v, want tool_timeout", res)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout did not fire promptly")
	}
}

func TestRegistryPanicRecovery(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "boom", fn: func(ctx context.Context, args map[string]any) *Result {
		panic("kaboom")
	}}); err != nil {
		t.Fatal(err)
	}

	res := r.Dispatch(context.Background(), "boom", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "kaboom") {
		t.Fatalf("panic not converted to error result: %+v", res)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "gone"}); err != nil {
		t.Fatal(err)
	}
	r.Remove("gone")
	if _, ok := r.Snapshot().Get("gone"); ok {
		t.Fatal("removed tool still present")
	}
	// Removing twice is a no-op.
	v := r.Snapshot().Version()
	r.Remove("gone")
	if r.Snapshot().Version() != v {
		t.Fatal("no-op remove bumped the version")
	}
}
