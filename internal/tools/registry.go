package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Miosa-osa/OSA-sub005/internal/providers"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// entry pairs a tool with its compiled argument schema.
type entry struct {
	tool   Tool
	schema *jsonschema.Schema // nil when the tool declares no schema
}

// Snapshot is an immutable view of the catalogue. Running loops capture one
// snapshot per iteration, so registrations never disrupt an in-flight call.
type Snapshot struct {
	version int64
	entries map[string]*entry
	order   []string
}

// Version identifies the catalogue generation.
func (s *Snapshot) Version() int64 { return s.version }

// Names lists tool names in registration order.
func (s *Snapshot) Names() []string {
	return append([]string(nil), s.order...)
}

// Get returns the named tool.
func (s *Snapshot) Get(name string) (Tool, bool) {
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Defs builds the provider-facing tool catalogue.
func (s *Snapshot) Defs() []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Def(s.entries[name].tool))
	}
	return out
}

// Registry is the versioned tool catalogue. Registration swaps in a new
// immutable snapshot; readers are lock-free.
type Registry struct {
	mu      sync.Mutex // serialises writers
	current atomic.Pointer[Snapshot]
	timeout time.Duration
}

func NewRegistry() *Registry {
	r := &Registry{timeout: DefaultTimeout}
	r.current.Store(&Snapshot{entries: map[string]*entry{}})
	return r
}

// SetTimeout overrides the per-tool execution timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Register adds or replaces a tool. Takes effect for all subsequent loop
// iterations without restart. The argument schema is compiled eagerly so a
// malformed schema fails registration, not dispatch.
func (r *Registry) Register(t Tool) error {
	var compiled *jsonschema.Schema
	if raw := t.Schema(); raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("tool %s: encode schema: %w", t.Name(), err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(t.Name()+".json", strings.NewReader(string(data))); err != nil {
			return fmt.Errorf("tool %s: add schema: %w", t.Name(), err)
		}
		compiled, err = c.Compile(t.Name() + ".json")
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", t.Name(), err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	next := &Snapshot{
		version: old.version + 1,
		entries: make(map[string]*entry, len(old.entries)+1),
	}
	for name, e := range old.entries {
		next.entries[name] = e
	}
	_, replacing := next.entries[t.Name()]
	next.entries[t.Name()] = &entry{tool: t, schema: compiled}
	if replacing {
		next.order = append([]string(nil), old.order...)
	} else {
		next.order = append(append([]string(nil), old.order...), t.Name())
	}

	r.current.Store(next)
	slog.Debug("tool registered", "tool", t.Name(), "version", next.version)
	return nil
}

// Remove deletes a tool from the catalogue. Unknown names are a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	if _, ok := old.entries[name]; !ok {
		return
	}
	next := &Snapshot{
		version: old.version + 1,
		entries: make(map[string]*entry, len(old.entries)),
	}
	for n, e := range old.entries {
		if n != name {
			next.entries[n] = e
		}
	}
	for _, n := range old.order {
		if n != name {
			next.order = append(next.order, n)
		}
	}
	r.current.Store(next)
}

// Snapshot returns the current immutable catalogue view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Dispatch validates the arguments against the registered schema and runs
// the tool under the configured timeout. It never lets a handler panic or
// overrun escape to the caller.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) *Result {
	return r.dispatchOn(ctx, r.Snapshot(), name, args)
}

// DispatchOn dispatches against a previously captured snapshot.
func (r *Registry) DispatchOn(ctx context.Context, snap *Snapshot, name string, args map[string]any) *Result {
	return r.dispatchOn(ctx, snap, name, args)
}

func (r *Registry) dispatchOn(ctx context.Context, snap *Snapshot, name string, args map[string]any) *Result {
	e, ok := snap.entries[name]
	if !ok {
		return ErrorResult("unknown_tool")
	}

	if args == nil {
		args = map[string]any{}
	}

	if e.schema != nil {
		if err := e.schema.Validate(normalizeForSchema(args)); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments: %v", err)).WithError(err)
		}
	}

	timeout := r.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("tool panic", "tool", name, "panic", p)
				done <- ErrorResult(fmt.Sprintf("tool panic: %v", p))
			}
		}()
		done <- e.tool.Execute(ctx, args)
	}()

	select {
	case res := <-done:
		if res == nil {
			return ErrorResult("tool returned no result")
		}
		return res
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult("tool_timeout")
		}
		return ErrorResult("cancelled").WithError(ctx.Err())
	}
}

// normalizeForSchema round-trips args through JSON so numeric types match
// what the schema validator expects (float64/json.Number, not int).
func normalizeForSchema(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

// SortedNames returns the catalogue names sorted, for stable listings.
func (r *Registry) SortedNames() []string {
	names := r.Snapshot().Names()
	sort.Strings(names)
	return names
}
