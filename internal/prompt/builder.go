// Package prompt assembles the system message within a token budget.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	truncationMarker = "[...truncated...]"
	blockSeparator   = "\n\n"

	// Tier shares of the dynamic budget. P1 is never truncated.
	p2Share = 0.40
	p3Share = 0.30
)

// Catalogue is the slice of the tool registry the builder renders into the
// static base.
type CatalogueEntry struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Profile is the fixed behavioural profile interpolated into the static base.
type Profile struct {
	Identity  string
	Guardrail string
	Behaviour string
}

// Overlay is the per-call dynamic context, grouped by priority tier.
type Overlay struct {
	// P1: always included, never truncated.
	SignalHint string // mode/genre/weight behavioural hint
	SessionID  string
	Channel    string
	Provider   string
	Model      string
	Workspace  string
	PlanMode   string // optional plan-mode directive
	Now        time.Time

	// P2: at most 40% of the dynamic budget.
	MemoryExcerpts []string // pre-filtered corpus; builder ranks by overlap
	Tasks          string
	WorkflowState  string

	// P3: at most 30% of the dynamic budget.
	CommProfile string
	Bulletin    string

	// P4: whatever budget remains.
	Addenda []string

	// UserText drives memory excerpt relevance ranking.
	UserText string

	// HistoryTokens is the estimated size of the conversation so far.
	HistoryTokens int
}

// Built is the assembled system prompt. Static is cache-eligible on
// providers that support prompt caching; Dynamic is not.
type Built struct {
	Static  string
	Dynamic string
	Tokens  int
}

// Builder memoises the static base and fits the dynamic overlay into the
// remaining budget.
type Builder struct {
	tok             Tokenizer
	maxTokens       int
	responseReserve int

	mu           sync.Mutex
	static       string
	staticTokens int
	staticValid  bool
	catalogue    []CatalogueEntry
	profile      Profile
}

func NewBuilder(tok Tokenizer, maxTokens, responseReserve int) *Builder {
	if tok == nil {
		tok = HeuristicTokenizer{}
	}
	return &Builder{
		tok:             tok,
		maxTokens:       maxTokens,
		responseReserve: responseReserve,
	}
}

// SetStaticInputs replaces the catalogue and profile and invalidates the
// memoised base. Called at startup and on config or tool-catalogue reload.
func (b *Builder) SetStaticInputs(catalogue []CatalogueEntry, profile Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogue = append([]CatalogueEntry(nil), catalogue...)
	b.profile = profile
	b.staticValid = false
}

// SetLimits updates the token budget parameters (config reload).
func (b *Builder) SetLimits(maxTokens, responseReserve int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxTokens = maxTokens
	b.responseReserve = responseReserve
}

// StaticBase returns the memoised static block and its token count.
func (b *Builder) StaticBase() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureStaticLocked()
	return b.static, b.staticTokens
}

func (b *Builder) ensureStaticLocked() {
	if b.staticValid {
		return
	}
	var sb strings.Builder
	if b.profile.Identity != "" {
		sb.WriteString(b.profile.Identity)
		sb.WriteString(blockSeparator)
	}

	sb.WriteString("## Tools\n")
	for _, e := range b.catalogue {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Name, e.Description)
		if len(e.Schema) > 0 {
			fmt.Fprintf(&sb, "  arguments: %s\n", renderSchema(e.Schema))
		}
	}

	if b.profile.Guardrail != "" {
		sb.WriteString(blockSeparator)
		sb.WriteString("## Safety\n")
		sb.WriteString(b.profile.Guardrail)
	}
	if b.profile.Behaviour != "" {
		sb.WriteString(blockSeparator)
		sb.WriteString("## Behaviour\n")
		sb.WriteString(b.profile.Behaviour)
	}

	b.static = sb.String()
	b.staticTokens = b.tok.Count(b.static)
	b.staticValid = true
}

// Build assembles the prompt for one loop iteration. The dynamic overlay is
// fitted into B = maxTokens − responseReserve − historyTokens − staticTokens;
// P1 always fits in full, P2/P3 are capped at their tier shares, P4 takes the
// remainder. Oversized blocks are truncated at a word boundary.
func (b *Builder) Build(ov Overlay) Built {
	static, staticTokens := b.StaticBase()

	budget := b.maxTokens - b.responseReserve - ov.HistoryTokens - staticTokens
	if budget < 0 {
		budget = 0
	}

	p1 := b.renderP1(ov)
	p1Tokens := b.tok.Count(p1)

	remaining := budget - p1Tokens
	if remaining < 0 {
		remaining = 0
	}

	var parts []string
	parts = append(parts, p1)

	p2Budget := int(float64(remaining) * p2Share)
	used := b.fitTier(&parts, b.p2Blocks(ov), p2Budget)
	remaining -= used

	p3Budget := int(float64(remaining) * p3Share)
	used = b.fitTier(&parts, b.p3Blocks(ov), p3Budget)
	remaining -= used

	b.fitTier(&parts, b.p4Blocks(ov), remaining)

	dynamic := strings.Join(parts, blockSeparator)
	return Built{
		Static:  static,
		Dynamic: dynamic,
		Tokens:  staticTokens + b.tok.Count(dynamic),
	}
}

func (b *Builder) renderP1(ov Overlay) string {
	var sb strings.Builder
	sb.WriteString("## Context\n")
	if ov.SignalHint != "" {
		fmt.Fprintf(&sb, "signal: %s\n", ov.SignalHint)
	}
	fmt.Fprintf(&sb, "time: %s\n", ov.Now.UTC().Format(time.RFC3339))
	if ov.Channel != "" {
		fmt.Fprintf(&sb, "channel: %s\n", ov.Channel)
	}
	if ov.SessionID != "" {
		fmt.Fprintf(&sb, "session: %s\n", ov.SessionID)
	}
	if ov.Workspace != "" {
		fmt.Fprintf(&sb, "workspace: %s\n", ov.Workspace)
	}
	if ov.Provider != "" {
		fmt.Fprintf(&sb, "model: %s/%s\n", ov.Provider, ov.Model)
	}
	if ov.PlanMode != "" {
		sb.WriteString(blockSeparator)
		sb.WriteString(ov.PlanMode)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) p2Blocks(ov Overlay) []string {
	var blocks []string
	if excerpts := selectRelevant(ov.MemoryExcerpts, ov.UserText, 5); len(excerpts) > 0 {
		blocks = append(blocks, "## Memory\n"+strings.Join(excerpts, "\n"))
	}
	if ov.Tasks != "" {
		blocks = append(blocks, "## Tasks\n"+ov.Tasks)
	}
	if ov.WorkflowState != "" {
		blocks = append(blocks, "## Workflow\n"+ov.WorkflowState)
	}
	return blocks
}

func (b *Builder) p3Blocks(ov Overlay) []string {
	var blocks []string
	if ov.CommProfile != "" {
		blocks = append(blocks, "## Communication\n"+ov.CommProfile)
	}
	if ov.Bulletin != "" {
		blocks = append(blocks, "## Bulletin\n"+ov.Bulletin)
	}
	return blocks
}

func (b *Builder) p4Blocks(ov Overlay) []string {
	return ov.Addenda
}

// fitTier appends blocks while the tier budget allows; the first block that
// does not fit in full is truncated, the rest are dropped. Each appended
// block is charged the joining separator so the assembled prompt stays
// inside the budget. Returns tokens consumed.
func (b *Builder) fitTier(parts *[]string, blocks []string, budget int) int {
	sep := b.tok.Count(blockSeparator)
	used := 0
	for _, block := range blocks {
		avail := budget - used - sep
		if avail <= 0 {
			break
		}
		n := b.tok.Count(block)
		if n <= avail {
			*parts = append(*parts, block)
			used += n + sep
			continue
		}
		truncated := b.truncate(block, avail)
		if truncated != "" {
			*parts = append(*parts, truncated)
			used += b.tok.Count(truncated) + sep
		}
		break
	}
	return used
}

// truncate cuts text at a word boundary so the result (plus marker) fits in
// budget tokens. Returns "" when nothing meaningful fits.
func (b *Builder) truncate(text string, budget int) string {
	markerTokens := b.tok.Count(truncationMarker)
	if budget <= markerTokens {
		return ""
	}
	words := strings.Fields(text)
	// Binary search on the word count that fits.
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := strings.Join(words[:mid], " ")
		if b.tok.Count(candidate)+markerTokens <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}
	return strings.Join(words[:lo], " ") + " " + truncationMarker
}

// selectRelevant ranks corpus entries by word overlap with the user text and
// keeps the top max.
func selectRelevant(corpus []string, userText string, max int) []string {
	if len(corpus) == 0 {
		return nil
	}
	if userText == "" || len(corpus) <= max {
		if len(corpus) > max {
			return corpus[:max]
		}
		return corpus
	}

	queryWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(userText)) {
		if len(w) > 2 {
			queryWords[w] = struct{}{}
		}
	}

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(corpus))
	for i, entry := range corpus {
		s := 0
		for _, w := range strings.Fields(strings.ToLower(entry)) {
			if _, ok := queryWords[w]; ok {
				s++
			}
		}
		if s > 0 {
			ranked = append(ranked, scored{i, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	// Preserve corpus order among the winners.
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].idx < ranked[j].idx })

	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, corpus[r.idx])
	}
	return out
}

func renderSchema(schema map[string]any) string {
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
