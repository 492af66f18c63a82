package prompt

import (
	"strings"
	"testing"
	"time"
)

func testProfile() Profile {
	return Profile{
		Identity:  "You are a focused operations assistant.",
		Guardrail: "Never run destructive commands. Never reveal credentials.",
		Behaviour: "Be concise. Prefer tools over guessing.",
	}
}

func testCatalogue() []CatalogueEntry {
	return []CatalogueEntry{
		{Name: "exec", Description: "run a shell command", Schema: map[string]any{
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
		}},
		{Name: "read_file", Description: "read a file"},
	}
}

func TestHeuristicTokenizer(t *testing.T) {
	tok := HeuristicTokenizer{}
	if tok.Count("") != 0 {
		t.Fatal("empty text should count zero")
	}
	if tok.Count("word") < 1 {
		t.Fatal("single word should count at least one token")
	}
	long := strings.Repeat("word ", 130)
	n := tok.Count(long)
	if n < 90 || n > 110 {
		t.Fatalf("130 words counted as %d tokens, want about 100", n)
	}
}

func TestStaticBaseMemoised(t *testing.T) {
	b := NewBuilder(nil, 10000, 1000)
	b.SetStaticInputs(testCatalogue(), testProfile())

	s1, n1 := b.StaticBase()
	s2, n2 := b.StaticBase()
	if s1 != s2 || n1 != n2 {
		t.Fatal("static base not stable across calls")
	}
	if !strings.Contains(s1, "exec") || !strings.Contains(s1, "read_file") {
		t.Fatalf("catalogue missing from static base:\n%s", s1)
	}
	if !strings.Contains(s1, "Never run destructive commands") {
		t.Fatal("guardrail missing from static base")
	}

	// Reload invalidates the memo.
	b.SetStaticInputs(testCatalogue()[:1], testProfile())
	s3, _ := b.StaticBase()
	if strings.Contains(s3, "read_file") {
		t.Fatal("static base kept stale catalogue after reload")
	}
}

func TestBuildP1AlwaysPresent(t *testing.T) {
	b := NewBuilder(nil, 10000, 1000)
	b.SetStaticInputs(testCatalogue(), testProfile())

	built := b.Build(Overlay{
		SignalHint: "mode=execute genre=direct weight=0.82",
		SessionID:  "s-1",
		Channel:    "http",
		Now:        time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	})
	if !strings.Contains(built.Dynamic, "signal: mode=execute") {
		t.Fatal("signal hint missing")
	}
	if !strings.Contains(built.Dynamic, "session: s-1") {
		t.Fatal("session id missing")
	}
}

func TestBuildRespectsBudget(t *testing.T) {
	maxTokens, reserve := 2000, 200
	b := NewBuilder(nil, maxTokens, reserve)
	b.SetStaticInputs(testCatalogue(), testProfile())

	big := strings.Repeat("memory detail sentence with content ", 400)
	built := b.Build(Overlay{
		Now:            time.Now(),
		MemoryExcerpts: []string{big},
		Tasks:          strings.Repeat("task item ", 300),
		CommProfile:    strings.Repeat("style note ", 300),
		Addenda:        []string{strings.Repeat("addendum ", 300)},
		HistoryTokens:  500,
		UserText:       "memory detail",
	})

	budget := maxTokens - reserve - 500
	if built.Tokens > budget {
		t.Fatalf("built prompt %d tokens exceeds budget %d", built.Tokens, budget)
	}
	if !strings.Contains(built.Dynamic, truncationMarker) {
		t.Fatal("oversized blocks not truncated")
	}
}

func TestBuildZeroBudgetStillEmitsP1(t *testing.T) {
	b := NewBuilder(nil, 100, 90)
	b.SetStaticInputs(nil, Profile{})

	built := b.Build(Overlay{
		Now:            time.Now(),
		SessionID:      "s-1",
		MemoryExcerpts: []string{"should not appear"},
	})
	if !strings.Contains(built.Dynamic, "session: s-1") {
		t.Fatal("P1 dropped under budget pressure")
	}
	if strings.Contains(built.Dynamic, "should not appear") {
		t.Fatal("P2 content included with no budget")
	}
}

func TestTruncateWordBoundary(t *testing.T) {
	b := NewBuilder(nil, 1000, 0)
	text := strings.Repeat("alpha beta gamma ", 100)
	got := b.truncate(text, 30)
	if got == "" {
		t.Fatal("truncate returned nothing for a workable budget")
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("marker missing: %q", got)
	}
	body := strings.TrimSuffix(got, " "+truncationMarker)
	for _, w := range strings.Fields(body) {
		if w != "alpha" && w != "beta" && w != "gamma" {
			t.Fatalf("mid-word cut: %q", w)
		}
	}
}

func TestSelectRelevant(t *testing.T) {
	corpus := []string{
		"deploy pipeline runs on merge to main",
		"the user prefers dark roast coffee",
		"database failover procedure for the payments cluster",
	}
	got := selectRelevant(corpus, "how does the deploy pipeline work", 2)
	if len(got) != 1 || !strings.Contains(got[0], "deploy pipeline") {
		t.Fatalf("selectRelevant = %v", got)
	}

	// No query text keeps corpus order, capped.
	got = selectRelevant(corpus, "", 2)
	if len(got) != 2 || got[0] != corpus[0] {
		t.Fatalf("uncapped selection = %v", got)
	}
}

// byteTokenizer prices every byte, so block separators carry real cost.
type byteTokenizer struct{}

func (byteTokenizer) Count(s string) int { return len(s) }

func TestBuildCountsBlockSeparators(t *testing.T) {
	maxTokens, reserve := 700, 100
	b := NewBuilder(byteTokenizer{}, maxTokens, reserve)
	b.SetStaticInputs(nil, Profile{})

	block := strings.Repeat("m ", 300)
	built := b.Build(Overlay{
		Now:            time.Now(),
		MemoryExcerpts: []string{block},
		Tasks:          block,
		WorkflowState:  block,
		CommProfile:    block,
		Bulletin:       block,
		Addenda:        []string{block, block},
		HistoryTokens:  50,
	})

	budget := maxTokens - reserve - 50
	if built.Tokens > budget {
		t.Fatalf("built prompt %d tokens exceeds budget %d", built.Tokens, budget)
	}
}
