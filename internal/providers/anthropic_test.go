package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicChatParsesToolUse(t *testing.T) {
	var captured anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request not decodable: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "tc_1", "name": "list_files", "input": {"path": "."}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		System: []SystemBlock{
			{Text: "static base", Cache: true},
			{Text: "dynamic overlay"},
		},
		Messages: []Message{{Role: "user", Content: "what files are there?"}},
		Tools:    []ToolDefinition{{Name: "list_files", Description: "list", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "Let me check." {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "list_files" || resp.ToolCalls[0].ID != "tc_1" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %s", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 120 || resp.Usage.CompletionTokens != 30 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	// The cache-flagged static base must be emitted as a cache-eligible block.
	if len(captured.System) != 2 {
		t.Fatalf("system blocks = %d, want 2", len(captured.System))
	}
	if captured.System[0].CacheControl == nil || captured.System[0].CacheControl.Type != "ephemeral" {
		t.Error("static base not marked cache-eligible")
	}
	if captured.System[1].CacheControl != nil {
		t.Error("dynamic overlay wrongly marked cache-eligible")
	}
}

func TestAnthropicToolResultRoundTrip(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		io.WriteString(w, `{"content":[{"type":"text","text":"Three files: a, b, c."}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	p := NewAnthropic("k", WithAnthropicBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "list files"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "tc_1", Name: "list_files", Arguments: map[string]any{}}}},
			{Role: "tool", ToolCallID: "tc_1", Content: "a\nb\nc"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(captured.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(captured.Messages))
	}
	// Tool results travel as user-role tool_result blocks on this API.
	last := captured.Messages[2]
	if last.Role != "user" || len(last.Content) != 1 || last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "tc_1" {
		t.Fatalf("tool result message = %+v", last)
	}
}

func TestAnthropicErrorStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{429, true},
		{500, true},
		{401, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, `{"error":{"type":"x","message":"nope"}}`)
		}))
		p := NewAnthropic("k", WithAnthropicBaseURL(srv.URL))
		_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.status, IsTransient(err), tt.transient)
		}
	}
}

func TestOpenAICompatChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		io.WriteString(w, `{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "exec", "arguments": "{\"command\":\"ls\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 12, "total_tokens": 62}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat("sk-test", WithOpenAIBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		System:   []SystemBlock{{Text: "base", Cache: true}},
		Messages: []Message{{Role: "user", Content: "run ls"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "exec" || tc.Arguments["command"] != "ls" {
		t.Fatalf("tool call = %+v", tc)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %s", resp.FinishReason)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	p := NewOpenAICompat("k", WithOpenAIName("local"))
	r.Register(p)

	got, err := r.Resolve("")
	if err != nil || got.Name() != "local" {
		t.Fatalf("default resolve = %v, %v", got, err)
	}
	if _, err := r.Resolve("missing"); err == nil {
		t.Fatal("unknown provider resolved")
	}
}
