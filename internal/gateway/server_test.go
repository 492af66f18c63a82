package gateway

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Miosa-osa/OSA-sub005/internal/agent"
	"github.com/Miosa-osa/OSA-sub005/internal/bus"
	"github.com/Miosa-osa/OSA-sub005/internal/hooks"
	"github.com/Miosa-osa/OSA-sub005/internal/prompt"
	"github.com/Miosa-osa/OSA-sub005/internal/providers"
	"github.com/Miosa-osa/OSA-sub005/internal/sessions"
	"github.com/Miosa-osa/OSA-sub005/internal/signal"
	"github.com/Miosa-osa/OSA-sub005/internal/swarm"
	"github.com/Miosa-osa/OSA-sub005/internal/tools"
	"github.com/Miosa-osa/OSA-sub005/pkg/protocol"
)

// scriptedProvider returns canned responses in order; the last one repeats.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "scripted" }

type echoTool struct{}

func (echoTool) Name() string           { return "echo" }
func (echoTool) Description() string    { return "echo input back" }
func (echoTool) Schema() map[string]any { return nil }
func (echoTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	text, _ := args["text"].(string)
	return tools.NewResult("echo: " + text)
}

type fixedPlanner struct{ items []swarm.PlanItem }

func (p fixedPlanner) Plan(ctx context.Context, task string, maxAgents int) ([]swarm.PlanItem, error) {
	return p.items, nil
}

type fixture struct {
	server   *httptest.Server
	events   *bus.Bus
	sessions *sessions.Registry
	provider *scriptedProvider
}

func newTestServer(t *testing.T, p *scriptedProvider, mutate func(*Options)) *fixture {
	t.Helper()

	b := bus.New()
	reg := tools.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	builder := prompt.NewBuilder(nil, 8000, 500)
	builder.SetStaticInputs(nil, prompt.Profile{Identity: "test agent"})

	sr := sessions.NewRegistry(b, nil)
	t.Cleanup(sr.Close)

	loop := agent.New(agent.Config{
		Provider:      p,
		Tools:         reg,
		Hooks:         hooks.NewRegistry(nil),
		Events:        b,
		Builder:       builder,
		MaxIterations: 5,
		Retry:         providers.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})

	orch := swarm.NewOrchestrator(p,
		fixedPlanner{items: []swarm.PlanItem{{Role: "generalist", Subtask: "do the thing"}}},
		b, swarm.Limits{}, nil)

	opts := Options{Host: "127.0.0.1", Port: 0}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(opts, Deps{
		Classifier:   signal.NewClassifier(),
		Filter:       signal.NewFilter(0.3),
		Sessions:     sr,
		Loop:         loop,
		Tools:        reg,
		Orchestrator: orch,
		Events:       b,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, events: b, sessions: sr, provider: p}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestOrchestrateNoiseFiltered(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "should never run", FinishReason: "stop"},
	}}
	f := newTestServer(t, p, nil)

	sub := f.events.Subscribe(bus.Firehose, 16)
	defer f.events.Unsubscribe(sub)

	resp, body := postJSON(t, f.server.URL+"/orchestrate",
		map[string]any{"message": "ok", "channel": "cli"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body["error"] != "signal_filtered" {
		t.Fatalf("error = %v", body["error"])
	}
	if body["signal"] == nil {
		t.Fatal("filtered response missing the signal")
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times for filtered input", p.calls)
	}

	filtered := 0
	deadline := time.After(time.Second)
	for filtered == 0 {
		select {
		case ev := <-sub.C:
			if ev.Type == protocol.EventSignalFiltered {
				filtered++
			}
		case <-deadline:
			t.Fatal("signal_filtered event never published")
		}
	}
}

func TestOrchestrateToolTurn(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []providers.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "hi"}}},
			Usage:        providers.Usage{PromptTokens: 100, CompletionTokens: 10},
		},
		{
			Content:      "Three files: a, b, c.",
			FinishReason: "stop",
			Usage:        providers.Usage{PromptTokens: 120, CompletionTokens: 15},
		},
	}}
	f := newTestServer(t, p, nil)

	resp, body := postJSON(t, f.server.URL+"/orchestrate",
		map[string]any{"message": "What files are in the current directory?", "channel": "http"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["reply"] != "Three files: a, b, c." {
		t.Fatalf("reply = %v", body["reply"])
	}
	if body["session_id"] == "" {
		t.Fatal("no session id returned")
	}
	if p.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", p.calls)
	}
}

func TestOrchestrateIterationLimit(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []providers.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "again"}}},
		},
	}}
	f := newTestServer(t, p, nil)

	resp, body := postJSON(t, f.server.URL+"/orchestrate",
		map[string]any{"message": "please loop forever on the echo tool"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["error"] != "iteration_limit" {
		t.Fatalf("error = %v", body["error"])
	}
	if p.calls != 5 {
		t.Fatalf("provider calls = %d, want exactly max iterations", p.calls)
	}
}

func TestOrchestrateValidation(t *testing.T) {
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}}, nil)

	resp, body := postJSON(t, f.server.URL+"/orchestrate", map[string]any{"channel": "http"})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_input" {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}}, nil)

	resp, body := postJSON(t, f.server.URL+"/classify",
		map[string]any{"message": "URGENT: deploy the fix now!", "channel": "cli"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["mode"] == nil || body["weight"] == nil {
		t.Fatalf("classify body = %v", body)
	}
}

func TestToolsListAndExecute(t *testing.T) {
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}}, nil)

	resp, err := http.Get(f.server.URL + "/tools")
	if err != nil {
		t.Fatal(err)
	}
	var listing struct {
		Version int `json:"version"`
		Tools   []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(listing.Tools) != 1 || listing.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", listing.Tools)
	}

	execResp, body := postJSON(t, f.server.URL+"/tools/echo/execute", map[string]any{"text": "direct"})
	if execResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", execResp.StatusCode)
	}
	if body["output"] != "echo: direct" {
		t.Fatalf("output = %v", body["output"])
	}

	missing, body := postJSON(t, f.server.URL+"/tools/nope/execute", map[string]any{})
	if missing.StatusCode != http.StatusNotFound || body["error"] != "not_found" {
		t.Fatalf("status = %d body = %v", missing.StatusCode, body)
	}
}

func TestSwarmLifecycleOverHTTP(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "worker output", FinishReason: "stop"},
	}}
	f := newTestServer(t, p, nil)

	resp, body := postJSON(t, f.server.URL+"/swarm/launch",
		map[string]any{"task": "Plan a launch", "pattern": "parallel", "max_agents": 3})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	id, _ := body["swarm_id"].(string)
	if id == "" {
		t.Fatal("no swarm id")
	}

	var status swarm.Status
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(f.server.URL + "/swarm/" + id)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
			t.Fatal(err)
		}
		r.Body.Close()
		if status.State.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("swarm never finished: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.State != swarm.StateCompleted {
		t.Fatalf("state = %s", status.State)
	}

	// Cancelling a terminal swarm is a stable logical error.
	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/swarm/"+id, nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("cancel terminal status = %d", dresp.StatusCode)
	}

	r, err := http.Get(f.server.URL + "/swarm/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown swarm status = %d", r.StatusCode)
	}
}

func TestSessionStreamOwnership(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	f := newTestServer(t, p, nil)

	if _, err := f.sessions.Ensure("owned", "alice", "http"); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/stream/owned", nil)
	req.Header.Set("X-User-ID", "mallory")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user stream status = %d, want 404", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/stream/owned", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestFirehoseStreamDeliversEvents(t *testing.T) {
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/events/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Give the subscription a moment to land before publishing.
	time.Sleep(50 * time.Millisecond)
	f.events.Publish(bus.Event{Type: "llm_request", SessionID: "s1", Timestamp: time.Now()})

	reader := bufio.NewReader(resp.Body)
	var sawEvent bool
	for !sawEvent {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read: %v", err)
		}
		if strings.HasPrefix(line, "event: llm_request") {
			sawEvent = true
		}
	}
}

func TestBearerAuth(t *testing.T) {
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}},
		func(o *Options) { o.SharedSecret = "hush" })

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/health", nil)
	req.Header.Set("Authorization", "Bearer hush")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d", resp.StatusCode)
	}
}

func TestHMACSignatureAndNonceReplay(t *testing.T) {
	const secret = "hush"
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}},
		func(o *Options) { o.SharedSecret = secret })

	body := []byte(`{"message":"URGENT: sign this request now","channel":"http"}`)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	nonce := "nonce-1"

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%s\n", timestamp, nonce)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	send := func() int {
		req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/classify", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+secret)
		req.Header.Set("X-SIG", sig)
		req.Header.Set("X-TIMESTAMP", timestamp)
		req.Header.Set("X-NONCE", nonce)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("signed request status = %d", code)
	}
	// Same nonce again is a replay.
	if code := send(); code != http.StatusUnauthorized {
		t.Fatalf("replayed request status = %d, want 401", code)
	}

	// Bad signature.
	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/classify", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("X-SIG", "deadbeef")
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-NONCE", "nonce-2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	f := newTestServer(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x"}}},
		func(o *Options) { o.RateLimitRPM = 1 })

	var limited bool
	for i := 0; i < 10; i++ {
		resp, err := http.Get(f.server.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}

func TestOrchestrateCrossUserSessionNotFound(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "noted", FinishReason: "stop"},
	}}
	f := newTestServer(t, p, nil)

	resp, body := postJSON(t, f.server.URL+"/orchestrate", map[string]any{
		"message":    "Please remember that my deploy key rotates on Friday.",
		"session_id": "alice-notes",
		"user_id":    "alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner turn status = %d body = %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, f.server.URL+"/orchestrate", map[string]any{
		"message":    "What did the other user ask you to remember?",
		"session_id": "alice-notes",
		"user_id":    "mallory",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user status = %d, want 404", resp.StatusCode)
	}
	if body["error"] != "not_found" {
		t.Fatalf("error = %v, want not_found", body["error"])
	}
}
