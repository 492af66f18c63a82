package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIAPIBase      = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAICompat implements Provider against the chat-completions API. It
// works for OpenAI and for compatible endpoints (OpenRouter, Groq, local
// gateways) via a custom base URL.
type OpenAICompat struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

type OpenAIOption func(*OpenAICompat)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAICompat) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAICompat) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithOpenAIName overrides the provider identifier for compatible vendors.
func WithOpenAIName(name string) OpenAIOption {
	return func(p *OpenAICompat) {
		if name != "" {
			p.name = name
		}
	}
}

func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAICompat) {
		if c != nil {
			p.client = c
		}
	}
}

func NewOpenAICompat(apiKey string, opts ...OpenAIOption) *OpenAICompat {
	p := &OpenAICompat{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      openAIAPIBase,
		defaultModel: defaultOpenAIModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAICompat) Name() string         { return p.name }
func (p *OpenAICompat) DefaultModel() string { return p.defaultModel }

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAICompat) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := oaRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	// No content-level caching on this API: concatenate the system blocks.
	if len(req.System) > 0 {
		var sys strings.Builder
		for i, blk := range req.System {
			if i > 0 {
				sys.WriteString("\n\n")
			}
			sys.WriteString(blk.Text)
		}
		body.Messages = append(body.Messages, oaMessage{Role: "system", Content: sys.String()})
	}

	for _, m := range req.Messages {
		om := oaMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		body.Messages = append(body.Messages, om)
	}

	for _, t := range req.Tools {
		ot := oaTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		if ot.Function.Parameters == nil {
			ot.Function.Parameters = map[string]any{"type": "object"}
		}
		body.Tools = append(body.Tools, ot)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Reason: err.Error()}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Reason: "read response: " + err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(httpResp.StatusCode, summarizeBody(raw), parseRetryAfter(httpResp))
	}

	var resp oaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Kind: KindHard, Reason: "decode response: " + err.Error()}
	}
	if resp.Error != nil {
		return nil, &Error{Kind: KindHard, Reason: resp.Error.Message}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindHard, Reason: "empty choices"}
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed arguments become an empty object; the tool layer
			// reports the schema violation back to the model.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	switch choice.FinishReason {
	case "tool_calls":
		out.FinishReason = "tool_calls"
	case "length":
		out.FinishReason = "length"
	default:
		out.FinishReason = "stop"
	}
	return out, nil
}
