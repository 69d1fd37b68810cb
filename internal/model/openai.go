package model

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

// OpenAI talks to OpenAI-compatible chat completion APIs (OpenAI, Groq,
// OpenRouter, DeepSeek, local VLLM). When the request carries a
// ResponseSchema the first JSON object is extracted from the completion,
// tolerating markdown code fences.
type OpenAI struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
}

// NewOpenAI builds a client. An empty apiBase targets api.openai.com.
func NewOpenAI(name, apiKey, apiBase, defaultModel string, timeout time.Duration) *OpenAI {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
	}
}

func (p *OpenAI) Name() string { return p.name }

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) Run(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs := req.Messages
	if req.ResponseSchema != nil {
		schema, _ := json.Marshal(req.ResponseSchema)
		msgs = append(msgs, Message{
			Role:    "system",
			Content: "Respond with a single JSON object matching this schema, no prose: " + string(schema),
		})
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":    model,
		"messages": msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, string(b))
	}

	var oai openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oai); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(oai.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty completion", p.name)
	}

	out := &Response{Text: oai.Choices[0].Message.Content}
	if req.ResponseSchema != nil {
		parsed, err := extractJSON(out.Text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		out.Parsed = parsed
	}
	return out, nil
}

// extractJSON pulls the first JSON object out of a completion, stripping
// code fences when the model wraps its answer in them.
func extractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}
	raw := json.RawMessage(s[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON in completion")
	}
	return raw, nil
}

var _ Client = (*OpenAI)(nil)
