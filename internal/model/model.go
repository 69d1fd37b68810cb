// Package model defines the ModelClient port: the only thing the core
// knows about an LLM is that it turns prompts into JSON or text. Every
// caller must tolerate failure; the deterministic stub keeps the system
// functional offline.
package model

import (
	"context"
	"encoding/json"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request is the input for a single model run.
type Request struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	// ResponseSchema, when set, asks the model for a JSON object matching
	// the schema; the result lands in Response.Parsed.
	ResponseSchema map[string]interface{} `json:"responseSchema,omitempty"`
}

// Response is the model output. Parsed is set when a ResponseSchema was
// requested and the output decoded as JSON; Text always carries the raw
// completion.
type Response struct {
	Parsed json.RawMessage `json:"parsed,omitempty"`
	Text   string          `json:"text"`
}

// Client is the ModelClient port. Implementations must honor the context
// deadline; the agent falls back to a deterministic response on any error.
type Client interface {
	Run(ctx context.Context, req Request) (*Response, error)
	Name() string
}
