package model

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Stub is the deterministic offline model: the same request always yields
// the same response and it never fails. It is both the default binding and
// the test double.
type Stub struct{}

// NewStub returns the deterministic stub client.
func NewStub() *Stub { return &Stub{} }

// Name identifies the stub binding.
func (s *Stub) Name() string { return "stub" }

// Run synthesizes a response. With a ResponseSchema it builds a JSON object
// with zero values per property plus a confidence derived from a stable
// hash of the prompt, so analyses are repeatable but not constant across
// different inputs.
func (s *Stub) Run(_ context.Context, req Request) (*Response, error) {
	prompt := ""
	for _, m := range req.Messages {
		prompt += m.Content
	}

	if req.ResponseSchema == nil {
		return &Response{Text: fmt.Sprintf("stub response (%d chars of context)", len(prompt))}, nil
	}

	obj := map[string]interface{}{}
	if props, ok := req.ResponseSchema["properties"].(map[string]interface{}); ok {
		for name, raw := range props {
			typ := ""
			if spec, ok := raw.(map[string]interface{}); ok {
				typ, _ = spec["type"].(string)
			}
			switch typ {
			case "number", "integer":
				obj[name] = 0
			case "boolean":
				obj[name] = false
			case "array":
				obj[name] = []interface{}{}
			default:
				obj[name] = ""
			}
		}
	}
	if _, ok := obj["confidence"]; ok {
		obj["confidence"] = stableConfidence(prompt)
	}

	parsed, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("stub marshal: %w", err)
	}
	return &Response{Parsed: parsed, Text: string(parsed)}, nil
}

// stableConfidence maps a prompt to a repeatable value in [0.5, 1.0).
func stableConfidence(prompt string) float64 {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return 0.5 + float64(h.Sum32()%500)/1000
}
