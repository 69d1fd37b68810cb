package model

import (
	"context"
	"encoding/json"
	"testing"
)

func TestStubTextResponse(t *testing.T) {
	s := NewStub()
	resp, err := s.Run(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Text == "" || resp.Parsed != nil {
		t.Errorf("resp = %+v, want text only", resp)
	}
}

func TestStubSchemaResponse(t *testing.T) {
	s := NewStub()
	req := Request{
		Messages: []Message{{Role: "user", Content: "analyze WIDGET-1"}},
		ResponseSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"shouldReorder": map[string]interface{}{"type": "boolean"},
				"quantity":      map[string]interface{}{"type": "integer"},
				"confidence":    map[string]interface{}{"type": "number"},
				"reasoning":     map[string]interface{}{"type": "string"},
				"tags":          map[string]interface{}{"type": "array"},
			},
		},
	}

	resp, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var parsed struct {
		ShouldReorder bool          `json:"shouldReorder"`
		Quantity      int64         `json:"quantity"`
		Confidence    float64       `json:"confidence"`
		Reasoning     string        `json:"reasoning"`
		Tags          []interface{} `json:"tags"`
	}
	if err := json.Unmarshal(resp.Parsed, &parsed); err != nil {
		t.Fatalf("parsed is not the schema shape: %v", err)
	}
	if parsed.ShouldReorder || parsed.Quantity != 0 || parsed.Reasoning != "" {
		t.Errorf("non-zero defaults: %+v", parsed)
	}
	if parsed.Confidence < 0.5 || parsed.Confidence >= 1.0 {
		t.Errorf("confidence = %v, want [0.5, 1.0)", parsed.Confidence)
	}

	// Same prompt, same confidence; different prompt, usually different.
	again, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if string(again.Parsed) != string(resp.Parsed) {
		t.Errorf("stub is not deterministic: %s vs %s", again.Parsed, resp.Parsed)
	}
}

func TestStubName(t *testing.T) {
	if got := NewStub().Name(); got != "stub" {
		t.Errorf("Name() = %q", got)
	}
}
