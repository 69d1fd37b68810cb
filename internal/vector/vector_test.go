package vector

import (
	"context"
	"math"
	"testing"
)

func TestEmbedShape(t *testing.T) {
	tests := []string{
		"stock 3 at or below threshold 5 for WIDGET-1",
		"xy", // shorter than one trigram
		"",
	}
	for _, text := range tests {
		vec := Embed(text)
		if len(vec) != Dim {
			t.Fatalf("Embed(%q) has %d dims, want %d", text, len(vec), Dim)
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("Embed(%q) norm = %v, want 1", text, norm)
		}
	}
}

func TestEmbedDeterministic(t *testing.T) {
	a := Embed("reorder WIDGET-1 soon")
	b := Embed("reorder WIDGET-1 soon")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text embedded differently at dim %d", i)
		}
	}

	c := Embed("a completely different sentence about GADGET-7")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical vectors")
	}
}

func TestEmbedCaseInsensitive(t *testing.T) {
	a := Embed("Widget Restock")
	b := Embed("widget restock")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("case changed the embedding at dim %d", i)
		}
	}
}

func TestChromemRoundTrip(t *testing.T) {
	c, err := NewChromem("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	texts := map[string]string{
		"a1": "widget stock declining fast",
		"a2": "gadget stock perfectly stable",
		"a3": "widget stock declining slowly",
	}
	for id, text := range texts {
		meta := map[string]string{"sku": id, "content": text}
		if err := c.Insert(ctx, id, Embed(text), meta); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	matches, err := c.Query(ctx, Embed("widget stock declining fast"), 2, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].ID != "a1" {
		t.Errorf("best match = %s, want a1", matches[0].ID)
	}
	if matches[0].Metadata["content"] == "" {
		t.Error("metadata missing on match")
	}

	// topK above the collection size clamps instead of failing.
	matches, err = c.Query(ctx, Embed("anything"), 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Errorf("clamped matches = %d, want 3", len(matches))
	}
	if matches[0].Metadata != nil {
		t.Error("metadata returned when not requested")
	}

	if err := c.DeleteByIDs(ctx, []string{"a1", "a2", "a3"}); err != nil {
		t.Fatal(err)
	}
	matches, err = c.Query(ctx, Embed("anything"), 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("matches after delete = %d, want 0", len(matches))
	}
}

func TestNoopStore(t *testing.T) {
	var s Store = Noop{}
	ctx := context.Background()

	if err := s.Insert(ctx, "x", Embed("x"), nil); err != nil {
		t.Errorf("insert: %v", err)
	}
	matches, err := s.Query(ctx, Embed("x"), 5, true)
	if err != nil || matches != nil {
		t.Errorf("query = %v, %v; want nil, nil", matches, err)
	}
	if err := s.DeleteByIDs(ctx, []string{"x"}); err != nil {
		t.Errorf("delete: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
