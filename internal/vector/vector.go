// Package vector defines the VectorStore port used for similarity lookups
// over inventory analyses. The store is optional: a nil or noop binding
// degrades insight queries to empty context, never to an error surfaced to
// clients.
package vector

import "context"

// Match is one similarity hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Store is the VectorStore port.
type Store interface {
	Insert(ctx context.Context, id string, vec []float32, metadata map[string]string) error
	Query(ctx context.Context, vec []float32, topK int, returnMetadata bool) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	Close() error
}
