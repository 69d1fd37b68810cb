package vector

import "context"

// Noop is the binding used when vector search is disabled. Writes are
// discarded and queries come back empty, so insight flows proceed without
// similarity context.
type Noop struct{}

func (Noop) Insert(context.Context, string, []float32, map[string]string) error { return nil }

func (Noop) Query(context.Context, []float32, int, bool) ([]Match, error) { return nil, nil }

func (Noop) DeleteByIDs(context.Context, []string) error { return nil }

func (Noop) Close() error { return nil }

var _ Store = Noop{}
