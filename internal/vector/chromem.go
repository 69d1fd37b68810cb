package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "inventory-analyses"

// Chromem is an embedded vector store backed by chromem-go. Vectors are
// pre-computed by the caller, so the collection's embedding function is
// never invoked. With a persist path the database survives restarts as a
// gob file next to the SQLite stores.
type Chromem struct {
	mu          sync.Mutex
	db          *chromem.DB
	col         *chromem.Collection
	persistPath string
}

// NewChromem opens (or creates) an embedded store. An empty persistPath
// keeps everything in memory.
func NewChromem(persistPath string) (*Chromem, error) {
	var db *chromem.DB

	if persistPath != "" {
		if err := os.MkdirAll(filepath.Dir(persistPath), 0o755); err != nil {
			return nil, fmt.Errorf("vector dir: %w", err)
		}
		if _, err := os.Stat(persistPath); err == nil {
			loaded, err := chromem.NewPersistentDB(persistPath, false)
			if err != nil {
				slog.Warn("vector.load_failed", "path", persistPath, "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	rejectEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must be pre-computed")
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbed)
	if err != nil {
		return nil, fmt.Errorf("vector collection: %w", err)
	}

	return &Chromem{db: db, col: col, persistPath: persistPath}, nil
}

func (c *Chromem) Insert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	doc := chromem.Document{ID: id, Metadata: metadata, Embedding: vec}
	if content, ok := metadata["content"]; ok {
		doc.Content = content
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("vector insert: %w", err)
	}
	c.persist()
	return nil
}

func (c *Chromem) Query(ctx context.Context, vec []float32, topK int, returnMetadata bool) ([]Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := c.col.Count(); n == 0 {
		return nil, nil
	} else if topK > n {
		topK = n
	}

	results, err := c.col.QueryEmbedding(ctx, vec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{ID: r.ID, Score: r.Similarity}
		if returnMetadata {
			m.Metadata = r.Metadata
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (c *Chromem) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}
	c.persist()
	return nil
}

// Close flushes the database to disk when persistence is enabled.
func (c *Chromem) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.persistPath == "" {
		return nil
	}
	if err := c.db.Export(c.persistPath, false, ""); err != nil {
		return fmt.Errorf("vector export: %w", err)
	}
	return nil
}

func (c *Chromem) persist() {
	if c.persistPath == "" {
		return
	}
	if err := c.db.Export(c.persistPath, false, ""); err != nil {
		slog.Warn("vector.persist_failed", "error", err)
	}
}

var _ Store = (*Chromem)(nil)
