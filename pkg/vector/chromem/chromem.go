// Package chromem provides an embedded, pure-Go vector driver backed by
// chromem-go. It needs no external service, which makes it the default
// for local single-user deployments.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/vector"
)

// Driver implements vector.Driver using chromem-go. One driver instance
// manages one collection.
type Driver struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
	name       string
	mu         sync.Mutex
	logger     *zap.Logger
}

// Config holds configuration for the chromem driver.
type Config struct {
	// Path is the directory used for persistence. Empty means in-memory only.
	Path string

	// Collection is the name of the collection to use
	// (vector.CollectionMemories or vector.CollectionFlowmos).
	Collection string
}

// NewDriver creates a chromem-go backed vector driver.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	var db *chromemgo.DB
	var err error
	if c.Path != "" {
		db, err = chromemgo.NewPersistentDB(c.Path, false)
		if err != nil {
			return nil, fmt.Errorf("opening persistent chromem db: %w", err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(c.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", c.Collection, err)
	}

	logger.Info("chromem vector driver initialized",
		zap.String("path", c.Path),
		zap.String("collection", c.Collection),
	)

	return &Driver{
		db:         db,
		collection: col,
		name:       c.Collection,
		logger:     logger,
	}, nil
}

// Upsert stores documents with their embeddings. chromem's AddDocument
// overwrites documents with the same id.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		cdoc := chromemgo.Document{
			ID:        doc.ID,
			Content:   doc.Text,
			Embedding: doc.Embedding,
			Metadata:  map[string]string{"source": doc.Source},
		}
		if err := d.collection.AddDocument(ctx, cdoc); err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}

	d.logger.Debug("upserted documents to chromem",
		zap.String("collection", d.name),
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query finds the topK nearest documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// chromem rejects nResults larger than the collection size.
	count := d.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	raw, err := d.collection.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(raw))
	for _, r := range raw {
		qr := vector.QueryResult{
			Document: vector.Document{
				ID:   r.ID,
				Text: r.Content,
			},
			// chromem reports cosine similarity; convert to a distance
			// so smaller keeps meaning closer.
			Distance: 1 - r.Similarity,
		}
		if r.Metadata != nil {
			qr.Source = r.Metadata["source"]
		}
		results = append(results, qr)
	}

	d.logger.Debug("queried chromem",
		zap.String("collection", d.name),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Delete removes documents by their IDs. Missing ids are ignored.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	d.logger.Debug("deleted documents from chromem",
		zap.String("collection", d.name),
		zap.Int("count", len(ids)),
	)

	return nil
}

// Clear deletes the collection and recreates it empty.
func (d *Driver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.db.DeleteCollection(d.name); err != nil {
		return fmt.Errorf("deleting collection %q: %w", d.name, err)
	}

	col, err := d.db.GetOrCreateCollection(d.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreating collection %q: %w", d.name, err)
	}
	d.collection = col

	d.logger.Info("cleared chromem collection",
		zap.String("collection", d.name),
	)

	return nil
}

// Close releases resources. chromem keeps its state in memory plus the
// persistence directory, so there is nothing to flush here.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
