// Package qdrant provides a Qdrant vector database driver implementation
// over the official gRPC client.
package qdrant

import (
	"context"
	"fmt"

	qdrantgo "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/vector"
)

// Driver implements vector.Driver backed by a Qdrant collection. Document
// ids must be UUIDs, which is what the rest of the system generates.
type Driver struct {
	client     *qdrantgo.Client
	collection string
	dimensions uint64
	logger     *zap.Logger
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Host is the Qdrant server host (e.g., "localhost").
	Host string

	// Port is the Qdrant gRPC port. Defaults to 6334 if zero.
	Port int

	// APIKey is optional and only needed for managed deployments.
	APIKey string

	// Collection is the name of the collection to use
	// (vector.CollectionMemories or vector.CollectionFlowmos).
	Collection string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint64
}

// NewDriver creates a Qdrant vector driver and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if c.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	port := c.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrantgo.NewClient(&qdrantgo.Config{
		Host:   c.Host,
		Port:   port,
		APIKey: c.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", vector.ErrConnection, err)
	}

	d := &Driver{
		client:     client,
		collection: c.Collection,
		dimensions: c.Dimensions,
		logger:     logger,
	}

	if err := d.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("connected to Qdrant",
		zap.String("host", c.Host),
		zap.Int("port", port),
		zap.String("collection", c.Collection),
		zap.Uint64("dimensions", c.Dimensions),
	)

	return d, nil
}

func (d *Driver) ensureCollection(ctx context.Context) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection %q: %v", vector.ErrConnection, d.collection, err)
	}
	if exists {
		return nil
	}

	err = d.client.CreateCollection(ctx, &qdrantgo.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qdrantgo.NewVectorsConfig(&qdrantgo.VectorParams{
			Size:     d.dimensions,
			Distance: qdrantgo.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", d.collection, err)
	}

	return nil
}

// Upsert stores documents with their embeddings, replacing existing ids.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrantgo.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdrantgo.PointStruct{
			Id:      qdrantgo.NewIDUUID(doc.ID),
			Vectors: qdrantgo.NewVectors(doc.Embedding...),
			Payload: qdrantgo.NewValueMap(map[string]any{
				"text":   doc.Text,
				"source": doc.Source,
			}),
		}
	}

	_, err := d.client.Upsert(ctx, &qdrantgo.UpsertPoints{
		CollectionName: d.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("upserted documents to qdrant",
		zap.String("collection", d.collection),
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query finds the topK nearest documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	limit := uint64(topK)
	points, err := d.client.Query(ctx, &qdrantgo.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrantgo.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrantgo.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		qr := vector.QueryResult{
			Document: vector.Document{
				ID: p.GetId().GetUuid(),
			},
			// Qdrant scores cosine as similarity; convert to a distance
			// so smaller keeps meaning closer.
			Distance: 1 - p.GetScore(),
		}
		if payload := p.GetPayload(); payload != nil {
			if v, ok := payload["text"]; ok {
				qr.Text = v.GetStringValue()
			}
			if v, ok := payload["source"]; ok {
				qr.Source = v.GetStringValue()
			}
		}
		results = append(results, qr)
	}

	d.logger.Debug("queried qdrant",
		zap.String("collection", d.collection),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Delete removes documents by their IDs. Qdrant ignores unknown ids.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrantgo.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantgo.NewIDUUID(id)
	}

	_, err := d.client.Delete(ctx, &qdrantgo.DeletePoints{
		CollectionName: d.collection,
		Points:         qdrantgo.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	d.logger.Debug("deleted documents from qdrant",
		zap.String("collection", d.collection),
		zap.Int("count", len(ids)),
	)

	return nil
}

// Clear deletes the collection and recreates it empty.
func (d *Driver) Clear(ctx context.Context) error {
	if err := d.client.DeleteCollection(ctx, d.collection); err != nil {
		return fmt.Errorf("deleting collection %q: %w", d.collection, err)
	}

	if err := d.ensureCollection(ctx); err != nil {
		return err
	}

	d.logger.Info("cleared qdrant collection",
		zap.String("collection", d.collection),
	)

	return nil
}

// Close releases the underlying gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

var _ vector.Driver = (*Driver)(nil)
