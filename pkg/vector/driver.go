// Package vector provides interfaces and implementations for vector storage
// and similarity search over memory and flowmo collections.
package vector

import "context"

// Collection names for the two logical vector collections. Both live in the
// same embedding space; a Driver instance is bound to exactly one collection.
const (
	CollectionMemories = "memories"
	CollectionFlowmos  = "flowmos"
)

// Document represents a stored item with its embedding and metadata.
type Document struct {
	// ID is the id of the owning Memory or Flowmo row. One vector per entity.
	ID string

	// Text is the document text the embedding was computed from.
	Text string

	// Embedding is the vector representation of the text.
	Embedding []float32

	// Source tags where the entity came from ("chat", "manual", "direct").
	Source string
}

// QueryResult represents a search result with its distance to the query.
type QueryResult struct {
	Document

	// Distance to the query embedding; smaller means more similar. Distances
	// are comparable across collections sharing the same embedding model.
	Distance float32
}

// Driver handles storage and retrieval of vector embeddings for a single
// collection. The vector store is a derived, rebuildable cache keyed by
// entity id; the relational store remains the source of truth for existence.
type Driver interface {
	// Upsert stores documents with their embeddings. A document with an
	// existing ID fully replaces the stored text and embedding.
	Upsert(ctx context.Context, docs []Document) error

	// Query finds the topK nearest documents to the given embedding,
	// ordered ascending by distance.
	Query(ctx context.Context, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by their IDs. Deleting a missing id is not
	// an error.
	Delete(ctx context.Context, ids []string) error

	// Clear drops all documents in the collection and recreates it empty.
	Clear(ctx context.Context) error

	// Close releases any resources held by the driver.
	Close() error
}
