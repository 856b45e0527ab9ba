package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/embeddings"
	"github.com/secondme/secondme/pkg/vector"
)

// Retriever ranks stored memories and flowmos against a query. Both
// collections share one embedding model, so their distances are directly
// comparable and merge into a single ranking.
type Retriever struct {
	embedder embeddings.Embedder
	memories vector.Driver
	flowmos  vector.Driver
	logger   *zap.Logger
}

// NewRetriever creates a Retriever. The flowmos driver may be nil; retrieval
// then ranks memories alone.
func NewRetriever(embedder embeddings.Embedder, memories, flowmos vector.Driver, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder: embedder,
		memories: memories,
		flowmos:  flowmos,
		logger:   logger,
	}
}

// Retrieve returns the topK nearest documents across both collections,
// ascending by distance. Each collection is over-fetched at 2*topK so one
// collection can dominate the merged ranking when its matches are closer.
// Retrieval is read-only; recording usage is the caller's job, after the
// reply that grounded on the results has been persisted.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	fetch := 2 * topK

	merged, err := r.memories.Query(ctx, embedding, fetch)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}

	if r.flowmos != nil {
		flowmoResults, err := r.flowmos.Query(ctx, embedding, fetch)
		if err != nil {
			// A degraded flowmo index should not blank the whole reply.
			r.logger.Warn("querying flowmos failed", zap.Error(err))
		} else {
			merged = append(merged, flowmoResults...)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// SystemPrompt renders retrieved results into the grounding system prompt
// for a chat reply. Returns "" when there is nothing to ground on.
func SystemPrompt(results []vector.QueryResult) string {
	if len(results) == 0 {
		return ""
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, "- "+r.Text)
	}

	return fmt.Sprintf(`You are an AI assistant with long-term memory.

Here are memories related to the current question:
---
%s
---

Use these memories together with the conversation to answer. If a memory is relevant, you may bring it up proactively.`,
		strings.Join(lines, "\n"))
}
