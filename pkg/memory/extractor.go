// Package memory implements the long-term memory pipeline: silence-gated
// extraction of typed memories from conversations, merged retrieval over the
// memory and flowmo vector collections, and flowmo session segmentation.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/embeddings"
	"github.com/secondme/secondme/pkg/eventstream"
	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/store"
	"github.com/secondme/secondme/pkg/vector"
)

const (
	// candidateTopK bounds the existing memories offered to the model for
	// deduplication.
	candidateTopK = 10

	// queryMessageLimit caps how many new messages seed the candidate
	// search query.
	queryMessageLimit = 5
)

// ExtractorConfig configures a memory Extractor.
type ExtractorConfig struct {
	// ContextMessages is how many already-processed messages precede the
	// new batch in the prompt, for continuity.
	ContextMessages int

	// AdvanceOnParseFailure controls whether an unparseable model response
	// still advances the extraction cursor. When false the batch is
	// retried on the next silent window.
	AdvanceOnParseFailure bool
}

// Extractor turns the unprocessed tail of a silent topic into memory rows
// and vectors. The chat model decides what to keep; the extractor only
// persists and indexes what comes back.
type Extractor struct {
	store     *store.Store
	chat      llm.ChatClient
	embedder  embeddings.Embedder
	memories  vector.Driver
	publisher eventstream.Publisher
	cfg       ExtractorConfig
	logger    *zap.Logger
}

// NewExtractor creates an Extractor. The embedder and memories driver may be
// nil; extraction then persists rows without vectors and offers the full
// extracted set as dedup candidates instead of a similarity search.
func NewExtractor(
	s *store.Store,
	chat llm.ChatClient,
	embedder embeddings.Embedder,
	memories vector.Driver,
	publisher eventstream.Publisher,
	cfg ExtractorConfig,
	logger *zap.Logger,
) *Extractor {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 6
	}
	return &Extractor{
		store:     s,
		chat:      chat,
		embedder:  embedder,
		memories:  memories,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// ExtractTopic processes one topic's unprocessed messages. The cursor
// advances only after all mutations for the batch have been committed; a
// failed chat call leaves the topic untouched so the batch is retried.
func (e *Extractor) ExtractTopic(ctx context.Context, topic *store.Topic) error {
	fresh, err := e.store.UnprocessedMessages(ctx, topic)
	if err != nil {
		return fmt.Errorf("loading unprocessed messages: %w", err)
	}
	if len(fresh) == 0 {
		return nil
	}

	e.logger.Info("extracting memories",
		zap.String("topic_id", topic.ID),
		zap.Int("new_messages", len(fresh)),
	)

	contextMsgs, err := e.store.ContextMessages(ctx, topic.ID, topic.LastProcessedMessageID, e.contextLimit(ctx))
	if err != nil {
		return fmt.Errorf("loading context messages: %w", err)
	}

	candidates := e.searchCandidates(ctx, topic.UserID, fresh)

	prompt := buildExtractionPrompt(candidates, contextMsgs, fresh)

	response, err := e.chat.Complete(ctx, []llm.Message{llm.UserMessage(prompt)}, "")
	if err != nil {
		// No cursor advance: the batch stays eligible for the next window.
		return fmt.Errorf("extraction completion: %w", err)
	}

	result, parsed := parseExtractionResult(response)
	if !parsed {
		e.logger.Warn("unparseable extraction response",
			zap.String("topic_id", topic.ID),
			zap.String("response_prefix", truncate(response, 200)),
		)
		if !e.cfg.AdvanceOnParseFailure {
			return nil
		}
	}

	e.logger.Info("extraction result",
		zap.String("topic_id", topic.ID),
		zap.Int("add", len(result.Add)),
		zap.Int("update", len(result.Update)),
		zap.String("reason", result.Reason),
	)

	var added, updated int

	for _, item := range result.Add {
		if item.Content == "" {
			continue
		}

		m, err := e.store.CreateExtractedMemory(ctx, topic.UserID, item.Content, item.Type, topic.ID)
		if err != nil {
			return fmt.Errorf("creating extracted memory: %w", err)
		}
		added++

		e.indexMemory(ctx, m.ID, item.Content, store.SourceChat)
	}

	for _, item := range result.Update {
		if item.ID == "" || item.Content == "" {
			continue
		}

		if _, err := e.store.UpdateMemoryContent(ctx, item.ID, item.Content); err != nil {
			// The model may reference a memory the user deleted meanwhile.
			e.logger.Warn("skipping update for unknown memory",
				zap.String("memory_id", item.ID),
				zap.Error(err),
			)
			continue
		}
		updated++

		e.indexMemory(ctx, item.ID, item.Content, store.SourceChat)
	}

	if err := e.store.MarkProcessed(ctx, topic.ID, fresh[len(fresh)-1].ID); err != nil {
		return fmt.Errorf("advancing extraction cursor: %w", err)
	}

	e.publishCommitted(ctx, topic.ID, added, updated, result.Reason)

	return nil
}

// searchCandidates finds existing memories related to the new batch so the
// model can dedup against them. Any failure degrades to an empty candidate
// list rather than blocking extraction.
func (e *Extractor) searchCandidates(ctx context.Context, userID string, fresh []store.Message) []candidateMemory {
	if e.embedder == nil || e.memories == nil {
		return e.allCandidates(ctx, userID)
	}

	n := len(fresh)
	if n > queryMessageLimit {
		n = queryMessageLimit
	}
	parts := make([]string, 0, n)
	for _, m := range fresh[:n] {
		parts = append(parts, m.Content)
	}
	query := strings.Join(parts, " ")

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("candidate query embedding failed", zap.Error(err))
		return nil
	}

	results, err := e.memories.Query(ctx, embedding, candidateTopK)
	if err != nil {
		e.logger.Warn("candidate memory search failed", zap.Error(err))
		return nil
	}

	candidates := make([]candidateMemory, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, candidateMemory{ID: r.ID, Content: r.Text})
	}
	return candidates
}

// allCandidates is the no-embedder fallback: offer every extracted memory.
func (e *Extractor) allCandidates(ctx context.Context, userID string) []candidateMemory {
	memories, err := e.store.ListAllExtractedMemories(ctx, userID)
	if err != nil {
		e.logger.Warn("listing candidate memories failed", zap.Error(err))
		return nil
	}

	candidates := make([]candidateMemory, 0, len(memories))
	for _, m := range memories {
		candidates = append(candidates, candidateMemory{ID: m.ID, Content: m.Content})
	}
	return candidates
}

// indexMemory embeds and upserts one memory vector. Vector failures are
// non-fatal: the row is the source of truth and the index can be rebuilt.
func (e *Extractor) indexMemory(ctx context.Context, id, content, source string) {
	if e.embedder == nil || e.memories == nil {
		return
	}

	embedding, err := e.embedder.Embed(ctx, content)
	if err != nil {
		e.logger.Error("embedding memory failed", zap.String("memory_id", id), zap.Error(err))
		return
	}

	doc := vector.Document{ID: id, Text: content, Embedding: embedding, Source: source}
	if err := e.memories.Upsert(ctx, []vector.Document{doc}); err != nil {
		e.logger.Error("indexing memory failed", zap.String("memory_id", id), zap.Error(err))
	}
}

func (e *Extractor) publishCommitted(ctx context.Context, topicID string, added, updated int, reason string) {
	if e.publisher == nil {
		return
	}

	event := &eventstream.MemoryEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeExtractionCommitted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		TopicID:       topicID,
		Added:         added,
		Updated:       updated,
		Reason:        reason,
	}
	if err := e.publisher.PublishMemory(ctx, event); err != nil {
		e.logger.Warn("publishing extraction event failed", zap.Error(err))
	}
}

// contextLimit resolves the context-window size for a batch. A matching
// settings row overrides the constructed default, so the key is live at
// runtime like the scheduler's silence settings.
func (e *Extractor) contextLimit(ctx context.Context) int {
	value, err := e.store.GetSetting(ctx, store.SettingMemoryContextMessages)
	if err != nil {
		return e.cfg.ContextMessages
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return e.cfg.ContextMessages
	}
	return n
}

// truncate shortens s to at most n bytes, backing up so the cut never
// splits a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
