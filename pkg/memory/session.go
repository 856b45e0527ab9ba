package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/embeddings"
	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/store"
	"github.com/secondme/secondme/pkg/vector"
)

// FlowmoSystemPrompt steers replies in the flowmo topic toward listening
// rather than problem solving.
const FlowmoSystemPrompt = `You are a good listener. The user is recording their thoughts, feelings, or daily life.
Respond warmly and with empathy; a short reply is fine, or expand if it helps.
Don't rush to give advice. Understand and keep them company first.`

// Segmenter splits the flowmo topic into journal sessions. A user message
// arriving after a quiet gap of at least the interval opens a new session
// and is captured as a flowmo entry.
type Segmenter struct {
	store    *store.Store
	embedder embeddings.Embedder
	flowmos  vector.Driver
	interval time.Duration
	logger   *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewSegmenter creates a Segmenter. The embedder and flowmos driver may be
// nil; entries are then captured without vectors.
func NewSegmenter(s *store.Store, embedder embeddings.Embedder, flowmos vector.Driver, interval time.Duration, logger *zap.Logger) *Segmenter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Segmenter{
		store:    s,
		embedder: embedder,
		flowmos:  flowmos,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// IsNewSession reports whether a message arriving now opens a new journal
// session, given the previous message's time. The first message of a topic
// always does.
func (g *Segmenter) IsNewSession(lastMessageAt *time.Time) bool {
	if lastMessageAt == nil {
		return true
	}
	return g.now().Sub(*lastMessageAt) >= g.interval
}

// HandleRecord captures userMsg as a flowmo entry when it opens a new
// session. Call after the message has been persisted, so it is the last row
// in the topic. Returns the created entry, or nil when the message continues
// the current session.
func (g *Segmenter) HandleRecord(ctx context.Context, topic *store.Topic, userMsg *store.Message) (*store.Flowmo, error) {
	last, err := g.previousMessageTime(ctx, topic.ID)
	if err != nil {
		return nil, err
	}

	if !g.IsNewSession(last) {
		return nil, nil
	}

	flowmo, err := g.store.CreateFlowmo(ctx, topic.UserID, userMsg.Content, store.SourceChat, topic.ID, userMsg.ID)
	if err != nil {
		return nil, fmt.Errorf("creating flowmo: %w", err)
	}

	g.logger.Info("flowmo captured",
		zap.String("flowmo_id", flowmo.ID),
		zap.String("topic_id", topic.ID),
	)

	g.indexFlowmo(ctx, flowmo.ID, userMsg.Content)

	return flowmo, nil
}

// ContextMessages selects the chat context for a flowmo reply. A message
// opening a new session gets only itself; otherwise the context spans back
// to the latest captured flowmo, or the whole topic when none exists yet.
func (g *Segmenter) ContextMessages(ctx context.Context, topicID string, current *store.Message) ([]llm.Message, error) {
	msgs, err := g.store.ListMessages(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("listing flowmo messages: %w", err)
	}

	currentOnly := []llm.Message{{Role: current.Role, Content: current.Content}}

	if len(msgs) <= 1 {
		return currentOnly, nil
	}

	// The current message is the last row; session gap keys off the one
	// before it.
	last := msgs[len(msgs)-2].CreatedAt
	if g.IsNewSession(&last) {
		return currentOnly, nil
	}

	latest, err := g.store.LatestFlowmoTime(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return toChatMessages(msgs), nil
	}

	var context []store.Message
	for _, m := range msgs {
		if !m.CreatedAt.Before(*latest) {
			context = append(context, m)
		}
	}
	if len(context) == 0 {
		return currentOnly, nil
	}
	return toChatMessages(context), nil
}

func (g *Segmenter) previousMessageTime(ctx context.Context, topicID string) (*time.Time, error) {
	msgs, err := g.store.ListMessages(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("listing flowmo messages: %w", err)
	}
	if len(msgs) <= 1 {
		return nil, nil
	}
	t := msgs[len(msgs)-2].CreatedAt
	return &t, nil
}

func (g *Segmenter) indexFlowmo(ctx context.Context, id, content string) {
	if g.embedder == nil || g.flowmos == nil {
		return
	}

	embedding, err := g.embedder.Embed(ctx, content)
	if err != nil {
		g.logger.Warn("embedding flowmo failed", zap.String("flowmo_id", id), zap.Error(err))
		return
	}

	doc := vector.Document{ID: id, Text: content, Embedding: embedding, Source: store.SourceChat}
	if err := g.flowmos.Upsert(ctx, []vector.Document{doc}); err != nil {
		g.logger.Warn("indexing flowmo failed", zap.String("flowmo_id", id), zap.Error(err))
	}
}

func toChatMessages(msgs []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
