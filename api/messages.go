package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/eventstream"
	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/memory"
	"github.com/secondme/secondme/pkg/store"
)

const titleSystemPrompt = `Based on the user's message, generate a short topic title (at most 20 characters). Return only the title text, with no quotes or other symbols.`

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	UserMessage       *store.Message `json:"user_message"`
	AssistantMessage  *store.Message `json:"assistant_message"`
	TopicTitleUpdated bool           `json:"topic_title_updated"`
	NewTitle          string         `json:"new_title,omitempty"`
	MemoriesUsed      []string       `json:"memories_used"`
}

// turnContext is everything the serving path prepares before calling the
// chat model: the persisted user message, the conversation slice to send,
// the system prompt, and the memories that grounded it.
type turnContext struct {
	topic        *store.Topic
	userMessage  *store.Message
	chat         llm.ChatClient
	chatMessages []llm.Message
	system       string
	memoriesUsed []string
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	topic, ok := s.ownedTopic(c)
	if !ok {
		return nil
	}

	turn, ok := s.prepareTurn(c, topic)
	if !ok {
		return nil
	}

	ctx := c.Context()

	start := time.Now()
	reply, err := turn.chat.Complete(ctx, turn.chatMessages, turn.system)
	if err != nil {
		s.logger.Error("chat completion failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "chat model error"})
	}
	s.logger.Info("chat reply",
		zap.String("topic_id", topic.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("length", len(reply)),
	)

	assistantMsg, err := s.store.CreateMessage(ctx, topic.ID, llm.RoleAssistant, reply)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to persist reply"})
	}
	if err := s.store.TouchActivity(ctx, topic.ID); err != nil {
		s.logger.Warn("touching topic activity failed", zap.Error(err))
	}

	s.recordUsage(ctx, turn.memoriesUsed, topic.ID, assistantMsg.ID)

	titleUpdated, newTitle := s.maybeTitleTopic(ctx, topic, turn.userMessage.Content)

	return c.JSON(sendMessageResponse{
		UserMessage:       turn.userMessage,
		AssistantMessage:  assistantMsg,
		TopicTitleUpdated: titleUpdated,
		NewTitle:          newTitle,
		MemoriesUsed:      usedOrEmpty(turn.memoriesUsed),
	})
}

func (s *Server) handleSendMessageStream(c *fiber.Ctx) error {
	topic, ok := s.ownedTopic(c)
	if !ok {
		return nil
	}

	turn, ok := s.prepareTurn(c, topic)
	if !ok {
		return nil
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// The stream writer runs after this handler returns; the fiber ctx is
	// gone by then.
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx := context.Background()

		writeSSE(w, fiber.Map{"type": "user_message", "message": turn.userMessage})

		var full strings.Builder
		err := turn.chat.Stream(ctx, turn.chatMessages, turn.system, func(chunk string) error {
			full.WriteString(chunk)
			writeSSE(w, fiber.Map{"type": "chunk", "content": chunk})
			return w.Flush()
		})
		if err != nil {
			s.logger.Error("chat stream failed", zap.Error(err))
			writeSSE(w, fiber.Map{"type": "error", "message": "chat model error"})
			w.Flush()
			return
		}

		assistantMsg, err := s.store.CreateMessage(ctx, topic.ID, llm.RoleAssistant, full.String())
		if err != nil {
			s.logger.Error("persisting streamed reply failed", zap.Error(err))
			writeSSE(w, fiber.Map{"type": "error", "message": "failed to persist reply"})
			w.Flush()
			return
		}
		if err := s.store.TouchActivity(ctx, topic.ID); err != nil {
			s.logger.Warn("touching topic activity failed", zap.Error(err))
		}

		s.recordUsage(ctx, turn.memoriesUsed, topic.ID, assistantMsg.ID)

		titleUpdated, newTitle := s.maybeTitleTopic(ctx, topic, turn.userMessage.Content)

		writeSSE(w, fiber.Map{
			"type":                "done",
			"message":             assistantMsg,
			"memories_used":       usedOrEmpty(turn.memoriesUsed),
			"topic_title_updated": titleUpdated,
			"new_title":           newTitle,
		})
		w.Flush()
	}))

	return nil
}

// prepareTurn persists the user message and assembles the model input.
// When it returns false the response has already been written.
func (s *Server) prepareTurn(c *fiber.Ctx, topic *store.Topic) (*turnContext, bool) {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "content is required"})
		return nil, false
	}

	ctx := c.Context()

	chat := s.chatFor(ctx)
	if chat == nil {
		c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "no chat model configured"})
		return nil, false
	}

	userMsg, err := s.store.CreateMessage(ctx, topic.ID, llm.RoleUser, req.Content)
	if err != nil {
		c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to persist message"})
		return nil, false
	}
	if err := s.store.TouchActivity(ctx, topic.ID); err != nil {
		s.logger.Warn("touching topic activity failed", zap.Error(err))
	}

	turn := &turnContext{topic: topic, userMessage: userMsg, chat: chat}

	if topic.IsFlowmo {
		if err := s.flowmoTurn(ctx, turn); err != nil {
			s.logger.Error("assembling flowmo context failed", zap.Error(err))
			c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to assemble context"})
			return nil, false
		}
	} else {
		if err := s.chatTurn(ctx, turn); err != nil {
			s.logger.Error("assembling chat context failed", zap.Error(err))
			c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to assemble context"})
			return nil, false
		}
	}

	return turn, true
}

// chatTurn builds a regular topic's turn: capped history plus memory
// grounding. Retrieval failure degrades to an ungrounded reply.
func (s *Server) chatTurn(ctx context.Context, turn *turnContext) error {
	msgs, err := s.store.ListMessages(ctx, turn.topic.ID)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}
	if len(msgs) > s.config.MaxContextMessages {
		msgs = msgs[len(msgs)-s.config.MaxContextMessages:]
	}
	for _, m := range msgs {
		turn.chatMessages = append(turn.chatMessages, llm.Message{Role: m.Role, Content: m.Content})
	}

	if s.pipeline.Retriever == nil {
		return nil
	}

	results, err := s.pipeline.Retriever.Retrieve(ctx, turn.userMessage.Content, s.resolveTopK(ctx))
	if err != nil {
		s.logger.Warn("memory retrieval failed", zap.Error(err))
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	turn.system = memory.SystemPrompt(results)
	for _, r := range results {
		turn.memoriesUsed = append(turn.memoriesUsed, r.ID)
	}

	s.logger.Info("memories retrieved",
		zap.String("topic_id", turn.topic.ID),
		zap.Int("count", len(results)),
	)

	return nil
}

// flowmoTurn builds a flowmo topic's turn: capture the entry when the
// session gap passed, and scope the context to the current session.
func (s *Server) flowmoTurn(ctx context.Context, turn *turnContext) error {
	if s.pipeline.Segmenter == nil {
		turn.chatMessages = []llm.Message{{Role: turn.userMessage.Role, Content: turn.userMessage.Content}}
		turn.system = memory.FlowmoSystemPrompt
		return nil
	}

	if _, err := s.pipeline.Segmenter.HandleRecord(ctx, turn.topic, turn.userMessage); err != nil {
		s.logger.Warn("flowmo capture failed", zap.Error(err))
	}

	msgs, err := s.pipeline.Segmenter.ContextMessages(ctx, turn.topic.ID, turn.userMessage)
	if err != nil {
		return err
	}

	turn.chatMessages = msgs
	turn.system = memory.FlowmoSystemPrompt
	return nil
}

// recordUsage persists usage rows for the memories that grounded a reply.
// Runs after the reply is persisted.
func (s *Server) recordUsage(ctx context.Context, memoryIDs []string, topicID, messageID string) {
	for _, id := range memoryIDs {
		if err := s.store.RecordMemoryUsage(ctx, id, topicID, messageID); err != nil {
			s.logger.Warn("recording memory usage failed",
				zap.String("memory_id", id),
				zap.Error(err),
			)
			continue
		}
		s.publishMemoryUsed(ctx, id, topicID)
	}
}

func (s *Server) publishMemoryUsed(ctx context.Context, memoryID, topicID string) {
	if s.pipeline.Publisher == nil {
		return
	}

	event := &eventstream.MemoryEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeMemoryUsed,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		TopicID:       topicID,
		MemoryID:      memoryID,
	}
	if err := s.pipeline.Publisher.PublishMemory(ctx, event); err != nil {
		s.logger.Warn("publishing memory used event failed", zap.Error(err))
	}
}

// maybeTitleTopic renames a topic after its first exchange. Flowmo topics
// keep their fixed title.
func (s *Server) maybeTitleTopic(ctx context.Context, topic *store.Topic, firstMessage string) (bool, string) {
	if topic.IsFlowmo {
		return false, ""
	}

	count, err := s.store.MessageCount(ctx, topic.ID)
	if err != nil || count != 2 {
		return false, ""
	}

	title, err := s.chatFor(ctx).Complete(ctx, []llm.Message{llm.UserMessage(firstMessage)}, titleSystemPrompt)
	if err != nil {
		s.logger.Warn("title generation failed", zap.Error(err))
		return false, ""
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return false, ""
	}

	if _, err := s.store.RenameTopic(ctx, topic.ID, title); err != nil {
		s.logger.Warn("renaming topic failed", zap.Error(err))
		return false, ""
	}

	s.logger.Info("topic titled", zap.String("topic_id", topic.ID), zap.String("title", title))
	return true, title
}

// resolveTopK reads the runtime memory_top_k setting, falling back to the
// configured default.
func (s *Server) resolveTopK(ctx context.Context) int {
	value, err := s.store.GetSetting(ctx, store.SettingMemoryTopK)
	if err != nil {
		return s.config.MemoryTopK
	}
	k, err := strconv.Atoi(value)
	if err != nil || k <= 0 {
		return s.config.MemoryTopK
	}
	return k
}

func writeSSE(w *bufio.Writer, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func usedOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
