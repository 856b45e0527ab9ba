package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
	"github.com/secondme/secondme/pkg/vector"
)

type memoryRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleListMemories(c *fiber.Ctx) error {
	memories, total, err := s.store.ListMemories(c.Context(), store.ListMemoriesParams{
		UserID:   s.currentUserID(c),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
		Source:   c.Query("source"),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list memories"})
	}

	if memories == nil {
		memories = []store.Memory{}
	}
	return c.JSON(fiber.Map{"memories": memories, "total": total})
}

func (s *Server) handleCreateMemory(c *fiber.Ctx) error {
	var req memoryRequest
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "content is required"})
	}

	ctx := c.Context()

	m, err := s.store.CreateManualMemory(ctx, s.currentUserID(c), req.Content)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create memory"})
	}

	s.indexMemoryVector(ctx, m.ID, m.Content, store.SourceManual)

	return c.Status(fiber.StatusCreated).JSON(m)
}

func (s *Server) handleUpdateMemory(c *fiber.Ctx) error {
	m, ok := s.ownedMemory(c)
	if !ok {
		return nil
	}

	var req memoryRequest
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "content is required"})
	}

	ctx := c.Context()

	updated, err := s.store.UpdateMemoryContent(ctx, m.ID, req.Content)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to update memory"})
	}

	s.indexMemoryVector(ctx, updated.ID, updated.Content, updated.Source)

	return c.JSON(updated)
}

func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	m, ok := s.ownedMemory(c)
	if !ok {
		return nil
	}

	ctx := c.Context()

	if err := s.store.DeleteMemory(ctx, m.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete memory"})
	}

	if s.pipeline.Memories != nil {
		if err := s.pipeline.Memories.Delete(ctx, []string{m.ID}); err != nil {
			s.logger.Warn("deleting memory vector failed", zap.String("memory_id", m.ID), zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteAllMemories(c *fiber.Ctx) error {
	ctx := c.Context()

	ids, err := s.store.DeleteAllMemories(ctx, s.currentUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete memories"})
	}

	if s.pipeline.Memories != nil && len(ids) > 0 {
		if err := s.pipeline.Memories.Delete(ctx, ids); err != nil {
			s.logger.Warn("deleting memory vectors failed", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"success": true, "deleted": len(ids)})
}

func (s *Server) handleMemoryUsage(c *fiber.Ctx) error {
	m, ok := s.ownedMemory(c)
	if !ok {
		return nil
	}

	usage, err := s.store.MemoryUsageHistory(c.Context(), m.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load usage"})
	}
	if usage == nil {
		usage = []store.MemoryUsage{}
	}
	return c.JSON(fiber.Map{"usage": usage})
}

func (s *Server) ownedMemory(c *fiber.Ctx) (*store.Memory, bool) {
	m, err := s.store.GetMemory(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
		return nil, false
	}
	if err != nil {
		c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load memory"})
		return nil, false
	}
	if m.UserID != s.currentUserID(c) {
		c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "access denied"})
		return nil, false
	}
	return m, true
}

// indexMemoryVector embeds and upserts one memory vector, best effort.
func (s *Server) indexMemoryVector(ctx context.Context, id, content, source string) {
	if s.pipeline.Embedder == nil || s.pipeline.Memories == nil {
		return
	}

	embedding, err := s.pipeline.Embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("embedding memory failed", zap.String("memory_id", id), zap.Error(err))
		return
	}

	doc := vector.Document{ID: id, Text: content, Embedding: embedding, Source: source}
	if err := s.pipeline.Memories.Upsert(ctx, []vector.Document{doc}); err != nil {
		s.logger.Warn("indexing memory failed", zap.String("memory_id", id), zap.Error(err))
	}
}
