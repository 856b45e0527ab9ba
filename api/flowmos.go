package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
	"github.com/secondme/secondme/pkg/vector"
)

type flowmoRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleFlowmoTopic(c *fiber.Ctx) error {
	topic, err := s.store.GetOrCreateFlowmoTopic(c.Context(), s.currentUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load flowmo topic"})
	}
	return c.JSON(topic)
}

func (s *Server) handleListFlowmos(c *fiber.Ctx) error {
	flowmos, total, err := s.store.ListFlowmos(c.Context(), s.currentUserID(c),
		c.QueryInt("page", 1), c.QueryInt("page_size", 20))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list flowmos"})
	}

	if flowmos == nil {
		flowmos = []store.Flowmo{}
	}
	return c.JSON(fiber.Map{"flowmos": flowmos, "total": total})
}

// handleCreateFlowmo records a journal entry directly, outside any chat
// session.
func (s *Server) handleCreateFlowmo(c *fiber.Ctx) error {
	var req flowmoRequest
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "content is required"})
	}

	ctx := c.Context()

	f, err := s.store.CreateFlowmo(ctx, s.currentUserID(c), req.Content, store.SourceDirect, "", "")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create flowmo"})
	}

	s.indexFlowmoVector(ctx, f.ID, f.Content)

	return c.Status(fiber.StatusCreated).JSON(f)
}

func (s *Server) handleDeleteFlowmo(c *fiber.Ctx) error {
	f, err := s.store.GetFlowmo(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "flowmo not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load flowmo"})
	}
	if f.UserID != s.currentUserID(c) {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "access denied"})
	}

	ctx := c.Context()

	if err := s.store.DeleteFlowmo(ctx, f.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete flowmo"})
	}

	if s.pipeline.Flowmos != nil {
		if err := s.pipeline.Flowmos.Delete(ctx, []string{f.ID}); err != nil {
			s.logger.Warn("deleting flowmo vector failed", zap.String("flowmo_id", f.ID), zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleDeleteAllFlowmos(c *fiber.Ctx) error {
	ctx := c.Context()

	ids, err := s.store.DeleteAllFlowmos(ctx, s.currentUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete flowmos"})
	}

	if s.pipeline.Flowmos != nil && len(ids) > 0 {
		if err := s.pipeline.Flowmos.Delete(ctx, ids); err != nil {
			s.logger.Warn("deleting flowmo vectors failed", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"success": true, "deleted": len(ids)})
}

func (s *Server) indexFlowmoVector(ctx context.Context, id, content string) {
	if s.pipeline.Embedder == nil || s.pipeline.Flowmos == nil {
		return
	}

	embedding, err := s.pipeline.Embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("embedding flowmo failed", zap.String("flowmo_id", id), zap.Error(err))
		return
	}

	doc := vector.Document{ID: id, Text: content, Embedding: embedding, Source: store.SourceDirect}
	if err := s.pipeline.Flowmos.Upsert(ctx, []vector.Document{doc}); err != nil {
		s.logger.Warn("indexing flowmo failed", zap.String("flowmo_id", id), zap.Error(err))
	}
}
