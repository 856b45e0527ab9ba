package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/secondme/secondme/pkg/store"
)

type topicRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleListTopics(c *fiber.Ctx) error {
	topics, err := s.store.ListTopics(c.Context(), s.currentUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list topics"})
	}
	return c.JSON(fiber.Map{"topics": topics})
}

func (s *Server) handleCreateTopic(c *fiber.Ctx) error {
	var req topicRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	topic, err := s.store.CreateTopic(c.Context(), s.currentUserID(c), req.Title)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create topic"})
	}
	return c.Status(fiber.StatusCreated).JSON(topic)
}

func (s *Server) handleRenameTopic(c *fiber.Ctx) error {
	topic, ok := s.ownedTopic(c)
	if !ok {
		return nil
	}

	var req topicRequest
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "title is required"})
	}

	renamed, err := s.store.RenameTopic(c.Context(), topic.ID, req.Title)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to rename topic"})
	}
	return c.JSON(renamed)
}

func (s *Server) handleDeleteTopic(c *fiber.Ctx) error {
	topic, ok := s.ownedTopic(c)
	if !ok {
		return nil
	}

	if err := s.store.DeleteTopic(c.Context(), topic.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete topic"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	topic, ok := s.ownedTopic(c)
	if !ok {
		return nil
	}

	msgs, err := s.store.ListMessages(c.Context(), topic.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list messages"})
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// ownedTopic loads the :id topic and enforces ownership. When it returns
// false the response has already been written.
func (s *Server) ownedTopic(c *fiber.Ctx) (*store.Topic, bool) {
	topic, err := s.store.GetTopic(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "topic not found"})
		return nil, false
	}
	if err != nil {
		c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load topic"})
		return nil, false
	}
	if topic.UserID != s.currentUserID(c) {
		c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "access denied"})
		return nil, false
	}
	return topic, true
}
