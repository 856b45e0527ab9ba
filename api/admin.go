package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/secondme/secondme/pkg/store"
)

type inviteRequest struct {
	Code      string `json:"code"`
	MaxUses   int    `json:"max_uses"`
	ExpiresIn string `json:"expires_in"`
}

func (s *Server) handleListUsers(c *fiber.Ctx) error {
	users, total, err := s.store.ListUsers(c.Context(),
		c.QueryInt("page", 1), c.QueryInt("page_size", 20))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list users"})
	}
	if users == nil {
		users = []store.User{}
	}
	return c.JSON(fiber.Map{"users": users, "total": total})
}

func (s *Server) handleDeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == s.currentUserID(c) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "cannot delete yourself"})
	}

	err := s.store.DeleteUser(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "user not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete user"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleListInvites(c *fiber.Ctx) error {
	codes, err := s.store.ListInviteCodes(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list invite codes"})
	}
	if codes == nil {
		codes = []store.InviteCode{}
	}
	return c.JSON(fiber.Map{"invites": codes})
}

func (s *Server) handleCreateInvite(c *fiber.Ctx) error {
	var req inviteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = strings.ToUpper(uuid.NewString()[:8])
	}
	maxUses := req.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid expires_in duration"})
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	ic, err := s.store.CreateInviteCode(c.Context(), code, s.currentUserID(c), maxUses, expiresAt)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create invite code"})
	}
	return c.Status(fiber.StatusCreated).JSON(ic)
}

func (s *Server) handleDeleteInvite(c *fiber.Ctx) error {
	err := s.store.DeleteInviteCode(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "invite code not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete invite code"})
	}
	return c.JSON(fiber.Map{"success": true})
}
