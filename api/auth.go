package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
)

const tokenTTL = 72 * time.Hour

const (
	localUserID = "user_id"
	localRole   = "role"
)

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        *store.User `json:"user"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) issueToken(userID, role string) (string, error) {
	now := time.Now()
	token, err := jwt.NewBuilder().
		Subject(userID).
		Claim("role", role).
		IssuedAt(now).
		Expiration(now.Add(tokenTTL)).
		Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(s.config.JWTSecret)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// requireUser validates the bearer token and stashes the caller's identity
// in fiber locals.
func (s *Server) requireUser(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "not authenticated"})
	}

	raw := strings.TrimPrefix(header, "Bearer ")
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, []byte(s.config.JWTSecret)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "invalid token"})
	}

	role, _ := token.Get("role")
	roleStr, _ := role.(string)

	c.Locals(localUserID, token.Subject())
	c.Locals(localRole, roleStr)
	return c.Next()
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if role, _ := c.Locals(localRole).(string); role != store.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "admin required"})
	}
	return c.Next()
}

func (s *Server) currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "username and password are required"})
	}

	ctx := c.Context()

	if s.config.RequireInvite {
		ok, err := s.store.ValidInviteCode(ctx, req.InviteCode)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to validate invite code"})
		}
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid or expired invite code"})
		}
	}

	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "username already exists"})
	}

	user, err := s.store.CreateUser(ctx, req.Username, req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create user"})
	}

	if s.config.RequireInvite {
		if err := s.store.UseInviteCode(ctx, req.InviteCode); err != nil {
			s.logger.Warn("consuming invite code failed",
				zap.String("code", req.InviteCode),
				zap.Error(err),
			)
		}
	}

	token, err := s.issueToken(user.ID, user.Role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to issue token"})
	}

	s.logger.Info("user registered", zap.String("username", user.Username))

	return c.JSON(tokenResponse{AccessToken: token, TokenType: "bearer", User: user})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	user, err := s.store.Authenticate(c.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "invalid credentials"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "login failed"})
	}

	token, err := s.issueToken(user.ID, user.Role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to issue token"})
	}

	return c.JSON(tokenResponse{AccessToken: token, TokenType: "bearer", User: user})
}

func (s *Server) handleMe(c *fiber.Ctx) error {
	user, err := s.store.GetUser(c.Context(), s.currentUserID(c))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "unknown user"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load user"})
	}
	return c.JSON(user)
}

func (s *Server) handleChangePassword(c *fiber.Ctx) error {
	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.NewPassword == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "new password is required"})
	}

	err := s.store.ChangePassword(c.Context(), s.currentUserID(c), req.OldPassword, req.NewPassword)
	if errors.Is(err, store.ErrInvalidCredentials) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "old password is incorrect"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to change password"})
	}

	return c.JSON(fiber.Map{"success": true})
}
