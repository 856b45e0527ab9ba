package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/secondme/secondme/pkg/store"
)

// settingKeys are the runtime-changeable keys the settings API accepts.
var settingKeys = map[string]bool{
	store.SettingMemoryTopK:              true,
	store.SettingMemorySilentMinutes:     true,
	store.SettingMemoryExtractionEnabled: true,
	store.SettingMemoryContextMessages:   true,
	store.SettingDefaultChatProviderID:   true,
	store.SettingDefaultChatModel:        true,
	store.SettingEmbeddingProviderID:     true,
	store.SettingEmbeddingModel:          true,
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	settings, err := s.store.AllSettings(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load settings"})
	}
	return c.JSON(fiber.Map{"settings": settings})
}

func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	var req map[string]string
	if err := c.BodyParser(&req); err != nil || len(req) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "settings map is required"})
	}

	for key := range req {
		if !settingKeys[key] {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "unknown setting: " + key})
		}
	}

	ctx := c.Context()
	for key, value := range req {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to update settings"})
		}
	}

	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load settings"})
	}
	return c.JSON(fiber.Map{"settings": settings})
}

type providerRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Enabled *bool  `json:"enabled"`
}

func (s *Server) handleListProviders(c *fiber.Ctx) error {
	providers, err := s.store.ListProviders(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list providers"})
	}
	if providers == nil {
		providers = []store.Provider{}
	}

	// API keys stay server-side.
	for i := range providers {
		providers[i].APIKey = ""
	}
	return c.JSON(fiber.Map{"providers": providers})
}

func (s *Server) handleCreateProvider(c *fiber.Ctx) error {
	var req providerRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" || req.BaseURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name and base_url are required"})
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p, err := s.store.CreateProvider(c.Context(), req.Name, req.BaseURL, req.APIKey, enabled)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create provider"})
	}

	p.APIKey = ""
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) handleUpdateProvider(c *fiber.Ctx) error {
	var req providerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p, err := s.store.UpdateProvider(c.Context(), c.Params("id"), req.Name, req.BaseURL, req.APIKey, enabled)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "provider not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to update provider"})
	}

	p.APIKey = ""
	return c.JSON(p)
}

func (s *Server) handleDeleteProvider(c *fiber.Ctx) error {
	err := s.store.DeleteProvider(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "provider not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete provider"})
	}
	return c.JSON(fiber.Map{"success": true})
}
