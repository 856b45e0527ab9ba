// Package api provides the HTTP server: auth, topics and the chat serving
// path, memories, flowmos, settings, providers and admin management.
package api

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/embeddings"
	"github.com/secondme/secondme/pkg/eventstream"
	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/memory"
	"github.com/secondme/secondme/pkg/store"
	"github.com/secondme/secondme/pkg/vector"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// JWTSecret signs bearer tokens. Required.
	JWTSecret string

	// RequireInvite gates registration behind invite codes.
	RequireInvite bool

	// MaxContextMessages caps the history sent to the chat model.
	MaxContextMessages int

	// MemoryTopK is the default retrieval depth; the memory_top_k setting
	// overrides it at runtime.
	MemoryTopK int
}

// Pipeline groups the memory-side dependencies of the serving path. Any
// field may be nil; the matching behavior degrades (no grounding, no
// vectors) without failing requests.
type Pipeline struct {
	Retriever *memory.Retriever
	Segmenter *memory.Segmenter
	Embedder  embeddings.Embedder
	Memories  vector.Driver
	Flowmos   vector.Driver
	Publisher eventstream.Publisher
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the API server.
type Server struct {
	config   Config
	store    *store.Store
	chat     llm.ChatClient
	pipeline Pipeline
	logger   *zap.Logger
	app      *fiber.App

	// routedChat is the provider-row-backed client selected by the
	// default_chat_* settings, rebuilt when those change.
	routedMu   sync.Mutex
	routedChat llm.ChatClient
	routedKey  string
}

// NewServer creates the API server. The store and chat client are required;
// pipeline pieces are optional.
func NewServer(config Config, st *store.Store, chat llm.ChatClient, pipeline Pipeline, logger *zap.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if config.MaxContextMessages <= 0 {
		config.MaxContextMessages = 100
	}
	if config.MemoryTopK <= 0 {
		config.MemoryTopK = 5
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		store:    st,
		chat:     chat,
		pipeline: pipeline,
		logger:   logger,
		app:      app,
	}

	app.Get("/api/health", s.handleHealth)

	app.Post("/api/auth/register", s.handleRegister)
	app.Post("/api/auth/login", s.handleLogin)

	auth := app.Group("/api", s.requireUser)
	auth.Get("/auth/me", s.handleMe)
	auth.Post("/auth/password", s.handleChangePassword)

	auth.Get("/topics", s.handleListTopics)
	auth.Post("/topics", s.handleCreateTopic)
	auth.Put("/topics/:id", s.handleRenameTopic)
	auth.Delete("/topics/:id", s.handleDeleteTopic)
	auth.Get("/topics/:id/messages", s.handleListMessages)
	auth.Post("/topics/:id/messages", s.handleSendMessage)
	auth.Post("/topics/:id/messages/stream", s.handleSendMessageStream)

	auth.Get("/memories", s.handleListMemories)
	auth.Post("/memories", s.handleCreateMemory)
	auth.Delete("/memories/all", s.handleDeleteAllMemories)
	auth.Get("/memories/:id/usage", s.handleMemoryUsage)
	auth.Put("/memories/:id", s.handleUpdateMemory)
	auth.Delete("/memories/:id", s.handleDeleteMemory)

	auth.Get("/flowmo/topic", s.handleFlowmoTopic)
	auth.Get("/flowmos", s.handleListFlowmos)
	auth.Post("/flowmos", s.handleCreateFlowmo)
	auth.Delete("/flowmos/all", s.handleDeleteAllFlowmos)
	auth.Delete("/flowmos/:id", s.handleDeleteFlowmo)

	auth.Get("/settings", s.handleGetSettings)
	auth.Put("/settings", s.requireAdmin, s.handleUpdateSettings)

	auth.Get("/providers", s.handleListProviders)
	auth.Post("/providers", s.requireAdmin, s.handleCreateProvider)
	auth.Put("/providers/:id", s.requireAdmin, s.handleUpdateProvider)
	auth.Delete("/providers/:id", s.requireAdmin, s.handleDeleteProvider)

	admin := auth.Group("/admin", s.requireAdmin)
	admin.Get("/users", s.handleListUsers)
	admin.Delete("/users/:id", s.handleDeleteUser)
	admin.Get("/invites", s.handleListInvites)
	admin.Post("/invites", s.handleCreateInvite)
	admin.Delete("/invites/:id", s.handleDeleteInvite)

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	s.closeRoutedChat()
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
