// Package servecmder provides the serve command that runs the API server
// together with the memory pipeline.
package servecmder

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/secondme/secondme/api"
	"github.com/secondme/secondme/pkg/config"
	"github.com/secondme/secondme/pkg/embeddings"
	ollamaembed "github.com/secondme/secondme/pkg/embeddings/ollama"
	openaiembed "github.com/secondme/secondme/pkg/embeddings/openai"
	"github.com/secondme/secondme/pkg/eventstream"
	"github.com/secondme/secondme/pkg/eventstream/kafka"
	"github.com/secondme/secondme/pkg/eventstream/nop"
	"github.com/secondme/secondme/pkg/llm"
	"github.com/secondme/secondme/pkg/llm/provider/ollama"
	"github.com/secondme/secondme/pkg/llm/provider/openai"
	"github.com/secondme/secondme/pkg/logger"
	"github.com/secondme/secondme/pkg/memory"
	"github.com/secondme/secondme/pkg/store"
	"github.com/secondme/secondme/pkg/vector"
	"github.com/secondme/secondme/pkg/vector/chroma"
	"github.com/secondme/secondme/pkg/vector/chromem"
	"github.com/secondme/secondme/pkg/vector/qdrant"
	"github.com/secondme/secondme/pkg/vector/sqlitevec"
)

const serveLongDesc string = `Run the Secondme API server.

The server hosts the chat API, the memory and flowmo APIs, and the
background extraction scheduler that turns silent conversations into
long-term memories.

Configuration comes from flags, SECONDME_* environment variables, and the
config.toml in the .secondme/ directory, in that order of precedence.`

const serveShortDesc string = "Run the Secondme API server"

// serveFlags defines the flags this command exposes, keyed by the shared
// flag registry so names and viper keys cannot drift across commands.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name: "listen", Shorthand: "l", ViperKey: "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path",
		Description: "Path to the SQLite database (default: in-memory)",
	},
	config.FlagChatProvider: {
		Name: "chat-provider", ViperKey: "chat.provider",
		Description: "Chat provider (ollama, openai)",
	},
	config.FlagChatTarget: {
		Name: "chat-target", ViperKey: "chat.target",
		Description: "Chat provider base URL",
	},
	config.FlagChatModel: {
		Name: "chat-model", ViperKey: "chat.model",
		Description: "Chat model name",
	},
	config.FlagEmbeddingProv: {
		Name: "embedding-provider", ViperKey: "embedding.provider",
		Description: "Embedding provider (ollama, openai)",
	},
	config.FlagEmbeddingTgt: {
		Name: "embedding-target", ViperKey: "embedding.target",
		Description: "Embedding provider base URL",
	},
	config.FlagEmbeddingModel: {
		Name: "embedding-model", ViperKey: "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagEmbeddingDims: {
		Name: "embedding-dimensions", ViperKey: "embedding.dimensions",
		Description: "Embedding vector dimensions",
	},
	config.FlagVectorStoreProv: {
		Name: "vector-store-provider", ViperKey: "vector_store.provider",
		Description: "Vector store provider (chromem, sqlitevec, chroma, qdrant)",
	},
	config.FlagVectorStoreTgt: {
		Name: "vector-store-target", ViperKey: "vector_store.target",
		Description: "Vector store target (path, URL, or host:port depending on provider)",
	},
	config.FlagMemoryEnabled: {
		Name: "memory-enabled", ViperKey: "memory.enabled",
		Description: "Enable background memory extraction",
	},
	config.FlagMemoryTopK: {
		Name: "memory-top-k", ViperKey: "memory.top_k",
		Description: "Number of memories retrieved per reply",
	},
	config.FlagSilentMinutes: {
		Name: "silent-minutes", ViperKey: "memory.silent_minutes",
		Description: "Minutes of silence before a topic is extracted",
	},
	config.FlagEventsProvider: {
		Name: "events-provider", ViperKey: "events.provider",
		Description: "Memory event publisher (nop, kafka)",
	},
	config.FlagEventsBrokers: {
		Name: "events-brokers", ViperKey: "events.brokers",
		Description: "Comma-separated Kafka broker addresses",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagSQLite,
	config.FlagChatProvider,
	config.FlagChatTarget,
	config.FlagChatModel,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagMemoryEnabled,
	config.FlagMemoryTopK,
	config.FlagSilentMinutes,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
}

type serveCommander struct {
	debug bool

	listen         string
	sqlitePath     string
	chatProvider   string
	chatTarget     string
	chatModel      string
	embedProvider  string
	embedTarget    string
	embedModel     string
	embedDims      uint
	vectorProvider string
	vectorTarget   string
	memoryEnabled  bool
	memoryTopK     int
	silentMinutes  int
	eventsProvider string
	eventsBrokers  string

	logger *zap.Logger
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			configDir, err := cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %v", err)
			}

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			return cmder.run(cmd.Context(), v)
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagChatProvider, &cmder.chatProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagChatTarget, &cmder.chatTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagChatModel, &cmder.chatModel)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, serveFlags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, serveFlags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddBoolFlag(cmd, serveFlags, config.FlagMemoryEnabled, &cmder.memoryEnabled)
	config.AddIntFlag(cmd, serveFlags, config.FlagMemoryTopK, &cmder.memoryTopK)
	config.AddIntFlag(cmd, serveFlags, config.FlagSilentMinutes, &cmder.silentMinutes)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsBrokers, &cmder.eventsBrokers)

	return cmd
}

func (c *serveCommander) run(ctx context.Context, v *viper.Viper) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	dbPath := v.GetString("storage.sqlite_path")
	if dbPath == "" {
		dbPath = ":memory:"
		c.logger.Info("using in-memory storage")
	} else {
		c.logger.Info("using SQLite storage", zap.String("path", dbPath))
	}

	st, err := store.NewStore(dbPath, c.logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer st.Close()

	chatClient, err := c.newChatClient(v)
	if err != nil {
		return err
	}
	defer chatClient.Close()

	embedder, err := c.newEmbedder(ctx, v, st)
	if err != nil {
		return err
	}
	defer embedder.Close()

	memoriesDriver, err := c.newVectorDriver(ctx, v, vector.CollectionMemories)
	if err != nil {
		return err
	}
	defer memoriesDriver.Close()

	flowmosDriver, err := c.newVectorDriver(ctx, v, vector.CollectionFlowmos)
	if err != nil {
		return err
	}
	defer flowmosDriver.Close()

	publisher, err := c.newPublisher(v)
	if err != nil {
		return err
	}
	defer publisher.Close()

	extractor := memory.NewExtractor(st, chatClient, embedder, memoriesDriver, publisher,
		memory.ExtractorConfig{
			ContextMessages:       v.GetInt("memory.context_messages"),
			AdvanceOnParseFailure: v.GetBool("memory.advance_on_parse_failure"),
		}, c.logger)

	scheduler := memory.NewScheduler(st, extractor, memory.SchedulerConfig{
		PollInterval:  time.Duration(v.GetInt("memory.poll_interval_seconds")) * time.Second,
		Enabled:       v.GetBool("memory.enabled"),
		SilentMinutes: v.GetInt("memory.silent_minutes"),
	}, c.logger)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	retriever := memory.NewRetriever(embedder, memoriesDriver, flowmosDriver, c.logger)
	segmenter := memory.NewSegmenter(st, embedder, flowmosDriver,
		time.Duration(v.GetInt("memory.flowmo_interval_minutes"))*time.Minute, c.logger)

	jwtSecret := v.GetString("api.jwt_secret")
	if jwtSecret == "" {
		// Tokens signed with a generated secret stop working on restart.
		jwtSecret = uuid.NewString()
		c.logger.Warn("no api.jwt_secret configured, using a per-process secret")
	}

	apiConfig := api.Config{
		ListenAddr:         v.GetString("api.listen"),
		JWTSecret:          jwtSecret,
		RequireInvite:      v.GetBool("api.require_invite"),
		MaxContextMessages: v.GetInt("memory.max_context_messages"),
		MemoryTopK:         v.GetInt("memory.top_k"),
	}

	server, err := api.NewServer(apiConfig, st, chatClient, api.Pipeline{
		Retriever: retriever,
		Segmenter: segmenter,
		Embedder:  embedder,
		Memories:  memoriesDriver,
		Flowmos:   flowmosDriver,
		Publisher: publisher,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	c.logger.Info("starting api server",
		zap.String("listen", apiConfig.ListenAddr),
		zap.String("chat_provider", v.GetString("chat.provider")),
		zap.String("vector_store", v.GetString("vector_store.provider")),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	case <-ctx.Done():
		return server.Shutdown()
	}
}

func (c *serveCommander) newChatClient(v *viper.Viper) (llm.ChatClient, error) {
	provider := v.GetString("chat.provider")
	switch provider {
	case "openai":
		return openai.NewClient(openai.Config{
			BaseURL: v.GetString("chat.target"),
			APIKey:  v.GetString("chat.api_key"),
			Model:   v.GetString("chat.model"),
		})
	case "ollama", "":
		return ollama.NewClient(ollama.Config{
			BaseURL: v.GetString("chat.target"),
			Model:   v.GetString("chat.model"),
		})
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", provider)
	}
}

// newEmbedder prefers the embedding provider row saved through the settings
// API and falls back to the static config. Resolution happens once at
// startup: embeddings from different models are not distance-comparable, so
// switching the provider takes effect on restart rather than mid-flight.
func (c *serveCommander) newEmbedder(ctx context.Context, v *viper.Viper, st *store.Store) (embeddings.Embedder, error) {
	if embedder := c.settingsEmbedder(ctx, st); embedder != nil {
		return embedder, nil
	}

	provider := v.GetString("embedding.provider")
	switch provider {
	case "openai":
		return openaiembed.NewEmbedder(openaiembed.Config{
			BaseURL: v.GetString("embedding.target"),
			APIKey:  v.GetString("embedding.api_key"),
			Model:   v.GetString("embedding.model"),
		})
	case "ollama", "":
		return ollamaembed.NewEmbedder(ollamaembed.Config{
			BaseURL: v.GetString("embedding.target"),
			Model:   v.GetString("embedding.model"),
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

func (c *serveCommander) settingsEmbedder(ctx context.Context, st *store.Store) embeddings.Embedder {
	providerID, err := st.GetSetting(ctx, store.SettingEmbeddingProviderID)
	if err != nil || providerID == "" {
		return nil
	}
	model, err := st.GetSetting(ctx, store.SettingEmbeddingModel)
	if err != nil || model == "" {
		c.logger.Warn("embedding provider set without a model, using static config",
			zap.String("provider_id", providerID))
		return nil
	}
	p, err := st.GetProvider(ctx, providerID)
	if err != nil || !p.Enabled {
		c.logger.Warn("configured embedding provider unavailable, using static config",
			zap.String("provider_id", providerID))
		return nil
	}

	embedder, err := openaiembed.NewEmbedder(openaiembed.Config{
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Model:   model,
	})
	if err != nil {
		c.logger.Warn("building embedder from settings failed, using static config", zap.Error(err))
		return nil
	}
	c.logger.Info("embeddings routed through provider",
		zap.String("provider", p.Name), zap.String("model", model))
	return embedder
}

// newVectorDriver creates one driver per logical collection. The target's
// meaning depends on the provider: a persistence path for chromem and
// sqlitevec, a URL for chroma, and host:port for qdrant.
func (c *serveCommander) newVectorDriver(ctx context.Context, v *viper.Viper, collection string) (vector.Driver, error) {
	provider := v.GetString("vector_store.provider")
	target := v.GetString("vector_store.target")

	switch provider {
	case "sqlitevec":
		if target == "" {
			target = ":memory:"
		}
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     target,
			Collection: collection,
			Dimensions: v.GetUint("embedding.dimensions"),
		}, c.logger)
	case "chroma":
		return chroma.NewChromaDriver(chroma.Config{
			URL:        target,
			Collection: collection,
		}, c.logger)
	case "qdrant":
		host, port, err := splitQdrantTarget(target)
		if err != nil {
			return nil, err
		}
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:       host,
			Port:       port,
			APIKey:     v.GetString("vector_store.api_key"),
			Collection: collection,
			Dimensions: v.GetUint64("embedding.dimensions"),
		}, c.logger)
	case "chromem", "":
		return chromem.NewDriver(chromem.Config{
			Path:       target,
			Collection: collection,
		}, c.logger)
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", provider)
	}
}

func (c *serveCommander) newPublisher(v *viper.Viper) (eventstream.Publisher, error) {
	provider := v.GetString("events.provider")
	switch provider {
	case "kafka":
		brokers := strings.Split(v.GetString("events.brokers"), ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		return kafka.NewPublisher(kafka.Config{
			Brokers: brokers,
			Topic:   v.GetString("events.topic"),
		}, c.logger)
	case "nop", "":
		return nop.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unknown events provider: %s", provider)
	}
}

// splitQdrantTarget parses "host:port" with a default gRPC port when the
// port is omitted.
func splitQdrantTarget(target string) (string, int, error) {
	if target == "" {
		return "localhost", 0, nil
	}
	if !strings.Contains(target, ":") {
		return target, 0, nil
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}
