package config

const (
	defaultAPIListen = ":8081"

	defaultClientAPITarget = "http://localhost:8081"

	defaultChatProvider = "ollama"
	defaultChatTarget   = "http://localhost:11434"
	defaultChatModel    = "llama3.2"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultVectorProvider = "chromem"

	defaultMemoryTopK            = 5
	defaultSilentMinutes         = 2
	defaultContextMessages       = 6
	defaultMaxContextMessages    = 100
	defaultFlowmoIntervalMinutes = 5
	defaultPollIntervalSeconds   = 30

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "memory-events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Chat: ChatConfig{
			Provider: defaultChatProvider,
			Target:   defaultChatTarget,
			Model:    defaultChatModel,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Memory: MemoryConfig{
			Enabled:               true,
			TopK:                  defaultMemoryTopK,
			SilentMinutes:         defaultSilentMinutes,
			ContextMessages:       defaultContextMessages,
			MaxContextMessages:    defaultMaxContextMessages,
			FlowmoIntervalMinutes: defaultFlowmoIntervalMinutes,
			PollIntervalSeconds:   defaultPollIntervalSeconds,
			AdvanceOnParseFailure: true,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}
