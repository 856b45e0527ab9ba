package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent secondme configuration stored as
// config.toml in the .secondme/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	Chat        ChatConfig        `toml:"chat"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Memory      MemoryConfig      `toml:"memory"`
	Events      EventsConfig      `toml:"events"`
}

// StorageConfig holds relational storage settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen        string `toml:"listen,omitempty"`
	JWTSecret     string `toml:"jwt_secret,omitempty"`
	RequireInvite bool   `toml:"require_invite,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to the running
// API server (e.g. secondme chat, secondme memories).
// The value is a full URL (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// ChatConfig holds chat completion provider settings.
type ChatConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// VectorStoreConfig holds vector store settings. Target is provider
// dependent: a file path for sqlite and chromem, a URL for chroma, and
// host:port for qdrant.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// MemoryConfig holds memory extraction and retrieval settings.
type MemoryConfig struct {
	Enabled               bool `toml:"enabled"`
	TopK                  int  `toml:"top_k,omitempty"`
	SilentMinutes         int  `toml:"silent_minutes,omitempty"`
	ContextMessages       int  `toml:"context_messages,omitempty"`
	MaxContextMessages    int  `toml:"max_context_messages,omitempty"`
	FlowmoIntervalMinutes int  `toml:"flowmo_interval_minutes,omitempty"`
	PollIntervalSeconds   int  `toml:"poll_interval_seconds,omitempty"`
	AdvanceOnParseFailure bool `toml:"advance_on_parse_failure"`
}

// EventsConfig holds memory event publishing settings.
type EventsConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intKey(name string, get func(c *Config) int, set func(c *Config, n int)) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if get(c) == 0 {
				return ""
			}
			return strconv.Itoa(get(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			set(c, n)
			return nil
		},
	}
}

func boolKey(name string, get func(c *Config) bool, set func(c *Config, b bool)) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(get(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			set(c, b)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"api.jwt_secret": {
		get: func(c *Config) string { return c.API.JWTSecret },
		set: func(c *Config, v string) error { c.API.JWTSecret = v; return nil },
	},
	"api.require_invite": boolKey("api.require_invite",
		func(c *Config) bool { return c.API.RequireInvite },
		func(c *Config, b bool) { c.API.RequireInvite = b },
	),
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
	"chat.provider": {
		get: func(c *Config) string { return c.Chat.Provider },
		set: func(c *Config, v string) error { c.Chat.Provider = v; return nil },
	},
	"chat.target": {
		get: func(c *Config) string { return c.Chat.Target },
		set: func(c *Config, v string) error { c.Chat.Target = v; return nil },
	},
	"chat.api_key": {
		get: func(c *Config) string { return c.Chat.APIKey },
		set: func(c *Config, v string) error { c.Chat.APIKey = v; return nil },
	},
	"chat.model": {
		get: func(c *Config) string { return c.Chat.Model },
		set: func(c *Config, v string) error { c.Chat.Model = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.api_key": {
		get: func(c *Config) string { return c.Embedding.APIKey },
		set: func(c *Config, v string) error { c.Embedding.APIKey = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"vector_store.api_key": {
		get: func(c *Config) string { return c.VectorStore.APIKey },
		set: func(c *Config, v string) error { c.VectorStore.APIKey = v; return nil },
	},
	"memory.enabled": boolKey("memory.enabled",
		func(c *Config) bool { return c.Memory.Enabled },
		func(c *Config, b bool) { c.Memory.Enabled = b },
	),
	"memory.top_k": intKey("memory.top_k",
		func(c *Config) int { return c.Memory.TopK },
		func(c *Config, n int) { c.Memory.TopK = n },
	),
	"memory.silent_minutes": intKey("memory.silent_minutes",
		func(c *Config) int { return c.Memory.SilentMinutes },
		func(c *Config, n int) { c.Memory.SilentMinutes = n },
	),
	"memory.context_messages": intKey("memory.context_messages",
		func(c *Config) int { return c.Memory.ContextMessages },
		func(c *Config, n int) { c.Memory.ContextMessages = n },
	),
	"memory.max_context_messages": intKey("memory.max_context_messages",
		func(c *Config) int { return c.Memory.MaxContextMessages },
		func(c *Config, n int) { c.Memory.MaxContextMessages = n },
	),
	"memory.flowmo_interval_minutes": intKey("memory.flowmo_interval_minutes",
		func(c *Config) int { return c.Memory.FlowmoIntervalMinutes },
		func(c *Config, n int) { c.Memory.FlowmoIntervalMinutes = n },
	),
	"memory.poll_interval_seconds": intKey("memory.poll_interval_seconds",
		func(c *Config) int { return c.Memory.PollIntervalSeconds },
		func(c *Config, n int) { c.Memory.PollIntervalSeconds = n },
	),
	"memory.advance_on_parse_failure": boolKey("memory.advance_on_parse_failure",
		func(c *Config) bool { return c.Memory.AdvanceOnParseFailure },
		func(c *Config, b bool) { c.Memory.AdvanceOnParseFailure = b },
	),
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}
