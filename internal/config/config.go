package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// APITypeAzure selects the Azure-hosted OpenAI conversation engine.
const APITypeAzure = "azure"

// Config represents the main server configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// OpenAI / Azure OpenAI connection
	OpenAI OpenAIConfig `json:"openai" mapstructure:"openai"`

	// Vector store backend
	VectorStore VectorStoreConfig `json:"vector_store" mapstructure:"vector_store"`

	// Knowledge graph backend
	KnowledgeGraph KnowledgeGraphConfig `json:"knowledge_graph" mapstructure:"knowledge_graph"`

	// Session lifecycle
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// OpenAIConfig holds conversation engine credentials and endpoints.
// APIType "azure" switches to the enterprise-hosted engine; anything else
// uses the standard hosted API with per-request keys.
type OpenAIConfig struct {
	APIType        string `json:"api_type" mapstructure:"api_type"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	Endpoint       string `json:"endpoint" mapstructure:"endpoint"`
	DeploymentName string `json:"deployment_name" mapstructure:"deployment_name"`
	Model          string `json:"model" mapstructure:"model"`
	APIVersion     string `json:"api_version" mapstructure:"api_version"`
	EmbeddedModel  string `json:"embedded_model" mapstructure:"embedded_model"`
}

// VectorStoreConfig holds retrieval backend configuration
type VectorStoreConfig struct {
	Driver         string `json:"driver" mapstructure:"driver"` // milvus, sqlite
	Host           string `json:"host" mapstructure:"host"`     // substituted for "local" hosts
	DBPath         string `json:"db_path" mapstructure:"db_path"`
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
}

// KnowledgeGraphConfig holds graph backend configuration
type KnowledgeGraphConfig struct {
	Host string `json:"host" mapstructure:"host"` // substituted for "local" hosts
}

// SessionConfig holds session TTL and recycling configuration
type SessionConfig struct {
	MaxAge          time.Duration `json:"max_age" mapstructure:"max_age"`
	RecycleInterval time.Duration `json:"recycle_interval" mapstructure:"recycle_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5001,
		},
		OpenAI: OpenAIConfig{
			APIType:       "",
			Model:         "gpt-3.5-turbo",
			EmbeddedModel: "mistral-local",
		},
		VectorStore: VectorStoreConfig{
			Driver:         "milvus",
			Host:           "127.0.0.1",
			EmbeddingModel: "text-embedding-3-small",
		},
		KnowledgeGraph: KnowledgeGraphConfig{
			Host: "127.0.0.1",
		},
		Session: SessionConfig{
			MaxAge:          3 * 24 * time.Hour,
			RecycleInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.OpenAI.APIType != "" && c.OpenAI.APIType != "openai" && c.OpenAI.APIType != APITypeAzure {
		return fmt.Errorf("invalid openai api_type %q (must be: openai, azure)", c.OpenAI.APIType)
	}

	if c.OpenAI.APIType == APITypeAzure {
		if c.OpenAI.Endpoint == "" {
			return fmt.Errorf("azure api_type requires openai.endpoint")
		}
		if c.OpenAI.DeploymentName == "" {
			return fmt.Errorf("azure api_type requires openai.deployment_name")
		}
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("azure api_type requires openai.api_key")
		}
		if c.OpenAI.APIVersion == "" {
			return fmt.Errorf("azure api_type requires openai.api_version")
		}
	}

	if c.VectorStore.Driver != "milvus" && c.VectorStore.Driver != "sqlite" {
		return fmt.Errorf("invalid vector_store driver %q (must be: milvus, sqlite)", c.VectorStore.Driver)
	}
	if c.VectorStore.Driver == "sqlite" && c.VectorStore.DBPath == "" {
		return fmt.Errorf("sqlite vector_store driver requires vector_store.db_path")
	}

	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session max_age must be positive")
	}
	if c.Session.RecycleInterval <= 0 {
		return fmt.Errorf("session recycle_interval must be positive")
	}

	return nil
}
