package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment.
// Missing config file is not an error; environment variables still apply.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	// Environment bindings matching the legacy deployment variables.
	v.SetEnvPrefix("BIOCHATTER")
	v.AutomaticEnv()
	bindings := map[string]string{
		"openai.api_type":        "OPENAI_API_TYPE",
		"openai.api_key":         "OPENAI_API_KEY",
		"openai.endpoint":        "AZURE_OPENAI_ENDPOINT",
		"openai.deployment_name": "OPENAI_DEPLOYMENT_NAME",
		"openai.model":           "OPENAI_MODEL",
		"openai.api_version":     "OPENAI_API_VERSION",
		"vector_store.host":      "HOST",
		"knowledge_graph.host":   "KGHOST",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err == nil {
			v.SetConfigFile(l.configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
