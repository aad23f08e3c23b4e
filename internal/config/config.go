// Package config loads service configuration from defaults, an optional
// .env file, and RAGCHAT_* environment variables, in that order of
// precedence (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Relay     RelayConfig
	Embedding EmbeddingConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type RelayConfig struct {
	BaseURL string
}

type EmbeddingConfig struct {
	URL    string
	APIKey string
}

type AuthConfig struct {
	// Token is the service bearer token required on every /v1 request.
	Token string
	// EncryptionSecret derives the key that encrypts stored user API keys.
	EncryptionSecret string
	// MCPUserID is the identity MCP stdio tools operate as.
	MCPUserID string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Relay: RelayConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Embedding: EmbeddingConfig{
			URL: "https://router.huggingface.co/hf-inference/models/sentence-transformers/all-MiniLM-L6-v2/pipeline/feature-extraction",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ragchat")
	}
	return "."
}

// Load reads configuration. A .env file in the working directory is loaded
// first (missing is fine), then RAGCHAT_* variables override the defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Auth.Token == "" {
		return Config{}, fmt.Errorf("missing required config: service token (set RAGCHAT_AUTH_TOKEN)")
	}
	if cfg.Auth.EncryptionSecret == "" {
		return Config{}, fmt.Errorf("missing required config: encryption secret (set RAGCHAT_ENCRYPTION_SECRET)")
	}
	if cfg.Embedding.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: embedding API key (set RAGCHAT_EMBEDDING_API_KEY)")
	}

	return cfg, nil
}
