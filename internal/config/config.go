// Package config loads daemon configuration from a JSON file at
// $XDG_CONFIG_HOME/viva/config.json with VIVA_* environment overrides.
// A .env.local file in the working directory is loaded first, so local
// development does not need exported variables.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Retrieval RetrievalConfig
	Storage   StorageConfig
	Interview InterviewConfig
	Log       LogConfig
}

type ServerConfig struct {
	Bind string
	Port int
}

type AuthConfig struct {
	Token string
}

type RetrievalConfig struct {
	BaseURL         string
	APIKey          string
	TimeoutSeconds  int
	GlobalPartition string
}

type StorageConfig struct {
	DataDir string
}

type InterviewConfig struct {
	DefaultDurationMinutes int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 4100,
		},
		Retrieval: RetrievalConfig{
			BaseURL:         "https://api.ragie.ai",
			TimeoutSeconds:  10,
			GlobalPartition: "visa-student",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Interview: InterviewConfig{
			DefaultDurationMinutes: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from .env.local, the JSON config file, and
// VIVA_* environment variables, in increasing precedence.
func Load() (Config, error) {
	// Missing .env.local is the normal case outside development.
	_ = godotenv.Load(".env.local")
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Auth.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API auth token. Set it via environment variable VIVA_AUTH_TOKEN")
	}
	if cfg.Retrieval.APIKey == "" {
		fmt.Fprintln(os.Stderr, "[WARN] no retrieval API key configured (VIVA_RETRIEVAL_API_KEY); document verification will run degraded.")
	}

	return cfg, nil
}
