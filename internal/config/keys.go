package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.bind", typ: kString, env: "VIVA_SERVER_BIND",
		apply:   func(cfg *Config, v any) { cfg.Server.Bind = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Bind },
	},
	{
		key: "server.port", typ: kInt, env: "VIVA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "auth.token", typ: kString, env: "VIVA_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
	{
		key: "retrieval.base_url", typ: kString, env: "VIVA_RETRIEVAL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.BaseURL },
	},
	{
		key: "retrieval.api_key", typ: kString, env: "VIVA_RETRIEVAL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Retrieval.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.APIKey },
	},
	{
		key: "retrieval.timeout_seconds", typ: kInt, env: "VIVA_RETRIEVAL_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TimeoutSeconds },
	},
	{
		key: "retrieval.global_partition", typ: kString, env: "VIVA_RETRIEVAL_GLOBAL_PARTITION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.GlobalPartition = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.GlobalPartition },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VIVA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "interview.default_duration_minutes", typ: kInt, env: "VIVA_INTERVIEW_DEFAULT_DURATION_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Interview.DefaultDurationMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Interview.DefaultDurationMinutes },
	},
	{
		key: "log.level", typ: kString, env: "VIVA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
