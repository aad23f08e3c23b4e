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
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "RAGCHAT_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "RAGCHAT_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "RAGCHAT_RELAY_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Relay.BaseURL = v.(string) },
	},
	{
		env: "RAGCHAT_EMBEDDING_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.URL = v.(string) },
	},
	{
		env: "RAGCHAT_EMBEDDING_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
	},
	{
		env: "RAGCHAT_AUTH_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
	},
	{
		env: "RAGCHAT_ENCRYPTION_SECRET", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.EncryptionSecret = v.(string) },
	},
	{
		env: "RAGCHAT_MCP_USER_ID", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.MCPUserID = v.(string) },
	},
	{
		env: "RAGCHAT_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
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
