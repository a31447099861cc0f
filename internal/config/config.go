package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Database DatabaseConfig `koanf:"database"`
	Media    MediaConfig    `koanf:"media"`
	CRM      CRMConfig      `koanf:"crm"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// WebhookConfig carries the shared HMAC secret and the query-token fallback
// used to authenticate inbound Tavus deliveries.
type WebhookConfig struct {
	Secret string `koanf:"secret"`
	Token  string `koanf:"token"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type MediaConfig struct {
	BaseURL       string `koanf:"base_url"`
	SigningSecret string `koanf:"signing_secret"`
}

type CRMConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

// Load reads configuration from an optional YAML file (DEMOFLOW_CONFIG or
// ./config.yaml) overlaid with DEMOFLOW_-prefixed environment variables.
// Nested keys use double underscores: DEMOFLOW_WEBHOOK__SECRET → webhook.secret.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv("DEMOFLOW_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("DEMOFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DEMOFLOW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("database.path") {
		k.Set("database.path", "./data/demoflow.db")
	}
	if !k.Exists("media.base_url") {
		k.Set("media.base_url", "http://localhost:8080/media")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
