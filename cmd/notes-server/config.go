package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/joeshaw/envdecode"
)

// Config is read from the environment.
type Config struct {
	// Transport is "stdio" or "http". ENV: MCP_TRANSPORT
	Transport string `env:"MCP_TRANSPORT,default=stdio"`
	// HTTPAddr is the listen address for the http transport. ENV: MCP_HTTP_ADDR
	HTTPAddr string `env:"MCP_HTTP_ADDR,default=127.0.0.1:8080"`
	// PublicEndpoint is the URL clients reach the server at; only its path
	// is used for routing. Defaults to http://{HTTPAddr}/mcp.
	// ENV: MCP_PUBLIC_ENDPOINT
	PublicEndpoint string `env:"MCP_PUBLIC_ENDPOINT"`
	// LogLevel is a slog level name. ENV: MCP_LOG_LEVEL
	LogLevel string `env:"MCP_LOG_LEVEL,default=info"`
	// PageSize paginates list results; 0 disables pagination. ENV: MCP_PAGE_SIZE
	PageSize int `env:"MCP_PAGE_SIZE,default=0"`

	// Storage is "memory" or "redis". ENV: MCP_STORAGE
	Storage        string `env:"MCP_STORAGE,default=memory"`
	MemoryMaxItems int    `env:"MCP_MEMORY_MAX_ITEMS,default=10000"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=mcp:notes:"`

	// Broker carries notifications between http replicas: "memory" or
	// "redis". ENV: MCP_BROKER
	Broker            string `env:"MCP_BROKER,default=memory"`
	RedisBrokerPrefix string `env:"REDIS_BROKER_PREFIX,default=mcp:broker:"`

	// SeedFile, when set, names a TOML file of notes stored at startup.
	// ENV: MCP_SEED_FILE
	SeedFile string `env:"MCP_SEED_FILE"`

	// FSRoot, when set, is mounted as fs://root/... resources. ENV: MCP_FS_ROOT
	FSRoot string `env:"MCP_FS_ROOT"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("MCP_TRANSPORT must be stdio or http, got %q", c.Transport)
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("MCP_STORAGE must be memory or redis, got %q", c.Storage)
	}
	switch c.Broker {
	case "memory", "redis":
	default:
		return fmt.Errorf("MCP_BROKER must be memory or redis, got %q", c.Broker)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("MCP_PAGE_SIZE must not be negative, got %d", c.PageSize)
	}
	if _, err := c.slogLevel(); err != nil {
		return err
	}
	if c.PublicEndpoint == "" {
		c.PublicEndpoint = "http://" + c.HTTPAddr + "/mcp"
	}
	if _, err := url.Parse(c.PublicEndpoint); err != nil {
		return fmt.Errorf("MCP_PUBLIC_ENDPOINT: %w", err)
	}
	return nil
}

func (c Config) slogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("MCP_LOG_LEVEL: %w", err)
	}
	return l, nil
}
