package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultUploadDir    = "uploads"
	DefaultTranslateURL = "https://api.mymemory.translated.net/get"
	DefaultAmqpExchange = "chatrelay.events"
)

type Config struct {
	// DatabaseDSN selects the Postgres message store. When empty the relay
	// keeps messages and accounts in memory.
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	UploadDir      string
	TranslateURL   string
	AmqpURL        string
	AmqpExchange   string
	// RingTimeout ends calls that are still ringing after the duration.
	// Zero disables it.
	RingTimeout time.Duration
	// RetractAuthorOnly restricts message retraction to the message sender.
	RetractAuthorOnly bool
}

type Option func(*Config)

func WithUploadDir(dir string) Option {
	return func(c *Config) { c.UploadDir = dir }
}

func WithTranslateURL(url string) Option {
	return func(c *Config) { c.TranslateURL = url }
}

func WithAmqp(url, exchange string) Option {
	return func(c *Config) {
		c.AmqpURL = url
		c.AmqpExchange = exchange
	}
}

func WithRingTimeout(d time.Duration) Option {
	return func(c *Config) { c.RingTimeout = d }
}

func WithRetractAuthorOnly(enabled bool) Option {
	return func(c *Config) { c.RetractAuthorOnly = enabled }
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}

	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, opts ...Option) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		UploadDir:      DefaultUploadDir,
		TranslateURL:   DefaultTranslateURL,
		AmqpExchange:   DefaultAmqpExchange,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}
	if cfg.RingTimeout < 0 {
		return nil, fmt.Errorf("ring timeout cannot be negative")
	}
	if cfg.AmqpURL != "" && cfg.AmqpExchange == "" {
		return nil, fmt.Errorf("amqp exchange cannot be empty when amqp url is set")
	}

	return cfg, nil
}
