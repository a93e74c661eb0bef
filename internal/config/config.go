package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultTokenTTL          = 24 * time.Hour
	DefaultTypingTimeout     = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCleanupInterval   = time.Minute
	DefaultRateLimit         = 5.0
	DefaultRateBurst         = 10
)

type Config struct {
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string

	TokenTTL          time.Duration
	TypingTimeout     time.Duration
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration

	// token bucket applied to the auth endpoints, per client IP
	RateLimit float64
	RateBurst int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, base64Secret string, allowedOrigins []string) (*Config, error) {
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

	return &Config{
		ServerAddr:        serverAddr,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		TokenTTL:          DefaultTokenTTL,
		TypingTimeout:     DefaultTypingTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		CleanupInterval:   DefaultCleanupInterval,
		RateLimit:         DefaultRateLimit,
		RateBurst:         DefaultRateBurst,
	}, nil
}
