// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxIdentities caps the registry when MAX_IDENTITIES is unset.
const DefaultMaxIdentities = 1_000_000

// RegistryCacheTTL bounds retention of cached identity records.
var RegistryCacheTTL = 5 * time.Minute

// Server captures the full service configuration.
type Server struct {
	Addr string

	// DatabaseURL selects the PostgreSQL store. Empty runs on the in-memory
	// store (dev/test).
	DatabaseURL string

	// MaxIdentities is the hard ceiling on registered records.
	MaxIdentities int

	// JWTSigningKey verifies caller bearer tokens (HS256).
	JWTSigningKey string

	// AdminTokenHash is the bcrypt hash gating /admin endpoints. Empty
	// disables the admin surface.
	AdminTokenHash string

	Redis RedisConfig
	Kafka KafkaConfig
}

// RedisConfig configures the optional read cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	maxIdentities := DefaultMaxIdentities
	if raw := os.Getenv("MAX_IDENTITIES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Server{}, fmt.Errorf("invalid MAX_IDENTITIES %q", raw)
		}
		maxIdentities = n
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; production deployments must override.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	cfg := Server{
		Addr:           addr,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MaxIdentities:  maxIdentities,
		JWTSigningKey:  jwtSigningKey,
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   os.Getenv("KAFKA_AUDIT_TOPIC"),
		},
	}
	return cfg, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
