package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// hs256MinKeyLen is the minimum HMAC-SHA256 signing key size in bytes.
// RFC 7518 section 3.2 requires a key at least as large as the hash
// output (256 bits).
const hs256MinKeyLen = 32

type Config struct {
	Port        string `env:"SERVER_PORT,default=8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	SigningKeyBase64 string        `env:"SIGNING_KEY,required"`
	TokenIssuer      string        `env:"ACCESS_TOKEN_ISSUER,required"`
	TokenAudience    string        `env:"ACCESS_TOKEN_AUDIENCE,required"`
	TokenClientID    string        `env:"ACCESS_TOKEN_CLIENT_ID,required"`
	TokenLifetime    time.Duration `env:"ACCESS_TOKEN_LIFETIME,default=15m"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	MaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS,default=10"`

	// KafkaBrokers is a comma-separated broker list; empty disables the
	// event publisher.
	KafkaBrokers string `env:"KAFKA_BROKERS"`

	// SigningKey is the decoded SIGNING_KEY.
	SigningKey []byte
}

// Load reads configuration from the environment, loading a .env file
// first if one exists. The signing key is validated here so a short key
// aborts startup rather than failing per request.
func Load() (*Config, error) {
	// A missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("could not decode environment: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(cfg.SigningKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("SIGNING_KEY is not valid base64: %w", err)
	}
	if len(key) < hs256MinKeyLen {
		return nil, fmt.Errorf("SIGNING_KEY must decode to at least %d bytes, got %d", hs256MinKeyLen, len(key))
	}
	cfg.SigningKey = key

	if cfg.TokenLifetime <= 0 {
		return nil, fmt.Errorf("ACCESS_TOKEN_LIFETIME must be positive, got %s", cfg.TokenLifetime)
	}

	return cfg, nil
}
