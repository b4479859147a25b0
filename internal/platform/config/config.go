package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration. FromEnv keeps main lean; all
// knobs come from the environment.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string

	// DatabaseURL selects the postgres stores when set; empty runs fully
	// in memory.
	DatabaseURL string

	Redis RedisConfig

	// KafkaBrokers enables the audit fan-out sink when non-empty.
	KafkaBrokers []string
	AuditTopic   string

	// SignerURL points at the downstream signer service. Empty selects the
	// in-process local signer, for development only.
	SignerURL string

	// SweepInterval controls how often expired pending decisions are swept.
	SweepInterval time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          envOr("CONCORD_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envOr("JWT_ISSUER", "concord"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SignerURL:     os.Getenv("SIGNER_URL"),
		AuditTopic:    envOr("AUDIT_TOPIC", "concord.audit"),
		SweepInterval: durationOr("DECISION_SWEEP_INTERVAL", time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
