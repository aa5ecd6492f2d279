/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Runner (external playlist generator)
	RunnerBaseURL string
	RunnerTimeout time.Duration
	RunnerToken   string

	// Asset paths handed to the runner
	MediaRoot         string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	S3PresignTTL      time.Duration

	// Scheduling policy
	PromoRecencyWindow time.Duration // How far back time-sensitive promo assets are considered
	NextSlotLookahead  time.Duration // How far ahead an insertion may extend toward the next slot
	RandomSeed         int64         // 0 means seed from the clock
	SlotLockTTL        time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis (cache + per-slot locks)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// NATS event fan-out
	NATSEnabled bool
	NATSURL     string
	NATSSubject string

	InstanceID        string
	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"GRIMNIR_PLAYOUT_ENV", "PLAYOUT_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"GRIMNIR_PLAYOUT_HTTP_BIND", "PLAYOUT_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"GRIMNIR_PLAYOUT_HTTP_PORT", "PLAYOUT_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"GRIMNIR_PLAYOUT_DB_BACKEND", "PLAYOUT_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"GRIMNIR_PLAYOUT_DB_DSN", "PLAYOUT_DB_DSN"}, ""),
		JWTSigningKey: getEnvAny([]string{"GRIMNIR_PLAYOUT_JWT_SIGNING_KEY", "PLAYOUT_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"GRIMNIR_PLAYOUT_METRICS_BIND", "PLAYOUT_METRICS_BIND"}, "127.0.0.1:9000"),

		RunnerBaseURL: getEnvAny([]string{"GRIMNIR_PLAYOUT_RUNNER_URL", "PLAYOUT_RUNNER_URL"}, ""),
		RunnerTimeout: getEnvDurationAny([]string{"GRIMNIR_PLAYOUT_RUNNER_TIMEOUT", "PLAYOUT_RUNNER_TIMEOUT"}, 30*time.Second),
		RunnerToken:   getEnvAny([]string{"GRIMNIR_PLAYOUT_RUNNER_TOKEN", "PLAYOUT_RUNNER_TOKEN"}, ""),

		MediaRoot:         getEnvAny([]string{"GRIMNIR_PLAYOUT_MEDIA_ROOT", "PLAYOUT_MEDIA_ROOT"}, "./media"),
		S3AccessKeyID:     getEnvAny([]string{"GRIMNIR_PLAYOUT_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GRIMNIR_PLAYOUT_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"GRIMNIR_PLAYOUT_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"GRIMNIR_PLAYOUT_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"GRIMNIR_PLAYOUT_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"GRIMNIR_PLAYOUT_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		S3PresignTTL:      getEnvDurationAny([]string{"GRIMNIR_PLAYOUT_S3_PRESIGN_TTL", "PLAYOUT_S3_PRESIGN_TTL"}, 6*time.Hour),

		PromoRecencyWindow: getEnvDurationAny([]string{"GRIMNIR_PLAYOUT_PROMO_RECENCY", "PLAYOUT_PROMO_RECENCY"}, 2*time.Hour),
		NextSlotLookahead:  getEnvDurationAny([]string{"GRIMNIR_PLAYOUT_NEXT_SLOT_LOOKAHEAD", "PLAYOUT_NEXT_SLOT_LOOKAHEAD"}, time.Hour),
		RandomSeed:         int64(getEnvIntAny([]string{"GRIMNIR_PLAYOUT_RANDOM_SEED", "PLAYOUT_RANDOM_SEED"}, 0)),
		SlotLockTTL:        getEnvDurationAny([]string{"GRIMNIR_PLAYOUT_SLOT_LOCK_TTL", "PLAYOUT_SLOT_LOCK_TTL"}, 30*time.Second),

		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_PLAYOUT_TRACING_ENABLED", "PLAYOUT_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_PLAYOUT_OTLP_ENDPOINT", "PLAYOUT_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_PLAYOUT_TRACING_SAMPLE_RATE", "PLAYOUT_TRACING_SAMPLE_RATE"}, 1.0),

		RedisEnabled:  getEnvBoolAny([]string{"GRIMNIR_PLAYOUT_REDIS_ENABLED", "PLAYOUT_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"GRIMNIR_PLAYOUT_REDIS_ADDR", "PLAYOUT_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"GRIMNIR_PLAYOUT_REDIS_PASSWORD", "PLAYOUT_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_PLAYOUT_REDIS_DB", "PLAYOUT_REDIS_DB"}, 0),
		CacheTTL:      getEnvDurationAny([]string{"GRIMNIR_PLAYOUT_CACHE_TTL", "PLAYOUT_CACHE_TTL"}, 5*time.Minute),

		NATSEnabled: getEnvBoolAny([]string{"GRIMNIR_PLAYOUT_NATS_ENABLED", "PLAYOUT_NATS_ENABLED"}, false),
		NATSURL:     getEnvAny([]string{"GRIMNIR_PLAYOUT_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSSubject: getEnvAny([]string{"GRIMNIR_PLAYOUT_NATS_SUBJECT", "PLAYOUT_NATS_SUBJECT"}, "grimnir.playout"),

		InstanceID: getEnvAny([]string{"GRIMNIR_PLAYOUT_INSTANCE_ID", "PLAYOUT_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_PLAYOUT_DB_DSN or PLAYOUT_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("GRIMNIR_PLAYOUT_JWT_SIGNING_KEY or PLAYOUT_JWT_SIGNING_KEY must be provided")
	}

	if cfg.RunnerTimeout <= 0 {
		return nil, fmt.Errorf("runner timeout must be positive, got %s", cfg.RunnerTimeout)
	}

	if cfg.SlotLockTTL < time.Second {
		return nil, fmt.Errorf("slot lock ttl must be at least 1s, got %s", cfg.SlotLockTTL)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.RunnerBaseURL == "" {
		return nil, fmt.Errorf("GRIMNIR_PLAYOUT_RUNNER_URL must be set in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"RUNNER_URL":      "use GRIMNIR_PLAYOUT_RUNNER_URL (or PLAYOUT_RUNNER_URL)",
		"JWT_SIGNING_KEY": "use GRIMNIR_PLAYOUT_JWT_SIGNING_KEY (or PLAYOUT_JWT_SIGNING_KEY)",
		"TRACING_ENABLED": "use GRIMNIR_PLAYOUT_TRACING_ENABLED (or PLAYOUT_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use GRIMNIR_PLAYOUT_OTLP_ENDPOINT (or PLAYOUT_OTLP_ENDPOINT)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// UseS3 reports whether asset paths should be resolved against object storage.
func (c *Config) UseS3() bool {
	return c != nil && c.S3Bucket != ""
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("90s") or bare integers as seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
