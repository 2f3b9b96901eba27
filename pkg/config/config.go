package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "supersecretjwtkey"

// Config is the full service configuration.
type Config struct {
	Env         string            `mapstructure:"env"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Firebase    FirebaseConfig    `mapstructure:"firebase"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Session     SessionConfig     `mapstructure:"session"`
	Uploads     UploadConfig      `mapstructure:"uploads"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Consistency ConsistencyConfig `mapstructure:"consistency"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	MetricsPort    string   `mapstructure:"metrics_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Requests per second per client IP on /api/v1/auth.
	AuthRateLimit float64 `mapstructure:"auth_rate_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FirebaseConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"`
	ProjectID       string `mapstructure:"project_id"`
	StorageBucket   string `mapstructure:"storage_bucket"`
	// Web API key, needed for password sign-in through the Identity Toolkit API.
	APIKey string `mapstructure:"api_key"`
}

type StoreConfig struct {
	Backend       string `mapstructure:"backend"` // firestore, mongo or memory
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite
	DSN    string `mapstructure:"dsn"`
}

type IdentityConfig struct {
	Provider string `mapstructure:"provider"` // firebase or local
}

type SessionConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TTL       time.Duration `mapstructure:"ttl"`
	// When empty, revoked tokens are tracked in process.
	RedisURL string `mapstructure:"redis_url"`
}

type UploadConfig struct {
	MaxBytes        int64         `mapstructure:"max_bytes"`
	MaxFiles        int           `mapstructure:"max_files"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type ConsistencyConfig struct {
	Compensate bool `mapstructure:"compensate"`
}

type JobsConfig struct {
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
}

var defaults = map[string]interface{}{
	"env":                         "development",
	"server.port":                 "8080",
	"server.metrics_port":         "9090",
	"server.allowed_origins":      []string{"http://localhost:3000"},
	"server.auth_rate_limit":      5.0,
	"log.level":                   "info",
	"log.format":                  "console",
	"firebase.credentials_path":   "./firebase_credentials.json",
	"firebase.project_id":         "",
	"firebase.storage_bucket":     "",
	"firebase.api_key":            "",
	"store.backend":               "firestore",
	"store.mongo_uri":             "",
	"store.mongo_database":        "chyrp",
	"database.driver":             "sqlite",
	"database.dsn":                "chyrp.db",
	"identity.provider":           "firebase",
	"session.jwt_secret":          defaultJWTSecret,
	"session.ttl":                 72 * time.Hour,
	"session.redis_url":           "",
	"uploads.max_bytes":           int64(50 << 20),
	"uploads.max_files":           10,
	"uploads.chunk_size":          8 << 20,
	"uploads.breaker_failures":    5,
	"uploads.breaker_timeout":     30 * time.Second,
	"retry.max_attempts":          3,
	"retry.initial_interval":      100 * time.Millisecond,
	"retry.max_interval":          2 * time.Second,
	"consistency.compensate":      true,
	"jobs.reconcile_schedule":     "@every 5m",
}

// Load reads .env, an optional config.yml and the environment, in that order of
// increasing precedence. Environment keys are the config keys upper-cased with
// dots replaced by underscores, e.g. SERVER_PORT or STORE_BACKEND.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, assuming environment variables are set.")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}

	switch c.Store.Backend {
	case "firestore", "memory":
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("store.mongo_uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch c.Identity.Provider {
	case "local":
	case "firebase":
		if c.Firebase.APIKey == "" {
			log.Warn().Msg("firebase.api_key is empty; password sign-in and reset mail will fail")
		}
	default:
		return fmt.Errorf("unknown identity.provider %q", c.Identity.Provider)
	}

	if c.NeedsFirebase() && c.Firebase.CredentialsPath == "" {
		return errors.New("firebase.credentials_path is required for firestore or firebase identity")
	}

	if c.Session.JWTSecret == "" {
		return errors.New("session.jwt_secret is required")
	}
	if c.IsProduction() {
		if c.Session.JWTSecret == defaultJWTSecret {
			return errors.New("session.jwt_secret must be changed from the default value in production")
		}
		if len(c.Session.JWTSecret) < 32 {
			return errors.New("session.jwt_secret must be at least 32 characters in production")
		}
		if c.Store.Backend == "memory" {
			return errors.New("the memory store backend is not allowed in production")
		}
	}

	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Uploads.MaxBytes <= 0 {
		return errors.New("uploads.max_bytes must be positive")
	}
	if c.Uploads.MaxFiles <= 0 {
		return errors.New("uploads.max_files must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must not be negative")
	}
	return nil
}

// NeedsFirebase reports whether any configured component talks to Firebase.
func (c *Config) NeedsFirebase() bool {
	return c.Store.Backend == "firestore" || c.Identity.Provider == "firebase"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// splitList flattens comma separated entries, which is how list values arrive
// from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
