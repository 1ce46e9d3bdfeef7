package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env      string
	Server   ServerConfig
	Agent    AgentConfig
	Signing  SigningConfig
	Auth     AuthConfig
	Stream   StreamConfig
	Records  RecordsConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Worker   WorkerConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AgentConfig controls the shared connection to the agent service.
//
// URL has no default on purpose: an unset address is surfaced as an error to
// the first caller that needs the connection, not at startup, so the web tier
// can boot in environments where the agent service is not deployed.
type AgentConfig struct {
	URL              string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	StartTimeout     time.Duration
	EndTimeout       time.Duration
	VerifyTimeout    time.Duration
	FireForgetGrace  time.Duration
	RedialBackoff    time.Duration
	RedialBackoffMax time.Duration
	RedialAttempts   int
}

type SigningConfig struct {
	Secret string
}

type AuthConfig struct {
	TokenSecret string
	CookieName  string
}

type StreamConfig struct {
	BufferCap         int
	CleanupDelay      time.Duration
	SubscriberBuffer  int
	HeartbeatInterval time.Duration
}

type RecordsConfig struct {
	PurgeGrace time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Env: getEnv("BRIDGE_ENV", "development"),
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Agent: AgentConfig{
			URL:              os.Getenv("AGENT_SERVICE_URL"),
			ConnectTimeout:   getDurationEnv("AGENT_CONNECT_TIMEOUT", 10*time.Second),
			RequestTimeout:   getDurationEnv("AGENT_REQUEST_TIMEOUT", 30*time.Second),
			StartTimeout:     getDurationEnv("AGENT_START_TIMEOUT", 60*time.Second),
			EndTimeout:       getDurationEnv("AGENT_END_TIMEOUT", 5*time.Second),
			VerifyTimeout:    getDurationEnv("AGENT_VERIFY_TIMEOUT", 10*time.Second),
			FireForgetGrace:  getDurationEnv("AGENT_FIRE_FORGET_GRACE", 250*time.Millisecond),
			RedialBackoff:    getDurationEnv("AGENT_REDIAL_BACKOFF", 500*time.Millisecond),
			RedialBackoffMax: getDurationEnv("AGENT_REDIAL_BACKOFF_MAX", 15*time.Second),
			RedialAttempts:   getIntEnv("AGENT_REDIAL_ATTEMPTS", 6),
		},
		Signing: SigningConfig{
			Secret: os.Getenv("BRIDGE_SIGNING_SECRET"),
		},
		Auth: AuthConfig{
			TokenSecret: os.Getenv("SESSION_TOKEN_SECRET"),
			CookieName:  getEnv("SESSION_COOKIE_NAME", "classroom_session"),
		},
		Stream: StreamConfig{
			BufferCap:         getIntEnv("STREAM_BUFFER_CAP", 50),
			CleanupDelay:      getDurationEnv("STREAM_CLEANUP_DELAY", 45*time.Second),
			SubscriberBuffer:  getIntEnv("STREAM_SUBSCRIBER_BUFFER", 64),
			HeartbeatInterval: getDurationEnv("STREAM_HEARTBEAT_INTERVAL", 25*time.Second),
		},
		Records: RecordsConfig{
			PurgeGrace: getDurationEnv("RECORDS_PURGE_GRACE", 60*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "classbridge"),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

// Validate rejects configurations that must never reach production.
// Running without a payload signing secret is tolerated in development
// (the signer logs a warning and sends unsigned payloads) but fatal in
// production, as is an unset browser session secret.
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.Signing.Secret == "" {
		return fmt.Errorf("BRIDGE_SIGNING_SECRET is required when BRIDGE_ENV=%s", c.Env)
	}
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("SESSION_TOKEN_SECRET is required when BRIDGE_ENV=%s", c.Env)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
