package app

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the register service.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8090"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"300"`

	LogFormat string     `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  slog.Level `envconfig:"LOG_LEVEL" default:"INFO"`

	// Remote POS API.
	APIURL      string        `envconfig:"POS_API_URL" required:"true"`
	AppID       string        `envconfig:"POS_APP_ID" required:"true"`
	AccessToken string        `envconfig:"POS_ACCESS_TOKEN"`
	HTTPTimeout time.Duration `envconfig:"POS_HTTP_TIMEOUT" default:"30s"`

	PollInterval      time.Duration `envconfig:"POS_POLL_INTERVAL" default:"5s"`
	PollMaxAttempts   int           `envconfig:"POS_POLL_MAX_ATTEMPTS" default:"0"`
	FollowUpDelay     time.Duration `envconfig:"POS_FOLLOWUP_DELAY" default:"1m"`
	FollowUpRetries   int           `envconfig:"POS_FOLLOWUP_MAX_RETRY" default:"30"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	ScopePrefix   string `envconfig:"POS_SCOPE_PREFIX" default:"pos"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if u, err := url.Parse(cfg.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("pos api url must be an absolute url")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if cfg.PollMaxAttempts < 0 {
		return nil, errors.New("poll max attempts must not be negative")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
