// Package config loads gatekeeper settings. Defaults and environment
// variables are read first, then an optional YAML file overrides them.
// Command line flags are applied last by the binary.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/jobs"
)

// EnvConfigPath names the variable holding the YAML file path
const EnvConfigPath = "GATEKEEPER_CONFIG"

type Config struct {
	SigningKey           string        `env:"GATEKEEPER_SIGNING_KEY" yaml:"signing_key"`
	Issuer               string        `env:"GATEKEEPER_ISSUER" envDefault:"gatekeeper" yaml:"issuer"`
	Audience             []string      `env:"GATEKEEPER_AUDIENCE" envSeparator:"," yaml:"audience"`
	AccessTokenLifetime  time.Duration `env:"GATEKEEPER_ACCESS_TOKEN_LIFETIME" envDefault:"24h" yaml:"access_token_lifetime"`
	RefreshTokenLifetime time.Duration `env:"GATEKEEPER_REFRESH_TOKEN_LIFETIME" envDefault:"168h" yaml:"refresh_token_lifetime"`
	MinPasswordLength    int           `env:"GATEKEEPER_MIN_PASSWORD_LENGTH" envDefault:"6" yaml:"min_password_length"`
	TokenLookup          string        `env:"GATEKEEPER_TOKEN_LOOKUP" envDefault:"header:Authorization" yaml:"token_lookup"`
	AuthScheme           string        `env:"GATEKEEPER_AUTH_SCHEME" envDefault:"Bearer" yaml:"auth_scheme"`

	HTTP      HTTPConfig      `envPrefix:"GATEKEEPER_HTTP_" yaml:"http"`
	Database  DatabaseConfig  `envPrefix:"GATEKEEPER_DB_" yaml:"database"`
	Keychain  KeychainConfig  `envPrefix:"GATEKEEPER_KEYCHAIN_" yaml:"keychain"`
	Jobs      JobsConfig      `envPrefix:"GATEKEEPER_JOBS_" yaml:"jobs"`
	RateLimit RateLimitConfig `envPrefix:"GATEKEEPER_RATE_LIMIT_" yaml:"rate_limit"`
	Log       LogConfig       `envPrefix:"GATEKEEPER_LOG_" yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080" yaml:"addr"`
	BaseURL         string        `env:"BASE_URL" envDefault:"http://localhost:8080" yaml:"base_url"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout"`
	MetricsPath     string        `env:"METRICS_PATH" envDefault:"/metrics" yaml:"metrics_path"`
}

type DatabaseConfig struct {
	DSN string `env:"DSN" envDefault:"file:gatekeeper.db?cache=shared" yaml:"dsn"`
}

// KeychainConfig locates the encrypted client vault. An empty Dir resolves
// to gatekeeper under the user config directory.
type KeychainConfig struct {
	Dir string `env:"DIR" yaml:"dir"`
}

type JobsConfig struct {
	Buffer              int           `env:"BUFFER" envDefault:"256" yaml:"buffer"`
	EmailWorkers        int           `env:"EMAIL_WORKERS" envDefault:"1" yaml:"email_workers"`
	NotificationWorkers int           `env:"NOTIFICATION_WORKERS" envDefault:"1" yaml:"notification_workers"`
	BackgroundWorkers   int           `env:"BACKGROUND_WORKERS" envDefault:"2" yaml:"background_workers"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS" envDefault:"1" yaml:"max_attempts"`
	RetryInitial        time.Duration `env:"RETRY_INITIAL" envDefault:"500ms" yaml:"retry_initial"`
	RetryMax            time.Duration `env:"RETRY_MAX" envDefault:"30s" yaml:"retry_max"`
	MailLatency         time.Duration `env:"MAIL_LATENCY" envDefault:"2s" yaml:"mail_latency"`
	DeadLetters         bool          `env:"DEAD_LETTERS" envDefault:"true" yaml:"dead_letters"`
}

type RateLimitConfig struct {
	PerMinute float64 `env:"PER_MINUTE" envDefault:"10" yaml:"per_minute"`
	Burst     int     `env:"BURST" envDefault:"5" yaml:"burst"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info" yaml:"level"`
	Format string `env:"FORMAT" envDefault:"json" yaml:"format"`
}

var _ gatekeeper.Config = (*Config)(nil)

// Load reads defaults and the environment, then overlays the YAML file at
// path. When path is empty GATEKEEPER_CONFIG is used, and when that is
// empty too no file is read.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse environment").
			WithTextCode("CONFIG_ENV")
	}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "read config file").
			WithTextCode("CONFIG_FILE").
			WithMetadata(map[string]any{"path": path})
	}

	if err := yaml.Unmarshal(raw, c); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "parse config file").
			WithTextCode("CONFIG_FILE").
			WithMetadata(map[string]any{"path": path})
	}
	return nil
}

// Validate reports settings the server cannot start with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SigningKey) == "" {
		return gatekeeper.ErrMissingSigningKey
	}

	if c.RefreshTokenLifetime > 0 && c.AccessTokenLifetime > c.RefreshTokenLifetime {
		return goerrors.New(
			fmt.Sprintf("access token lifetime %s exceeds refresh lifetime %s", c.AccessTokenLifetime, c.RefreshTokenLifetime),
			goerrors.CategoryValidation,
		).WithTextCode("CONFIG_INVALID")
	}

	if c.Jobs.MaxAttempts < 1 {
		return goerrors.New("jobs max attempts must be at least 1", goerrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID")
	}
	return nil
}

func (c *Config) GetSigningKey() string {
	return c.SigningKey
}

func (c *Config) GetIssuer() string {
	return c.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Audience
}

func (c *Config) GetAccessTokenLifetime() time.Duration {
	return c.AccessTokenLifetime
}

func (c *Config) GetRefreshTokenLifetime() time.Duration {
	return c.RefreshTokenLifetime
}

func (c *Config) GetMinPasswordLength() int {
	return c.MinPasswordLength
}

func (c *Config) GetTokenLookup() string {
	return c.TokenLookup
}

func (c *Config) GetAuthScheme() string {
	return c.AuthScheme
}

// QueueConfig converts the job settings for jobs.New
func (j JobsConfig) QueueConfig() jobs.Config {
	return jobs.Config{
		Buffer: j.Buffer,
		Workers: map[jobs.QueueName]int{
			jobs.QueueEmail:         j.EmailWorkers,
			jobs.QueueNotifications: j.NotificationWorkers,
			jobs.QueueBackground:    j.BackgroundWorkers,
		},
		MaxAttempts:  j.MaxAttempts,
		RetryInitial: j.RetryInitial,
		RetryMax:     j.RetryMax,
	}
}

// VaultDir returns the keychain directory, resolving the default
func (k KeychainConfig) VaultDir() (string, error) {
	if k.Dir != "" {
		return k.Dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "resolve user config dir")
	}
	return base + string(os.PathSeparator) + "gatekeeper", nil
}
