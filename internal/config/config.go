package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the Kairo control plane. It is built once in
// main and passed explicitly into every component.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Vault    VaultConfig
	Slack    SlackConfig
	Jira     JiraConfig
	GitHub   GitHubConfig
	Railway  RailwayConfig
	Instance InstanceConfig
}

type ServerConfig struct {
	Port int    `env:"KAIRO_PORT" envDefault:"8080"`
	Env  string `env:"KAIRO_ENV"  envDefault:"development"`
	// AppURL is the public base URL of this service; OAuth redirect URIs and
	// onboarding redirects are built from it.
	AppURL            string `env:"KAIRO_APP_URL,required,notEmpty"`
	RequestsPerMinute int    `env:"KAIRO_REQUESTS_PER_MINUTE" envDefault:"60"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL,required,notEmpty"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
	MigrationsDir   string        `env:"DATABASE_MIGRATIONS_DIR"    envDefault:"migrations"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL,required,notEmpty"`
}

// AuthConfig configures verification of tenant sessions issued by the external
// identity system and of its account webhooks.
type AuthConfig struct {
	SessionSecret string `env:"AUTH_SESSION_SECRET,required,notEmpty"`
	SessionIssuer string `env:"AUTH_SESSION_ISSUER"`
	WebhookSecret string `env:"AUTH_WEBHOOK_SECRET"`
}

type VaultConfig struct {
	// Key is the base64-encoded master secret credentials are sealed under.
	Key string `env:"ENCRYPTION_KEY,required,notEmpty"`
}

type SlackConfig struct {
	ClientID     string `env:"SLACK_CLIENT_ID"`
	ClientSecret string `env:"SLACK_CLIENT_SECRET"`
	// AppToken is the app-level socket token shared by every instance.
	AppToken string `env:"SLACK_APP_TOKEN,required,notEmpty"`
	AuthURL  string `env:"SLACK_AUTH_URL"  envDefault:"https://slack.com/oauth/v2/authorize"`
	TokenURL string `env:"SLACK_TOKEN_URL" envDefault:"https://slack.com/api/oauth.v2.access"`
}

type JiraConfig struct {
	ClientID     string `env:"JIRA_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"JIRA_OAUTH_CLIENT_SECRET"`
	AuthURL      string `env:"JIRA_AUTH_URL"  envDefault:"https://auth.atlassian.com/authorize"`
	TokenURL     string `env:"JIRA_TOKEN_URL" envDefault:"https://auth.atlassian.com/oauth/token"`
	APIURL       string `env:"JIRA_API_URL"   envDefault:"https://api.atlassian.com"`
}

type GitHubConfig struct {
	ClientID     string `env:"GITHUB_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"GITHUB_OAUTH_CLIENT_SECRET"`
	AuthURL      string `env:"GITHUB_AUTH_URL"  envDefault:"https://github.com/login/oauth/authorize"`
	TokenURL     string `env:"GITHUB_TOKEN_URL" envDefault:"https://github.com/login/oauth/access_token"`
	APIURL       string `env:"GITHUB_API_URL"   envDefault:"https://api.github.com"`
}

type RailwayConfig struct {
	APIURL        string        `env:"RAILWAY_API_URL"        envDefault:"https://backboard.railway.com/graphql/v2"`
	APIToken      string        `env:"RAILWAY_API_TOKEN,required,notEmpty"`
	ProjectID     string        `env:"RAILWAY_PROJECT_ID,required,notEmpty"`
	EnvironmentID string        `env:"RAILWAY_ENVIRONMENT_ID,required,notEmpty"`
	Image         string        `env:"KAIRO_DOCKER_IMAGE,required,notEmpty"`
	Timeout       time.Duration `env:"RAILWAY_TIMEOUT"        envDefault:"30s"`
}

// InstanceConfig holds the fixed operational settings injected into every instance.
type InstanceConfig struct {
	Port             int    `env:"KAIRO_INSTANCE_PORT"      envDefault:"3000"`
	StateDir         string `env:"KAIRO_INSTANCE_STATE_DIR" envDefault:"/home/node/.kairo"`
	ModelAPIKey      string `env:"ANTHROPIC_API_KEY,required,notEmpty"`
	RuntimeMode      string `env:"KAIRO_INSTANCE_RUNTIME"   envDefault:"production"`
	DefaultIssueType string `env:"KAIRO_DEFAULT_ISSUE_TYPE" envDefault:"Bug"`
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Server.AppURL = strings.TrimRight(cfg.Server.AppURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !isHTTPURL(c.Server.AppURL) {
		return fmt.Errorf("KAIRO_APP_URL must start with http:// or https://, got %q", c.Server.AppURL)
	}

	key, err := base64.StdEncoding.DecodeString(c.Vault.Key)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) < 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to at least 32 bytes, got %d", len(key))
	}

	if len(c.Auth.SessionSecret) < 32 {
		return fmt.Errorf("AUTH_SESSION_SECRET must be at least 32 characters")
	}

	if !isHTTPURL(c.Railway.APIURL) {
		return fmt.Errorf("RAILWAY_API_URL must start with http:// or https://, got %q", c.Railway.APIURL)
	}

	if c.Instance.Port <= 0 || c.Instance.Port > 65535 {
		return fmt.Errorf("KAIRO_INSTANCE_PORT must be a valid port, got %d", c.Instance.Port)
	}

	return nil
}

// RedirectURL returns the OAuth callback URL registered with a provider.
func (c *Config) RedirectURL(provider string) string {
	return fmt.Sprintf("%s/auth/%s/callback", c.Server.AppURL, provider)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
