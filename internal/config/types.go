package config

import "time"

// Config represents the complete branchguard configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	GitHub  GitHubConfig  `yaml:"github"`
	Webhook WebhookConfig `yaml:"webhook"`
	Tuning  TuningConfig  `yaml:"tuning"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" (default) or "text"
}

// GitHubConfig defines GitHub App identity and API settings.
type GitHubConfig struct {
	// BaseURL is the API root with trailing slash. Defaults to github.com.
	BaseURL string `yaml:"base_url"`

	// Organization is the slug of the org the App is installed on, as it
	// appears in URLs.
	Organization string `yaml:"organization"`

	// AppID is the numeric GitHub App ID from the App's About page.
	AppID int64 `yaml:"app_id"`

	// PrivateKeyPath points at the App's private key PEM file. Keep file
	// permissions tight; other users on the machine should not read it.
	PrivateKeyPath string `yaml:"private_key_path"`

	// WebhookSecret verifies that deliveries actually come from GitHub.
	// Supports ${ENV_VAR} interpolation so it can stay out of the file.
	WebhookSecret string `yaml:"webhook_secret"`
}

// WebhookConfig defines the inbound HTTP listener settings.
type WebhookConfig struct {
	Listen string `yaml:"listen"`

	// MaxBodySize accepts plain bytes or a unit suffix ("256KB", "1MB").
	MaxBodySize string `yaml:"max_body_size"`
}

// TuningConfig exposes the operational knobs of the auth and retry layers.
// All values have sane defaults; most deployments never set these.
type TuningConfig struct {
	ClockSkew      time.Duration `yaml:"clock_skew"`
	JWTLifetime    time.Duration `yaml:"jwt_lifetime"`
	RenewalMargin  time.Duration `yaml:"renewal_margin"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultBaseURL  = "https://api.github.com/"
	DefaultListen   = "127.0.0.1:2342"
	DefaultLogLevel = "INFO"
)
