package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file, interpolates
// ${ENV_VAR} references, applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	interpolateConfig(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// interpolateConfig expands ${VAR} references in the fields that commonly
// carry secrets or deployment-specific values.
func interpolateConfig(cfg *Config) {
	cfg.GitHub.WebhookSecret = interpolateEnv(cfg.GitHub.WebhookSecret)
	cfg.GitHub.PrivateKeyPath = interpolateEnv(cfg.GitHub.PrivateKeyPath)
	cfg.GitHub.BaseURL = interpolateEnv(cfg.GitHub.BaseURL)
	cfg.Webhook.Listen = interpolateEnv(cfg.Webhook.Listen)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (and will fail validation if required).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = DefaultLogLevel
	}
	if cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = DefaultBaseURL
	}
	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = DefaultListen
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.GitHub.Organization == "" {
		return fmt.Errorf("github.organization is required")
	}
	if cfg.GitHub.AppID <= 0 {
		return fmt.Errorf("github.app_id is required and must be positive")
	}
	if cfg.GitHub.PrivateKeyPath == "" {
		return fmt.Errorf("github.private_key_path is required")
	}
	if cfg.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github.webhook_secret is required")
	}
	if envVarPattern.MatchString(cfg.GitHub.WebhookSecret) {
		matches := envVarPattern.FindStringSubmatch(cfg.GitHub.WebhookSecret)
		return fmt.Errorf("github.webhook_secret references undefined environment variable %s", matches[1])
	}
	if !strings.HasSuffix(cfg.GitHub.BaseURL, "/") {
		return fmt.Errorf("github.base_url must end with a trailing slash")
	}
	if _, err := ParseBodySize(cfg.Webhook.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size: %w", err)
	}
	if cfg.Tuning.MaxAttempts < 0 {
		return fmt.Errorf("tuning.max_attempts must not be negative")
	}
	return nil
}

// ParseBodySize parses size strings like "256KB", "1MB", or "262144" into
// bytes. Returns 0 for an empty string (meaning: use the default).
func ParseBodySize(size string) (int64, error) {
	if size == "" {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result < 0 {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
