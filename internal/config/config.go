// Package config loads service settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Admin       AdminConfig       `yaml:"admin"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Upload      UploadConfig      `yaml:"upload"`
	Provider    ProviderConfig    `yaml:"provider"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AuthRateLimit is requests per minute per client on /auth routes.
	AuthRateLimit int `yaml:"auth_rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path     string `yaml:"path"`
	LogLevel string `yaml:"log_level"`
}

type AdminConfig struct {
	Password string `yaml:"password"`
}

type CredentialsConfig struct {
	SecretKey  string `yaml:"secret_key"`
	Salt       string `yaml:"salt"`
	Iterations int    `yaml:"iterations"`
}

type RefreshConfig struct {
	Interval  Duration `yaml:"interval"`
	Lookahead Duration `yaml:"lookahead"`
	Timeout   Duration `yaml:"timeout"`
	Workers   int      `yaml:"workers"`
}

type UploadConfig struct {
	SafetyMargin Duration `yaml:"safety_margin"`
	MaxAttempts  int      `yaml:"max_attempts"`
	BaseBackoff  Duration `yaml:"base_backoff"`
	MaxBackoff   Duration `yaml:"max_backoff"`
	Timeout      Duration `yaml:"timeout"`
	MaxSizeMB    int64    `yaml:"max_size_mb"`
}

type ProviderConfig struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	AuthURL       string   `yaml:"auth_url"`
	TokenURL      string   `yaml:"token_url"`
	APIBaseURL    string   `yaml:"api_base_url"`
	UploadBaseURL string   `yaml:"upload_base_url"`
	UserInfoURL   string   `yaml:"userinfo_url"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Duration lets YAML carry values such as "15m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080, AuthRateLimit: 30},
		Database: DatabaseConfig{Path: "filedesk.db", LogLevel: "warn"},
		Credentials: CredentialsConfig{
			Salt:       "filedesk",
			Iterations: 100000,
		},
		Refresh: RefreshConfig{
			Interval:  Duration(5 * time.Minute),
			Lookahead: Duration(20 * time.Minute),
			Timeout:   Duration(30 * time.Second),
			Workers:   4,
		},
		Upload: UploadConfig{
			SafetyMargin: Duration(2 * time.Minute),
			MaxAttempts:  4,
			BaseBackoff:  Duration(time.Second),
			MaxBackoff:   Duration(30 * time.Second),
			Timeout:      Duration(5 * time.Minute),
			MaxSizeMB:    512,
		},
		Provider: ProviderConfig{
			AuthURL:       "https://accounts.google.com/o/oauth2/auth",
			TokenURL:      "https://oauth2.googleapis.com/token",
			APIBaseURL:    "https://www.googleapis.com/drive/v3",
			UploadBaseURL: "https://www.googleapis.com/upload/drive/v3",
			UserInfoURL:   "https://www.googleapis.com/oauth2/v2/userinfo",
			Scopes: []string{
				"https://www.googleapis.com/auth/drive.file",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load resolves the config file, applies environment overrides and validates.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Credentials.SecretKey) == "" {
		errs = append(errs, errors.New("credentials.secret_key (FILEDESK_SECRET_KEY) is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Refresh.Interval <= 0 {
		errs = append(errs, errors.New("refresh.interval must be positive"))
	}
	if c.Refresh.Lookahead <= 0 {
		errs = append(errs, errors.New("refresh.lookahead must be positive"))
	}
	if c.Refresh.Timeout <= 0 || c.Upload.Timeout <= 0 {
		errs = append(errs, errors.New("refresh.timeout and upload.timeout must be positive"))
	}
	if c.Upload.MaxAttempts < 1 {
		errs = append(errs, errors.New("upload.max_attempts must be at least 1"))
	}
	if c.Upload.BaseBackoff <= 0 || c.Upload.MaxBackoff < c.Upload.BaseBackoff {
		errs = append(errs, errors.New("upload backoff must satisfy 0 < base_backoff <= max_backoff"))
	}
	if c.Server.AuthRateLimit < 0 {
		errs = append(errs, errors.New("server.auth_rate_limit cannot be negative"))
	}
	if c.Refresh.Workers < 1 {
		c.Refresh.Workers = 1
	}
	return errors.Join(errs...)
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("FILEDESK_CONFIG")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/filedesk.yaml",
		"/etc/filedesk/filedesk.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "filedesk", "filedesk.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.AuthRateLimit, "FILEDESK_AUTH_RATE_LIMIT")
	setBool(&cfg.Metrics.Enabled, "FILEDESK_METRICS_ENABLED")
	setString(&cfg.Database.Path, "FILEDESK_DB_PATH")
	setString(&cfg.Database.LogLevel, "FILEDESK_DB_LOG_LEVEL")
	setString(&cfg.Admin.Password, "FILEDESK_ADMIN_PASSWORD")
	setString(&cfg.Credentials.SecretKey, "FILEDESK_SECRET_KEY")
	setString(&cfg.Credentials.Salt, "FILEDESK_SECRET_SALT")
	setDuration(&cfg.Refresh.Interval, "FILEDESK_REFRESH_INTERVAL")
	setDuration(&cfg.Refresh.Lookahead, "FILEDESK_REFRESH_LOOKAHEAD")
	setDuration(&cfg.Upload.SafetyMargin, "FILEDESK_UPLOAD_SAFETY_MARGIN")
	setInt(&cfg.Upload.MaxAttempts, "FILEDESK_UPLOAD_MAX_ATTEMPTS")
	setString(&cfg.Provider.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Provider.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Provider.RedirectURL, "FILEDESK_REDIRECT_URL")
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *Duration, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			*dst = Duration(parsed)
		}
	}
}
