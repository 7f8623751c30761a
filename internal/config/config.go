package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PINPOINT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "pinpoint.db"
	defaultLogLevel     = "info"
	defaultAuthIssuer   = "pinpoint-auth"
	defaultAuthAudience = "pinpoint-api"
	defaultTokenTTL     = 12 * time.Hour
	defaultAPIBaseURL   = "http://localhost:8080"
)

// APIConfig captures runtime configuration for the API server.
type APIConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AuthIssuer    string
	AuthAudience  string
	TokenTTL      time.Duration
}

// WidgetConfig captures runtime configuration for the widget runner.
type WidgetConfig struct {
	APIBaseURL string
	Token      string
	Repo       string
	Branch     string
	LogLevel   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
}

// LoadAPI parses the API server configuration from viper.
func LoadAPI(configViper *viper.Viper) (APIConfig, error) {
	cfg := APIConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:    configViper.GetString("auth.issuer"),
		AuthAudience:  configViper.GetString("auth.audience"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

func (c APIConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.AuthAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	return nil
}

// LoadWidget parses the widget runner configuration from viper.
func LoadWidget(configViper *viper.Viper) (WidgetConfig, error) {
	cfg := WidgetConfig{
		APIBaseURL: configViper.GetString("api.base_url"),
		Token:      configViper.GetString("api.token"),
		Repo:       configViper.GetString("widget.repo"),
		Branch:     configViper.GetString("widget.branch"),
		LogLevel:   configViper.GetString("log.level"),
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return WidgetConfig{}, fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(cfg.Repo) == "" {
		return WidgetConfig{}, fmt.Errorf("widget.repo is required")
	}
	return cfg, nil
}
