package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "LETTERS"
	defaultHTTPAddress   = "0.0.0.0:5000"
	defaultDatabaseDSN   = "letters.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "letters_session"
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabaseDSN         string
	LogLevel            string
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURL   string
	GoogleJWKSURL       string
	SessionSecret       string
	SessionCookieName   string
	SessionTTL          time.Duration
	SessionSecureCookie bool
	ClientURL           string
	AllowedOrigins      []string
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
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.secure_cookie", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		GoogleClientID:      configViper.GetString("google.client_id"),
		GoogleClientSecret:  configViper.GetString("google.client_secret"),
		GoogleRedirectURL:   configViper.GetString("google.redirect_url"),
		GoogleJWKSURL:       configViper.GetString("google.jwks_url"),
		SessionSecret:       configViper.GetString("session.secret"),
		SessionCookieName:   configViper.GetString("session.cookie_name"),
		SessionTTL:          configViper.GetDuration("session.ttl"),
		SessionSecureCookie: configViper.GetBool("session.secure_cookie"),
		ClientURL:           strings.TrimSpace(configViper.GetString("client.url")),
		AllowedOrigins:      normalizeOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}
	if len(cfg.AllowedOrigins) == 0 && cfg.ClientURL != "" {
		cfg.AllowedOrigins = []string{strings.TrimRight(cfg.ClientURL, "/")}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		return fmt.Errorf("google.client_secret is required")
	}
	if strings.TrimSpace(c.GoogleRedirectURL) == "" {
		return fmt.Errorf("google.redirect_url is required")
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.ClientURL == "" {
		return fmt.Errorf("client.url is required")
	}
	return nil
}

func normalizeOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			origin := strings.TrimRight(strings.TrimSpace(part), "/")
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
