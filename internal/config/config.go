package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "BITRIX_MANAGER"
	defaultHTTPAddress  = "0.0.0.0:8000"
	defaultLogLevel     = "info"
	defaultCallTimeout  = 30 * time.Second
	defaultUserCacheTTL = 5 * time.Minute
	defaultPageDelay    = 20 * time.Millisecond
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	LogLevel        string
	DefaultBaseURL  string
	UpstreamTimeout time.Duration
	UserCacheTTL    time.Duration
	PageDelay       time.Duration
	AllowedOrigins  []string
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("bitrix.base_url", "")
	configViper.SetDefault("bitrix.timeout", defaultCallTimeout)
	configViper.SetDefault("cache.user_ttl", defaultUserCacheTTL)
	configViper.SetDefault("list.page_delay", defaultPageDelay)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		LogLevel:        configViper.GetString("log.level"),
		DefaultBaseURL:  configViper.GetString("bitrix.base_url"),
		UpstreamTimeout: configViper.GetDuration("bitrix.timeout"),
		UserCacheTTL:    configViper.GetDuration("cache.user_ttl"),
		PageDelay:       configViper.GetDuration("list.page_delay"),
		AllowedOrigins:  configViper.GetStringSlice("cors.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("bitrix.timeout must be positive")
	}
	if c.UserCacheTTL <= 0 {
		return fmt.Errorf("cache.user_ttl must be positive")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("list.page_delay must not be negative")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins must name at least one origin")
	}
	return nil
}
