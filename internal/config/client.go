package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAPIBaseURL       = "http://127.0.0.1:8080"
	defaultAPITimeoutSecond = 10
	defaultOfflinePath      = ".mediadiary-offline"
)

// ClientConfig captures configuration for the command-line diary client.
type ClientConfig struct {
	APIBaseURL  string
	APIToken    string
	APITimeout  time.Duration
	UserID      string
	OfflinePath string
	LogLevel    string
}

// NewClientViper returns a viper instance with client defaults and env bindings configured.
func NewClientViper() *viper.Viper {
	configViper := viper.New()
	ApplyClientDefaults(configViper)
	return configViper
}

// ApplyClientDefaults configures client defaults and env bindings.
func ApplyClientDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("api.timeout_seconds", defaultAPITimeoutSecond)
	configViper.SetDefault("offline.path", defaultOfflinePath)
	configViper.SetDefault("log.level", "warn")
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIBaseURL:  strings.TrimRight(configViper.GetString("api.base_url"), "/"),
		APIToken:    configViper.GetString("api.token"),
		APITimeout:  time.Duration(configViper.GetInt("api.timeout_seconds")) * time.Second,
		UserID:      strings.TrimSpace(configViper.GetString("user.id")),
		OfflinePath: configViper.GetString("offline.path"),
		LogLevel:    configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return fmt.Errorf("api.token is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user.id is required")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive")
	}
	return nil
}
