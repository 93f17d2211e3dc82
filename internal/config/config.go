package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// DevelopmentSecretKey is the secret key used when none is configured.
const DevelopmentSecretKey = "dev-key-for-testing"

const (
	envPrefix          = "WEBNOTE"
	defaultHTTPAddress = "0.0.0.0:5000"
	defaultBasePath    = "/webnote"
	defaultDatabaseURL = "sqlite:///webnote.db"
	defaultSecretKey   = DevelopmentSecretKey
	defaultHelpEmail   = "webnote@example.com"
	defaultNumDates    = 10
	defaultTimezone    = "US/Eastern"
	defaultStaticDir   = "static"
	defaultLogLevel    = "info"
)

// legacyEnvNames binds the unprefixed variable names older deployments set.
var legacyEnvNames = map[string]string{
	"secret_key":   "SECRET_KEY",
	"database.url": "DATABASE_URI",
	"debug":        "DEBUG",
	"help.email":   "HELPEMAIL",
	"ui.num_dates": "NUM_DATES",
	"timezone":     "TIMEZONE",
}

// AppConfig captures runtime configuration for the webnote server.
type AppConfig struct {
	HTTPAddress  string
	BasePath     string
	DatabaseURL  string
	SecretKey    string
	Debug        int
	HelpEmail    string
	NumDates     int
	TimezoneName string
	Location     *time.Location
	StaticDir    string
	LogLevel     string
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

	for key, legacyName := range legacyEnvNames {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = configViper.BindEnv(key, prefixed, legacyName)
	}

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.base_path", defaultBasePath)
	configViper.SetDefault("database.url", defaultDatabaseURL)
	configViper.SetDefault("secret_key", defaultSecretKey)
	configViper.SetDefault("debug", 0)
	configViper.SetDefault("help.email", defaultHelpEmail)
	configViper.SetDefault("ui.num_dates", defaultNumDates)
	configViper.SetDefault("timezone", defaultTimezone)
	configViper.SetDefault("static.dir", defaultStaticDir)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		BasePath:     normalizeBasePath(configViper.GetString("http.base_path")),
		DatabaseURL:  configViper.GetString("database.url"),
		SecretKey:    configViper.GetString("secret_key"),
		Debug:        configViper.GetInt("debug"),
		HelpEmail:    configViper.GetString("help.email"),
		NumDates:     configViper.GetInt("ui.num_dates"),
		TimezoneName: strings.TrimSpace(configViper.GetString("timezone")),
		StaticDir:    configViper.GetString("static.dir"),
		LogLevel:     configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	location, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return AppConfig{}, fmt.Errorf("timezone %q is invalid: %w", cfg.TimezoneName, err)
	}
	cfg.Location = location

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.TimezoneName == "" {
		return fmt.Errorf("timezone is required")
	}
	if c.NumDates <= 0 {
		return fmt.Errorf("ui.num_dates must be positive")
	}
	return nil
}

func normalizeBasePath(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}
