package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/ratify/internal/server"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/reconcile"
)

// envPrefix namespaces environment variables, e.g. RATIFY_DATABASE or
// RATIFY_SERVER_PORT.
const envPrefix = "RATIFY"

// Config holds the application configuration loaded from various sources
// including config files, environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Engine configuration
	Database      string
	CommitTimeout time.Duration
	LockTimeout   time.Duration
	Metrics       bool

	// Server configuration, used by serve
	Server server.Config

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
//  1. Command-line flags (handled by cobra)
//  2. Environment variables (RATIFY_*)
//  3. .env files
//  4. Config file (./.ratify.yaml, then ~/.ratify.yaml)
//  5. Defaults
func LoadConfig(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("config", "reading "+configFile, err)
		}
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName(".ratify")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		// A missing config file is fine.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.NewConfigError("config", "reading config file", err)
			}
		}
	}

	cfg := &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no_color"),
		Format:  v.GetString("format"),

		ConfigFile: v.ConfigFileUsed(),

		Database:      v.GetString("database"),
		CommitTimeout: v.GetDuration("commit_timeout"),
		LockTimeout:   v.GetDuration("lock_timeout"),
		Metrics:       v.GetBool("metrics"),

		Server: server.Config{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			PathPrefix:     v.GetString("server.prefix"),
			CORSEnabled:    v.GetBool("server.cors"),
			CORSOrigins:    v.GetStringSlice("server.cors_origins"),
			AuthEnabled:    v.GetBool("server.auth"),
			AuthHeader:     v.GetString("server.auth_header"),
			APIKey:         v.GetString("server.api_key"),
			RateLimit:      v.GetFloat64("server.rate_limit"),
			RateBurst:      v.GetInt("server.rate_burst"),
			CacheTTL:       v.GetDuration("server.cache_ttl"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
			MetricsEnabled: v.GetBool("metrics"),
		},

		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		LogOutput: v.GetString("log.output"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()

	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
	v.SetDefault("no_color", false)
	v.SetDefault("format", "")

	v.SetDefault("database", "ratify.db")
	v.SetDefault("commit_timeout", reconcile.DefaultCommitTimeout)
	v.SetDefault("lock_timeout", 30*time.Second)
	v.SetDefault("metrics", srv.MetricsEnabled)

	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.prefix", srv.PathPrefix)
	v.SetDefault("server.cors", srv.CORSEnabled)
	v.SetDefault("server.cors_origins", srv.CORSOrigins)
	v.SetDefault("server.auth", srv.AuthEnabled)
	v.SetDefault("server.auth_header", srv.AuthHeader)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.rate_limit", srv.RateLimit)
	v.SetDefault("server.rate_burst", srv.RateBurst)
	v.SetDefault("server.cache_ttl", srv.CacheTTL)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)

	// An empty level lets -v and -q decide.
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel, database string) {
	c.Verbose = c.Verbose || verbose
	c.Quiet = c.Quiet || quiet
	c.NoColor = c.NoColor || noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if database != "" {
		c.Database = database
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
