package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config carries everything the api binary needs at boot.
type Config struct {
	DatabaseURL string
	JWTSecret   string
	TextGenURL  string
	TextGenKey  string
	Workers     int
	QueueSize   int
}

// Load reads config.yaml from path (if present) and applies LOANFLOW_-prefixed
// environment overrides, e.g. LOANFLOW_DATABASE_URL, LOANFLOW_PIPELINE_WORKERS.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("LOANFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; env vars and defaults cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := Config{
		DatabaseURL: v.GetString("database.url"),
		JWTSecret:   v.GetString("auth.jwt_secret"),
		TextGenURL:  v.GetString("textgen.url"),
		TextGenKey:  v.GetString("textgen.api_key"),
		Workers:     v.GetInt("pipeline.workers"),
		QueueSize:   v.GetInt("pipeline.queue_size"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: database.url is required")
	}
	if cfg.TextGenURL == "" {
		return Config{}, fmt.Errorf("config: textgen.url is required")
	}

	return cfg, nil
}
