// Package config loads the server configuration from YAML and the
// environment.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server Server
	Bun    BunConfig
	Logger LoggerMode
}

type Server struct {
	Addr        string
	Environment string
}

type BunConfig struct {
	// DSN is the Postgres connection string. Empty selects the in-memory
	// store, which is only suitable for development.
	DSN string
}

type LoggerMode struct {
	Development bool
	Level       string
}

// Load reads config/<filename>.yaml, with HUSHBOX_* environment variables
// taking precedence.
func Load(filename string) (*Config, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HUSHBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("logger.development", true)
	v.SetDefault("logger.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// Defaults plus environment are enough to run.
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
