// internal/config/config.go
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the circulation service configuration. Environment variables
// take precedence over flags.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// Parse reads configuration from flags and the environment. An empty
// DatabaseURI selects the in-memory store.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envOTLPEndpoint := cfg.OTLPEndpoint

	fs := flag.NewFlagSet("circulation", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8082", "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty runs the in-memory store)")
	fs.StringVar(&cfg.OTLPEndpoint, "t", "", "OTLP trace collector endpoint")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envOTLPEndpoint != "" {
		cfg.OTLPEndpoint = envOTLPEndpoint
	}

	return cfg, nil
}
