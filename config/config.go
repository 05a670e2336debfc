// Package config loads the server's configuration from CLI flags with an
// optional JSON file underneath, the way the reference daemon in this
// codebase's wider family loads its own config: flags define every field
// and its default, an optional file supplies a base, and flag.Visit
// applies only the flags the operator actually passed as overrides on
// top of the file.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config holds every tunable the dispatcher and embedder binary need.
type Config struct {
	Host            string   `json:"host"`
	Port            string   `json:"port"`
	MaxPeers        int      `json:"max_peers"`
	LogLevel        string   `json:"log_level"`
	MetricsInterval Duration `json:"metrics_interval"`
	FloodGuardPPS   int      `json:"flood_guard_pps"`
	FloodGuardBurst int      `json:"flood_guard_burst"`
}

// Default returns the configuration a freshly started server uses with
// no flags and no config file.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            "5000",
		MaxPeers:        64,
		LogLevel:        "info",
		MetricsInterval: Duration{30 * time.Second},
		FloodGuardPPS:   20,
		FloodGuardBurst: 40,
	}
}

// Load parses args against a flag set seeded from Default, optionally
// loading a JSON file named by -config first, then reapplying only the
// flags the caller explicitly passed so CLI flags always win over the
// file and the file always wins over built-in defaults.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("dcbridged", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON config file")
	host := fs.String("host", cfg.Host, "UDP listen host")
	port := fs.String("port", cfg.Port, "UDP listen port")
	maxPeers := fs.Int("max-peers", cfg.MaxPeers, "maximum concurrent peers")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	metricsInterval := fs.Duration("metrics-interval", cfg.MetricsInterval.Duration, "interval between periodic metrics log lines")
	floodPPS := fs.Int("flood-guard-pps", cfg.FloodGuardPPS, "pre-auth STUN tokens/second allowed per source address")
	floodBurst := fs.Int("flood-guard-burst", cfg.FloodGuardBurst, "pre-auth STUN token bucket burst size")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := LoadJSONFile(*configPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "max-peers":
			cfg.MaxPeers = *maxPeers
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics-interval":
			cfg.MetricsInterval = Duration{*metricsInterval}
		case "flood-guard-pps":
			cfg.FloodGuardPPS = *floodPPS
		case "flood-guard-burst":
			cfg.FloodGuardBurst = *floodBurst
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every violation it finds, not just the first, via a
// multierror.Error.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Host == "" {
		result = multierror.Append(result, fmt.Errorf("host must not be empty"))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		result = multierror.Append(result, fmt.Errorf("port must be numeric: %w", err))
	}
	if c.MaxPeers <= 0 {
		result = multierror.Append(result, fmt.Errorf("max-peers must be > 0"))
	}
	if c.MetricsInterval.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("metrics-interval must be > 0"))
	}
	if c.FloodGuardPPS <= 0 {
		result = multierror.Append(result, fmt.Errorf("flood-guard-pps must be > 0"))
	}
	if c.FloodGuardBurst <= 0 {
		result = multierror.Append(result, fmt.Errorf("flood-guard-burst must be > 0"))
	}
	return result.ErrorOrNil()
}
