package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries process-level settings for cmd/api. Engine policy knobs
// (quorum population, rank gate strictness) live here so deployments can
// flip them without code changes.
type Config struct {
	HTTPAddr        string        `env:"RASD_HTTP_ADDR" envDefault:":8080"`
	PGDSN           string        `env:"RASD_PG_DSN"`
	ShutdownTimeout time.Duration `env:"RASD_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	RateLimitPerSecond int   `env:"RASD_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst     int   `env:"RASD_RATE_LIMIT_BURST" envDefault:"100"`
	MaxBodyBytes       int64 `env:"RASD_MAX_BODY_BYTES" envDefault:"1048576"`

	// QuorumPolicy selects the approval population: "all_members" or "heads_only".
	QuorumPolicy string `env:"RASD_QUORUM_POLICY" envDefault:"all_members"`
	// StrictRankGate switches the chairman-office rank comparison from <= to <.
	StrictRankGate bool `env:"RASD_STRICT_RANK_GATE" envDefault:"false"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RateLimitPerSecond <= 0 || cfg.RateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("rate limit values must be positive")
	}
	switch cfg.QuorumPolicy {
	case "all_members", "heads_only":
	default:
		return Config{}, fmt.Errorf("unsupported quorum policy %q", cfg.QuorumPolicy)
	}
	return cfg, nil
}
