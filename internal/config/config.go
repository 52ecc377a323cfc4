// Package config loads server configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all environment-tunable settings. Defaults match the
// production windows of the presence core; tests and staging shrink them
// through the environment.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	DefaultSession string `env:"DEFAULT_SESSION" envDefault:"default"`

	TypingTimeout       time.Duration `env:"TYPING_TIMEOUT" envDefault:"3s"`
	MessageMinInterval  time.Duration `env:"MESSAGE_MIN_INTERVAL" envDefault:"500ms"`
	LocationMinInterval time.Duration `env:"LOCATION_MIN_INTERVAL" envDefault:"1s"`
	GracePeriod         time.Duration `env:"RECONNECT_GRACE_PERIOD" envDefault:"5m"`

	PongTimeout         time.Duration `env:"PONG_TIMEOUT" envDefault:"15s"`
	PingIntervalInitial time.Duration `env:"PING_INTERVAL_INITIAL" envDefault:"30s"`
	PingIntervalMin     time.Duration `env:"PING_INTERVAL_MIN" envDefault:"15s"`
	PingIntervalMax     time.Duration `env:"PING_INTERVAL_MAX" envDefault:"60s"`

	StaleThreshold time.Duration `env:"STALE_THRESHOLD" envDefault:"10m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	ForceCloseAfter  time.Duration `env:"SHUTDOWN_FORCE_CLOSE" envDefault:"5s"`
	WatchdogAfter    time.Duration `env:"SHUTDOWN_WATCHDOG" envDefault:"15s"`
	ExpectedDowntime time.Duration `env:"EXPECTED_DOWNTIME" envDefault:"30s"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
