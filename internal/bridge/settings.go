package bridge

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/reactive-counter/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the bridge server.
	DefaultPort = 8766
	// DefaultMaxBodyBytes limits command payloads to 4 KB.
	DefaultMaxBodyBytes int64 = 4 << 10
	// DefaultRatePerSecond is the sustained command intake rate.
	DefaultRatePerSecond = 20.0
	// DefaultBurst is the number of commands accepted back to back.
	DefaultBurst = 10
	// DefaultTimeout bounds reads and writes of a single request.
	DefaultTimeout = 5 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Environment variables read by SettingsFromConfig. They win over the config file.
const (
	EnvEnabled = "COUNTER_BRIDGE_ENABLED"
	EnvHost    = "COUNTER_BRIDGE_HOST"
	EnvPort    = "COUNTER_BRIDGE_PORT"
)

// Settings captures runtime configuration for the HTTP command bridge.
type Settings struct {
	Enabled       bool
	Host          string
	Port          int
	MaxBodyBytes  int64
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	IdleTimeout   time.Duration
}

// SettingsFromConfig builds Settings from the bridge section of the project
// config, then applies environment overrides. A nil cfg yields the defaults,
// with the bridge disabled.
func SettingsFromConfig(cfg *config.Config) Settings {
	var s Settings
	if cfg != nil {
		raw := cfg.Project.Bridge
		s = Settings{
			Enabled:       raw.Enabled != nil && *raw.Enabled,
			Host:          raw.Host,
			Port:          raw.Port,
			RatePerSecond: raw.RatePerSecond,
			Burst:         raw.Burst,
		}
	}
	if enabled, err := strconv.ParseBool(env(EnvEnabled)); err == nil {
		s.Enabled = enabled
	}
	if host := env(EnvHost); host != "" {
		s.Host = host
	}
	if port, err := strconv.Atoi(env(EnvPort)); err == nil && isValidPort(port) {
		s.Port = port
	}
	return s.withDefaults()
}

// withDefaults fills every unset or out-of-range field.
func (s Settings) withDefaults() Settings {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if !isValidPort(s.Port) {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.RatePerSecond <= 0 {
		s.RatePerSecond = DefaultRatePerSecond
	}
	if s.Burst <= 0 {
		s.Burst = DefaultBurst
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	return s
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
