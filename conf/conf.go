package conf

import (
	"fmt"
	"time"

	"github.com/telekv/telekv/errors"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 2 * time.Second
	DefaultMetricsListenAddr = "localhost:9102"
)

type Config struct {
	// ListenAddress is where the store server accepts request/response connections.
	ListenAddress string `json:"listen_address,omitempty"`

	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout,omitempty"`

	MetricsEnabled        bool   `json:"metrics_enabled,omitempty"`
	MetricsHTTPListenAddr string `json:"metrics_http_listen_addr,omitempty"`

	LogFormat string `json:"log_format,omitempty"`
	LogLevel  string `json:"log_level,omitempty"`
	LogFile   string `json:"log_file,omitempty"`
}

func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.NewInvalidConfigurationError("ListenAddress must be specified")
	}
	if c.HeartbeatInterval < 100*time.Millisecond {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("HeartbeatInterval must be >= %d", 100*time.Millisecond))
	}
	if c.HeartbeatTimeout < 10*time.Millisecond {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("HeartbeatTimeout must be >= %d", 10*time.Millisecond))
	}
	if c.MetricsEnabled && c.MetricsHTTPListenAddr == "" {
		return errors.NewInvalidConfigurationError("MetricsHTTPListenAddr must be specified if MetricsEnabled")
	}
	return nil
}

func NewDefaultConfig() *Config {
	return &Config{
		HeartbeatInterval:     DefaultHeartbeatInterval,
		HeartbeatTimeout:      DefaultHeartbeatTimeout,
		MetricsHTTPListenAddr: DefaultMetricsListenAddr,
	}
}
