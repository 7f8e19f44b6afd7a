package app

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/ylink/internal/logging"
)

// Config is the router configuration.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// TickInterval is how often the resolution caches observe elapsed time.
	TickInterval time.Duration `yaml:"tick_interval"`
	// StatsInterval is how often forwarding stats are reported.
	StatsInterval time.Duration `yaml:"stats_interval"`
	// RecvBufferSize is the per-port socket receive-buffer size.
	RecvBufferSize datasize.ByteSize `yaml:"recv_buffer_size"`
	// Ports binds host links to router interfaces; the position in this
	// list is the interface index routes refer to.
	Ports []PortConfig `yaml:"ports"`
	// Routes is the static forwarding table.
	Routes []RouteConfig `yaml:"routes"`
}

// PortConfig describes a single router interface.
type PortConfig struct {
	// Link is the host network device to attach to. The interface inherits
	// the device's hardware address.
	Link string `yaml:"link"`
	// Addr is the interface's IPv4 address.
	Addr string `yaml:"addr"`
}

// RouteConfig describes a single forwarding rule.
type RouteConfig struct {
	// Prefix is the route prefix in CIDR notation.
	Prefix string `yaml:"prefix"`
	// NextHop is the adjacent node to forward through. Empty means the
	// network is directly attached to the egress interface.
	NextHop string `yaml:"nexthop,omitempty"`
	// Port is the egress interface index.
	Port int `yaml:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level: zapcore.InfoLevel,
		},
		TickInterval:   100 * time.Millisecond,
		StatsInterval:  30 * time.Second,
		RecvBufferSize: 4 * datasize.MB,
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	if len(cfg.Ports) == 0 {
		return nil, fmt.Errorf("config declares no ports")
	}

	return cfg, nil
}
