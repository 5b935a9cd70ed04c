package node

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/transport"
)

// Default configuration constants
const (
	DefaultAddress             = "127.0.0.1"
	DefaultPort                = 7000
	DefaultClusterID           = "hermes"
	DefaultPhiConvictThreshold = gossip.DefaultPhiConvictThreshold
	DefaultDiscoveryPrefix     = "/hermes/nodes/"
	DefaultDiscoveryTTL        = 10 * time.Second
	DefaultSeedRefresh         = 30 * time.Second

	DiscoveryStatic = "static"
	DiscoveryEtcd   = "etcd"
)

// DiscoveryConfig selects where seeds come from.
type DiscoveryConfig struct {
	Kind          string        `yaml:"kind"`
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
	// Refresh is how often seeds are resolved again while running.
	Refresh time.Duration `yaml:"refresh"`
}

// Config holds the configuration for a node
type Config struct {
	ClusterID string `yaml:"cluster_id"`

	// Server configuration
	ListenAddress string `yaml:"listen_address"`
	Port          int    `yaml:"port"`
	ServicePort   int    `yaml:"service_port"`
	Transport     string `yaml:"transport"`
	AdminAddress  string `yaml:"admin_address"`

	// Peer configuration
	Seeds     []string        `yaml:"seeds"` // host:port[:service_port]
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Gossip configuration
	GossipInterval      time.Duration `yaml:"gossip_interval"`
	RingDelay           time.Duration `yaml:"ring_delay"`
	PhiConvictThreshold float64       `yaml:"phi_convict_threshold"`
	ManualGossip        bool          `yaml:"manual_gossip"` // rounds are triggered manually instead of on a timer
	GenerationFile      string        `yaml:"generation_file"`

	// Published as application state
	Load            float64           `yaml:"load"`
	Weight          int               `yaml:"weight"`
	NodeType        string            `yaml:"node_type"`
	SoftwareVersion string            `yaml:"version"`
	Labels          map[string]string `yaml:"labels"`

	LogLevel string `yaml:"log_level"`
	Trace    bool   `yaml:"trace"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ClusterID:     DefaultClusterID,
		ListenAddress: DefaultAddress,
		Port:          DefaultPort,
		Transport:     transport.KindGRPC,
		Seeds:         []string{},
		Discovery: DiscoveryConfig{
			Kind:    DiscoveryStatic,
			Prefix:  DefaultDiscoveryPrefix,
			TTL:     DefaultDiscoveryTTL,
			Refresh: DefaultSeedRefresh,
		},
		GossipInterval:      gossip.DefaultInterval,
		RingDelay:           gossip.DefaultRingDelay,
		PhiConvictThreshold: DefaultPhiConvictThreshold,
		Weight:              1,
		NodeType:            "node",
		SoftwareVersion:     "dev",
		LogLevel:            "info",
	}
}

// LoadConfig reads a yaml file over the defaults. Durations are written as
// strings such as "1s".
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.ClusterID == "" {
		return ErrClusterIDRequired
	}
	if c.ListenAddress == "" {
		return ErrAddressRequired
	}
	if ip := net.ParseIP(c.ListenAddress); ip != nil && ip.IsUnspecified() {
		return ErrWildcardAddress
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.ServicePort < 0 || c.ServicePort > 65535 {
		return fmt.Errorf("%w: service port %d", ErrInvalidPort, c.ServicePort)
	}
	switch c.Discovery.Kind {
	case "", DiscoveryStatic:
		if len(c.Seeds) == 0 {
			return ErrSeedsRequired
		}
	case DiscoveryEtcd:
		if len(c.Discovery.EtcdEndpoints) == 0 {
			return ErrEtcdEndpointsRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDiscovery, c.Discovery.Kind)
	}
	for _, s := range c.Seeds {
		if _, err := gossip.ParseEndpoint(s); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	if c.GossipInterval <= 0 {
		return ErrInvalidGossipInterval
	}
	if c.RingDelay <= 0 {
		return ErrInvalidRingDelay
	}
	if c.PhiConvictThreshold <= 0 {
		return ErrInvalidPhiThreshold
	}
	switch c.Transport {
	case transport.KindGRPC, transport.KindUDP, transport.KindInmem:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	return nil
}

// Endpoint is the local gossip endpoint this config describes.
func (c *Config) Endpoint() gossip.Endpoint {
	return gossip.NewEndpoint(c.ListenAddress, c.Port, c.ServicePort)
}

// GetAddress returns the full gossip address (address:port)
func (c *Config) GetAddress() string {
	return c.Endpoint().Addr()
}
