package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/hermes/logger"
	"github.com/adamgarcia4/goLearning/hermes/metrics"
	"github.com/adamgarcia4/goLearning/hermes/node"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	configFile string
	labels     []string
	overrides  = node.DefaultConfig()
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a gossip node",
	Long: `Start a gossip node and run it until SIGINT or SIGTERM.

Flags override values read from --config.

Examples:
  # Start the first node of a cluster; it is its own seed
  hermes start --port=7001 --seeds=127.0.0.1:7001

  # Join it
  hermes start --port=7002 --seeds=127.0.0.1:7001 --admin=127.0.0.1:8002

  # Find seeds through etcd
  hermes start --port=7003 --discovery=etcd --etcd=http://127.0.0.1:2379`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	f := startCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "YAML config file")

	// Server flags
	f.StringVarP(&overrides.ListenAddress, "address", "a", node.DefaultAddress, "Address to gossip on")
	f.IntVarP(&overrides.Port, "port", "p", node.DefaultPort, "Gossip port")
	f.IntVar(&overrides.ServicePort, "service-port", 0, "Port of the service built on top, published with the endpoint")
	f.StringVar(&overrides.Transport, "transport", overrides.Transport, "Gossip transport: grpc or udp")
	f.StringVar(&overrides.AdminAddress, "admin", "", "Address of the admin HTTP server (/metrics, /healthz, /members)")

	// Gossip flags
	f.StringVar(&overrides.ClusterID, "cluster", node.DefaultClusterID, "Cluster id; nodes of other clusters are ignored")
	f.StringSliceVarP(&overrides.Seeds, "seeds", "s", []string{}, "Seed addresses host:port[:service_port] (comma-separated)")
	f.StringVar(&overrides.Discovery.Kind, "discovery", node.DiscoveryStatic, "Seed discovery: static or etcd")
	f.StringSliceVar(&overrides.Discovery.EtcdEndpoints, "etcd", nil, "etcd endpoints for etcd discovery")
	f.DurationVar(&overrides.GossipInterval, "interval", overrides.GossipInterval, "Gossip interval")
	f.DurationVar(&overrides.RingDelay, "ring-delay", overrides.RingDelay, "Ring delay")
	f.Float64Var(&overrides.PhiConvictThreshold, "phi", overrides.PhiConvictThreshold, "Phi convict threshold")
	f.StringVar(&overrides.GenerationFile, "generation-file", "", "File keeping the generation across restarts")
	f.StringSliceVar(&labels, "label", nil, "Label k=v replicated to every node (repeatable)")

	f.StringVar(&overrides.LogLevel, "log-level", overrides.LogLevel, "Log level")
	f.BoolVar(&overrides.Trace, "trace", false, "Export traces of gossip rounds to stderr")
}

// buildConfig layers the changed flags over the config file, or over the
// defaults without one.
func buildConfig(cmd *cobra.Command) (*node.Config, error) {
	cfg := node.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = node.LoadConfig(configFile); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("address", func() { cfg.ListenAddress = overrides.ListenAddress })
	set("port", func() { cfg.Port = overrides.Port })
	set("service-port", func() { cfg.ServicePort = overrides.ServicePort })
	set("transport", func() { cfg.Transport = overrides.Transport })
	set("admin", func() { cfg.AdminAddress = overrides.AdminAddress })
	set("cluster", func() { cfg.ClusterID = overrides.ClusterID })
	set("seeds", func() { cfg.Seeds = overrides.Seeds })
	set("discovery", func() { cfg.Discovery.Kind = overrides.Discovery.Kind })
	set("etcd", func() { cfg.Discovery.EtcdEndpoints = overrides.Discovery.EtcdEndpoints })
	set("interval", func() { cfg.GossipInterval = overrides.GossipInterval })
	set("ring-delay", func() { cfg.RingDelay = overrides.RingDelay })
	set("phi", func() { cfg.PhiConvictThreshold = overrides.PhiConvictThreshold })
	set("generation-file", func() { cfg.GenerationFile = overrides.GenerationFile })
	set("log-level", func() { cfg.LogLevel = overrides.LogLevel })
	set("trace", func() { cfg.Trace = overrides.Trace })

	if len(labels) > 0 {
		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string, len(labels))
		}
		for _, l := range labels {
			k, v, ok := strings.Cut(l, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("label %q: want key=value", l)
			}
			cfg.Labels[k] = v
		}
	}
	if cfg.SoftwareVersion == "" || cfg.SoftwareVersion == "dev" {
		cfg.SoftwareVersion = version
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	logger.Init("hermes", true)
	defer logger.Sync()

	config, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.SetLevel(config.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	metrics.SetBuildInfo(version)

	n, err := node.New(config)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	<-ctx.Done()

	logger.Infof("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Stop(shutdownCtx); err != nil {
		logger.Errorf("error during shutdown: %v", err)
	}
	return nil
}

