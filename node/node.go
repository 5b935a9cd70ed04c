package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/adamgarcia4/goLearning/hermes/discovery"
	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/logger"
	"github.com/adamgarcia4/goLearning/hermes/metrics"
	"github.com/adamgarcia4/goLearning/hermes/replication"
	"github.com/adamgarcia4/goLearning/hermes/tracing"
	"github.com/adamgarcia4/goLearning/hermes/transport"
)

// Node wires one gossip participant: transport, failure detector, gossiper,
// seed discovery, replication and the admin server. A stopped node cannot be
// started again.
type Node struct {
	cfg   *Config
	local gossip.Endpoint
	log   *zap.SugaredLogger

	network    *transport.Network
	transport  transport.Transport
	fd         *gossip.PhiAccrualDetector
	gossiper   *gossip.Gossiper
	provider   discovery.Provider
	etcd       *clientv3.Client
	handler    *replication.Handler
	labels     *Labels
	admin      *http.Server
	gossipOpts []gossip.Option

	stopTracing func(context.Context) error

	// Lifecycle management
	mu      sync.RWMutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Node)

// WithNetwork attaches the node to an in-process network; required by the
// inmem transport.
func WithNetwork(nw *transport.Network) Option {
	return func(n *Node) { n.network = nw }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(n *Node) { n.log = l }
}

// WithDiscovery replaces the provider the config would select.
func WithDiscovery(p discovery.Provider) Option {
	return func(n *Node) { n.provider = p }
}

// WithGossipOptions passes extra options to the gossiper.
func WithGossipOptions(opts ...gossip.Option) Option {
	return func(n *Node) { n.gossipOpts = append(n.gossipOpts, opts...) }
}

// New creates a new node with the given configuration
func New(config *Config, opts ...Option) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	local := config.Endpoint()
	n := &Node{
		cfg:    config,
		local:  local,
		labels: NewLabels(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Named(local.String())
	}

	if n.provider == nil {
		if err := n.setupDiscovery(); err != nil {
			return nil, err
		}
	}

	tr, err := transport.New(transport.Config{
		Kind:    config.Transport,
		Local:   local,
		Network: n.network,
		Logger:  n.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	n.transport = tr

	n.fd = gossip.NewPhiAccrualDetector(config.PhiConvictThreshold)
	gossipOpts := append([]gossip.Option{gossip.WithLogger(n.log)}, n.gossipOpts...)
	g, err := gossip.New(gossip.Config{
		ClusterID:    config.ClusterID,
		Local:        local,
		Interval:     config.GossipInterval,
		RingDelay:    config.RingDelay,
		ManualRounds: config.ManualGossip,
	}, tr, n.fd, gossipOpts...)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create gossiper: %w", err), tr.Stop())
	}
	n.gossiper = g

	n.handler = replication.NewHandler(n.log)
	n.handler.Register(LabelsRecord, n.labels)
	g.Register(n.handler)
	g.OnStarting(n.publishLocalState)

	return n, nil
}

func (n *Node) setupDiscovery() error {
	switch n.cfg.Discovery.Kind {
	case DiscoveryEtcd:
		cli, err := discovery.NewClient(n.cfg.Discovery.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		n.etcd = cli
		n.provider = discovery.NewEtcd(cli, n.cfg.Discovery.Prefix, n.cfg.Discovery.TTL, n.log)
	default:
		p, err := discovery.NewStatic(n.cfg.Seeds)
		if err != nil {
			return fmt.Errorf("seeds: %w", err)
		}
		n.provider = p
	}
	return nil
}

// publishLocalState runs as a starting hook, before the first round.
func (n *Node) publishLocalState(g *gossip.Gossiper) {
	g.AddLocalApplicationState(gossip.AppStatus, gossip.StatusValue(gossip.StatusNormal))
	g.AddLocalApplicationState(gossip.AppLoad, strconv.FormatFloat(n.cfg.Load, 'f', -1, 64))
	g.AddLocalApplicationState(gossip.AppWeight, strconv.Itoa(n.cfg.Weight))
	g.AddLocalApplicationState(gossip.AppVersion, n.cfg.SoftwareVersion)
	g.AddLocalApplicationState(gossip.AppID, strconv.FormatInt(n.local.NodeID(), 10))
	g.AddLocalApplicationState(gossip.AppType, n.cfg.NodeType)
	g.AddLocalApplicationState(gossip.AppNetwork, n.local.Host)

	if len(n.cfg.Labels) > 0 {
		if err := replication.Publish(g, replication.OpUpdate, LabelsRecord, n.cfg.Labels); err != nil {
			n.log.Warnw("failed to publish labels", "error", err)
		}
	}
}

// Start starts the transport, resolves seeds and begins gossiping.
func (n *Node) Start(ctx context.Context) (err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return gossip.ErrAlreadyStarted
	}

	if n.cfg.Trace {
		stop, err := tracing.Setup(true, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to setup tracing: %w", err)
		}
		n.stopTracing = stop
	}

	generation, err := nextGeneration(n.cfg.GenerationFile)
	if err != nil {
		return err
	}

	if err := n.transport.Start(n.gossiper); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, n.transport.Stop(), n.stopAdmin(context.Background()))
		}
	}()

	if err := n.startAdmin(); err != nil {
		return err
	}

	seeds, err := n.provider.Seeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve seeds: %w", err)
	}
	n.gossiper.SetSeeds(seeds)
	if len(n.gossiper.Seeds()) == 0 {
		n.log.Infow("no seeds besides self, starting as the first node")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := n.gossiper.Start(runCtx, generation); err != nil {
		cancel()
		return fmt.Errorf("failed to start gossip: %w", err)
	}

	if err := n.provider.Register(ctx, n.local); err != nil {
		cancel()
		return multierr.Append(fmt.Errorf("failed to register: %w", err), n.gossiper.Stop(ctx))
	}
	if n.etcd != nil && n.cfg.Discovery.Refresh > 0 {
		n.wg.Add(1)
		go n.refreshSeeds(runCtx, n.cfg.Discovery.Refresh)
	}

	n.runCtx = runCtx
	n.cancel = cancel
	n.started = true
	if n.cfg.ManualGossip {
		n.log.Infow("manual gossip mode enabled")
	}
	n.log.Infow("node started", "endpoint", n.local, "generation", generation, "transport", n.cfg.Transport)
	return nil
}

func (n *Node) refreshSeeds(ctx context.Context, every time.Duration) {
	defer n.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seeds, err := n.provider.Seeds(ctx)
			if err != nil {
				n.log.Warnw("failed to refresh seeds", "error", err)
				continue
			}
			n.gossiper.SetSeeds(seeds)
		}
	}
}

// Stop announces the shutdown to live peers and releases everything.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	cancel := n.cancel
	n.mu.Unlock()

	n.log.Infow("stopping node", "endpoint", n.local)

	errs := n.gossiper.Stop(ctx)
	cancel()
	n.wg.Wait()

	errs = multierr.Append(errs, n.provider.Deregister(ctx))
	errs = multierr.Append(errs, n.transport.Stop())
	errs = multierr.Append(errs, n.stopAdmin(ctx))
	if n.etcd != nil {
		errs = multierr.Append(errs, n.etcd.Close())
	}
	if n.stopTracing != nil {
		errs = multierr.Append(errs, n.stopTracing(ctx))
	}
	metrics.ForgetNode(n.local.String())

	n.log.Infow("node stopped", "endpoint", n.local)
	return errs
}

// RunRound triggers one gossip round; only in manual gossip mode.
func (n *Node) RunRound(ctx context.Context) error {
	if !n.cfg.ManualGossip {
		return ErrNotManualGossip
	}
	if !n.Running() {
		return ErrNodeNotStarted
	}
	n.gossiper.RunRound(ctx)
	return nil
}

// SetLabels replaces the labels this node publishes.
func (n *Node) SetLabels(labels map[string]string) error {
	if !n.Running() {
		return ErrNodeNotStarted
	}
	return replication.Publish(n.gossiper, replication.OpUpdate, LabelsRecord, labels)
}

func (n *Node) Running() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started
}

func (n *Node) Gossiper() *gossip.Gossiper {
	return n.gossiper
}

func (n *Node) Config() *Config {
	return n.cfg
}

func (n *Node) Endpoint() gossip.Endpoint {
	return n.local
}

func (n *Node) Labels() *Labels {
	return n.labels
}
