package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/adamgarcia4/goLearning/hermes/logger"
	"github.com/adamgarcia4/goLearning/hermes/transport"
)

// DefaultManagerPort is the port of the first node a Manager creates.
const DefaultManagerPort = 7001

// ManagerConfig shapes the nodes a Manager creates.
type ManagerConfig struct {
	ClusterID string
	Address   string
	BasePort  int
	// Transport is inmem by default: every node lives in this process.
	Transport      string
	ManualGossip   bool
	GossipInterval time.Duration
	RingDelay      time.Duration
}

// Manager manages multiple in-process nodes. The first node it creates is
// the seed of every other.
type Manager struct {
	cfg     ManagerConfig
	network *transport.Network

	nodes       []*Node        // maintain order with slice
	nodeMap     map[string]int // map endpoint to index for quick lookup
	mu          sync.RWMutex
	portCounter int // for auto-assigning ports
}

// NewManager creates a new node manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ClusterID == "" {
		cfg.ClusterID = DefaultClusterID
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.BasePort == 0 {
		cfg.BasePort = DefaultManagerPort
	}
	if cfg.Transport == "" {
		cfg.Transport = transport.KindInmem
	}
	return &Manager{
		cfg:         cfg,
		network:     transport.NewNetwork(),
		nodes:       make([]*Node, 0),
		nodeMap:     make(map[string]int),
		portCounter: cfg.BasePort,
	}
}

// Network is the in-process network inmem nodes are attached to.
func (m *Manager) Network() *transport.Network {
	return m.network
}

// CreateNode creates and starts a new node
func (m *Manager) CreateNode(ctx context.Context) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	port := m.findAvailablePort()

	config := DefaultConfig()
	config.ClusterID = m.cfg.ClusterID
	config.ListenAddress = m.cfg.Address
	config.Port = port
	config.Transport = m.cfg.Transport
	config.ManualGossip = m.cfg.ManualGossip
	if m.cfg.GossipInterval > 0 {
		config.GossipInterval = m.cfg.GossipInterval
	}
	if m.cfg.RingDelay > 0 {
		config.RingDelay = m.cfg.RingDelay
	}
	if len(m.nodes) == 0 {
		config.Seeds = []string{config.GetAddress()}
	} else {
		config.Seeds = []string{m.nodes[0].Endpoint().String()}
	}

	node, err := New(config, WithNetwork(m.network))
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start node: %w", err)
	}

	m.nodes = append(m.nodes, node)
	m.nodeMap[node.Endpoint().String()] = len(m.nodes) - 1
	return node, nil
}

// DeleteNode stops and removes a node by its index in the list
func (m *Manager) DeleteNode(index int) error {
	m.mu.Lock()

	if index < 0 || index >= len(m.nodes) {
		m.mu.Unlock()
		return fmt.Errorf("invalid node index: %d", index)
	}

	node := m.nodes[index]
	id := node.Endpoint().String()

	// Remove from slice and map before unlocking
	m.nodes = append(m.nodes[:index], m.nodes[index+1:]...)
	delete(m.nodeMap, id)
	for i, n := range m.nodes {
		m.nodeMap[n.Endpoint().String()] = i
	}

	m.mu.Unlock()

	// Stop node asynchronously to avoid blocking
	go func() {
		if err := node.Stop(context.Background()); err != nil {
			logger.Errorf("error stopping node %s: %v", id, err)
		}
	}()

	return nil
}

// GetNodes returns a list of all nodes (maintains order)
func (m *Manager) GetNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]*Node, len(m.nodes))
	copy(nodes, m.nodes)
	return nodes
}

// GetNode looks a node up by endpoint.
func (m *Manager) GetNode(endpoint string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.nodeMap[endpoint]
	if !ok {
		return nil, false
	}
	return m.nodes[i], true
}

// findAvailablePort hands out consecutive ports
func (m *Manager) findAvailablePort() int {
	port := m.portCounter
	m.portCounter++
	return port
}

// StopAll stops all nodes
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	nodes := make([]*Node, len(m.nodes))
	copy(nodes, m.nodes)
	m.nodes = m.nodes[:0]
	clear(m.nodeMap)
	m.mu.Unlock()

	var errs error
	for _, node := range nodes {
		errs = multierr.Append(errs, node.Stop(ctx))
	}
	return errs
}
