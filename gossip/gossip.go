package gossip

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

/**
Package gossip is the membership and anti-entropy engine (Cassandra's GMS).

It answers three questions about every node in the cluster:
1. Who are the nodes? (membership)
2. Are they alive? (liveness)
3. What do they say about themselves? (versioned application state)

ReferenceCode: https://github.com/apache/cassandra/blob/trunk/src/java/org/apache/cassandra/gms/Gossiper.java

Overview:
	State Models:
		HeartbeatState (generation, version)
			Generation jumps on restart, version grows every round.
		VersionedValue (value, version)
			Versions come from the owning node's VersionGenerator.
		EndpointState
			HeartbeatState + AppStateKey -> VersionedValue + alive + updateTimestamp.
	Gossiper:
		Fields:
			states (Map[Endpoint]*EndpointState) - everything known, self included
			live (Set[Endpoint]) - endpoints currently believed up
			unreachable (Map[Endpoint]time) - endpoints believed down, and since when
			justRemoved (Map[Endpoint]time) - quarantine of removed endpoints
			seeds (Set[Endpoint]) - bootstrap contacts, never self
		Every interval (RunRound):
			bump the local heartbeat version
			SYN a random live endpoint
			maybe SYN a random unreachable endpoint
			maybe SYN a random seed
			StatusCheck
		Messages (HandleMessage):
			SYN  -> examineGossiper, reply ACK
			ACK  -> notify failure detector, merge, reply ACK2
			ACK2 -> notify failure detector, merge
			SHUTDOWN -> mark the sender dead
	FailureDetector:
		Fed by notifyFailureDetector before any merge, interpreted during
		StatusCheck, convicts through Gossiper.Convict.
	Subscribers:
		OnJoin/OnChange/OnAlive/OnDead/OnRemove/OnRestart.

Locking:
	mu guards the maps and sets. Each EndpointState guards its own fields.
	Everything that decides on and mutates one remote endpoint (merge,
	mark alive/dead, remove, evict) runs under that endpoint's lock, taken
	before mu. No lock is held while sending.

File Organization:
	gossip.go - Gossiper struct, configuration and constructor
	types.go - AppStateKey, VersionedValue, VersionGenerator, status values
	endpoint.go - Endpoint identity
	heartbeat_state.go - HeartbeatState
	endpoint_state.go - EndpointState
	digest.go - digest creation and examination
	messages.go - SYN/ACK/ACK2/SHUTDOWN
	handlers.go - inbound message handling
	state_management.go - merge rules, liveness transitions, removal
	round.go - scheduler, peer selection, status check
	membership.go - queries and administrative operations
	subscriber.go, failure_detector.go - collaborator contracts
*/

const (
	DefaultInterval  = time.Second
	DefaultRingDelay = 30 * time.Second
)

type Config struct {
	ClusterID string
	Local     Endpoint
	Seeds     []Endpoint

	Interval  time.Duration
	RingDelay time.Duration

	// Scale the probability of gossiping to an unreachable endpoint or a seed in
	// a round. Zero means 1.
	UnreachableGossipFactor float64
	SeedGossipFactor        float64

	// ManualRounds disables the scheduler; rounds run only through RunRound.
	ManualRounds bool
}

// QuarantineDelay is how long a removed endpoint's state is ignored.
func (c Config) QuarantineDelay() time.Duration {
	return 2 * c.RingDelay
}

// FatClientTimeout is how long a down endpoint may stay silent before its
// state is reclaimed.
func (c Config) FatClientTimeout() time.Duration {
	return c.QuarantineDelay() / 2
}

func (c *Config) normalize() error {
	if c.ClusterID == "" {
		return fmt.Errorf("cluster id must be set")
	}
	if c.Local.IsZero() || c.Local.Port <= 0 {
		return fmt.Errorf("local endpoint must be set")
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be greater than 0")
	}
	if c.RingDelay == 0 {
		c.RingDelay = DefaultRingDelay
	}
	if c.RingDelay < 0 {
		return fmt.Errorf("ring delay must be greater than 0")
	}
	if c.UnreachableGossipFactor == 0 {
		c.UnreachableGossipFactor = 1
	}
	if c.SeedGossipFactor == 0 {
		c.SeedGossipFactor = 1
	}
	return nil
}

type Option func(*Gossiper)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(g *Gossiper) { g.log = l }
}

// WithClock replaces time.Now for every timestamp the engine takes.
func WithClock(now func() time.Time) Option {
	return func(g *Gossiper) { g.now = now }
}

// WithRand fixes the source used for shuffling and peer selection.
func WithRand(r *rand.Rand) Option {
	return func(g *Gossiper) { g.rnd = r }
}

// Gossiper is the engine. Build one with New per local endpoint.
type Gossiper struct {
	cfg       Config
	local     Endpoint
	transport Transport
	fd        FailureDetector
	versions  *VersionGenerator
	log       *zap.SugaredLogger
	now       func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu          sync.RWMutex
	states      map[Endpoint]*EndpointState
	live        map[Endpoint]struct{}
	unreachable map[Endpoint]time.Time
	justRemoved map[Endpoint]time.Time
	seeds       map[Endpoint]struct{}
	epLocks     map[Endpoint]*endpointMutex

	subMu       sync.RWMutex
	subscribers []Subscriber
	starting    []func(*Gossiper)

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	enabled atomic.Bool
}

func New(cfg Config, transport Transport, fd FailureDetector, opts ...Option) (*Gossiper, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("transport must be set")
	}
	if fd == nil {
		return nil, fmt.Errorf("failure detector must be set")
	}

	g := &Gossiper{
		cfg:         cfg,
		local:       cfg.Local,
		transport:   transport,
		fd:          fd,
		versions:    &VersionGenerator{},
		log:         zap.NewNop().Sugar(),
		now:         time.Now,
		states:      make(map[Endpoint]*EndpointState),
		live:        make(map[Endpoint]struct{}),
		unreachable: make(map[Endpoint]time.Time),
		justRemoved: make(map[Endpoint]time.Time),
		seeds:       make(map[Endpoint]struct{}),
		epLocks:     make(map[Endpoint]*endpointMutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		g.rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	g.SetSeeds(cfg.Seeds)

	fd.RegisterListener(g)
	return g, nil
}

// Local returns the endpoint this gossiper speaks for.
func (g *Gossiper) Local() Endpoint {
	return g.local
}

func (g *Gossiper) ClusterID() string {
	return g.cfg.ClusterID
}

func (g *Gossiper) Config() Config {
	return g.cfg
}

// Versions is the local version sequence. Values published through
// AddLocalApplicationState must be drawn from it.
func (g *Gossiper) Versions() *VersionGenerator {
	return g.versions
}

// SetSeeds replaces the seed set. The local endpoint is never a seed of itself.
func (g *Gossiper) SetSeeds(seeds []Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seeds = make(map[Endpoint]struct{}, len(seeds))
	for _, s := range seeds {
		if s == g.local {
			continue
		}
		g.seeds[s] = struct{}{}
	}
}

// Seeds returns the current seed set.
func (g *Gossiper) Seeds() []Endpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.seeds)
}

func (g *Gossiper) stateOf(ep Endpoint) *EndpointState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.states[ep]
}

func (g *Gossiper) localState() *EndpointState {
	return g.stateOf(g.local)
}

// endpointMutex serializes all merge and liveness work for one endpoint.
// refs counts the goroutines holding or waiting for it.
type endpointMutex struct {
	sync.Mutex
	refs int
}

// lockEndpoint locks ep and returns the matching unlock. A mutex is dropped
// once nobody holds or waits for it and ep has no state left, so evicted
// endpoints do not pin one for the life of the process.
func (g *Gossiper) lockEndpoint(ep Endpoint) (unlock func()) {
	g.mu.Lock()
	m, ok := g.epLocks[ep]
	if !ok {
		m = &endpointMutex{}
		g.epLocks[ep] = m
	}
	m.refs++
	g.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		g.mu.Lock()
		defer g.mu.Unlock()
		m.refs--
		if _, known := g.states[ep]; m.refs == 0 && !known {
			delete(g.epLocks, ep)
		}
	}
}

func (g *Gossiper) shuffle(n int, swap func(i, j int)) {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	g.rnd.Shuffle(n, swap)
}

func (g *Gossiper) randIntN(n int) int {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	return g.rnd.IntN(n)
}

func (g *Gossiper) randFloat() float64 {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()
	return g.rnd.Float64()
}
