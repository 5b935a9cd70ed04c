package gossip

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/adamgarcia4/goLearning/hermes/metrics"
	"github.com/adamgarcia4/goLearning/hermes/tracing"
)

/*
Gossip round

Every interval the scheduler:
1. bumps the local heartbeat version, proving we are alive without any real
   state change
2. builds a shuffled digest list of everything we know
3. SYNs one random live endpoint
4. SYNs one random unreachable endpoint with probability
   unreachable/(live+1), so dead looking nodes get rediscovered without
   spending most rounds on them
5. SYNs a random seed when step 3 missed the seeds or we know fewer live
   endpoints than seeds, with probability seeds/(live+unreachable), or always
   when nothing is live. This is what heals partitions.
6. runs the status check
*/

// MaybeInitializeLocalState creates the local endpoint state at generation
// unless it already exists.
func (g *Gossiper) MaybeInitializeLocalState(generation int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.states[g.local]; ok {
		return
	}
	g.states[g.local] = newEndpointState(NewHeartbeatState(generation), g.now())
}

// Start initializes the local state, runs the starting hooks and, unless
// rounds are manual, launches the scheduler. ctx bounds the scheduler.
func (g *Gossiper) Start(ctx context.Context, generation int32) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if g.enabled.Load() {
		return ErrAlreadyStarted
	}

	g.MaybeInitializeLocalState(generation)

	g.subMu.RLock()
	hooks := append([]func(*Gossiper){}, g.starting...)
	g.subMu.RUnlock()
	for _, hook := range hooks {
		hook(g)
	}

	g.enabled.Store(true)
	g.reportMembership()
	g.log.Infow("gossip started", "endpoint", g.local, "generation", g.localState().Generation(), "seeds", len(g.Seeds()))

	if g.cfg.ManualRounds {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.loop(runCtx, g.cfg.Interval, g.done)
	return nil
}

func (g *Gossiper) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.RunRound(ctx)
		}
	}
}

// Stop halts the scheduler and tells every live peer we are going down.
// Send failures are logged only: the announcement is best effort.
func (g *Gossiper) Stop(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if !g.enabled.Load() {
		return ErrNotStarted
	}
	if g.cancel != nil {
		g.cancel()
		<-g.done
		g.cancel, g.done = nil, nil
	}

	g.log.Infow("announcing shutdown", "endpoint", g.local)
	var errs error
	msg := NewShutdownMessage(g.local)
	for _, ep := range g.LiveMembers() {
		if ep == g.local {
			continue
		}
		errs = multierr.Append(errs, g.send(ctx, msg, ep))
	}
	if errs != nil {
		g.log.Debugw("shutdown announcement incomplete", "error", errs)
	}

	g.enabled.Store(false)
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (g *Gossiper) Running() bool {
	return g.enabled.Load()
}

// RunRound performs one gossip round. The scheduler calls it every interval;
// it may also be called directly when rounds are manual.
func (g *Gossiper) RunRound(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorw("gossip error", "panic", r)
		}
	}()

	started := time.Now()
	ctx, end := tracing.StartSpan(ctx, "gossip.round", attribute.String("gossip.endpoint", g.local.String()))
	defer end()

	local := g.localState()
	if local == nil {
		return
	}
	hb := g.bumpHeartbeat(local)
	g.log.Debugw("heartbeat", "generation", hb.Generation, "version", hb.Version)

	digests := g.makeRandomDigests()
	if len(digests) > 0 {
		syn := NewSynMessage(g.local, g.cfg.ClusterID, digests)
		live, unreachable, seeds := g.peerSets()

		gossipedToSeed := g.gossipToLive(ctx, syn, live)
		g.maybeGossipToUnreachable(ctx, syn, live, unreachable)
		if !gossipedToSeed || len(live) < len(seeds) {
			g.maybeGossipToSeed(ctx, syn, live, unreachable, seeds)
		}
	}

	g.StatusCheck()

	metrics.Rounds.Inc()
	metrics.RoundDuration.Observe(time.Since(started).Seconds())
}

func (g *Gossiper) peerSets() (live, unreachable, seeds []Endpoint) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	live = sortedKeys(g.live)
	unreachable = sortedKeys(g.unreachable)
	seeds = sortedKeys(g.seeds)
	return live, unreachable, seeds
}

// sendGossip SYNs a random member of candidates and reports whether it was a seed.
func (g *Gossiper) sendGossip(ctx context.Context, msg *Message, candidates []Endpoint) bool {
	if len(candidates) == 0 {
		return false
	}
	to := candidates[0]
	if len(candidates) > 1 {
		to = candidates[g.randIntN(len(candidates))]
	}
	g.log.Debugw("sending SYN", "to", to)
	_ = g.send(ctx, msg, to)

	g.mu.RLock()
	_, seed := g.seeds[to]
	g.mu.RUnlock()
	return seed
}

func (g *Gossiper) gossipToLive(ctx context.Context, msg *Message, live []Endpoint) bool {
	return g.sendGossip(ctx, msg, live)
}

func (g *Gossiper) maybeGossipToUnreachable(ctx context.Context, msg *Message, live, unreachable []Endpoint) {
	if len(unreachable) == 0 {
		return
	}
	prob := g.cfg.UnreachableGossipFactor * float64(len(unreachable)) / float64(len(live)+1)
	if g.randFloat() < prob {
		g.sendGossip(ctx, msg, unreachable)
	}
}

func (g *Gossiper) maybeGossipToSeed(ctx context.Context, msg *Message, live, unreachable, seeds []Endpoint) {
	if len(seeds) == 0 {
		return
	}
	if len(live) == 0 {
		g.sendGossip(ctx, msg, seeds)
		return
	}
	prob := g.cfg.SeedGossipFactor * float64(len(seeds)) / float64(len(live)+len(unreachable))
	if g.randFloat() <= prob {
		g.sendGossip(ctx, msg, seeds)
	}
}

// StatusCheck lets the failure detector judge every remote endpoint, reclaims
// fat clients and releases expired quarantines.
func (g *Gossiper) StatusCheck() {
	now := g.now()
	for _, ep := range g.Endpoints() {
		if ep == g.local {
			continue
		}
		g.fd.Interpret(ep)
		g.maybeEvictFatClient(ep, now)
	}
	g.releaseQuarantine(now)
	g.reportMembership()
}

// bumpHeartbeat draws the next local version under the local endpoint lock,
// so a version drawn by addLocalApplicationState is always stored before a
// later one can be advertised.
func (g *Gossiper) bumpHeartbeat(local *EndpointState) HeartbeatState {
	unlock := g.lockEndpoint(g.local)
	defer unlock()
	return local.updateHeartbeat(g.versions.Next())
}

// maybeEvictFatClient reclaims the state of an endpoint that is down, did not
// announce a removal and has been silent longer than the fat client timeout.
// OnRemove runs between two checks under the endpoint lock; an endpoint that
// answered in the meantime is kept.
func (g *Gossiper) maybeEvictFatClient(ep Endpoint, now time.Time) {
	if !g.isSilentFatClient(ep, now) {
		return
	}
	g.log.Infow("fat client has been silent, removing from gossip", "endpoint", ep, "timeout", g.cfg.FatClientTimeout())
	g.announceRemoval(ep)

	unlock := g.lockEndpoint(ep)
	defer unlock()
	if !g.fatClientExpired(ep, now) {
		return
	}
	g.removeEndpoint(ep)
	g.evictFromMembership(ep)
}

func (g *Gossiper) isSilentFatClient(ep Endpoint, now time.Time) bool {
	unlock := g.lockEndpoint(ep)
	defer unlock()
	return g.fatClientExpired(ep, now)
}

// fatClientExpired requires the endpoint lock.
func (g *Gossiper) fatClientExpired(ep Endpoint, now time.Time) bool {
	es := g.stateOf(ep)
	if es == nil || es.IsDeadState() || es.IsAlive() || g.isQuarantined(ep) {
		return false
	}
	return now.Sub(es.UpdateTimestamp()) > g.cfg.FatClientTimeout()
}

func (g *Gossiper) releaseQuarantine(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ep, since := range g.justRemoved {
		if now.Sub(since) > g.cfg.QuarantineDelay() {
			delete(g.justRemoved, ep)
			g.log.Debugw("gossip quarantine over", "endpoint", ep, "delay", g.cfg.QuarantineDelay())
		}
	}
}
