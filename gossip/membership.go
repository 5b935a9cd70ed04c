package gossip

import (
	"context"
	"fmt"
	"slices"
	"time"
)

func sortedKeys[V any](m map[Endpoint]V) []Endpoint {
	keys := make([]Endpoint, 0, len(m))
	for ep := range m {
		keys = append(keys, ep)
	}
	slices.SortFunc(keys, Endpoint.Compare)
	return keys
}

// Endpoints returns every endpoint with known state, self included.
func (g *Gossiper) Endpoints() []Endpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.states)
}

// LiveMembers returns the live endpoints plus self.
func (g *Gossiper) LiveMembers() []Endpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	members := sortedKeys(g.live)
	if _, ok := g.live[g.local]; !ok {
		members = append(members, g.local)
		slices.SortFunc(members, Endpoint.Compare)
	}
	return members
}

func (g *Gossiper) UnreachableMembers() []Endpoint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.unreachable)
}

// EndpointState returns a copy of what is known about ep.
func (g *Gossiper) EndpointState(ep Endpoint) (*EndpointState, bool) {
	es := g.stateOf(ep)
	if es == nil {
		return nil, false
	}
	return es.Snapshot(), true
}

// LocalEndpointState returns a copy of the local state, nil before Start.
func (g *Gossiper) LocalEndpointState() *EndpointState {
	es, _ := g.EndpointState(g.local)
	return es
}

func (g *Gossiper) IsKnownEndpoint(ep Endpoint) bool {
	return g.stateOf(ep) != nil
}

// CurrentGeneration returns the generation known for ep.
func (g *Gossiper) CurrentGeneration(ep Endpoint) (int32, error) {
	es := g.stateOf(ep)
	if es == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	return es.Generation(), nil
}

// EndpointDowntime is how long ep has been unreachable, zero if it is not.
func (g *Gossiper) EndpointDowntime(ep Endpoint) time.Duration {
	g.mu.RLock()
	since, ok := g.unreachable[ep]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return g.now().Sub(since)
}

// CompareEndpointStartup orders two endpoints by generation, i.e. by which
// one started last.
func (g *Gossiper) CompareEndpointStartup(a, b Endpoint) (int, error) {
	ga, err := g.CurrentGeneration(a)
	if err != nil {
		return 0, err
	}
	gb, err := g.CurrentGeneration(b)
	if err != nil {
		return 0, err
	}
	return int(ga - gb), nil
}

// AddLocalApplicationState publishes value under key with the next local
// version and notifies subscribers.
func (g *Gossiper) AddLocalApplicationState(key AppStateKey, value string) VersionedValue {
	v := g.addLocalApplicationState(key, value)
	g.notify(func(s Subscriber) { s.OnChange(g.local, key, v) })
	return v
}

// AddLocalApplicationStateSilently publishes value without telling local
// subscribers. Peers still learn it through gossip.
func (g *Gossiper) AddLocalApplicationStateSilently(key AppStateKey, value string) VersionedValue {
	return g.addLocalApplicationState(key, value)
}

func (g *Gossiper) addLocalApplicationState(key AppStateKey, value string) VersionedValue {
	unlock := g.lockEndpoint(g.local)
	defer unlock()

	v := g.versions.Value(value)
	if es := g.localState(); es != nil {
		es.AddApplicationState(key, v)
	}
	return v
}

// AddSavedEndpoint registers a previously known peer as a down placeholder
// at generation 0, so it is gossiped to until it answers or is reclaimed as
// a fat client.
func (g *Gossiper) AddSavedEndpoint(ep Endpoint) {
	if ep == g.local {
		g.log.Debugw("attempt to add self as saved endpoint", "endpoint", ep)
		return
	}
	unlock := g.lockEndpoint(ep)
	defer unlock()

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.states[ep]; ok {
		return
	}
	es := newEndpointState(NewHeartbeatState(0), now)
	es.alive = false
	g.states[ep] = es
	g.unreachable[ep] = now
	g.log.Debugw("adding saved endpoint", "endpoint", ep)
}

// ReplacedEndpoint removes and evicts ep at once; used when its identity has
// been taken over by another endpoint.
func (g *Gossiper) ReplacedEndpoint(ep Endpoint) {
	g.announceRemoval(ep)
	unlock := g.lockEndpoint(ep)
	defer unlock()
	g.removeEndpoint(ep)
	g.evictFromMembership(ep)
}

// AdvertiseRemoving speaks for ep, which must be down, announcing that it is
// being removed. It waits one ring delay to be sure ep is not coming back,
// then bumps ep's generation so the announcement overrides anything ep said.
func (g *Gossiper) AdvertiseRemoving(ctx context.Context, ep Endpoint) error {
	es := g.stateOf(ep)
	if es == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	generation := es.Generation()

	g.log.Infow("waiting to ensure endpoint does not change", "endpoint", ep, "delay", g.cfg.RingDelay)
	if err := sleep(ctx, g.cfg.RingDelay); err != nil {
		return err
	}

	unlock := g.lockEndpoint(ep)
	defer unlock()

	es = g.stateOf(ep)
	if es == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	if es.Generation() != generation {
		return fmt.Errorf("%w: %s while trying to remove it", ErrGenerationChanged, ep)
	}

	g.log.Infow("advertising removal", "endpoint", ep)
	es.touch(g.now())
	es.forceNewerGeneration()
	es.AddApplicationState(AppStatus, g.versions.Value(StatusValue(StatusRemoving, ep.String())))
	return nil
}

// AdvertiseTokenRemoved completes a removal started with AdvertiseRemoving and
// waits two rounds so the announcement goes out at least once.
func (g *Gossiper) AdvertiseTokenRemoved(ctx context.Context, ep Endpoint) error {
	unlock := g.lockEndpoint(ep)
	es := g.stateOf(ep)
	if es == nil {
		unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	es.touch(g.now())
	es.forceNewerGeneration()
	es.AddApplicationState(AppStatus, g.versions.Value(StatusValue(StatusRemoved, ep.String())))
	unlock()

	g.log.Infow("completing removal", "endpoint", ep)
	return sleep(ctx, 2*g.cfg.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
