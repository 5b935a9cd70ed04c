package gossip

import "slices"

// Subscriber is notified of membership changes. Callbacks run synchronously
// on the goroutine that processed the triggering message or check, in
// registration order, and receive copies of the endpoint state. No engine
// lock is held while they run, so a callback may call back into the
// Gossiper, for the same endpoint too.
//
// For a restart or first contact the order is OnRestart, then OnAlive or
// OnDead, then OnJoin. OnRemove fires before the endpoint leaves the
// membership sets.
type Subscriber interface {
	OnJoin(ep Endpoint, state *EndpointState)
	OnChange(ep Endpoint, key AppStateKey, value VersionedValue)
	OnAlive(ep Endpoint, state *EndpointState)
	OnDead(ep Endpoint, state *EndpointState)
	OnRemove(ep Endpoint)
	OnRestart(ep Endpoint, state *EndpointState)
}

// BaseSubscriber implements Subscriber with no-ops; embed it to override only
// the callbacks you need.
type BaseSubscriber struct{}

func (BaseSubscriber) OnJoin(Endpoint, *EndpointState)                {}
func (BaseSubscriber) OnChange(Endpoint, AppStateKey, VersionedValue) {}
func (BaseSubscriber) OnAlive(Endpoint, *EndpointState)               {}
func (BaseSubscriber) OnDead(Endpoint, *EndpointState)                {}
func (BaseSubscriber) OnRemove(Endpoint)                              {}
func (BaseSubscriber) OnRestart(Endpoint, *EndpointState)             {}

// Register adds a subscriber.
func (g *Gossiper) Register(s Subscriber) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.subscribers = append(g.subscribers, s)
}

// Unregister removes a previously registered subscriber.
func (g *Gossiper) Unregister(s Subscriber) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.subscribers = slices.DeleteFunc(g.subscribers, func(x Subscriber) bool { return x == s })
}

// OnStarting registers a hook run by Start after the local state exists and
// before the first round. Hooks typically publish the local application
// states.
func (g *Gossiper) OnStarting(hook func(*Gossiper)) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.starting = append(g.starting, hook)
}

func (g *Gossiper) notify(fn func(Subscriber)) {
	g.subMu.RLock()
	subs := slices.Clone(g.subscribers)
	g.subMu.RUnlock()

	for _, s := range subs {
		fn(s)
	}
}

// events queues the callbacks raised while an endpoint lock is held.
type events []func(Subscriber)

func (e *events) add(fn func(Subscriber)) {
	*e = append(*e, fn)
}

// deliver runs the queued callbacks in the order they were raised. Callers
// must have released the endpoint lock.
func (g *Gossiper) deliver(ev events) {
	if len(ev) == 0 {
		return
	}
	g.subMu.RLock()
	subs := slices.Clone(g.subscribers)
	g.subMu.RUnlock()

	for _, fn := range ev {
		for _, s := range subs {
			fn(s)
		}
	}
}
