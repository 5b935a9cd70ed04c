package gossip

import "github.com/adamgarcia4/goLearning/hermes/metrics"

/*
State merge

For every (endpoint, remote state) received in an ACK or ACK2:
	self, or quarantined -> ignored, no callbacks
	unknown locally -> report to the failure detector, major change
	remote generation newer -> major change: the remote state replaces ours
	same generation -> copy newer heartbeat and values field by field, and
		bring the endpoint back up unless it announced its removal
	remote generation older -> ignored

All of it runs under the endpoint's lock so the version read that drives a
decision and the mutation it leads to cannot interleave with another merge of
the same endpoint. Subscriber callbacks raised on the way are queued and
delivered once the lock is released.
*/

func (g *Gossiper) notifyFailureDetectorAll(states map[Endpoint]*EndpointState) {
	for ep, remote := range states {
		g.notifyFailureDetector(ep, remote)
	}
}

// notifyFailureDetector reports fresh evidence of life before anything is
// merged, so a status check running concurrently never sees the new state
// without the matching sample.
func (g *Gossiper) notifyFailureDetector(ep Endpoint, remote *EndpointState) {
	if ep == g.local || g.isQuarantined(ep) {
		return
	}
	local := g.stateOf(ep)
	if local == nil {
		return
	}

	localGeneration := local.Generation()
	remoteHeartbeat := remote.Heartbeat()

	if remoteHeartbeat.Generation > localGeneration {
		local.touch(g.now())
		// a dead endpoint came back with a new generation: it rebooted, so the
		// old arrival intervals say nothing about it
		if !local.IsAlive() {
			g.log.Debugw("clearing interval times after generation change", "endpoint", ep)
			g.fd.Clear(ep)
		}
		g.fd.Report(ep)
		return
	}

	if remoteHeartbeat.Generation == localGeneration && remoteHeartbeat.Version > local.MaxVersion() {
		local.touch(g.now())
		g.fd.Report(ep)
	}
}

func (g *Gossiper) applyStateLocally(states map[Endpoint]*EndpointState) {
	for ep, remote := range states {
		if ep == g.local {
			continue
		}
		if g.isQuarantined(ep) {
			metrics.MessagesDropped.WithLabelValues("quarantined").Inc()
			g.log.Debugw("ignoring gossip for quarantined endpoint", "endpoint", ep)
			continue
		}
		g.applyEndpointState(ep, remote)
	}
}

func (g *Gossiper) applyEndpointState(ep Endpoint, remote *EndpointState) {
	var ev events
	defer func() { g.deliver(ev) }()
	unlock := g.lockEndpoint(ep)
	defer unlock()

	// a removal may have won the race for the lock
	if g.isQuarantined(ep) {
		return
	}

	local := g.stateOf(ep)
	if local == nil {
		g.fd.Report(ep)
		g.handleMajorStateChange(ep, remote, &ev)
		return
	}

	localGeneration := local.Generation()
	remoteGeneration := remote.Generation()

	switch {
	case remoteGeneration > localGeneration:
		g.log.Debugw("updating heartbeat generation", "endpoint", ep, "from", localGeneration, "to", remoteGeneration)
		g.handleMajorStateChange(ep, remote, &ev)

	case remoteGeneration == localGeneration:
		localMaxVersion := local.MaxVersion()
		remoteMaxVersion := remote.MaxVersion()
		if remoteMaxVersion > localMaxVersion {
			g.applyNewStates(ep, local, remote, &ev)
		} else {
			g.log.Debugw("ignoring remote version", "endpoint", ep, "remote", remoteMaxVersion, "local", localMaxVersion)
		}
		if !local.IsAlive() && !local.IsDeadState() {
			g.markAlive(ep, local, &ev)
		}

	default:
		g.log.Debugw("ignoring remote generation", "endpoint", ep, "remote", remoteGeneration, "local", localGeneration)
	}
}

// handleMajorStateChange installs remote as the state of ep. Called for new
// endpoints and for generation changes.
func (g *Gossiper) handleMajorStateChange(ep Endpoint, remote *EndpointState, ev *events) {
	es := remote.Snapshot()
	es.touch(g.now())
	dead := es.IsDeadState()

	g.mu.Lock()
	_, existed := g.states[ep]
	g.states[ep] = es
	g.mu.Unlock()

	if existed {
		if !dead {
			g.log.Infow("endpoint has restarted, now UP", "endpoint", ep, "generation", es.Generation())
		}
		metrics.MembershipEvents.WithLabelValues("restart").Inc()
		snap := es.Snapshot()
		ev.add(func(s Subscriber) { s.OnRestart(ep, snap) })
	} else if !dead {
		g.log.Infow("endpoint is now part of the cluster", "endpoint", ep, "generation", es.Generation())
	}

	if dead {
		g.log.Debugw("not marking endpoint alive due to dead state", "endpoint", ep, "status", es.Status())
		g.markDead(ep, es, ev)
	} else {
		g.markAlive(ep, es, ev)
	}

	metrics.MembershipEvents.WithLabelValues("join").Inc()
	snap := es.Snapshot()
	ev.add(func(s Subscriber) { s.OnJoin(ep, snap) })
}

// applyNewStates merges a newer state of the same generation key by key.
// The local object is kept so values applied concurrently are not clobbered.
func (g *Gossiper) applyNewStates(ep Endpoint, local, remote *EndpointState, ev *events) {
	oldHeartbeat := local.Heartbeat()
	if remoteHeartbeat := remote.Heartbeat(); remoteHeartbeat.Version > oldHeartbeat.Version {
		local.setHeartbeat(remoteHeartbeat, g.now())
		g.log.Debugw("updating heartbeat version", "endpoint", ep, "from", oldHeartbeat.Version, "to", remoteHeartbeat.Version)
	}

	for key, value := range remote.ApplicationStates() {
		if !local.mergeApplicationState(key, value) {
			continue
		}
		metrics.MembershipEvents.WithLabelValues("change").Inc()
		ev.add(func(s Subscriber) { s.OnChange(ep, key, value) })
	}
}

func (g *Gossiper) markAlive(ep Endpoint, es *EndpointState, ev *events) {
	es.setAlive(true)
	// keeps a racing status check from treating the endpoint as silent
	es.touch(g.now())

	g.mu.Lock()
	g.live[ep] = struct{}{}
	delete(g.unreachable, ep)
	g.mu.Unlock()

	g.log.Infow("endpoint is now UP", "endpoint", ep)
	metrics.MembershipEvents.WithLabelValues("alive").Inc()
	g.reportMembership()

	snap := es.Snapshot()
	ev.add(func(s Subscriber) { s.OnAlive(ep, snap) })
}

func (g *Gossiper) markDead(ep Endpoint, es *EndpointState, ev *events) {
	es.setAlive(false)

	g.mu.Lock()
	delete(g.live, ep)
	g.unreachable[ep] = g.now()
	g.mu.Unlock()

	g.log.Infow("endpoint is now DOWN", "endpoint", ep)
	metrics.MembershipEvents.WithLabelValues("dead").Inc()
	g.reportMembership()

	snap := es.Snapshot()
	ev.add(func(s Subscriber) { s.OnDead(ep, snap) })
}

// Convict is called by the failure detector when it judges ep down.
func (g *Gossiper) Convict(ep Endpoint, phi float64) {
	if ep == g.local {
		return
	}
	var ev events
	defer func() { g.deliver(ev) }()
	unlock := g.lockEndpoint(ep)
	defer unlock()

	es := g.stateOf(ep)
	if es == nil || !es.IsAlive() || es.IsDeadState() || g.isQuarantined(ep) {
		return
	}
	g.log.Infow("convicting endpoint", "endpoint", ep, "phi", phi)
	metrics.Convictions.Inc()
	g.markDead(ep, es, &ev)
}

// RemoveEndpoint drops ep from the membership sets and quarantines it. Its
// state is kept so peers keep hearing about it with its last generation.
func (g *Gossiper) RemoveEndpoint(ep Endpoint) {
	g.announceRemoval(ep)
	unlock := g.lockEndpoint(ep)
	defer unlock()
	g.removeEndpoint(ep)
}

// EvictFromMembership forgets ep's state entirely and quarantines it.
func (g *Gossiper) EvictFromMembership(ep Endpoint) {
	unlock := g.lockEndpoint(ep)
	defer unlock()
	g.evictFromMembership(ep)
}

// announceRemoval runs OnRemove while ep is still in the membership sets. It
// is called without the endpoint lock, right before removeEndpoint.
func (g *Gossiper) announceRemoval(ep Endpoint) {
	g.notify(func(s Subscriber) { s.OnRemove(ep) })
}

// removeEndpoint requires the endpoint lock.
func (g *Gossiper) removeEndpoint(ep Endpoint) {
	metrics.MembershipEvents.WithLabelValues("remove").Inc()

	g.mu.Lock()
	delete(g.live, ep)
	delete(g.unreachable, ep)
	g.mu.Unlock()

	g.fd.Remove(ep)
	g.quarantine(ep)
	g.log.Infow("removed endpoint", "endpoint", ep)
	g.reportMembership()
}

// evictFromMembership requires the endpoint lock. The endpoint's mutex is
// dropped with its state once the lock is released.
func (g *Gossiper) evictFromMembership(ep Endpoint) {
	g.mu.Lock()
	delete(g.unreachable, ep)
	delete(g.states, ep)
	g.mu.Unlock()

	g.quarantine(ep)
	metrics.Evictions.Inc()
	g.log.Infow("evicting endpoint from gossip", "endpoint", ep)
	g.reportMembership()
}

func (g *Gossiper) quarantine(ep Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.justRemoved[ep] = g.now()
}

func (g *Gossiper) isQuarantined(ep Endpoint) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.justRemoved[ep]
	return ok
}

func (g *Gossiper) reportMembership() {
	g.mu.RLock()
	live, unreachable, quarantined, known := len(g.live), len(g.unreachable), len(g.justRemoved), len(g.states)
	g.mu.RUnlock()

	node := g.local.String()
	metrics.LiveEndpoints.WithLabelValues(node).Set(float64(live))
	metrics.UnreachableEndpoints.WithLabelValues(node).Set(float64(unreachable))
	metrics.QuarantinedEndpoints.WithLabelValues(node).Set(float64(quarantined))
	metrics.KnownEndpoints.WithLabelValues(node).Set(float64(known))
}
