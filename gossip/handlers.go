package gossip

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/adamgarcia4/goLearning/hermes/metrics"
	"github.com/adamgarcia4/goLearning/hermes/tracing"
)

// HandleMessage processes one inbound message. Errors are per message: the
// message is dropped and nothing else is affected.
func (g *Gossiper) HandleMessage(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		g.log.Warnw("dropping gossip message", "error", err)
		return err
	}
	metrics.MessagesReceived.WithLabelValues(msg.Verb.String()).Inc()

	if !g.enabled.Load() {
		metrics.MessagesDropped.WithLabelValues("not_started").Inc()
		g.log.Debugw("ignoring message, gossiper not running", "verb", msg.Verb, "from", msg.From)
		return nil
	}

	ctx, end := tracing.StartSpan(ctx, "gossip.handle."+msg.Verb.String(),
		attribute.String("gossip.from", msg.From.String()))
	defer end()

	var err error
	switch msg.Verb {
	case VerbSyn:
		err = g.handleSyn(ctx, msg)
	case VerbAck:
		err = g.handleAck(ctx, msg)
	case VerbAck2:
		g.handleAck2(msg)
	case VerbShutdown:
		g.handleShutdown(msg)
	}
	return err
}

func (g *Gossiper) handleSyn(ctx context.Context, msg *Message) error {
	syn := msg.Syn
	if syn.ClusterID != g.cfg.ClusterID {
		metrics.MessagesDropped.WithLabelValues("cluster_mismatch").Inc()
		g.log.Warnw("ClusterID mismatch", "from", msg.From, "remote", syn.ClusterID, "local", g.cfg.ClusterID)
		return fmt.Errorf("%w: %q from %s", ErrClusterMismatch, syn.ClusterID, msg.From)
	}
	g.log.Debugw("received SYN", "from", msg.From, "digests", len(syn.Digests))

	digests := g.sortByDivergence(syn.Digests)
	requests, states := g.examineGossiper(digests)
	return g.send(ctx, NewAckMessage(g.local, requests, states), msg.From)
}

func (g *Gossiper) handleAck(ctx context.Context, msg *Message) error {
	ack := msg.Ack
	g.log.Debugw("received ACK", "from", msg.From, "requests", len(ack.Digests), "states", len(ack.States))

	if len(ack.States) > 0 {
		g.notifyFailureDetectorAll(ack.States)
		g.applyStateLocally(ack.States)
	}

	states := make(map[Endpoint]*EndpointState)
	for _, d := range ack.Digests {
		if es := g.stateForVersionBiggerThan(d.Endpoint, d.MaxVersion); es != nil {
			states[d.Endpoint] = es
		}
	}
	return g.send(ctx, NewAck2Message(g.local, states), msg.From)
}

func (g *Gossiper) handleAck2(msg *Message) {
	ack2 := msg.Ack2
	g.log.Debugw("received ACK2", "from", msg.From, "states", len(ack2.States))

	g.notifyFailureDetectorAll(ack2.States)
	g.applyStateLocally(ack2.States)
}

func (g *Gossiper) handleShutdown(msg *Message) {
	ep := msg.From
	if ep == g.local {
		return
	}
	var ev events
	defer func() { g.deliver(ev) }()
	unlock := g.lockEndpoint(ep)
	defer unlock()

	es := g.stateOf(ep)
	if es == nil || !es.IsAlive() {
		return
	}
	g.log.Infow("endpoint announced shutdown", "endpoint", ep)
	g.markDead(ep, es, &ev)
}

func (g *Gossiper) send(ctx context.Context, msg *Message, to Endpoint) error {
	metrics.MessagesSent.WithLabelValues(msg.Verb.String()).Inc()
	if err := g.transport.SendOneWay(ctx, msg, to); err != nil {
		metrics.SendErrors.WithLabelValues(msg.Verb.String()).Inc()
		if !errors.Is(err, context.Canceled) {
			g.log.Debugw("gossip send failed", "verb", msg.Verb, "to", to, "error", err)
		}
		return fmt.Errorf("send %s to %s: %w", msg.Verb, to, err)
	}
	return nil
}
