package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

// Network connects inmem transports inside one process. Delivery is
// synchronous: the receiving handler runs on the sender's goroutine, after a
// full Encode/Decode round trip so the wire format is exercised.
type Network struct {
	mu       sync.RWMutex
	handlers map[gossip.Endpoint]gossip.MessageHandler
	cut      map[[2]gossip.Endpoint]struct{}
	sent     map[gossip.Verb]int
}

func NewNetwork() *Network {
	return &Network{
		handlers: make(map[gossip.Endpoint]gossip.MessageHandler),
		cut:      make(map[[2]gossip.Endpoint]struct{}),
		sent:     make(map[gossip.Verb]int),
	}
}

// Transport returns the transport local sends and receives through.
func (n *Network) Transport(local gossip.Endpoint) *Inmem {
	return &Inmem{network: n, local: local}
}

// Partition drops every message between a and b, both ways.
func (n *Network) Partition(a, b gossip.Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]gossip.Endpoint{a, b}] = struct{}{}
	n.cut[[2]gossip.Endpoint{b, a}] = struct{}{}
}

// Isolate partitions ep from every endpoint currently attached.
func (n *Network) Isolate(ep gossip.Endpoint) {
	n.mu.RLock()
	peers := make([]gossip.Endpoint, 0, len(n.handlers))
	for p := range n.handlers {
		if p != ep {
			peers = append(peers, p)
		}
	}
	n.mu.RUnlock()
	for _, p := range peers {
		n.Partition(ep, p)
	}
}

// Heal removes every partition.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.cut)
}

// Sent returns how many messages of verb were delivered.
func (n *Network) Sent(verb gossip.Verb) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sent[verb]
}

func (n *Network) attach(ep gossip.Endpoint, h gossip.MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[ep] = h
}

func (n *Network) detach(ep gossip.Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, ep)
}

func (n *Network) deliver(ctx context.Context, from, to gossip.Endpoint, msg *gossip.Message) error {
	b, err := Encode(msg)
	if err != nil {
		return err
	}

	n.mu.Lock()
	h, ok := n.handlers[to]
	_, cut := n.cut[[2]gossip.Endpoint{from, to}]
	if ok && !cut {
		n.sent[msg.Verb]++
	}
	n.mu.Unlock()
	if !ok || cut {
		return fmt.Errorf("%w: %s", ErrUnreachable, to)
	}

	decoded, err := Decode(b)
	if err != nil {
		return err
	}
	// one way: what the receiver thinks of the message is not the sender's concern
	_ = h.HandleMessage(ctx, decoded)
	return nil
}

// Inmem is one endpoint's attachment to a Network.
type Inmem struct {
	network *Network
	local   gossip.Endpoint
}

func (t *Inmem) Start(h gossip.MessageHandler) error {
	t.network.attach(t.local, h)
	return nil
}

func (t *Inmem) Stop() error {
	t.network.detach(t.local)
	return nil
}

func (t *Inmem) SendOneWay(ctx context.Context, msg *gossip.Message, to gossip.Endpoint) error {
	return t.network.deliver(ctx, t.local, to, msg)
}
