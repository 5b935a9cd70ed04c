package gossip

import (
	"context"
	"fmt"
)

// Verb identifies the kind of gossip message. Values are wire codes.
type Verb uint8

const (
	VerbSyn      Verb = 1
	VerbAck      Verb = 2
	VerbAck2     Verb = 3
	VerbShutdown Verb = 4
)

func (v Verb) String() string {
	switch v {
	case VerbSyn:
		return "syn"
	case VerbAck:
		return "ack"
	case VerbAck2:
		return "ack2"
	case VerbShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("verb(%d)", uint8(v))
	}
}

// SynMessage opens an exchange with the initiator's digests.
type SynMessage struct {
	ClusterID string
	Digests   []GossipDigest
}

// AckMessage carries what the responder wants (Digests) and what it
// volunteers (States).
type AckMessage struct {
	Digests []GossipDigest
	States  map[Endpoint]*EndpointState
}

// Ack2Message answers the requests of an ACK.
type Ack2Message struct {
	States map[Endpoint]*EndpointState
}

// Message is the envelope every transport moves. Exactly one payload matches
// Verb; SHUTDOWN has none.
type Message struct {
	From Endpoint
	Verb Verb
	Syn  *SynMessage
	Ack  *AckMessage
	Ack2 *Ack2Message
}

func NewSynMessage(from Endpoint, clusterID string, digests []GossipDigest) *Message {
	return &Message{From: from, Verb: VerbSyn, Syn: &SynMessage{ClusterID: clusterID, Digests: digests}}
}

func NewAckMessage(from Endpoint, digests []GossipDigest, states map[Endpoint]*EndpointState) *Message {
	return &Message{From: from, Verb: VerbAck, Ack: &AckMessage{Digests: digests, States: states}}
}

func NewAck2Message(from Endpoint, states map[Endpoint]*EndpointState) *Message {
	return &Message{From: from, Verb: VerbAck2, Ack2: &Ack2Message{States: states}}
}

func NewShutdownMessage(from Endpoint) *Message {
	return &Message{From: from, Verb: VerbShutdown}
}

// Validate checks that the payload matches the verb.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	if m.From.IsZero() {
		return fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	}
	var ok bool
	switch m.Verb {
	case VerbSyn:
		ok = m.Syn != nil
	case VerbAck:
		ok = m.Ack != nil
	case VerbAck2:
		ok = m.Ack2 != nil
	case VerbShutdown:
		ok = true
	default:
		return fmt.Errorf("%w: %d", ErrUnknownVerb, m.Verb)
	}
	if !ok {
		return fmt.Errorf("%w: %s without payload", ErrMalformedMessage, m.Verb)
	}

	var states map[Endpoint]*EndpointState
	switch m.Verb {
	case VerbAck:
		states = m.Ack.States
	case VerbAck2:
		states = m.Ack2.States
	}
	for ep, es := range states {
		if es == nil {
			return fmt.Errorf("%w: %s carries no state for %s", ErrMalformedMessage, m.Verb, ep)
		}
	}
	return nil
}

// Transport delivers messages one way, best effort. Implementations must not
// block on the peer processing the message.
type Transport interface {
	SendOneWay(ctx context.Context, msg *Message, to Endpoint) error
}

// MessageHandler receives messages from a transport. Gossiper implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}
