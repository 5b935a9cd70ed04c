package transport

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

/*
Wire format

Messages are protobuf encoded by hand with protowire, so every transport shares
one byte layout and no generated code is needed. Unknown fields are skipped,
and application states under keys this build does not know are dropped.

	Envelope      1 from Endpoint, 2 verb varint, 3 syn Syn, 4 ack Ack, 5 ack2 Ack2
	Endpoint      1 host string, 2 port varint, 3 service_port varint
	Digest        1 endpoint Endpoint, 2 generation varint, 3 max_version varint
	Syn           1 cluster_id string, 2 digests repeated Digest
	Ack           1 digests repeated Digest, 2 states repeated StateEntry
	Ack2          1 states repeated StateEntry
	StateEntry    1 endpoint Endpoint, 2 state EndpointState
	EndpointState 1 generation varint, 2 version varint, 3 values repeated AppState
	AppState      1 key varint, 2 value string, 3 version varint
*/

// Encode serializes msg.
func Encode(msg *gossip.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	var b []byte
	b = appendMessage(b, 1, appendEndpoint(nil, msg.From))
	b = appendVarint(b, 2, uint64(msg.Verb))
	switch msg.Verb {
	case gossip.VerbSyn:
		b = appendMessage(b, 3, appendSyn(nil, msg.Syn))
	case gossip.VerbAck:
		b = appendMessage(b, 4, appendAck(nil, msg.Ack))
	case gossip.VerbAck2:
		b = appendMessage(b, 5, appendStates(nil, 1, msg.Ack2.States))
	}
	return b, nil
}

// Decode parses a message produced by Encode and validates it.
func Decode(b []byte) (*gossip.Message, error) {
	msg := &gossip.Message{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			msg.From, err = decodeEndpoint(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			msg.Verb = gossip.Verb(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			msg.Syn, err = decodeSyn(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			msg.Ack, err = decodeAck(v)
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			msg.Ack2 = &gossip.Ack2Message{States: make(map[gossip.Endpoint]*gossip.EndpointState)}
			return n, decodeStates(v, 1, msg.Ack2.States)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// int32 fields use the plain protobuf int32 encoding: sign extended varints.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendEndpoint(b []byte, ep gossip.Endpoint) []byte {
	b = appendString(b, 1, ep.Host)
	b = appendVarint(b, 2, uint64(ep.Port))
	if ep.ServicePort != 0 {
		b = appendVarint(b, 3, uint64(ep.ServicePort))
	}
	return b
}

func appendDigests(b []byte, num protowire.Number, digests []gossip.GossipDigest) []byte {
	for _, d := range digests {
		var m []byte
		m = appendMessage(m, 1, appendEndpoint(nil, d.Endpoint))
		m = appendInt32(m, 2, d.Generation)
		m = appendInt32(m, 3, d.MaxVersion)
		b = appendMessage(b, num, m)
	}
	return b
}

func appendSyn(b []byte, syn *gossip.SynMessage) []byte {
	b = appendString(b, 1, syn.ClusterID)
	return appendDigests(b, 2, syn.Digests)
}

func appendAck(b []byte, ack *gossip.AckMessage) []byte {
	b = appendDigests(b, 1, ack.Digests)
	return appendStates(b, 2, ack.States)
}

func appendStates(b []byte, num protowire.Number, states map[gossip.Endpoint]*gossip.EndpointState) []byte {
	eps := make([]gossip.Endpoint, 0, len(states))
	for ep := range states {
		eps = append(eps, ep)
	}
	slices.SortFunc(eps, gossip.Endpoint.Compare)

	for _, ep := range eps {
		var m []byte
		m = appendMessage(m, 1, appendEndpoint(nil, ep))
		m = appendMessage(m, 2, appendEndpointState(nil, states[ep]))
		b = appendMessage(b, num, m)
	}
	return b
}

func appendEndpointState(b []byte, es *gossip.EndpointState) []byte {
	hb := es.Heartbeat()
	b = appendInt32(b, 1, hb.Generation)
	b = appendInt32(b, 2, hb.Version)

	values := es.ApplicationStates()
	keys := make([]gossip.AppStateKey, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := values[k]
		var m []byte
		m = appendVarint(m, 1, uint64(k))
		m = appendString(m, 2, v.Value)
		m = appendInt32(m, 3, v.Version)
		b = appendMessage(b, 3, m)
	}
	return b
}

// consumeFields walks the fields of b. fn returns how many bytes of the value
// it consumed, or 0 to have the field skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return malformed(protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, malformed(fmt.Errorf("want varint, got wire type %d", typ))
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, malformed(protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, malformed(fmt.Errorf("want bytes, got wire type %d", typ))
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, malformed(protowire.ParseError(n))
	}
	return v, n, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", gossip.ErrMalformedMessage, err)
}

func decodeEndpoint(b []byte) (gossip.Endpoint, error) {
	var host string
	var port, servicePort uint64
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			host = string(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			port = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			servicePort = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return gossip.Endpoint{}, err
	}
	if host == "" || port == 0 || port > 65535 || servicePort > 65535 {
		return gossip.Endpoint{}, malformed(fmt.Errorf("bad endpoint %s:%d:%d", host, port, servicePort))
	}
	return gossip.NewEndpoint(host, int(port), int(servicePort)), nil
}

func decodeDigest(b []byte) (gossip.GossipDigest, error) {
	var d gossip.GossipDigest
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			d.Endpoint, err = decodeEndpoint(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			d.Generation = int32(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			d.MaxVersion = int32(v)
			return n, err
		}
		return 0, nil
	})
	if err == nil && d.Endpoint.IsZero() {
		err = malformed(fmt.Errorf("digest without endpoint"))
	}
	return d, err
}

func decodeSyn(b []byte) (*gossip.SynMessage, error) {
	syn := &gossip.SynMessage{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			syn.ClusterID = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			d, err := decodeDigest(v)
			syn.Digests = append(syn.Digests, d)
			return n, err
		}
		return 0, nil
	})
	return syn, err
}

func decodeAck(b []byte) (*gossip.AckMessage, error) {
	ack := &gossip.AckMessage{States: make(map[gossip.Endpoint]*gossip.EndpointState)}
	var entries [][]byte
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			d, err := decodeDigest(v)
			ack.Digests = append(ack.Digests, d)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			entries = append(entries, v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := decodeStateEntry(e, ack.States); err != nil {
			return nil, err
		}
	}
	return ack, nil
}

// decodeStates reads every StateEntry stored under num into states.
func decodeStates(b []byte, num protowire.Number, states map[gossip.Endpoint]*gossip.EndpointState) error {
	return consumeFields(b, func(n protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if n != num {
			return 0, nil
		}
		v, m, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		return m, decodeStateEntry(v, states)
	})
}

func decodeStateEntry(b []byte, states map[gossip.Endpoint]*gossip.EndpointState) error {
	var ep gossip.Endpoint
	var es *gossip.EndpointState
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			ep, err = decodeEndpoint(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			es, err = decodeEndpointState(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if ep.IsZero() || es == nil {
		return malformed(fmt.Errorf("incomplete state entry"))
	}
	states[ep] = es
	return nil
}

func decodeEndpointState(b []byte) (*gossip.EndpointState, error) {
	var hb gossip.HeartbeatState
	values := make(map[gossip.AppStateKey]gossip.VersionedValue)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			hb.Generation = int32(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			hb.Version = int32(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			key, value, err := decodeAppState(v)
			if err == nil && key.Valid() {
				values[key] = value
			}
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	es := gossip.NewEndpointState(hb)
	for k, v := range values {
		es.AddApplicationState(k, v)
	}
	return es, nil
}

func decodeAppState(b []byte) (gossip.AppStateKey, gossip.VersionedValue, error) {
	var key gossip.AppStateKey
	var value gossip.VersionedValue
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			key = gossip.AppStateKey(int32(v))
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			value.Value = string(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			value.Version = int32(v)
			return n, err
		}
		return 0, nil
	})
	return key, value, err
}
