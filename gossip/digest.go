package gossip

import (
	"cmp"
	"fmt"
	"sort"
)

/*
GossipDigest is the compact summary exchanged before any state moves:

	(endpoint, generation, maxVersion)

Digests are built fresh for every round and every message and never stored.

Digest exchange (SYN -> ACK -> ACK2):

	1. The initiator sends a digest for every endpoint it knows, in random order.
	2. The receiver compares each digest with its own view (examineGossiper):
		- it does not know the endpoint, or the remote generation is newer:
			ask for everything: (endpoint, remoteGeneration, 0)
		- the remote generation is older:
			volunteer everything it holds (threshold 0)
		- same generation, remote maxVersion is newer:
			ask for the delta: (endpoint, generation, localMaxVersion)
		- same generation, local maxVersion is newer:
			volunteer the delta above remoteMaxVersion
		- identical: nothing to do
	   and answers with an ACK carrying both lists.
	3. The initiator merges what was volunteered and answers the requests with
	   an ACK2.

Only values newer than what the other side reported travel, which is what keeps
each exchange small.
*/

type GossipDigest struct {
	Endpoint   Endpoint
	Generation int32
	MaxVersion int32
}

func NewGossipDigest(ep Endpoint, generation, maxVersion int32) GossipDigest {
	return GossipDigest{Endpoint: ep, Generation: generation, MaxVersion: maxVersion}
}

// Compare orders digests by generation, then by max version.
func (d GossipDigest) Compare(o GossipDigest) int {
	if c := cmp.Compare(d.Generation, o.Generation); c != 0 {
		return c
	}
	return cmp.Compare(d.MaxVersion, o.MaxVersion)
}

func (d GossipDigest) String() string {
	return fmt.Sprintf("%s:%d:%d", d.Endpoint, d.Generation, d.MaxVersion)
}

// makeRandomDigests emits one digest per known endpoint, self included, in
// shuffled order so no endpoint is systematically favoured when a peer works
// through the list.
func (g *Gossiper) makeRandomDigests() []GossipDigest {
	g.mu.RLock()
	endpoints := make([]Endpoint, 0, len(g.states))
	states := make([]*EndpointState, 0, len(g.states))
	for ep, es := range g.states {
		endpoints = append(endpoints, ep)
		states = append(states, es)
	}
	g.mu.RUnlock()

	g.shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
		states[i], states[j] = states[j], states[i]
	})

	digests := make([]GossipDigest, 0, len(endpoints))
	for i, ep := range endpoints {
		es := states[i]
		digests = append(digests, NewGossipDigest(ep, es.Generation(), es.MaxVersion()))
	}
	return digests
}

// sortByDivergence orders incoming digests so endpoints the two sides disagree
// on most are examined first. Endpoints unknown locally count as a difference
// of their full max version.
func (g *Gossiper) sortByDivergence(digests []GossipDigest) []GossipDigest {
	type scored struct {
		digest GossipDigest
		diff   int64
	}
	out := make([]scored, len(digests))
	for i, d := range digests {
		var local int32
		if es := g.stateOf(d.Endpoint); es != nil {
			local = es.MaxVersion()
		}
		diff := int64(d.MaxVersion) - int64(local)
		if diff < 0 {
			diff = -diff
		}
		out[i] = scored{digest: d, diff: diff}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].diff > out[j].diff })

	sorted := make([]GossipDigest, len(out))
	for i, s := range out {
		sorted[i] = s.digest
	}
	return sorted
}

// examineGossiper works out what the sender of digests is missing (returned as
// states to volunteer) and what we are missing (returned as request digests).
func (g *Gossiper) examineGossiper(digests []GossipDigest) ([]GossipDigest, map[Endpoint]*EndpointState) {
	requests := make([]GossipDigest, 0)
	send := make(map[Endpoint]*EndpointState)

	for _, d := range digests {
		es := g.stateOf(d.Endpoint)
		if es == nil {
			requests = append(requests, NewGossipDigest(d.Endpoint, d.Generation, 0))
			continue
		}

		localGeneration := es.Generation()
		localMaxVersion := es.MaxVersion()

		switch {
		case d.Generation > localGeneration:
			requests = append(requests, NewGossipDigest(d.Endpoint, d.Generation, 0))
		case d.Generation < localGeneration:
			g.sendAll(d.Endpoint, send, 0)
		case d.MaxVersion > localMaxVersion:
			requests = append(requests, NewGossipDigest(d.Endpoint, d.Generation, localMaxVersion))
		case d.MaxVersion < localMaxVersion:
			g.sendAll(d.Endpoint, send, d.MaxVersion)
		}
	}
	return requests, send
}

// sendAll adds to send everything about ep newer than threshold.
func (g *Gossiper) sendAll(ep Endpoint, send map[Endpoint]*EndpointState, threshold int32) {
	if es := g.stateForVersionBiggerThan(ep, threshold); es != nil {
		send[ep] = es
	}
}

func (g *Gossiper) stateForVersionBiggerThan(ep Endpoint, threshold int32) *EndpointState {
	es := g.stateOf(ep)
	if es == nil {
		return nil
	}
	return es.versionsAbove(threshold)
}
