package gossip_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/transport"
)

type member struct {
	g  *gossip.Gossiper
	tr *transport.Inmem
}

func startMember(t *testing.T, nw *transport.Network, ep gossip.Endpoint, generation int32, seeds ...gossip.Endpoint) *member {
	t.Helper()
	tr := nw.Transport(ep)
	g, err := gossip.New(gossip.Config{
		ClusterID:    "scenario",
		Local:        ep,
		Seeds:        seeds,
		RingDelay:    time.Minute,
		ManualRounds: true,
	}, tr, gossip.NewPhiAccrualDetector(gossip.DefaultPhiConvictThreshold),
		gossip.WithRand(rand.New(rand.NewPCG(uint64(generation), 7))))
	require.NoError(t, err)
	g.OnStarting(func(g *gossip.Gossiper) {
		g.AddLocalApplicationState(gossip.AppStatus, gossip.StatusNormal)
	})
	require.NoError(t, tr.Start(g))
	require.NoError(t, g.Start(context.Background(), generation))
	t.Cleanup(func() { _ = tr.Stop() })
	return &member{g: g, tr: tr}
}

// converged reports whether every member sees every other one alive with the
// generation it started with.
func converged(members []*member, generations map[gossip.Endpoint]int32) bool {
	for _, m := range members {
		if len(m.g.LiveMembers()) != len(members) {
			return false
		}
		for ep, want := range generations {
			gen, err := m.g.CurrentGeneration(ep)
			if err != nil || gen != want {
				return false
			}
		}
	}
	return true
}

func runRounds(ctx context.Context, members []*member, until func() bool, limit int) int {
	for round := 1; round <= limit; round++ {
		for _, m := range members {
			m.g.RunRound(ctx)
		}
		if until() {
			return round
		}
	}
	return -1
}

func TestThreeNodesConverge(t *testing.T) {
	ctx := context.Background()
	nw := transport.NewNetwork()

	a := gossip.NewEndpoint("10.0.0.1", 7000, 0)
	b := gossip.NewEndpoint("10.0.0.2", 7000, 0)
	c := gossip.NewEndpoint("10.0.0.3", 7000, 0)

	members := []*member{
		startMember(t, nw, a, 99, a),
		startMember(t, nw, b, 100, a),
		startMember(t, nw, c, 101, a),
	}
	generations := map[gossip.Endpoint]int32{a: 99, b: 100, c: 101}

	rounds := runRounds(ctx, members, func() bool { return converged(members, generations) }, 50)
	require.Positive(t, rounds, "cluster did not converge")

	for _, m := range members {
		assert.Empty(t, m.g.UnreachableMembers())
		for _, ep := range []gossip.Endpoint{a, b, c} {
			es, ok := m.g.EndpointState(ep)
			require.True(t, ok)
			assert.Equal(t, gossip.StatusNormal, es.Status(), "%s's view of %s", m.g.Local(), ep)
		}
	}
	assert.Positive(t, nw.Sent(gossip.VerbAck2))
}

func TestViewsBecomeEqual(t *testing.T) {
	ctx := context.Background()
	nw := transport.NewNetwork()

	a := gossip.NewEndpoint("10.0.0.1", 7000, 0)
	b := gossip.NewEndpoint("10.0.0.2", 7000, 0)
	ma := startMember(t, nw, a, 5, b)
	mb := startMember(t, nw, b, 6, a)

	ma.g.AddLocalApplicationState(gossip.AppLoad, "0.25")
	mb.g.AddLocalApplicationState(gossip.AppWeight, "3")

	same := func() bool {
		for _, ep := range []gossip.Endpoint{a, b} {
			x, okA := ma.g.EndpointState(ep)
			y, okB := mb.g.EndpointState(ep)
			if !okA || !okB {
				return false
			}
			if x.Heartbeat() != y.Heartbeat() || len(x.ApplicationStates()) != len(y.ApplicationStates()) {
				return false
			}
			for k, v := range x.ApplicationStates() {
				if w, ok := y.ApplicationState(k); !ok || w != v {
					return false
				}
			}
		}
		return true
	}

	for range 3 {
		ma.g.RunRound(ctx)
		mb.g.RunRound(ctx)
	}
	// no more state changes: plain exchanges, without the heartbeat bump of
	// a round, must make the views equal
	for range 10 {
		if same() {
			break
		}
		_ = nw.Transport(b).SendOneWay(ctx, synFrom(mb.g), a)
		_ = nw.Transport(a).SendOneWay(ctx, synFrom(ma.g), b)
	}
	assert.True(t, same())
}

func synFrom(g *gossip.Gossiper) *gossip.Message {
	var digests []gossip.GossipDigest
	for _, ep := range g.Endpoints() {
		es, _ := g.EndpointState(ep)
		digests = append(digests, gossip.NewGossipDigest(ep, es.Generation(), es.MaxVersion()))
	}
	return gossip.NewSynMessage(g.Local(), g.ClusterID(), digests)
}

func TestPartitionHeals(t *testing.T) {
	ctx := context.Background()
	nw := transport.NewNetwork()

	a := gossip.NewEndpoint("10.0.0.1", 7000, 0)
	b := gossip.NewEndpoint("10.0.0.2", 7000, 0)
	c := gossip.NewEndpoint("10.0.0.3", 7000, 0)
	members := []*member{
		startMember(t, nw, a, 10, a),
		startMember(t, nw, b, 11, a),
		startMember(t, nw, c, 12, a),
	}
	generations := map[gossip.Endpoint]int32{a: 10, b: 11, c: 12}
	require.Positive(t, runRounds(ctx, members, func() bool { return converged(members, generations) }, 50))

	nw.Isolate(c)
	for _, m := range members[:2] {
		m.g.Convict(c, 100)
	}
	members[2].g.Convict(a, 100)
	members[2].g.Convict(b, 100)
	assert.Equal(t, []gossip.Endpoint{c}, members[0].g.UnreachableMembers())

	// nothing reaches the isolated side
	runRounds(ctx, members, func() bool { return false }, 5)
	assert.Equal(t, []gossip.Endpoint{a, b}, members[2].g.UnreachableMembers())

	nw.Heal()
	healed := runRounds(ctx, members, func() bool {
		for _, m := range members {
			if len(m.g.UnreachableMembers()) != 0 {
				return false
			}
		}
		return true
	}, 50)
	assert.Positive(t, healed, "partition did not heal")
}

func TestShutdownIsAnnounced(t *testing.T) {
	ctx := context.Background()
	nw := transport.NewNetwork()

	a := gossip.NewEndpoint("10.0.0.1", 7000, 0)
	b := gossip.NewEndpoint("10.0.0.2", 7000, 0)
	members := []*member{startMember(t, nw, a, 1, a), startMember(t, nw, b, 2, a)}
	require.Positive(t, runRounds(ctx, members, func() bool {
		return converged(members, map[gossip.Endpoint]int32{a: 1, b: 2})
	}, 50))

	require.NoError(t, members[1].g.Stop(ctx))
	assert.Equal(t, []gossip.Endpoint{b}, members[0].g.UnreachableMembers())
	assert.Equal(t, 1, nw.Sent(gossip.VerbShutdown))
}
