package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyNewEndpoint(t *testing.T) {
	h := newHarness(t)

	h.apply(nodeB, remoteState(10, 3, map[AppStateKey]VersionedValue{
		AppStatus: {Value: StatusNormal, Version: 2},
	}))

	require.True(t, h.g.IsKnownEndpoint(nodeB))
	assert.True(t, h.isLive(nodeB))
	assert.False(t, h.isUnreachable(nodeB))
	assert.Equal(t, 1, h.fd.count(h.fd.reported, nodeB))
	assert.Equal(t, []string{"alive:" + nodeB.String(), "join:" + nodeB.String()}, h.events.Events())

	es, ok := h.g.EndpointState(nodeB)
	require.True(t, ok)
	assert.Equal(t, HeartbeatState{Generation: 10, Version: 3}, es.Heartbeat())
	assert.Equal(t, StatusNormal, es.Status())
}

func TestApplyIgnoresSelf(t *testing.T) {
	h := newHarness(t)
	before := h.g.LocalEndpointState().Heartbeat()

	h.apply(nodeA, remoteState(99, 99, nil))

	assert.Equal(t, before, h.g.LocalEndpointState().Heartbeat())
	assert.Empty(t, h.events.Events())
}

func TestGenerationDominance(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 100, map[AppStateKey]VersionedValue{
		AppLoad: {Value: "9.5", Version: 90},
	}))
	h.events.Reset()

	h.apply(nodeB, remoteState(6, 1, map[AppStateKey]VersionedValue{
		AppStatus: {Value: StatusNormal, Version: 1},
	}))

	es, ok := h.g.EndpointState(nodeB)
	require.True(t, ok)
	assert.Equal(t, int32(6), es.Generation())
	assert.Equal(t, int32(1), es.Heartbeat().Version)
	_, hasLoad := es.ApplicationState(AppLoad)
	assert.False(t, hasLoad, "values of the old generation must not survive")
	assert.Equal(t, []string{
		"restart:" + nodeB.String(),
		"alive:" + nodeB.String(),
		"join:" + nodeB.String(),
	}, h.events.Events())
}

func TestNoDowngrade(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 10, map[AppStateKey]VersionedValue{
		AppLoad: {Value: "1.0", Version: 8},
	}))
	before, _ := h.g.EndpointState(nodeB)
	h.events.Reset()
	h.clock.Advance(time.Minute)

	h.apply(nodeB, remoteState(4, 500, map[AppStateKey]VersionedValue{
		AppLoad: {Value: "2.0", Version: 400},
	}))

	after, _ := h.g.EndpointState(nodeB)
	assert.Equal(t, before.String(), after.String())
	assert.Equal(t, before.UpdateTimestamp(), after.UpdateTimestamp())
	assert.Empty(t, h.events.Events())
}

func TestPerKeyLastWriteWins(t *testing.T) {
	older := func(heartbeat int32) *EndpointState {
		return remoteState(5, heartbeat, map[AppStateKey]VersionedValue{AppLoad: {Value: "older", Version: 3}})
	}
	newer := func(heartbeat int32) *EndpointState {
		return remoteState(5, heartbeat, map[AppStateKey]VersionedValue{AppLoad: {Value: "newer", Version: 5}})
	}

	tests := []struct {
		name  string
		order []*EndpointState
	}{
		{name: "in order", order: []*EndpointState{older(4), newer(6)}},
		{name: "out of order", order: []*EndpointState{newer(6), older(4)}},
		{name: "stale value in a fresher state", order: []*EndpointState{newer(6), older(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.apply(nodeB, remoteState(5, 1, nil))
			for _, es := range tt.order {
				h.apply(nodeB, es)
			}

			es, _ := h.g.EndpointState(nodeB)
			v, ok := es.ApplicationState(AppLoad)
			require.True(t, ok)
			assert.Equal(t, "newer", v.Value)
			assert.Equal(t, int32(5), v.Version)
		})
	}
}

func TestSameGenerationMergeNotifiesChanges(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	h.events.Reset()

	h.apply(nodeB, remoteState(5, 4, map[AppStateKey]VersionedValue{
		AppLoad: {Value: "0.7", Version: 3},
	}))

	es, _ := h.g.EndpointState(nodeB)
	assert.Equal(t, int32(4), es.Heartbeat().Version)
	assert.Equal(t, []string{"change(LOAD=0.7):" + nodeB.String()}, h.events.Events())
}

func TestQuarantineExclusion(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))

	h.g.RemoveEndpoint(nodeB)
	assert.False(t, h.isLive(nodeB))
	assert.Equal(t, 1, h.fd.count(h.fd.removed, nodeB))
	h.events.Reset()

	h.apply(nodeB, remoteState(6, 1, nil))
	assert.Empty(t, h.events.Events())
	gen, err := h.g.CurrentGeneration(nodeB)
	require.NoError(t, err)
	assert.Equal(t, int32(5), gen)

	h.clock.Advance(h.g.Config().QuarantineDelay() + time.Second)
	h.g.StatusCheck()
	assert.False(t, h.g.isQuarantined(nodeB))

	h.apply(nodeB, remoteState(6, 1, nil))
	gen, err = h.g.CurrentGeneration(nodeB)
	require.NoError(t, err)
	assert.Equal(t, int32(6), gen)
	assert.True(t, h.isLive(nodeB))
	assert.Contains(t, h.events.Events(), "join:"+nodeB.String())
}

func TestDeadStateStickiness(t *testing.T) {
	h := newHarness(t)
	removing := StatusValue(StatusRemoving, nodeB.String())

	h.apply(nodeB, remoteState(5, 1, map[AppStateKey]VersionedValue{
		AppStatus: {Value: removing, Version: 1},
	}))
	assert.False(t, h.isLive(nodeB))
	assert.True(t, h.isUnreachable(nodeB))

	h.events.Reset()
	h.apply(nodeB, remoteState(5, 20, map[AppStateKey]VersionedValue{
		AppStatus: {Value: removing, Version: 1},
	}))
	assert.False(t, h.isLive(nodeB))
	assert.NotContains(t, h.events.Events(), "alive:"+nodeB.String())

	h.apply(nodeB, remoteState(6, 1, map[AppStateKey]VersionedValue{
		AppStatus: {Value: StatusNormal, Version: 1},
	}))
	assert.True(t, h.isLive(nodeB))
}

func TestConvict(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	h.events.Reset()

	h.g.Convict(nodeB, 12)
	assert.False(t, h.isLive(nodeB))
	assert.True(t, h.isUnreachable(nodeB))
	assert.Equal(t, []string{"dead:" + nodeB.String()}, h.events.Events())

	// already down
	h.g.Convict(nodeB, 12)
	assert.Len(t, h.events.Events(), 1)

	// never self
	h.g.Convict(nodeA, 100)
	assert.Len(t, h.events.Events(), 1)
}

func TestStatusCheckConvictsThroughDetector(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))

	h.fd.mu.Lock()
	h.fd.convict[nodeB] = true
	h.fd.mu.Unlock()
	h.g.StatusCheck()

	assert.False(t, h.isLive(nodeB))
	assert.Equal(t, []Endpoint{nodeB}, h.g.UnreachableMembers())
}

func TestSameGenerationRevivesConvictedEndpoint(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	h.g.Convict(nodeB, 12)

	h.apply(nodeB, remoteState(5, 2, nil))
	assert.True(t, h.isLive(nodeB))
	assert.False(t, h.isUnreachable(nodeB))
}

func TestRestartClearsDetectorHistoryOfDeadEndpoint(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	h.g.Convict(nodeB, 12)

	h.apply(nodeB, remoteState(7, 1, nil))
	assert.Equal(t, 1, h.fd.count(h.fd.cleared, nodeB))
	assert.True(t, h.isLive(nodeB))
}

func TestFatClientEviction(t *testing.T) {
	ringDelay := 30 * time.Second

	t.Run("silent endpoint is evicted", func(t *testing.T) {
		h := newHarness(t)
		h.apply(nodeD, remoteState(5, 1, nil))
		h.g.Convict(nodeD, 12)

		h.clock.Advance(2 * ringDelay)
		h.g.StatusCheck()

		assert.False(t, h.g.IsKnownEndpoint(nodeD))
		assert.True(t, h.g.isQuarantined(nodeD))
		assert.NotContains(t, h.g.UnreachableMembers(), nodeD)
		assert.Contains(t, h.events.Events(), "remove:"+nodeD.String())
	})

	t.Run("newer generation cancels the eviction", func(t *testing.T) {
		h := newHarness(t)
		h.apply(nodeD, remoteState(5, 1, nil))
		h.g.Convict(nodeD, 12)

		h.clock.Advance(ringDelay)
		states := map[Endpoint]*EndpointState{nodeD: remoteState(6, 1, nil)}
		require.NoError(t, h.g.HandleMessage(context.Background(), NewAck2Message(nodeB, states)))

		h.clock.Advance(ringDelay)
		h.g.StatusCheck()

		require.True(t, h.g.IsKnownEndpoint(nodeD))
		assert.True(t, h.isLive(nodeD))
		gen, err := h.g.CurrentGeneration(nodeD)
		require.NoError(t, err)
		assert.Equal(t, int32(6), gen)
	})

	t.Run("dead state is not a fat client", func(t *testing.T) {
		h := newHarness(t)
		h.apply(nodeD, remoteState(5, 1, map[AppStateKey]VersionedValue{
			AppStatus: {Value: StatusValue(StatusRemoved, nodeD.String()), Version: 1},
		}))

		h.clock.Advance(2 * ringDelay)
		h.g.StatusCheck()
		assert.True(t, h.g.IsKnownEndpoint(nodeD))
	})
}

func TestEvictFromMembership(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	h.g.Convict(nodeB, 12)

	h.g.EvictFromMembership(nodeB)
	assert.False(t, h.g.IsKnownEndpoint(nodeB))
	assert.False(t, h.isUnreachable(nodeB))
	assert.True(t, h.g.isQuarantined(nodeB))
}
