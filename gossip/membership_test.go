package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLocalApplicationState(t *testing.T) {
	h := newHarness(t)

	v1 := h.g.AddLocalApplicationState(AppLoad, "0.1")
	v2 := h.g.AddLocalApplicationState(AppStatus, StatusNormal)
	assert.Greater(t, v2.Version, v1.Version)
	assert.Equal(t, []string{
		"change(LOAD=0.1):" + nodeA.String(),
		"change(STATUS=NORMAL):" + nodeA.String(),
	}, h.events.Events())

	h.events.Reset()
	v3 := h.g.AddLocalApplicationStateSilently(AppLoad, "0.2")
	assert.Greater(t, v3.Version, v2.Version)
	assert.Empty(t, h.events.Events())

	local := h.g.LocalEndpointState()
	v, _ := local.ApplicationState(AppLoad)
	assert.Equal(t, v3, v)
	assert.Equal(t, v3.Version, local.MaxVersion())
}

func TestLocalEndpointStateIsACopy(t *testing.T) {
	h := newHarness(t)
	snap := h.g.LocalEndpointState()
	snap.AddApplicationState(AppLoad, VersionedValue{Value: "x", Version: 100})

	_, ok := h.g.LocalEndpointState().ApplicationState(AppLoad)
	assert.False(t, ok)
}

func TestAddSavedEndpoint(t *testing.T) {
	h := newHarness(t)

	h.g.AddSavedEndpoint(nodeA)
	h.g.AddSavedEndpoint(nodeB)

	assert.Equal(t, []Endpoint{nodeB}, h.g.UnreachableMembers())
	gen, err := h.g.CurrentGeneration(nodeB)
	require.NoError(t, err)
	assert.Equal(t, int32(0), gen)

	// an answer from the saved endpoint brings it up under its real generation
	h.apply(nodeB, remoteState(17, 1, nil))
	assert.True(t, h.isLive(nodeB))
	gen, _ = h.g.CurrentGeneration(nodeB)
	assert.Equal(t, int32(17), gen)

	// known endpoints are left alone
	h.g.AddSavedEndpoint(nodeB)
	assert.True(t, h.isLive(nodeB))
}

func TestGenerationQueries(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	h.apply(nodeC, remoteState(9, 1, nil))

	_, err := h.g.CurrentGeneration(nodeD)
	assert.ErrorIs(t, err, ErrUnknownEndpoint)

	c, err := h.g.CompareEndpointStartup(nodeB, nodeC)
	require.NoError(t, err)
	assert.Negative(t, c)

	_, err = h.g.CompareEndpointStartup(nodeB, nodeD)
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestEndpointDowntime(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))
	assert.Zero(t, h.g.EndpointDowntime(nodeB))

	h.g.Convict(nodeB, 10)
	h.clock.Advance(7 * time.Second)
	assert.Equal(t, 7*time.Second, h.g.EndpointDowntime(nodeB))
}

func TestReplacedEndpoint(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeB, remoteState(5, 1, nil))

	h.g.ReplacedEndpoint(nodeB)

	assert.False(t, h.g.IsKnownEndpoint(nodeB))
	assert.NotContains(t, h.g.LiveMembers(), nodeB)
	assert.True(t, h.g.isQuarantined(nodeB))
	assert.Contains(t, h.events.Events(), "remove:"+nodeB.String())
}

func TestAdvertiseRemoving(t *testing.T) {
	short := func(c *Config) {
		c.RingDelay = 10 * time.Millisecond
		c.Interval = time.Millisecond
	}

	t.Run("announces removal under a newer generation", func(t *testing.T) {
		h := newHarness(t, short)
		h.apply(nodeB, remoteState(5, 1, nil))
		h.g.Convict(nodeB, 10)

		require.NoError(t, h.g.AdvertiseRemoving(context.Background(), nodeB))

		es, _ := h.g.EndpointState(nodeB)
		assert.Equal(t, int32(6), es.Generation())
		assert.Equal(t, StatusValue(StatusRemoving, nodeB.String()), es.Status())
		assert.True(t, es.IsDeadState())

		require.NoError(t, h.g.AdvertiseTokenRemoved(context.Background(), nodeB))
		es, _ = h.g.EndpointState(nodeB)
		assert.Equal(t, int32(7), es.Generation())
		assert.Equal(t, StatusValue(StatusRemoved, nodeB.String()), es.Status())
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		h := newHarness(t, short)
		assert.ErrorIs(t, h.g.AdvertiseRemoving(context.Background(), nodeD), ErrUnknownEndpoint)
		assert.ErrorIs(t, h.g.AdvertiseTokenRemoved(context.Background(), nodeD), ErrUnknownEndpoint)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.RingDelay = time.Hour })
		h.apply(nodeB, remoteState(5, 1, nil))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, h.g.AdvertiseRemoving(ctx, nodeB), context.Canceled)
		gen, _ := h.g.CurrentGeneration(nodeB)
		assert.Equal(t, int32(5), gen)
	})
}

func TestSubscriberUnregister(t *testing.T) {
	h := newHarness(t)
	h.g.Unregister(h.events)
	h.apply(nodeB, remoteState(5, 1, nil))
	assert.Empty(t, h.events.Events())
}

func TestEndpointsIncludeSelf(t *testing.T) {
	h := newHarness(t)
	h.apply(nodeC, remoteState(5, 1, nil))
	h.apply(nodeB, remoteState(5, 1, nil))

	assert.Equal(t, []Endpoint{nodeA, nodeB, nodeC}, h.g.Endpoints())
	assert.Equal(t, []Endpoint{nodeA, nodeB, nodeC}, h.g.LiveMembers())
}
