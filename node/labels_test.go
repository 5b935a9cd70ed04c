package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/replication"
)

func TestLabels(t *testing.T) {
	l := NewLabels()
	ep := gossip.NewEndpoint("10.0.0.1", 7000, 0)

	r, err := replication.NewRecord(replication.OpUpdate, LabelsRecord, map[string]string{"rack": "r1"})
	require.NoError(t, err)
	require.NoError(t, l.Update(ep, r))
	assert.Equal(t, map[string]string{"rack": "r1"}, l.Get(ep))

	// an update replaces, it does not merge
	r, _ = replication.NewRecord(replication.OpUpdate, LabelsRecord, map[string]string{"zone": "z2"})
	require.NoError(t, l.Update(ep, r))
	got := l.Get(ep)
	assert.Equal(t, map[string]string{"zone": "z2"}, got)

	got["zone"] = "mutated"
	assert.Equal(t, "z2", l.Get(ep)["zone"])

	require.NoError(t, l.Delete(ep, replication.Record{}))
	assert.Nil(t, l.Get(ep))

	require.NoError(t, l.Update(ep, r))
	l.Forget(ep)
	assert.Nil(t, l.Get(ep))

	bad := replication.Record{Op: replication.OpUpdate, Name: LabelsRecord, Payload: "{"}
	assert.Error(t, l.Update(ep, bad))
}
