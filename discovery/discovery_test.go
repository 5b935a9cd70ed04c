package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

func TestStatic(t *testing.T) {
	s, err := NewStatic([]string{"10.0.0.1:7000", "10.0.0.2:7000:9042", "10.0.0.1:7000"})
	require.NoError(t, err)

	seeds, err := s.Seeds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []gossip.Endpoint{
		gossip.NewEndpoint("10.0.0.1", 7000, 0),
		gossip.NewEndpoint("10.0.0.2", 7000, 9042),
	}, seeds)

	// callers cannot change the list
	seeds[0] = gossip.Endpoint{}
	again, _ := s.Seeds(context.Background())
	assert.False(t, again[0].IsZero())

	assert.NoError(t, s.Register(context.Background(), seeds[1]))
	assert.NoError(t, s.Deregister(context.Background()))
}

func TestStaticReportsEveryBadSeed(t *testing.T) {
	_, err := NewStatic([]string{"nope", "10.0.0.1:7000", "10.0.0.2:0"})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, gossip.ErrInvalidEndpoint)
}

// fakeEtcd is an in-memory stand-in for the KV and Lease APIs. Keys put with a
// lease are deleted when it is revoked.
type fakeEtcd struct {
	clientv3.KV
	clientv3.Lease

	mu        sync.Mutex
	data      map[string]string
	leases    map[clientv3.LeaseID][]string
	nextLease clientv3.LeaseID
	kaCtx     context.Context
	revoked   []clientv3.LeaseID
	getErr    error
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{
		data:      make(map[string]string),
		leases:    make(map[clientv3.LeaseID][]string),
		nextLease: 100,
	}
}

func (f *fakeEtcd) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLease++
	f.leases[f.nextLease] = nil
	return &clientv3.LeaseGrantResponse{ID: f.nextLease, TTL: ttl}, nil
}

// Put attaches the key to the most recent lease; Register always puts right
// after granting.
func (f *fakeEtcd) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	f.leases[f.nextLease] = append(f.leases[f.nextLease], key)
	return &clientv3.PutResponse{}, nil
}

func (f *fakeEtcd) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	resp := &clientv3.GetResponse{}
	for k, v := range f.data {
		if strings.HasPrefix(k, key) {
			resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(v)})
		}
	}
	return resp, nil
}

func (f *fakeEtcd) KeepAlive(ctx context.Context, _ clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	f.mu.Lock()
	f.kaCtx = ctx
	f.mu.Unlock()

	ch := make(chan *clientv3.LeaseKeepAliveResponse)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch, nil
}

func (f *fakeEtcd) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.leases[id] {
		delete(f.data, k)
	}
	delete(f.leases, id)
	f.revoked = append(f.revoked, id)
	return &clientv3.LeaseRevokeResponse{}, nil
}

func TestEtcdRegistry(t *testing.T) {
	ctx := context.Background()
	store := newFakeEtcd()
	store.data["/hermes/nodes/garbage"] = "not an endpoint"
	store.data["/other/10.9.9.9:7000"] = "10.9.9.9:7000"

	a := gossip.NewEndpoint("10.0.0.1", 7000, 0)
	b := gossip.NewEndpoint("10.0.0.2", 7000, 9042)
	regA := newEtcd(store, store, "/hermes/nodes/", 10*time.Second, nil)
	regB := newEtcd(store, store, "/hermes/nodes/", 500*time.Millisecond, nil)

	seeds, err := regA.Seeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, seeds, "the first node finds nobody")

	require.NoError(t, regB.Register(ctx, b))
	require.NoError(t, regA.Register(ctx, a))
	assert.Equal(t, "10.0.0.2:7000:9042", store.data["/hermes/nodes/10.0.0.2:7000:9042"])

	seeds, err = regA.Seeds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []gossip.Endpoint{a, b}, seeds)

	require.NoError(t, regB.Deregister(ctx))
	store.mu.Lock()
	kaCtx := store.kaCtx
	store.mu.Unlock()
	require.NotNil(t, kaCtx)

	seeds, err = regA.Seeds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []gossip.Endpoint{a}, seeds)

	assert.ErrorIs(t, regB.Deregister(ctx), ErrNotRegistered)
	require.NoError(t, regA.Deregister(ctx))
	assert.Len(t, store.revoked, 2)
}

func TestEtcdKeepAliveStopsOnDeregister(t *testing.T) {
	ctx := context.Background()
	store := newFakeEtcd()
	reg := newEtcd(store, store, "/hermes/nodes/", time.Second, nil)

	require.NoError(t, reg.Register(ctx, gossip.NewEndpoint("10.0.0.1", 7000, 0)))
	store.mu.Lock()
	kaCtx := store.kaCtx
	store.mu.Unlock()
	assert.NoError(t, kaCtx.Err())

	require.NoError(t, reg.Deregister(ctx))
	assert.ErrorIs(t, kaCtx.Err(), context.Canceled)
}

func TestEtcdSeedsError(t *testing.T) {
	store := newFakeEtcd()
	store.getErr = errors.New("etcdserver: request timed out")
	reg := newEtcd(store, store, "/hermes/nodes/", time.Second, nil)

	_, err := reg.Seeds(context.Background())
	assert.ErrorContains(t, err, "request timed out")
}
