package discovery

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Etcd keeps every live node under prefix, one key per endpoint, attached to
// a lease kept alive for as long as the node runs. Seeds are whatever is
// registered there.
type Etcd struct {
	kv     clientv3.KV
	lease  clientv3.Lease
	prefix string
	ttl    time.Duration
	log    *zap.SugaredLogger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

func NewEtcd(cli *clientv3.Client, prefix string, ttl time.Duration, log *zap.SugaredLogger) *Etcd {
	return newEtcd(cli.KV, cli.Lease, prefix, ttl, log)
}

func newEtcd(kv clientv3.KV, lease clientv3.Lease, prefix string, ttl time.Duration, log *zap.SugaredLogger) *Etcd {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Etcd{kv: kv, lease: lease, prefix: prefix, ttl: ttl, log: log}
}

func (e *Etcd) key(ep gossip.Endpoint) string {
	return e.prefix + ep.String()
}

// Register puts self under the prefix and keeps its lease alive in the
// background until Deregister.
func (e *Etcd) Register(ctx context.Context, self gossip.Endpoint) error {
	ttl := int64(e.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	grant, err := e.lease.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	if _, err := e.kv.Put(ctx, e.key(self), self.String(), clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("register %s: %w", self, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := e.lease.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		e.log.Debugw("etcd lease keepalive ended", "lease", grant.ID)
	}()

	e.mu.Lock()
	e.leaseID, e.cancel = grant.ID, cancel
	e.mu.Unlock()
	e.log.Infow("registered with etcd", "key", e.key(self), "ttl", ttl)
	return nil
}

// Deregister revokes the lease, which deletes the key.
func (e *Etcd) Deregister(ctx context.Context) error {
	e.mu.Lock()
	id, cancel := e.leaseID, e.cancel
	e.leaseID, e.cancel = 0, nil
	e.mu.Unlock()

	if cancel == nil {
		return ErrNotRegistered
	}
	cancel()
	if _, err := e.lease.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

// Seeds lists every registered endpoint. Values that do not parse are skipped.
func (e *Etcd) Seeds(ctx context.Context) ([]gossip.Endpoint, error) {
	resp, err := e.kv.Get(ctx, e.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", e.prefix, err)
	}
	seeds := make([]gossip.Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ep, err := gossip.ParseEndpoint(string(kv.Value))
		if err != nil {
			e.log.Warnw("skipping bad seed entry", "key", string(kv.Key), "error", err)
			continue
		}
		seeds = append(seeds, ep)
	}
	slices.SortFunc(seeds, gossip.Endpoint.Compare)
	return slices.Compact(seeds), nil
}
