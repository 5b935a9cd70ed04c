package node

import (
	"maps"
	"sync"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/replication"
)

// LabelsRecord names the replication record carrying a node's labels.
const LabelsRecord = "labels"

// Labels holds the free form labels every node published, replicated through
// gossip. An update replaces the labels of its sender; a delete drops them.
type Labels struct {
	mu         sync.RWMutex
	byEndpoint map[gossip.Endpoint]map[string]string
}

func NewLabels() *Labels {
	return &Labels{byEndpoint: make(map[gossip.Endpoint]map[string]string)}
}

func (l *Labels) Update(from gossip.Endpoint, r replication.Record) error {
	var labels map[string]string
	if err := r.Decode(&labels); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byEndpoint[from] = labels
	return nil
}

func (l *Labels) Delete(from gossip.Endpoint, _ replication.Record) error {
	l.Forget(from)
	return nil
}

func (l *Labels) Forget(ep gossip.Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byEndpoint, ep)
}

// Get returns a copy of the labels ep published.
func (l *Labels) Get(ep gossip.Endpoint) map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.byEndpoint[ep])
}
