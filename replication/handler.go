package replication

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/metrics"
)

// Changeable receives the records published under one name.
type Changeable interface {
	Update(from gossip.Endpoint, r Record) error
	Delete(from gossip.Endpoint, r Record) error
}

// Forgetter is implemented by Changeables that keep per endpoint data and
// want to drop it when the endpoint leaves gossip.
type Forgetter interface {
	Forget(ep gossip.Endpoint)
}

// Handler dispatches CHANGE values seen through gossip.
type Handler struct {
	gossip.BaseSubscriber

	log *zap.SugaredLogger

	mu          sync.RWMutex
	changeables map[string]Changeable
}

func NewHandler(log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{log: log, changeables: make(map[string]Changeable)}
}

func (h *Handler) Register(name string, c Changeable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changeables[name] = c
}

func (h *Handler) OnChange(ep gossip.Endpoint, key gossip.AppStateKey, v gossip.VersionedValue) {
	if key != gossip.AppChange {
		return
	}
	_ = h.Handle(ep, v.Value)
}

// OnJoin covers records that arrive inside a whole new state, where no
// OnChange is fired.
func (h *Handler) OnJoin(ep gossip.Endpoint, es *gossip.EndpointState) {
	if v, ok := es.ApplicationState(gossip.AppChange); ok {
		_ = h.Handle(ep, v.Value)
	}
}

func (h *Handler) OnRemove(ep gossip.Endpoint) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.changeables {
		if f, ok := c.(Forgetter); ok {
			f.Forget(ep)
		}
	}
}

// Handle applies one record. Unknown names are ignored; failures are logged
// and returned.
func (h *Handler) Handle(from gossip.Endpoint, value string) error {
	r, err := ParseRecord(value)
	if err != nil {
		h.log.Warnw("ignoring replication record", "from", from, "error", err)
		return err
	}

	h.mu.RLock()
	c, ok := h.changeables[r.Name]
	h.mu.RUnlock()
	if !ok {
		h.log.Debugw("no handler for replication record", "from", from, "name", r.Name)
		return nil
	}

	switch r.Op {
	case OpUpdate:
		err = c.Update(from, r)
	case OpDelete:
		err = c.Delete(from, r)
	default:
		h.log.Debugw("unknown replication op", "from", from, "op", r.Op)
		return nil
	}
	if err != nil {
		h.log.Errorw("replication record failed", "from", from, "name", r.Name, "op", r.Op, "error", err)
		return err
	}
	metrics.ReplicationRecords.WithLabelValues(string(r.Op)).Inc()
	return nil
}
