package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

// checkRemovable reports why ep cannot be removed by this node, if it cannot.
func (n *Node) checkRemovable(ep gossip.Endpoint) error {
	if !n.Running() {
		return ErrNodeNotStarted
	}
	if ep == n.local {
		return ErrRemoveSelf
	}
	es, ok := n.gossiper.EndpointState(ep)
	if !ok {
		return fmt.Errorf("%w: %s", gossip.ErrUnknownEndpoint, ep)
	}
	if es.IsAlive() {
		return fmt.Errorf("%w: %s", ErrEndpointAlive, ep)
	}
	return nil
}

// RemoveEndpoint announces on behalf of the down endpoint ep that it has
// been removed from the cluster. It blocks for one ring delay plus two
// gossip intervals.
func (n *Node) RemoveEndpoint(ctx context.Context, ep gossip.Endpoint) error {
	if err := n.checkRemovable(ep); err != nil {
		return err
	}
	n.log.Infow("removing endpoint", "endpoint", ep)
	if err := n.gossiper.AdvertiseRemoving(ctx, ep); err != nil {
		return fmt.Errorf("advertise removing %s: %w", ep, err)
	}
	if err := n.gossiper.AdvertiseTokenRemoved(ctx, ep); err != nil {
		return fmt.Errorf("advertise removed %s: %w", ep, err)
	}
	n.log.Infow("endpoint removed", "endpoint", ep)
	return nil
}

// EvictEndpoint drops the down endpoint ep from this node only, the way a
// replacement node forgets the address it took over.
func (n *Node) EvictEndpoint(ep gossip.Endpoint) error {
	if err := n.checkRemovable(ep); err != nil {
		return err
	}
	n.gossiper.ReplacedEndpoint(ep)
	n.labels.Forget(ep)
	n.log.Infow("endpoint evicted", "endpoint", ep)
	return nil
}

// removeInBackground runs RemoveEndpoint on the node's run context so that
// Stop interrupts it.
func (n *Node) removeInBackground(ep gossip.Endpoint) {
	n.mu.RLock()
	ctx := n.runCtx
	n.mu.RUnlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.RemoveEndpoint(ctx, ep); err != nil && !errors.Is(err, context.Canceled) {
			n.log.Errorw("failed to remove endpoint", "endpoint", ep, "error", err)
		}
	}()
}

func removalStatus(err error) int {
	switch {
	case errors.Is(err, gossip.ErrInvalidEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, gossip.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, ErrRemoveSelf), errors.Is(err, ErrEndpointAlive):
		return http.StatusConflict
	case errors.Is(err, ErrNodeNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// remove serves POST /remove?endpoint=host:port[&evict=true]. A removal is
// announced in the background and answered with 202; an eviction is local
// and answered with 204.
func (n *Node) remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ep, err := gossip.ParseEndpoint(r.URL.Query().Get("endpoint"))
	if err != nil {
		http.Error(w, err.Error(), removalStatus(err))
		return
	}
	if r.URL.Query().Get("evict") == "true" {
		if err := n.EvictEndpoint(ep); err != nil {
			http.Error(w, err.Error(), removalStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := n.checkRemovable(ep); err != nil {
		http.Error(w, err.Error(), removalStatus(err))
		return
	}
	n.removeInBackground(ep)
	w.WriteHeader(http.StatusAccepted)
}
