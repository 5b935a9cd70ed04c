package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
	"github.com/adamgarcia4/goLearning/hermes/metrics"
)

// MemberView is one endpoint as reported by /members.
type MemberView struct {
	Endpoint         string            `json:"endpoint"`
	Alive            bool              `json:"alive"`
	Generation       int32             `json:"generation"`
	HeartbeatVersion int32             `json:"heartbeat_version"`
	Status           string            `json:"status,omitempty"`
	Downtime         string            `json:"downtime,omitempty"`
	States           map[string]string `json:"states,omitempty"`
	Labels           map[string]string `json:"labels,omitempty"`
}

// MembersView is the body of /members.
type MembersView struct {
	Local       string       `json:"local"`
	ClusterID   string       `json:"cluster_id"`
	Live        []string     `json:"live"`
	Unreachable []string     `json:"unreachable"`
	Members     []MemberView `json:"members"`
}

// Members describes what the node currently knows about the cluster.
func (n *Node) Members() MembersView {
	g := n.gossiper
	view := MembersView{
		Local:       g.Local().String(),
		ClusterID:   g.ClusterID(),
		Live:        endpointStrings(g.LiveMembers()),
		Unreachable: endpointStrings(g.UnreachableMembers()),
	}
	for _, ep := range g.Endpoints() {
		es, ok := g.EndpointState(ep)
		if !ok {
			continue
		}
		hb := es.Heartbeat()
		m := MemberView{
			Endpoint:         ep.String(),
			Alive:            es.IsAlive(),
			Generation:       hb.Generation,
			HeartbeatVersion: hb.Version,
			Status:           es.Status(),
			States:           make(map[string]string),
			Labels:           n.labels.Get(ep),
		}
		if ep == g.Local() {
			m.Alive = true
		}
		if d := g.EndpointDowntime(ep); d > 0 {
			m.Downtime = d.Round(time.Second).String()
		}
		for k, v := range es.ApplicationStates() {
			m.States[k.String()] = v.Value
		}
		view.Members = append(view.Members, m)
	}
	return view
}

func endpointStrings(eps []gossip.Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.String()
	}
	return out
}

func (n *Node) healthz(w http.ResponseWriter, _ *http.Request) {
	if !n.gossiper.Running() {
		http.Error(w, "gossip not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (n *Node) members(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(n.Members())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (n *Node) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.Instrument("healthz", http.HandlerFunc(n.healthz)))
	mux.Handle("/members", metrics.Instrument("members", http.HandlerFunc(n.members)))
	mux.Handle("/remove", metrics.Instrument("remove", http.HandlerFunc(n.remove)))
	return mux
}

func (n *Node) startAdmin() error {
	if n.cfg.AdminAddress == "" {
		return nil
	}
	lis, err := net.Listen("tcp", n.cfg.AdminAddress)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	n.admin = &http.Server{Handler: n.adminHandler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := n.admin.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Errorw("admin server stopped", "error", err)
		}
	}()
	n.log.Infow("admin server listening", "addr", lis.Addr().String())
	return nil
}

func (n *Node) stopAdmin(ctx context.Context) error {
	if n.admin == nil {
		return nil
	}
	return n.admin.Shutdown(ctx)
}
