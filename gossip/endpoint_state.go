package gossip

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

/**
EndpointState is the per-node bundle that ties everything together.
Fields:
	heartbeat - (generation, version) of the node
	appStates (Map[AppStateKey]VersionedValue) - newest value per key
	Liveness metadata, never sent over the wire:
		alive (bool) - current local verdict
		updateTimestamp - last time this state changed or proved fresh

The max version over the heartbeat and every value is the endpoint's clock in
digests. It never decreases while the state lives in a Gossiper.

States held by a Gossiper are shared between goroutines; anything handed out
of the Gossiper or put on the wire is a copy.
*/

type EndpointState struct {
	mu              sync.RWMutex
	heartbeat       HeartbeatState
	appStates       map[AppStateKey]VersionedValue
	alive           bool
	updateTimestamp time.Time
}

// NewEndpointState returns an alive state with no application values.
func NewEndpointState(hb HeartbeatState) *EndpointState {
	return newEndpointState(hb, time.Now())
}

func newEndpointState(hb HeartbeatState, now time.Time) *EndpointState {
	return &EndpointState{
		heartbeat:       hb,
		appStates:       make(map[AppStateKey]VersionedValue),
		alive:           true,
		updateTimestamp: now,
	}
}

func (es *EndpointState) Heartbeat() HeartbeatState {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.heartbeat
}

func (es *EndpointState) Generation() int32 {
	return es.Heartbeat().Generation
}

// setHeartbeat replaces the heartbeat and counts as fresh contact.
func (es *EndpointState) setHeartbeat(hb HeartbeatState, now time.Time) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.heartbeat = hb
	es.updateTimestamp = now
}

func (es *EndpointState) updateHeartbeat(version int32) HeartbeatState {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.heartbeat.Version = version
	return es.heartbeat
}

func (es *EndpointState) forceNewerGeneration() HeartbeatState {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.heartbeat = es.heartbeat.withNewerGeneration()
	return es.heartbeat
}

// ApplicationState returns the current value for key.
func (es *EndpointState) ApplicationState(key AppStateKey) (VersionedValue, bool) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	v, ok := es.appStates[key]
	return v, ok
}

// ApplicationStates returns a copy of all values.
func (es *EndpointState) ApplicationStates() map[AppStateKey]VersionedValue {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return maps.Clone(es.appStates)
}

// AddApplicationState overwrites key unconditionally.
func (es *EndpointState) AddApplicationState(key AppStateKey, value VersionedValue) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.appStates[key] = value
}

// mergeApplicationState stores value only if it is newer than what is held.
func (es *EndpointState) mergeApplicationState(key AppStateKey, value VersionedValue) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if cur, ok := es.appStates[key]; ok && cur.Version >= value.Version {
		return false
	}
	es.appStates[key] = value
	return true
}

func (es *EndpointState) IsAlive() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.alive
}

func (es *EndpointState) setAlive(alive bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.alive = alive
}

func (es *EndpointState) UpdateTimestamp() time.Time {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.updateTimestamp
}

func (es *EndpointState) touch(now time.Time) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.updateTimestamp = now
}

// MaxVersion is the largest version over the heartbeat and all values.
func (es *EndpointState) MaxVersion() int32 {
	es.mu.RLock()
	defer es.mu.RUnlock()
	highest := es.heartbeat.Version
	for _, v := range es.appStates {
		if v.Version > highest {
			highest = v.Version
		}
	}
	return highest
}

// Status returns the STATUS value or "" if none was published.
func (es *EndpointState) Status() string {
	v, ok := es.ApplicationState(AppStatus)
	if !ok {
		return ""
	}
	return v.Value
}

// IsDeadState reports whether the endpoint announced its own removal.
func (es *EndpointState) IsDeadState() bool {
	v, ok := es.ApplicationState(AppStatus)
	return ok && IsDeadStatus(v.Value)
}

// Snapshot returns a deep copy, liveness metadata included.
func (es *EndpointState) Snapshot() *EndpointState {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return &EndpointState{
		heartbeat:       es.heartbeat,
		appStates:       maps.Clone(es.appStates),
		alive:           es.alive,
		updateTimestamp: es.updateTimestamp,
	}
}

// versionsAbove builds the partial copy sent to a peer that already knows
// everything up to threshold. The heartbeat always travels with the values so
// the receiver can check the generation. Returns nil if nothing is newer.
func (es *EndpointState) versionsAbove(threshold int32) *EndpointState {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var out *EndpointState
	if es.heartbeat.Version > threshold {
		out = &EndpointState{heartbeat: es.heartbeat, appStates: make(map[AppStateKey]VersionedValue)}
	}
	for k, v := range es.appStates {
		if v.Version <= threshold {
			continue
		}
		if out == nil {
			out = &EndpointState{heartbeat: es.heartbeat, appStates: make(map[AppStateKey]VersionedValue)}
		}
		out.appStates[k] = v
	}
	return out
}

func (es *EndpointState) String() string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	keys := make([]AppStateKey, 0, len(es.appStates))
	for k := range es.appStates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "EndpointState: %s, alive=%t", es.heartbeat, es.alive)
	for _, k := range keys {
		fmt.Fprintf(&b, ", %s=%s", k, es.appStates[k])
	}
	return b.String()
}
