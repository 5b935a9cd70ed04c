package gossip

import (
	"fmt"
	"strings"
	"sync/atomic"
)

/*
AppStateKey:

	One of a small fixed set of application attributes every endpoint may publish.
	Each key holds exactly one current VersionedValue per endpoint; a newer value
	overwrites the old one.

	The numeric value of each key is its wire code. Codes are assigned explicitly
	and must never be renumbered or reused; new keys get new codes.

VersionedValue:

	An immutable (value, version) pair. Versions are handed out by the owning
	node's VersionGenerator, so for one node a value emitted later always carries
	a strictly greater version than anything emitted earlier, whatever the key.
	Versions from different nodes are not comparable.
*/

type AppStateKey int32

const (
	AppStatus  AppStateKey = 1
	AppLoad    AppStateKey = 2
	AppWeight  AppStateKey = 3
	AppVersion AppStateKey = 4
	AppID      AppStateKey = 5
	AppType    AppStateKey = 6
	AppChange  AppStateKey = 7
	AppNetwork AppStateKey = 8
)

var appStateNames = map[AppStateKey]string{
	AppStatus:  "STATUS",
	AppLoad:    "LOAD",
	AppWeight:  "WEIGHT",
	AppVersion: "VERSION",
	AppID:      "ID",
	AppType:    "TYPE",
	AppChange:  "CHANGE",
	AppNetwork: "NETWORK",
}

func (k AppStateKey) String() string {
	if name, ok := appStateNames[k]; ok {
		return name
	}
	return fmt.Sprintf("AppStateKey(%d)", int32(k))
}

// Valid reports whether k is a known key.
func (k AppStateKey) Valid() bool {
	_, ok := appStateNames[k]
	return ok
}

// ParseAppStateKey maps a key name such as "LOAD" back to its key.
func ParseAppStateKey(name string) (AppStateKey, error) {
	for k, n := range appStateNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown application state %q", name)
}

// Status values published under AppStatus. Values are a delimiter separated
// list whose first token is the status itself.
const (
	StatusDelimiter = ","

	StatusNormal  = "NORMAL"
	StatusLeaving = "LEAVING"
	StatusLeft    = "LEFT"

	// Dead states: an endpoint announcing one of these was removed on purpose
	// and must not be brought back by a stale heartbeat.
	StatusRemoving = "removing"
	StatusRemoved  = "removed"
)

var deadStates = []string{StatusRemoving, StatusRemoved}

// StatusValue joins a status with its arguments.
func StatusValue(status string, args ...string) string {
	return strings.Join(append([]string{status}, args...), StatusDelimiter)
}

// IsDeadStatus reports whether a status value marks an intentional removal.
func IsDeadStatus(value string) bool {
	first, _, _ := strings.Cut(value, StatusDelimiter)
	for _, s := range deadStates {
		if first == s {
			return true
		}
	}
	return false
}

type VersionedValue struct {
	Value   string
	Version int32
}

func (v VersionedValue) String() string {
	return fmt.Sprintf("Value(%s,%d)", v.Value, v.Version)
}

// VersionGenerator is the single version sequence of one node. The heartbeat
// and every application state of that node draw from it.
type VersionGenerator struct {
	version atomic.Int32
}

// Next returns a version strictly greater than any previously returned.
func (g *VersionGenerator) Next() int32 {
	return g.version.Add(1)
}

// Current returns the last version handed out.
func (g *VersionGenerator) Current() int32 {
	return g.version.Load()
}

// Value wraps v with the next version.
func (g *VersionGenerator) Value(v string) VersionedValue {
	return VersionedValue{Value: v, Version: g.Next()}
}
