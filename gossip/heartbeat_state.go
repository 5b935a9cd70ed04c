package gossip

import "fmt"

/*
HeartbeatState is (generation, version).

Generation identifies an incarnation of a node and only ever grows across
restarts. Version grows once per gossip round within a generation and never
resets inside it. A larger generation overrides everything known about the
older incarnation; an equal generation with a larger version is just fresher.

Reference: https://github.com/apache/cassandra/blob/trunk/src/java/org/apache/cassandra/gms/HeartBeatState.java
*/
type HeartbeatState struct {
	Generation int32
	Version    int32
}

func NewHeartbeatState(generation int32) HeartbeatState {
	return HeartbeatState{Generation: generation}
}

// withNewerGeneration mimics a restart of the owning node. Used when a node
// speaks on behalf of a peer it is removing.
func (h HeartbeatState) withNewerGeneration() HeartbeatState {
	return HeartbeatState{Generation: h.Generation + 1, Version: h.Version}
}

func (h HeartbeatState) String() string {
	return fmt.Sprintf("HeartBeat(generation=%d, version=%d)", h.Generation, h.Version)
}
