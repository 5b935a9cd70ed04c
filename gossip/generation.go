package gossip

import "time"

// NextGeneration picks the generation for a new incarnation: the current
// epoch second, or previous+1 when the clock has not moved past it.
func NextGeneration(previous int32) int32 {
	return nextGeneration(previous, time.Now())
}

func nextGeneration(previous int32, now time.Time) int32 {
	gen := int32(now.Unix())
	if gen <= previous {
		gen = previous + 1
	}
	return gen
}
