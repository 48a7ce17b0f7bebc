package crowd

import "sync/atomic"

// Stats is an informational snapshot; nothing reads it for decisions.
type Stats struct {
	ActiveCount     int
	Capacity        int
	Free            int
	PathsCalculated uint64
	ForceStops      uint64
	TargetsReached  uint64
	Admissions      uint64
	Rejections      uint64
	Evictions       uint64
	CleanupSweeps   uint64
	CrowdUpdates    uint64
	TickFailures    uint64
	SkippedCycles   uint64
}

type counters struct {
	pathsCalculated atomic.Uint64
	forceStops      atomic.Uint64
	targetsReached  atomic.Uint64
	admissions      atomic.Uint64
	rejections      atomic.Uint64
	evictions       atomic.Uint64
	cleanupSweeps   atomic.Uint64
	crowdUpdates    atomic.Uint64
	tickFailures    atomic.Uint64
	skippedCycles   atomic.Uint64
}

func (c *counters) snapshot(p *Pool) Stats {
	return Stats{
		ActiveCount:     p.ActiveLen(),
		Capacity:        p.Capacity(),
		Free:            p.Free(),
		PathsCalculated: c.pathsCalculated.Load(),
		ForceStops:      c.forceStops.Load(),
		TargetsReached:  c.targetsReached.Load(),
		Admissions:      c.admissions.Load(),
		Rejections:      c.rejections.Load(),
		Evictions:       c.evictions.Load(),
		CleanupSweeps:   c.cleanupSweeps.Load(),
		CrowdUpdates:    c.crowdUpdates.Load(),
		TickFailures:    c.tickFailures.Load(),
		SkippedCycles:   c.skippedCycles.Load(),
	}
}
