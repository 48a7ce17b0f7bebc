package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain feed queues
	PhasePreUpdate               // 1: dispatch last tick's events
	PhaseUpdate                  // 2: AI decisions
	PhasePostUpdate              // 3: crowd tick
	PhaseOutput                  // 4: flush feed sessions
	PhasePersist                 // 5: journal + stats snapshots
	PhaseCleanup                 // 6: stale agent sweep
)

var phaseNames = [...]string{"input", "pre_update", "update", "post_update", "output", "persist", "cleanup"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
