package system

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Runner executes systems in phase order each tick. Systems sharing a phase
// run in registration order.
type Runner struct {
	systems []System
	sorted  bool
	log     *zap.Logger
	budget  time.Duration // a system slower than this is logged; 0 disables
}

func NewRunner(log *zap.Logger, budget time.Duration) *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
		log:     log,
		budget:  budget,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Len() int { return len(r.systems) }

// Tick runs every system once and returns the wall time it took.
func (r *Runner) Tick(dt time.Duration) time.Duration {
	r.ensureSorted()
	start := time.Now()
	for _, s := range r.systems {
		r.run(s, dt)
	}
	return time.Since(start)
}

// TickPhase runs only the systems of one phase. Used to drain feed input
// between full ticks.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			r.run(s, dt)
		}
	}
}

func (r *Runner) run(s System, dt time.Duration) {
	if r.budget <= 0 {
		s.Update(dt)
		return
	}
	start := time.Now()
	s.Update(dt)
	if took := time.Since(start); took > r.budget {
		r.log.Warn("slow system",
			zap.String("system", fmt.Sprintf("%T", s)),
			zap.Stringer("phase", s.Phase()),
			zap.Duration("took", took))
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
