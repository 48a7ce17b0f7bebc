package system

import (
	"context"
	"sync/atomic"
	"time"

	coresys "github.com/destromod/crowdnav/internal/core/system"
	"github.com/destromod/crowdnav/internal/crowd"
	"go.uber.org/zap"
)

// SweepSystem periodically evicts agents whose NPC is gone, dead or no
// longer aggroed. The sweep itself runs off the game loop; a sweep still in
// flight when the next one is due is skipped. Phase 6 (Cleanup).
type SweepSystem struct {
	mgr      *crowd.Manager
	interval time.Duration
	timeout  time.Duration
	elapsed  time.Duration
	running  atomic.Bool
	done     chan int // buffered; tests wait on it
	log      *zap.Logger
}

func NewSweepSystem(mgr *crowd.Manager, interval, timeout time.Duration, log *zap.Logger) *SweepSystem {
	return &SweepSystem{
		mgr:      mgr,
		interval: interval,
		timeout:  timeout,
		done:     make(chan int, 1),
		log:      log.With(zap.String("component", "sweep")),
	}
}

func (s *SweepSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *SweepSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("previous sweep still running")
		return
	}
	go s.run()
}

func (s *SweepSystem) run() {
	defer s.running.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n := s.mgr.Sweep(ctx)
	select {
	case s.done <- n:
	default:
	}
}
