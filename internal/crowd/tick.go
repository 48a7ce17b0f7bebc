package crowd

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Driver advances every active agent once per tick.
//
// A cycle fans the remote queries out, joins them under cycle_timeout, then
// applies results on the calling goroutine in admission order. Host state
// (NPC position, emissions, reach hand-off) is only touched in that last
// step.
type Driver struct {
	mgr            *Manager
	emit           Emitter
	reach          ReachHandler
	cycleTimeout   time.Duration
	maxParallel    int
	speedThreshold float64
	running        atomic.Bool
	log            *zap.Logger
}

func NewDriver(cfg config.CrowdConfig, mgr *Manager, emit Emitter, reach ReachHandler, log *zap.Logger) *Driver {
	par := cfg.MaxParallel
	if par <= 0 {
		par = 16
	}
	return &Driver{
		mgr:            mgr,
		emit:           emit,
		reach:          reach,
		cycleTimeout:   cfg.CycleTimeout,
		maxParallel:    par,
		speedThreshold: cfg.SpeedThreshold,
		log:            log.With(zap.String("component", "crowd-driver")),
	}
}

// SetReachHandler wires the AI layer after construction.
func (d *Driver) SetReachHandler(h ReachHandler) { d.reach = h }

type sample struct {
	rec     Record
	npc     NPC
	evict   EvictReason // non-empty: dead or missing, evicted this cycle
	reached bool
	pos     vmath.Vec3
	vel     vmath.Vec3
	err     error
}

// Tick runs one cycle and returns the number of movement events emitted.
// A call that arrives while the previous cycle is still running returns 0
// without doing anything.
func (d *Driver) Tick(ctx context.Context) int {
	if !d.running.CompareAndSwap(false, true) {
		d.mgr.stats.skippedCycles.Add(1)
		return 0
	}
	defer d.running.Store(false)

	if !d.mgr.engine.Ready() {
		return 0
	}
	recs := d.mgr.pool.Snapshot()
	if len(recs) == 0 {
		return 0
	}

	samples := make([]sample, len(recs))
	for i, rec := range recs {
		samples[i].rec = rec
		npc, ok := d.mgr.dir.Npc(rec.NpcID)
		switch {
		case !ok:
			samples[i].evict = ReasonMissing
		case !npc.Alive():
			samples[i].evict = ReasonDead
		}
		samples[i].npc = npc
	}

	cctx, cancel := context.WithTimeout(ctx, d.cycleTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(d.maxParallel)
	for i := range samples {
		s := &samples[i]
		g.Go(func() error {
			if s.evict != "" {
				// Removal gets the full request timeout, not the cycle budget.
				d.mgr.EvictID(ctx, s.rec.NpcID, s.evict)
				return nil
			}
			d.query(cctx, s)
			return nil
		})
	}
	_ = g.Wait()

	emitted := 0
	for i := range samples {
		if d.apply(&samples[i]) {
			emitted++
		}
	}
	return emitted
}

// query runs on a worker goroutine and only talks to the engine.
func (d *Driver) query(ctx context.Context, s *sample) {
	id := s.rec.NpcID
	eng := d.mgr.engine

	if !s.rec.ForceStopped {
		at, err := eng.AtTarget(ctx, id)
		if err != nil {
			s.err = err
			return
		}
		if at {
			if err := eng.ForceStop(ctx, id, d.mgr.brakeForce); err != nil {
				s.err = err
				return
			}
			s.reached = true
		}
	}

	// Position and velocity are independent reads.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := eng.AgentPosition(gctx, id)
		s.pos = p
		return err
	})
	g.Go(func() error {
		v, err := eng.AgentVelocity(gctx, id)
		s.vel = v
		return err
	})
	s.err = g.Wait()
}

// apply runs on the tick goroutine. Reports whether a movement event went out.
// A braked agent is marked force-stopped even when its position or velocity
// read failed, so the brake is never sent twice.
func (d *Driver) apply(s *sample) bool {
	id := s.rec.NpcID
	if s.evict != "" {
		return false
	}
	if s.err != nil {
		d.mgr.stats.tickFailures.Add(1)
		d.log.Debug("agent query failed", zap.String("npc", id), zap.Error(s.err))
	}
	// Evicted while the queries were in flight; do not resurrect.
	if !d.mgr.pool.Active(id) {
		return false
	}
	if !s.npc.Alive() {
		return false
	}

	if s.err == nil {
		d.mgr.pool.Touch(id)
		s.npc.SetPosition(s.pos)
	}

	if s.reached && d.mgr.pool.MarkForceStopped(id, s.rec.TargetGen) {
		now := time.Now()
		d.mgr.stats.forceStops.Add(1)
		d.mgr.stats.targetsReached.Add(1)
		event.Emit(d.mgr.bus, event.AgentForceStopped{NpcID: id, BrakeForce: d.mgr.brakeForce, At: now})
		event.Emit(d.mgr.bus, event.AgentTargetReached{NpcID: id, Position: s.npc.Position(), At: now})
		if d.reach != nil {
			d.reach.TargetReached(s.npc)
		}
	}
	if s.err != nil {
		return false
	}

	orientation, speed := Heading(s.vel, s.npc.Orientation(), d.speedThreshold)

	if d.mgr.pool.ForceStopped(id) {
		return false
	}
	ev := BuildMovement(s.npc, orientation, speed, 0)
	if d.emit != nil {
		d.emit.EmitMovement(ev)
	}
	d.mgr.stats.crowdUpdates.Add(1)
	return true
}
