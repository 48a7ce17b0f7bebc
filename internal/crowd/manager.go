package crowd

import (
	"context"
	"errors"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/nav"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
)

// Manager translates aggro transitions into pool admission and eviction.
//
// Lifecycle operations for one NPC id are serialized by a per-id lock held
// across the remote calls of that operation. The pool mutex is only taken
// for bookkeeping.
type Manager struct {
	pool       *Pool
	engine     Engine
	dir        Directory
	bus        *event.Bus
	locks      KeyedMutex
	jobs       *Serializer
	stats      counters
	brakeForce float64
	log        *zap.Logger

	// background work (async lifecycle, shutdown) runs under baseCtx
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewManager(cfg config.CrowdConfig, engine Engine, dir Directory, bus *event.Bus, log *zap.Logger) *Manager {
	log = log.With(zap.String("component", "crowd"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		pool:       NewPool(cfg.MaxAgents),
		engine:     engine,
		dir:        dir,
		bus:        bus,
		jobs:       NewSerializer(log),
		brakeForce: cfg.BrakeForce,
		log:        log,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

func (m *Manager) Pool() *Pool { return m.pool }

func (m *Manager) Stats() Stats { return m.stats.snapshot(m.pool) }

// Ready reports whether the navigation engine answered its health probe.
func (m *Manager) Ready() bool { return m.engine.Ready() }

// Admit runs the five admission steps for an NPC that just turned hostile.
// Any failure rolls back so neither a local slot nor a remote agent is left
// behind. Returns true only when the agent is active.
func (m *Manager) Admit(ctx context.Context, npc NPC) bool {
	if npc == nil || !npc.Alive() || !m.engine.Ready() {
		return false
	}
	id := npc.ID()
	unlock := m.locks.Lock(id)
	defer unlock()

	// 1. capacity gate
	if !m.pool.TryReserve(id) {
		m.stats.rejections.Add(1)
		m.log.Debug("admission refused", zap.String("npc", id), zap.Int("free", m.pool.Free()))
		return false
	}

	// 2. resolve a navigable point
	pt, ok := m.engine.ClosestNavPoint(ctx, npc.Position())
	if !ok {
		m.pool.Release(id)
		m.log.Debug("admission: no navigable point", zap.String("npc", id), zap.Any("pos", npc.Position()))
		return false
	}

	// 3. snap
	npc.SetPosition(pt)

	// 4. remote add
	if err := m.engine.AddAgent(ctx, id, pt); err != nil {
		m.pool.Release(id)
		if !errors.Is(err, nav.ErrRejected) && !errors.Is(err, nav.ErrInvalidInput) {
			// A timed out add may still have landed.
			rctx, cancel := context.WithTimeout(m.baseCtx, time.Second)
			_ = m.engine.RemoveAgent(rctx, id)
			cancel()
		}
		m.log.Warn("admission: engine add failed", zap.String("npc", id), zap.Error(err))
		return false
	}

	// 5. activate; the flag goes first so a sweep never sees an active
	// record without it
	npc.SetAggroed(true)
	m.pool.Activate(id)
	m.stats.admissions.Add(1)
	event.Emit(m.bus, event.AgentAdmitted{NpcID: id, Position: pt, At: time.Now()})
	m.log.Info("agent admitted",
		zap.String("npc", id),
		zap.Int("active", m.pool.ActiveLen()),
		zap.Int("capacity", m.pool.Capacity()),
	)
	return true
}

// Evict drops npc from the crowd. Safe to repeat and safe on an NPC that
// was never admitted. Local state is released before the best-effort
// remote removal.
func (m *Manager) Evict(ctx context.Context, npc NPC, reason EvictReason) bool {
	if npc == nil {
		return false
	}
	id := npc.ID()
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.evictLocked(ctx, id, npc, reason)
}

// EvictID evicts by id, for records whose NPC may no longer exist.
func (m *Manager) EvictID(ctx context.Context, id string, reason EvictReason) bool {
	unlock := m.locks.Lock(id)
	defer unlock()
	npc, _ := m.dir.Npc(id)
	return m.evictLocked(ctx, id, npc, reason)
}

func (m *Manager) evictLocked(ctx context.Context, id string, npc NPC, reason EvictReason) bool {
	if npc != nil {
		npc.SetAggroed(false)
	}
	if !m.pool.Release(id) {
		return false
	}
	if m.engine.Ready() {
		if err := m.engine.RemoveAgent(ctx, id); err != nil {
			m.log.Debug("engine remove failed", zap.String("npc", id), zap.Error(err))
		}
	}
	m.stats.evictions.Add(1)
	event.Emit(m.bus, event.AgentEvicted{NpcID: id, Reason: string(reason), At: time.Now()})
	m.log.Info("agent evicted",
		zap.String("npc", id),
		zap.String("reason", string(reason)),
		zap.Int("active", m.pool.ActiveLen()),
	)
	return true
}

// Sweep evicts every record whose NPC is gone, dead, or no longer aggroed.
// Returns how many were evicted.
func (m *Manager) Sweep(ctx context.Context) int {
	m.stats.cleanupSweeps.Add(1)
	n := 0
	for _, id := range m.pool.IDs() {
		npc, ok := m.dir.Npc(id)
		if sweepReason(npc, ok) == "" {
			continue
		}
		if !m.pool.Active(id) {
			// admission still in flight; it owns the record
			continue
		}
		if m.sweepID(ctx, id) {
			n++
		}
	}
	if n > 0 {
		m.log.Info("cleanup sweep", zap.Int("evicted", n), zap.Int("active", m.pool.ActiveLen()))
	}
	return n
}

// sweepID re-checks the sweep criteria under the per-id lock. An admission
// that finished between the unlocked scan and here keeps its agent.
func (m *Manager) sweepID(ctx context.Context, id string) bool {
	unlock := m.locks.Lock(id)
	defer unlock()
	if !m.pool.Active(id) {
		return false
	}
	npc, ok := m.dir.Npc(id)
	reason := sweepReason(npc, ok)
	if reason == "" {
		return false
	}
	return m.evictLocked(ctx, id, npc, reason)
}

func sweepReason(npc NPC, found bool) EvictReason {
	switch {
	case !found:
		return ReasonMissing
	case !npc.Alive():
		return ReasonDead
	case !npc.Aggroed():
		return ReasonSweep
	}
	return ""
}

// SetTarget points an active agent at target and clears force_stopped.
// Non-finite targets are refused without a remote call.
func (m *Manager) SetTarget(ctx context.Context, id string, target vmath.Vec3) bool {
	if !target.Finite() {
		m.log.Debug("set target: non-finite target", zap.String("npc", id), zap.Any("target", target))
		return false
	}
	if !m.pool.Active(id) || !m.engine.Ready() {
		return false
	}
	if err := m.engine.SetTarget(ctx, id, target); err != nil {
		m.log.Debug("set target failed", zap.String("npc", id), zap.Error(err))
		return false
	}
	if !m.pool.Retarget(id) {
		// evicted while the call was in flight
		return false
	}
	m.stats.pathsCalculated.Add(1)
	return true
}

// Stop halts an active agent normally.
func (m *Manager) Stop(ctx context.Context, id string) bool {
	if !m.pool.Active(id) || !m.engine.Ready() {
		return false
	}
	if err := m.engine.Stop(ctx, id); err != nil {
		m.log.Debug("stop failed", zap.String("npc", id), zap.Error(err))
		return false
	}
	m.pool.Touch(id)
	return true
}

// ForceStop brakes an active agent hard and suppresses its movement updates
// until the next SetTarget.
func (m *Manager) ForceStop(ctx context.Context, id string) bool {
	rec, ok := m.pool.Record(id)
	if !ok || !rec.Active || !m.engine.Ready() {
		return false
	}
	if err := m.engine.ForceStop(ctx, id, m.brakeForce); err != nil {
		m.log.Debug("force stop failed", zap.String("npc", id), zap.Error(err))
		return false
	}
	if !m.pool.MarkForceStopped(id, rec.TargetGen) {
		return false
	}
	m.stats.forceStops.Add(1)
	event.Emit(m.bus, event.AgentForceStopped{NpcID: id, BrakeForce: m.brakeForce, At: time.Now()})
	return true
}

// AdmitAsync queues Admit behind any earlier lifecycle work for the NPC.
// done, if set, receives the result on the worker goroutine.
func (m *Manager) AdmitAsync(npc NPC, done func(bool)) bool {
	return m.jobs.Submit(npc.ID(), func() {
		ok := m.Admit(m.baseCtx, npc)
		if done != nil {
			done(ok)
		}
	})
}

func (m *Manager) EvictAsync(npc NPC, reason EvictReason) bool {
	return m.jobs.Submit(npc.ID(), func() {
		m.Evict(m.baseCtx, npc, reason)
	})
}

func (m *Manager) SetTargetAsync(id string, target vmath.Vec3) bool {
	if !target.Finite() {
		return false
	}
	return m.jobs.Submit(id, func() {
		m.SetTarget(m.baseCtx, id, target)
	})
}

func (m *Manager) StopAsync(id string) bool {
	return m.jobs.Submit(id, func() {
		m.Stop(m.baseCtx, id)
	})
}

// Busy reports whether lifecycle work is queued for id.
func (m *Manager) Busy(id string) bool { return m.jobs.Pending(id) > 0 }

// Flush waits for queued async work. Used by tests and shutdown.
func (m *Manager) Flush() { m.jobs.Flush() }

// Shutdown drains queued work and evicts every agent, best effort.
func (m *Manager) Shutdown(ctx context.Context) int {
	m.jobs.Close()
	n := 0
	for _, id := range m.pool.IDs() {
		if m.EvictID(ctx, id, ReasonShutdown) {
			n++
		}
	}
	m.cancel()
	m.log.Info("crowd shut down", zap.Int("evicted", n))
	return n
}
