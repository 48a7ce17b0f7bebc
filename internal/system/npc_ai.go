package system

import (
	"context"
	"math"
	"time"

	"github.com/destromod/crowdnav/internal/core/event"
	coresys "github.com/destromod/crowdnav/internal/core/system"
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/handler"
	"github.com/destromod/crowdnav/internal/scripting"
	"github.com/destromod/crowdnav/internal/vmath"
	"github.com/destromod/crowdnav/internal/world"
	"go.uber.org/zap"
)

const (
	// Below this horizontal distance local movement does not step.
	minStepDistance = 0.1
	// A failed or refused admission is retried no sooner than this.
	admitRetryDelay = time.Second
	// Line-of-sight answers are reused for this long per NPC/player pair.
	losCacheTTL = 500 * time.Millisecond
)

// Face-target throttle per AI kind.
var faceThrottle = map[world.AIKind]time.Duration{
	world.KindZombie: 100 * time.Millisecond,
	world.KindHuman:  600 * time.Millisecond,
}

// LineOfSight is the visibility query the AI uses to filter targets.
// *nav.Client implements it.
type LineOfSight interface {
	HasLineOfSight(ctx context.Context, from, to vmath.Vec3) bool
}

type losKey struct{ npc, player string }

type losEntry struct {
	visible bool
	at      time.Time
}

// NpcAISystem picks a state for every NPC each tick and turns aggro
// transitions into crowd admission and eviction. Go finds the target, Lua
// decides the state. Phase 2 (Update).
type NpcAISystem struct {
	world *world.State
	deps  *handler.Deps
	lua   *scripting.Engine // nil: built-in decision only
	los   LineOfSight       // nil: no visibility filter
	log   *zap.Logger
	now   func() time.Time

	losCache map[losKey]losEntry
}

var _ crowd.ReachHandler = (*NpcAISystem)(nil)

func NewNpcAISystem(ws *world.State, deps *handler.Deps, lua *scripting.Engine, los LineOfSight) *NpcAISystem {
	if !deps.Config.AI.LineOfSight {
		los = nil
	}
	return &NpcAISystem{
		world:    ws,
		deps:     deps,
		lua:      lua,
		los:      los,
		log:      deps.Log.With(zap.String("component", "npc-ai")),
		now:      time.Now,
		losCache: make(map[losKey]losEntry),
	}
}

func (s *NpcAISystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *NpcAISystem) Update(dt time.Duration) {
	now := s.now()
	for _, npc := range s.world.Npcs() {
		s.tickNpc(npc, now, dt)
	}
	s.expireLOS(now)
}

func (s *NpcAISystem) tickNpc(npc *world.NpcInfo, now time.Time, dt time.Duration) {
	if !npc.Alive() {
		if npc.State != world.StateIdle {
			s.changeState(npc, world.StateIdle, nil)
		}
		return
	}

	target := s.closestPlayer(npc, now)
	next := s.decide(npc, target)
	if next != npc.State {
		s.changeState(npc, next, target)
	}
	if target != nil {
		npc.TargetID = target.ID
	}
	s.ensureAdmitted(npc, now)
	s.continuousAction(npc, target, now, dt)
}

// closestPlayer returns the nearest live player inside the NPC's aggro
// radius that is past its grace period, within the vertical limit, and
// visible. Nil when none qualifies.
func (s *NpcAISystem) closestPlayer(npc *world.NpcInfo, now time.Time) *world.PlayerInfo {
	pos := npc.Position()
	grace := s.deps.Config.AI.GracePeriod
	for _, p := range s.world.NearbyPlayers(pos, npc.AggroRadius) {
		if !p.Alive || p.InGrace(now, grace) {
			continue
		}
		if math.Abs(p.Position[1]-pos[1]) > npc.MaxVertical {
			continue
		}
		if !s.visible(npc, p, now) {
			continue
		}
		return p
	}
	return nil
}

func (s *NpcAISystem) visible(npc *world.NpcInfo, p *world.PlayerInfo, now time.Time) bool {
	if s.los == nil {
		return true
	}
	key := losKey{npc.CharacterID, p.ID}
	if e, ok := s.losCache[key]; ok && now.Sub(e.at) < losCacheTTL {
		return e.visible
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Config.Navigation.RequestTimeout)
	v := s.los.HasLineOfSight(ctx, npc.Position(), p.Position)
	cancel()
	s.losCache[key] = losEntry{visible: v, at: now}
	return v
}

func (s *NpcAISystem) expireLOS(now time.Time) {
	for k, e := range s.losCache {
		if now.Sub(e.at) >= losCacheTTL {
			delete(s.losCache, k)
		}
	}
}

func (s *NpcAISystem) decide(npc *world.NpcInfo, target *world.PlayerInfo) world.AIState {
	ctx := scripting.DecideContext{
		Kind:         string(npc.Kind),
		State:        npc.State.String(),
		AggroRadius:  npc.AggroRadius,
		AttackRadius: npc.AttackRadius,
		ShootRadius:  npc.ShootRadius,
		MaxVertical:  npc.MaxVertical,
		Enraged:      npc.Enraged,
	}
	if target != nil {
		pos := npc.Position()
		ctx.HasTarget = true
		ctx.Distance = vmath.Distance(pos, target.Position)
		ctx.Vertical = math.Abs(target.Position[1] - pos[1])
	}

	var name string
	if s.lua != nil {
		name = s.lua.DecideState(ctx)
	} else {
		name = scripting.FallbackState(ctx)
	}
	st, ok := world.ParseAIState(name)
	if !ok {
		s.log.Warn("unknown ai state from script", zap.String("npc", npc.CharacterID), zap.String("state", name))
		st, _ = world.ParseAIState(scripting.FallbackState(ctx))
	}
	return st
}

// changeState applies the entry action of the new state and announces it.
func (s *NpcAISystem) changeState(npc *world.NpcInfo, to world.AIState, target *world.PlayerInfo) {
	from := npc.State
	npc.State = to
	npc.TargetID = ""
	if target != nil {
		npc.TargetID = target.ID
	}

	switch to {
	case world.StateIdle:
		s.release(npc)
	case world.StateAttacking, world.StateShooting:
		if s.admitted(npc) {
			s.deps.Crowd.StopAsync(npc.CharacterID)
		}
	}

	s.deps.Broadcast.NpcState(npc.CharacterID, from.String(), to.String(), npc.TargetID)
	event.Emit(s.deps.Bus, event.NpcStateChanged{
		NpcID:    npc.CharacterID,
		From:     from.String(),
		To:       to.String(),
		TargetID: npc.TargetID,
	})
}

// release stops and evicts an NPC that left its aggressive states, or
// broadcasts a local stop when it never had a crowd slot.
func (s *NpcAISystem) release(npc *world.NpcInfo) {
	id := npc.CharacterID
	if npc.Aggroed() || s.deps.Crowd.Pool().Contains(id) || s.deps.Crowd.Busy(id) {
		reason := crowd.ReasonDeaggro
		if !npc.Alive() {
			reason = crowd.ReasonDead
		}
		s.deps.Crowd.StopAsync(id)
		s.deps.Crowd.EvictAsync(npc, reason)
		npc.AdmitRetryAt = time.Time{}
		return
	}
	if ev, ok := crowd.StopMovement(npc, npc.Orientation()); ok {
		s.deps.Broadcast.EmitMovement(ev)
	}
}

// ensureAdmitted requests a crowd slot for an aggressive NPC that has none.
// Refused admissions retry after admitRetryDelay.
func (s *NpcAISystem) ensureAdmitted(npc *world.NpcInfo, now time.Time) {
	if !npc.State.Aggressive() || !s.deps.Crowd.Ready() {
		return
	}
	id := npc.CharacterID
	if npc.Aggroed() || s.deps.Crowd.Pool().Contains(id) || s.deps.Crowd.Busy(id) {
		return
	}
	if now.Before(npc.AdmitRetryAt) {
		return
	}
	npc.AdmitRetryAt = now.Add(admitRetryDelay)
	s.deps.Crowd.AdmitAsync(npc, nil)
}

func (s *NpcAISystem) admitted(npc *world.NpcInfo) bool {
	return s.deps.Crowd.Pool().Active(npc.CharacterID)
}

func (s *NpcAISystem) continuousAction(npc *world.NpcInfo, target *world.PlayerInfo, now time.Time, dt time.Duration) {
	if target == nil {
		return
	}
	switch npc.State {
	case world.StateChasing:
		// An engine that went away leaves its agents frozen; chase locally
		// until a health probe brings it back.
		if s.deps.Crowd.Ready() {
			if s.admitted(npc) {
				if now.Sub(npc.LastTargetAt) >= s.deps.Config.AI.TargetRefresh {
					npc.LastTargetAt = now
					s.deps.Crowd.SetTargetAsync(npc.CharacterID, target.Position)
				}
				return
			}
			if s.deps.Crowd.Pool().Contains(npc.CharacterID) || s.deps.Crowd.Busy(npc.CharacterID) {
				return // admission in flight; the engine owns the position next
			}
		}
		s.stepToward(npc, target.Position, dt)
	case world.StateAttacking, world.StateShooting:
		s.faceTarget(npc, target, now)
	}
}

// stepToward moves a non-admitted NPC straight at p at its personal speed.
func (s *NpcAISystem) stepToward(npc *world.NpcInfo, p vmath.Vec3, dt time.Duration) {
	pos := npc.Position()
	dir := p.Sub(pos)
	if dir.HorizontalLength() < minStepDistance {
		return
	}
	npc.SetPosition(vmath.MoveToward(pos, p, npc.MoveSpeed*dt.Seconds()))
	s.deps.Broadcast.EmitMovement(crowd.BuildMovement(npc, dir.Yaw(), npc.MoveSpeed, 0))
}

func (s *NpcAISystem) faceTarget(npc *world.NpcInfo, target *world.PlayerInfo, now time.Time) {
	if now.Sub(npc.LastFaceAt) < faceThrottle[npc.Kind] {
		return
	}
	dir := target.Position.Sub(npc.Position())
	if dir.HorizontalLength() == 0 {
		return
	}
	npc.LastFaceAt = now
	if ev, ok := crowd.StopMovement(npc, dir.Yaw()); ok {
		s.deps.Broadcast.EmitMovement(ev)
	}
}

// TargetReached hands a braked chaser over to its attack state when the
// closest player is inside its attack radius. Runs on the tick goroutine.
func (s *NpcAISystem) TargetReached(n crowd.NPC) {
	npc := s.world.GetNpc(n.ID())
	if npc == nil || npc.State != world.StateChasing {
		return
	}
	target := s.closestPlayer(npc, s.now())
	if target == nil || vmath.Distance(npc.Position(), target.Position) > npc.AttackRadius {
		return
	}
	next := world.StateAttacking
	if npc.Kind == world.KindHuman {
		next = world.StateShooting
	}
	s.log.Debug("target reached, attacking", zap.String("npc", npc.CharacterID), zap.String("player", target.ID))
	s.changeState(npc, next, target)
}
