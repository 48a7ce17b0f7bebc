package handler

import (
	"fmt"

	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/data"
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"github.com/destromod/crowdnav/internal/vmath"
	"github.com/destromod/crowdnav/internal/world"
	"go.uber.org/zap"
)

func readVec3(r *packet.Reader) vmath.Vec3 {
	return vmath.Vec3{r.ReadF(), r.ReadF(), r.ReadF()}
}

// HandleNpcSpawn processes C_OPCODE_NPC_SPAWN: the host created an AI NPC.
func HandleNpcSpawn(sess *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	profileName := r.ReadS()
	pos := readVec3(r)
	if r.Short() || id == "" || !pos.Finite() {
		deps.Log.Warn("bad npc spawn", zap.Uint64("session", sess.ID), zap.String("npc", id))
		return
	}
	if _, err := SpawnNpc(deps, id, profileName, pos); err != nil {
		deps.Log.Warn("npc spawn rejected", zap.String("npc", id), zap.Error(err))
	}
}

// SpawnNpc registers an NPC with personal tuning rolled from its profile.
// A previous NPC with the same id is released from the crowd first.
func SpawnNpc(deps *Deps, id, profileName string, pos vmath.Vec3) (*world.NpcInfo, error) {
	prof := deps.Profiles.Get(profileName)
	if prof == nil {
		return nil, fmt.Errorf("unknown profile %q", profileName)
	}
	if old := deps.World.GetNpc(id); old != nil {
		old.SetAlive(false)
		deps.Crowd.EvictAsync(old, crowd.ReasonMissing)
	}

	npc := world.NewNpcInfo(id, prof.Name, world.AIKind(prof.Kind), pos)
	applyPersonal(npc, prof.Roll(deps.Rng))
	deps.World.AddNpc(npc)
	deps.Log.Debug("npc spawned",
		zap.String("npc", id),
		zap.String("profile", prof.Name),
		zap.Float64("aggro", npc.AggroRadius),
	)
	return npc, nil
}

func applyPersonal(npc *world.NpcInfo, p data.Personal) {
	npc.AggroRadius = p.AggroRadius
	npc.AttackRadius = p.AttackRadius
	npc.ShootRadius = p.ShootRadius
	npc.MoveSpeed = p.MoveSpeed
	npc.MaxVertical = p.MaxVertical
}

// HandleNpcDeath processes C_OPCODE_NPC_DEATH. The AI drops the NPC to IDLE
// on its next tick, which releases its crowd slot.
func HandleNpcDeath(_ *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	npc := deps.World.GetNpc(id)
	if npc == nil {
		return
	}
	npc.SetAlive(false)
	deps.Log.Debug("npc died", zap.String("npc", id))
}

// HandleNpcDespawn processes C_OPCODE_NPC_DESPAWN: the host destroyed the NPC.
func HandleNpcDespawn(_ *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	npc := deps.World.RemoveNpc(id)
	if npc == nil {
		return
	}
	npc.SetAlive(false)
	deps.Crowd.EvictAsync(npc, crowd.ReasonMissing)
	deps.Log.Debug("npc despawned", zap.String("npc", id))
}

// HandleNpcDamaged processes C_OPCODE_NPC_DAMAGED. Only damage from a known
// player enrages.
func HandleNpcDamaged(_ *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	attacker := r.ReadS()
	npc := deps.World.GetNpc(id)
	if npc == nil || attacker == "" || deps.World.GetPlayer(attacker) == nil {
		return
	}
	Enrage(deps, npc, attacker)
}

// Enrage raises a damaged NPC's radii to its profile's enraged values and
// alerts live same-kind NPCs within the alert radius. Returns false when
// the NPC was already at or above the enraged aggro radius.
func Enrage(deps *Deps, npc *world.NpcInfo, playerID string) bool {
	prof := deps.Profiles.Get(npc.Profile)
	if prof == nil || !npc.Alive() || npc.AggroRadius >= prof.EnragedAggroRadius {
		return false
	}
	npc.AggroRadius = prof.EnragedAggroRadius
	if npc.Kind == world.KindHuman {
		npc.ShootRadius = prof.EnragedShootRadius
	}
	npc.Enraged = true

	alerted := 0
	for _, other := range deps.World.NearbyNpcs(npc.Position(), prof.AlertRadius, npc.Kind, npc.CharacterID) {
		aggro := prof.AlertedAggroRadius.Roll(deps.Rng)
		shoot := prof.AlertedShootRadius.Roll(deps.Rng)
		if other.AggroRadius >= aggro {
			continue
		}
		other.AggroRadius = aggro
		if other.Kind == world.KindHuman {
			other.ShootRadius = shoot
		}
		alerted++
	}

	deps.Log.Info("npc enraged",
		zap.String("npc", npc.CharacterID),
		zap.String("player", playerID),
		zap.Float64("aggro", npc.AggroRadius),
		zap.Int("alerted", alerted),
	)
	event.Emit(deps.Bus, event.NpcEnraged{NpcID: npc.CharacterID, PlayerID: playerID, Alerted: alerted})
	return true
}
