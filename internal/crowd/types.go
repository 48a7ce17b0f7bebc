// Package crowd decides which NPCs get a slot in the navigation engine's
// crowd simulation, keeps the bounded agent pool, and drives admitted agents
// every tick.
package crowd

import (
	"context"

	"github.com/destromod/crowdnav/internal/vmath"
)

// NPC is the host-side view of one non-player character. Implementations
// must be safe for concurrent use: admission runs off the tick goroutine.
type NPC interface {
	ID() string
	Position() vmath.Vec3
	SetPosition(vmath.Vec3)
	Alive() bool

	// Aggroed is the single source of truth for "entitled to a pool slot".
	Aggroed() bool
	SetAggroed(bool)

	Orientation() float64
	LastSentSpeed() float64
	SetMotion(orientation, speed float64)
}

// Directory resolves NPC ids to live host objects.
type Directory interface {
	Npc(id string) (NPC, bool)
}

// Emitter receives movement events for broadcast.
type Emitter interface {
	EmitMovement(MovementEvent)
}

// ReachHandler is notified on the tick goroutine when an agent reaches its
// navigation target and has been braked.
type ReachHandler interface {
	TargetReached(npc NPC)
}

// Engine is the subset of the navigation client the crowd layer drives.
// *nav.Client implements it.
type Engine interface {
	Ready() bool
	ClosestNavPoint(ctx context.Context, p vmath.Vec3) (vmath.Vec3, bool)
	AddAgent(ctx context.Context, id string, pos vmath.Vec3) error
	RemoveAgent(ctx context.Context, id string) error
	SetTarget(ctx context.Context, id string, target vmath.Vec3) error
	Stop(ctx context.Context, id string) error
	ForceStop(ctx context.Context, id string, brakeForce float64) error
	AtTarget(ctx context.Context, id string) (bool, error)
	AgentPosition(ctx context.Context, id string) (vmath.Vec3, error)
	AgentVelocity(ctx context.Context, id string) (vmath.Vec3, error)
}

// EvictReason is recorded in logs and the lifecycle journal.
type EvictReason string

const (
	ReasonDeaggro  EvictReason = "deaggro"
	ReasonDead     EvictReason = "dead"
	ReasonMissing  EvictReason = "missing"
	ReasonSweep    EvictReason = "sweep"
	ReasonShutdown EvictReason = "shutdown"
)
