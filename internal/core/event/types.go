package event

import (
	"time"

	"github.com/destromod/crowdnav/internal/vmath"
)

// Crowd lifecycle events. Emitted by the crowd manager and driver, consumed
// by the journal writer and the AI layer.

type AgentAdmitted struct {
	NpcID    string
	Position vmath.Vec3 // snapped navigable point
	At       time.Time
}

type AgentEvicted struct {
	NpcID  string
	Reason string
	At     time.Time
}

type AgentForceStopped struct {
	NpcID      string
	BrakeForce float64
	At         time.Time
}

type AgentTargetReached struct {
	NpcID    string
	Position vmath.Vec3
	At       time.Time
}

// Host feed events.

type FeedConnected struct {
	SessionID uint64
	Addr      string
}

type FeedDisconnected struct {
	SessionID uint64
}

// NpcStateChanged fires when the AI moves an NPC between IDLE, CHASING,
// ATTACKING and SHOOTING.
type NpcStateChanged struct {
	NpcID    string
	From, To string
	TargetID string
}

// NpcEnraged fires when a player damages an NPC and its aggro radius jumps.
// Alerted counts same-kind NPCs whose radius was raised in turn.
type NpcEnraged struct {
	NpcID    string
	PlayerID string
	Alerted  int
}
