package crowd

import (
	"github.com/destromod/crowdnav/internal/vmath"
)

// MovementEvent is everything the host needs to broadcast one NPC's
// position and facing to observing clients.
type MovementEvent struct {
	NpcID           string
	Position        vmath.Vec3
	Orientation     float64 // radians, atan2(vx, vz)
	HorizontalSpeed float64
	VerticalSpeed   float64
}

// BuildMovement turns a motion sample into a MovementEvent and records the
// sent orientation and speed on the NPC.
func BuildMovement(npc NPC, orientation, horizontalSpeed, verticalSpeed float64) MovementEvent {
	npc.SetMotion(orientation, horizontalSpeed)
	return MovementEvent{
		NpcID:           npc.ID(),
		Position:        npc.Position(),
		Orientation:     orientation,
		HorizontalSpeed: horizontalSpeed,
		VerticalSpeed:   verticalSpeed,
	}
}

// StopMovement builds a zero-speed event facing orientation. It reports
// false when the NPC was already stopped with that facing, so the caller
// can skip a redundant broadcast.
func StopMovement(npc NPC, orientation float64) (MovementEvent, bool) {
	if npc.LastSentSpeed() == 0 && npc.Orientation() == orientation {
		return MovementEvent{}, false
	}
	return BuildMovement(npc, orientation, 0, 0), true
}

// Heading derives facing and horizontal speed from a velocity sample. Below
// threshold the previous orientation is kept.
func Heading(vel vmath.Vec3, prev, threshold float64) (orientation, speed float64) {
	speed = vel.HorizontalLength()
	if speed < threshold {
		return prev, speed
	}
	return vel.Yaw(), speed
}
