package world

import (
	"sync"
	"time"

	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/vmath"
)

var _ crowd.NPC = (*NpcInfo)(nil)

// AIKind selects the behaviour family of an NPC.
type AIKind string

const (
	KindZombie AIKind = "zombie" // melee, ATTACKING
	KindHuman  AIKind = "human"  // ranged, SHOOTING
)

// NpcInfo holds runtime data for an NPC the host told us about.
//
// Fields behind mu are touched by crowd admission off the game loop. The
// exported fields below them belong to the game loop goroutine.
type NpcInfo struct {
	CharacterID string // host id, also the crowd agent id
	Profile     string
	Kind        AIKind
	SpawnedAt   time.Time

	mu            sync.Mutex
	pos           vmath.Vec3
	alive         bool
	aggroed       bool
	orientation   float64
	lastSentSpeed float64

	// Personal tuning, rolled from the profile at spawn.
	AggroRadius  float64
	AttackRadius float64
	ShootRadius  float64
	MoveSpeed    float64
	MaxVertical  float64
	Enraged      bool

	// AI bookkeeping
	State        AIState
	TargetID     string    // player being chased or attacked
	LastTargetAt time.Time // last crowd target update, for throttling
	LastFaceAt   time.Time
	AdmitRetryAt time.Time // earliest next crowd admission attempt
}

// NewNpcInfo creates a live NPC at pos.
func NewNpcInfo(id, profile string, kind AIKind, pos vmath.Vec3) *NpcInfo {
	return &NpcInfo{
		CharacterID: id,
		Profile:     profile,
		Kind:        kind,
		SpawnedAt:   time.Now(),
		pos:         pos,
		alive:       true,
	}
}

func (n *NpcInfo) ID() string { return n.CharacterID }

func (n *NpcInfo) Position() vmath.Vec3 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pos
}

func (n *NpcInfo) SetPosition(p vmath.Vec3) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pos = p
}

func (n *NpcInfo) Alive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alive
}

func (n *NpcInfo) SetAlive(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alive = v
}

func (n *NpcInfo) Aggroed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aggroed
}

func (n *NpcInfo) SetAggroed(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aggroed = v
}

func (n *NpcInfo) Orientation() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.orientation
}

func (n *NpcInfo) LastSentSpeed() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastSentSpeed
}

func (n *NpcInfo) SetMotion(orientation, speed float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orientation = orientation
	n.lastSentSpeed = speed
}
