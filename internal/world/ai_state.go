package world

// AIState is the behaviour an NPC's AI picked on its last tick.
type AIState uint8

const (
	StateIdle AIState = iota
	StateChasing
	StateAttacking // melee
	StateShooting  // ranged
)

var aiStateNames = [...]string{"IDLE", "CHASING", "ATTACKING", "SHOOTING"}

func (s AIState) String() string {
	if int(s) < len(aiStateNames) {
		return aiStateNames[s]
	}
	return "UNKNOWN"
}

// Aggressive states entitle an NPC to a crowd slot.
func (s AIState) Aggressive() bool {
	return s == StateChasing || s == StateAttacking || s == StateShooting
}

// ParseAIState accepts the names produced by String.
func ParseAIState(name string) (AIState, bool) {
	for i, n := range aiStateNames {
		if n == name {
			return AIState(i), true
		}
	}
	return StateIdle, false
}
