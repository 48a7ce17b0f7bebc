package handler

import (
	"time"

	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"go.uber.org/zap"
)

// HandlePlayerState processes C_OPCODE_PLAYER_STATE, the host's periodic
// player position report. The ready flag is set once, on the report that
// follows the player finishing loading in; it starts the grace period.
func HandlePlayerState(sess *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	pos := readVec3(r)
	alive := r.ReadBool()
	readyNow := r.ReadBool()
	if r.Short() || id == "" || !pos.Finite() {
		deps.Log.Debug("bad player state", zap.Uint64("session", sess.ID), zap.String("player", id))
		return
	}
	var readyAt time.Time
	if readyNow {
		readyAt = time.Now()
	}
	deps.World.UpsertPlayer(id, pos, alive, readyAt)
}

// HandlePlayerLeave processes C_OPCODE_PLAYER_LEAVE.
func HandlePlayerLeave(_ *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	if deps.World.RemovePlayer(id) != nil {
		deps.Log.Debug("player left", zap.String("player", id))
	}
}
