package handler

import (
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"go.uber.org/zap"
)

// HandleSetTarget processes C_OPCODE_SET_TARGET, a host override of an
// admitted agent's destination. Non-admitted NPCs and non-finite targets are
// ignored.
func HandleSetTarget(_ *net.Session, r *packet.Reader, deps *Deps) {
	id := r.ReadS()
	target := readVec3(r)
	if r.Short() || !deps.Crowd.Pool().Active(id) {
		return
	}
	if !deps.Crowd.SetTargetAsync(id, target) {
		deps.Log.Debug("set target dropped", zap.String("npc", id))
	}
}
