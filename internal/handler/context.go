package handler

import (
	"math/rand"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/data"
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"github.com/destromod/crowdnav/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all feed handlers.
// Handlers run on the game loop goroutine.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	World     *world.State
	Crowd     *crowd.Manager
	Profiles  *data.ProfileTable
	Bus       *event.Bus
	Broadcast *Broadcaster
	Rng       *rand.Rand
}

// RegisterAll registers all feed handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_OPCODE_HELLO,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleHello(sess.(*net.Session), r, deps)
		},
	)

	feed := []packet.SessionState{packet.StateFeeding}

	reg.Register(packet.C_OPCODE_NPC_SPAWN, feed,
		func(sess any, r *packet.Reader) {
			HandleNpcSpawn(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_NPC_DEATH, feed,
		func(sess any, r *packet.Reader) {
			HandleNpcDeath(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_NPC_DESPAWN, feed,
		func(sess any, r *packet.Reader) {
			HandleNpcDespawn(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_NPC_DAMAGED, feed,
		func(sess any, r *packet.Reader) {
			HandleNpcDamaged(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_PLAYER_STATE, feed,
		func(sess any, r *packet.Reader) {
			HandlePlayerState(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_PLAYER_LEAVE, feed,
		func(sess any, r *packet.Reader) {
			HandlePlayerLeave(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_SET_TARGET, feed,
		func(sess any, r *packet.Reader) {
			HandleSetTarget(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_STATS_REQUEST, feed,
		func(sess any, r *packet.Reader) {
			HandleStatsRequest(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_PING,
		[]packet.SessionState{packet.StateHandshake, packet.StateFeeding},
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
}
