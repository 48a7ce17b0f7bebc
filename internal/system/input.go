package system

import (
	"time"

	"github.com/destromod/crowdnav/internal/core/event"
	coresys "github.com/destromod/crowdnav/internal/core/system"
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"go.uber.org/zap"
)

// InputSystem drains packet queues from all feed sessions and dispatches
// them through the packet registry. Phase 0 (Input).
type InputSystem struct {
	netServer  *net.Server
	registry   *packet.Registry
	store      *net.SessionStore
	bus        *event.Bus
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(netServer *net.Server, registry *packet.Registry, store *net.SessionStore, bus *event.Bus, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		netServer:  netServer,
		registry:   registry,
		store:      store,
		bus:        bus,
		maxPerTick: maxPerTick,
		log:        log.With(zap.String("component", "input")),
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	s.acceptNew()
	s.reapDead()

	for _, id := range s.store.IDs() {
		sess := s.store.Get(id)
		if sess.IsClosed() {
			// Packets queued before the disconnect still count.
			s.drain(sess)
			sess.FlushOutput()
			s.handleDisconnect(sess)
			s.netServer.NotifyDead(id)
			s.store.Remove(id)
			continue
		}
		s.drain(sess)
	}
}

func (s *InputSystem) acceptNew() {
	for {
		select {
		case sess := <-s.netServer.NewSessions():
			s.store.Add(sess)
		default:
			return
		}
	}
}

func (s *InputSystem) reapDead() {
	for {
		select {
		case id := <-s.netServer.DeadSessions():
			s.store.Remove(id)
		default:
			return
		}
	}
}

// drain dispatches up to maxPerTick packets from one session.
func (s *InputSystem) drain(sess *net.Session) int {
	n := 0
	for n < s.maxPerTick {
		select {
		case data := <-sess.InQueue:
			n++
			if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
				s.log.Debug("dispatch failed", zap.Uint64("session", sess.ID), zap.Error(err))
			}
		default:
			return n
		}
	}
	return n
}

// handleDisconnect announces a closed feed. NPC and player state is left
// alone; a reconnecting feed re-sends it.
func (s *InputSystem) handleDisconnect(sess *net.Session) {
	s.log.Info("feed disconnected", zap.Uint64("session", sess.ID), zap.String("addr", sess.Addr))
	event.Emit(s.bus, event.FeedDisconnected{SessionID: sess.ID})
}

// SessionCount returns the current number of feed sessions.
func (s *InputSystem) SessionCount() int {
	return s.store.Len()
}
