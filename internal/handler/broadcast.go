package handler

import (
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
)

// Broadcaster fans server packets out to every feeding session. It is the
// crowd.Emitter used by the tick driver and the AI. Game loop only.
type Broadcaster struct {
	store *net.SessionStore
	sent  uint64
}

var _ crowd.Emitter = (*Broadcaster)(nil)

func NewBroadcaster(store *net.SessionStore) *Broadcaster {
	return &Broadcaster{store: store}
}

// EmitMovement sends S_OPCODE_NPC_MOVE.
func (b *Broadcaster) EmitMovement(ev crowd.MovementEvent) {
	b.send(BuildMovePacket(ev))
}

// NpcState sends S_OPCODE_NPC_STATE.
func (b *Broadcaster) NpcState(id, from, to, targetID string) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_NPC_STATE)
	w.WriteS(id)
	w.WriteS(from)
	w.WriteS(to)
	w.WriteS(targetID)
	b.send(w.Bytes())
}

// Sent returns the number of packets queued across all sessions.
func (b *Broadcaster) Sent() uint64 { return b.sent }

func (b *Broadcaster) send(data []byte) {
	if b.store == nil {
		return
	}
	b.store.ForEach(func(sess *net.Session) {
		if sess.State() != packet.StateFeeding {
			return
		}
		sess.Send(data)
		b.sent++
	})
}

// BuildMovePacket encodes one movement event.
func BuildMovePacket(ev crowd.MovementEvent) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_NPC_MOVE)
	w.WriteS(ev.NpcID)
	w.WriteF(ev.Position[0])
	w.WriteF(ev.Position[1])
	w.WriteF(ev.Position[2])
	w.WriteF(ev.Orientation)
	w.WriteF(ev.HorizontalSpeed)
	w.WriteF(ev.VerticalSpeed)
	return w.Bytes()
}
