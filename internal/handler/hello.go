package handler

import (
	"github.com/destromod/crowdnav/internal/core/event"
	"github.com/destromod/crowdnav/internal/net"
	"github.com/destromod/crowdnav/internal/net/packet"
	"go.uber.org/zap"
)

// HandleHello processes C_OPCODE_HELLO and admits the session to the feed.
// A protocol mismatch closes the connection.
func HandleHello(sess *net.Session, r *packet.Reader, deps *Deps) {
	version := r.ReadC()
	host := r.ReadS()
	if version != packet.ProtocolVersion {
		deps.Log.Warn("feed protocol mismatch",
			zap.Uint64("session", sess.ID),
			zap.Uint8("version", version),
			zap.Uint8("want", packet.ProtocolVersion),
		)
		sess.Close()
		return
	}
	sess.HostName = host
	sess.SetState(packet.StateFeeding)
	deps.Log.Info("feed accepted",
		zap.Uint64("session", sess.ID),
		zap.String("host", host),
		zap.String("addr", sess.Addr),
	)
	event.Emit(deps.Bus, event.FeedConnected{SessionID: sess.ID, Addr: sess.Addr})
}

// HandlePing echoes the nonce back as S_OPCODE_PONG.
func HandlePing(sess *net.Session, r *packet.Reader, _ *Deps) {
	nonce := r.ReadD()
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_PONG)
	w.WriteD(nonce)
	sess.Send(w.Bytes())
}
