package net

import (
	"bytes"
	"errors"
	stdnet "net"
	"testing"
	"time"

	"github.com/destromod/crowdnav/internal/net/packet"
	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{packet.C_OPCODE_PING, 1, 2, 3}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() != 6 || buf.Bytes()[0] != 6 || buf.Bytes()[1] != 0 {
		t.Fatalf("header=% x want length 6 little-endian", buf.Bytes()[:2])
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, []byte{packet.C_OPCODE_PING, 1, 2, 3}) {
		t.Fatalf("payload=% x", got)
	}
}

func TestReadFrameRejectsEmpty(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{2, 0})); err == nil {
		t.Fatalf("zero-length payload accepted")
	}
}

func TestServerSessionExchange(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", SessionOptions{
		InQueueSize: 8, OutQueueSize: 8, ServerName: "crowdnav-test", ServerID: 3,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Shutdown()
	go srv.AcceptLoop()

	conn, err := stdnet.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	init, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("read init: %v", err)
	}
	r := packet.NewReader(init)
	if r.Opcode() != packet.S_OPCODE_INIT || r.ReadC() != packet.ProtocolVersion {
		t.Fatalf("init packet=% x", init)
	}
	if name := r.ReadS(); name != "crowdnav-test" || r.ReadD() != 3 {
		t.Fatalf("init name=%q", name)
	}

	var sess *Session
	select {
	case sess = <-srv.NewSessions():
	case <-time.After(5 * time.Second):
		t.Fatalf("no session delivered")
	}
	defer sess.Close()

	w := packet.NewWriterWithOpcode(packet.C_OPCODE_PING)
	w.WriteD(42)
	if err := WriteFrame(conn, w.Bytes()); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	select {
	case in := <-sess.InQueue:
		if packet.NewReader(in).ReadD() != 42 {
			t.Fatalf("inbound=% x", in)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("inbound packet not queued")
	}

	pong := packet.NewWriterWithOpcode(packet.S_OPCODE_PONG)
	pong.WriteD(42)
	sess.Send(pong.Bytes())
	if sess.Pending() != 1 {
		t.Fatalf("pending=%d want=1", sess.Pending())
	}
	sess.FlushOutput()
	out, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if out[0] != packet.S_OPCODE_PONG {
		t.Fatalf("outbound opcode=%d", out[0])
	}
}

func TestSessionStoreOrder(t *testing.T) {
	st := NewSessionStore()
	for _, id := range []uint64{3, 1, 2} {
		st.Add(&Session{ID: id})
	}
	st.Remove(1)
	ids := st.IDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 2 {
		t.Fatalf("ids=%v want=[3 2]", ids)
	}
	if st.Get(1) != nil || st.Len() != 2 {
		t.Fatalf("removed session still present")
	}
}

func TestWriteFrameRejectsBadSizes(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("empty payload err=%v want ErrFrameSize", err)
	}
	if err := WriteFrame(&buf, make([]byte, MaxFramePayload+1)); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("oversized payload err=%v want ErrFrameSize", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected frames wrote %d bytes", buf.Len())
	}
	if err := WriteFrame(&buf, make([]byte, MaxFramePayload)); err != nil {
		t.Fatalf("max payload: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil || len(got) != MaxFramePayload {
		t.Fatalf("read max payload len=%d err=%v", len(got), err)
	}
}

func TestServerRejectsFeedsOverLimit(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", SessionOptions{
		InQueueSize: 8, OutQueueSize: 8, ServerName: "crowdnav-test", MaxFeeds: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Shutdown()
	go srv.AcceptLoop()

	first, err := stdnet.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	first.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := ReadFrame(first); err != nil {
		t.Fatalf("first feed init: %v", err)
	}
	sess := <-srv.NewSessions()
	defer sess.Close()

	second, err := stdnet.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	second.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := ReadFrame(second); err == nil {
		t.Fatalf("second feed got an init packet")
	}
	if srv.Live() != 1 || srv.Rejected() != 1 {
		t.Fatalf("live=%d rejected=%d want=1,1", srv.Live(), srv.Rejected())
	}

	srv.NotifyDead(sess.ID)
	if srv.Live() != 0 {
		t.Fatalf("live=%d after dead notice", srv.Live())
	}
}
