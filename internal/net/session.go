package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/destromod/crowdnav/internal/net/packet"
	"go.uber.org/zap"
)

// SessionOptions sizes a session's queues and timeouts.
type SessionOptions struct {
	InQueueSize  int
	OutQueueSize int
	PktPerSec    int           // 0 = unlimited
	ReadTimeout  time.Duration // 0 = no read deadline
	WriteTimeout time.Duration
	ServerName   string
	ServerID     int
	MaxFeeds     int // concurrent feeds the server accepts, 0 = unlimited
}

// Session represents a single host feed connection. Network I/O runs in
// dedicated goroutines; feed state is accessed only from the game loop.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState stored as int32
	mu    sync.Mutex   // protects conn writes during init

	InQueue  chan []byte // game loop reads packets from here
	OutQueue chan []byte // writer goroutine reads from here

	Addr     string
	HostName string // from C_OPCODE_HELLO

	outBuf [][]byte // buffered packets, flushed by OutputSystem (game loop only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	opts SessionOptions
	log  *zap.Logger
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Session{
		ID:        id,
		conn:      conn,
		InQueue:   make(chan []byte, opts.InQueueSize),
		OutQueue:  make(chan []byte, opts.OutQueueSize),
		Addr:      conn.RemoteAddr().String(),
		closeCh:   make(chan struct{}),
		pktPerSec: opts.PktPerSec,
		opts:      opts,
		log:       log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start writes the init packet and launches the reader and writer goroutines.
func (s *Session) Start() {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_INIT)
	w.WriteC(packet.ProtocolVersion)
	w.WriteS(s.opts.ServerName)
	w.WriteD(int32(s.opts.ServerID))

	s.mu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	err := WriteFrame(s.conn, w.Bytes())
	s.mu.Unlock()
	if err != nil {
		s.log.Error("init packet write failed", zap.Error(err))
		s.Close()
		return
	}

	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a packet for sending. The packet is not written to TCP until
// FlushOutput is called by OutputSystem.
// Called only from the game loop goroutine.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// Pending returns the number of buffered, unflushed packets.
func (s *Session) Pending() int {
	return len(s.outBuf)
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, dropping slow feed")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames from the connection and pushes them onto InQueue for
// the game loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if s.opts.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("packet rate exceeded, disconnecting", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Block until InQueue has space or session closes. Dropping feed
		// packets would desync NPC and player state.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop reads packets from OutQueue and writes them as framed data.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOnePacket(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOnePacket(data []byte) bool {
	if len(data) > 0 && s.log.Core().Enabled(zap.DebugLevel) {
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X(%d)", data[0], data[0])),
			zap.Int("len", len(data)),
		)
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
