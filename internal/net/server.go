package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Server accepts host feed connections and creates Sessions.
// New/dead sessions are communicated to the game loop via channels.
type Server struct {
	listener net.Listener
	nextID   atomic.Uint64
	newConns chan *Session
	deadCh   chan uint64 // session IDs of dead sessions
	opts     SessionOptions
	log      *zap.Logger
	closeCh  chan struct{}

	mu       sync.Mutex
	live     map[uint64]*Session // accepted and not yet closed
	rejected atomic.Uint64
}

func NewServer(bindAddr string, opts SessionOptions, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		newConns: make(chan *Session, 64),
		deadCh:   make(chan uint64, 64),
		opts:     opts,
		log:      log.With(zap.String("component", "feed-server")),
		closeCh:  make(chan struct{}),
		live:     make(map[uint64]*Session),
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections, creates
// sessions, sends the init packet, and pushes them onto the newConns channel.
// Connections beyond MaxFeeds are closed before any byte is written.
func (s *Server) AcceptLoop() {
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			if backoff == 0 {
				backoff = acceptBackoffMin
			} else if backoff *= 2; backoff > acceptBackoffMax {
				backoff = acceptBackoffMax
			}
			s.log.Error("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if s.opts.MaxFeeds > 0 && s.Live() >= s.opts.MaxFeeds {
			s.rejected.Add(1)
			s.log.Warn("feed limit reached, rejecting",
				zap.String("addr", conn.RemoteAddr().String()),
				zap.Int("max_feeds", s.opts.MaxFeeds))
			conn.Close()
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.opts, s.log)
		s.mu.Lock()
		s.live[id] = sess
		s.mu.Unlock()
		sess.Start()

		s.log.Info("feed connected", zap.Uint64("session", id), zap.String("addr", sess.Addr))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("connection queue full, rejecting feed", zap.Uint64("session", id))
			sess.Close()
		}
	}
}

// Live counts accepted sessions that have not closed yet.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.live {
		if sess.IsClosed() {
			delete(s.live, id)
		}
	}
	return len(s.live)
}

// Rejected counts connections refused by the feed limit.
func (s *Server) Rejected() uint64 { return s.rejected.Load() }

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead reports a dead session ID to the game loop.
func (s *Server) NotifyDead(sessionID uint64) {
	s.mu.Lock()
	delete(s.live, sessionID)
	s.mu.Unlock()
	select {
	case s.deadCh <- sessionID:
	default:
	}
}

// DeadSessions returns the channel of dead session IDs.
func (s *Server) DeadSessions() <-chan uint64 {
	return s.deadCh
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() error {
	close(s.closeCh)
	return s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
