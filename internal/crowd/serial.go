package crowd

import (
	"sync"

	"go.uber.org/zap"
)

// Serializer runs submitted jobs one at a time per key, in submission order.
// Different keys run in parallel, each on its own short-lived goroutine.
type Serializer struct {
	mu     sync.Mutex
	queues map[string][]func()
	closed bool
	wg     sync.WaitGroup
	log    *zap.Logger
}

func NewSerializer(log *zap.Logger) *Serializer {
	return &Serializer{
		queues: make(map[string][]func()),
		log:    log,
	}
}

// Submit queues fn behind every earlier job for key. Returns false once the
// serializer is closed.
func (s *Serializer) Submit(key string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	q, running := s.queues[key]
	s.queues[key] = append(q, fn)
	if !running {
		s.wg.Add(1)
		go s.drain(key)
	}
	return true
}

// Pending counts queued jobs for key, including the one running.
func (s *Serializer) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, running := s.queues[key]
	if !running {
		return 0
	}
	return len(q) + 1
}

// Flush waits for every job submitted so far.
func (s *Serializer) Flush() {
	s.wg.Wait()
}

// Close rejects new jobs and waits for queued ones to finish.
func (s *Serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Serializer) drain(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		s.queues[key] = q[1:]
		s.mu.Unlock()

		s.run(key, fn)
	}
}

func (s *Serializer) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("crowd job panicked", zap.String("npc", key), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
