package system

import (
	"context"
	"sync"
	"time"

	"github.com/destromod/crowdnav/internal/core/event"
	coresys "github.com/destromod/crowdnav/internal/core/system"
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/persist"
	"go.uber.org/zap"
)

// JournalWriter stores lifecycle rows. *persist.JournalRepo implements it.
type JournalWriter interface {
	WriteBatch(ctx context.Context, entries []persist.JournalEntry) error
}

// StatsWriter stores stats snapshots. *persist.StatsRepo implements it.
type StatsWriter interface {
	Save(ctx context.Context, st crowd.Stats, at time.Time) error
}

// maxJournalBuffer caps rows held between flushes; older rows are dropped
// first when the database falls behind.
const maxJournalBuffer = 10000

// PersistenceSystem collects crowd lifecycle events off the bus and writes
// them, together with a stats snapshot, every interval. Writes run on a
// background goroutine so a slow database never stalls the tick. Phase 5
// (Persist).
type PersistenceSystem struct {
	mgr      *crowd.Manager
	journal  JournalWriter
	stats    StatsWriter
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	elapsed time.Duration
	buf     []persist.JournalEntry
	dropped int
	wg      sync.WaitGroup
	busy    bool // guarded by mu
	mu      sync.Mutex
}

func NewPersistenceSystem(bus *event.Bus, mgr *crowd.Manager, journal JournalWriter, stats StatsWriter, interval, timeout time.Duration, log *zap.Logger) *PersistenceSystem {
	s := &PersistenceSystem{
		mgr:      mgr,
		journal:  journal,
		stats:    stats,
		interval: interval,
		timeout:  timeout,
		log:      log.With(zap.String("component", "persistence")),
	}
	event.Subscribe(bus, func(e event.AgentAdmitted) {
		pos := e.Position
		s.record(persist.JournalEntry{NpcID: e.NpcID, Kind: persist.KindAdmitted, Position: &pos, OccurredAt: e.At})
	})
	event.Subscribe(bus, func(e event.AgentEvicted) {
		s.record(persist.JournalEntry{NpcID: e.NpcID, Kind: persist.KindEvicted, Reason: e.Reason, OccurredAt: e.At})
	})
	event.Subscribe(bus, func(e event.AgentForceStopped) {
		s.record(persist.JournalEntry{NpcID: e.NpcID, Kind: persist.KindForceStopped, OccurredAt: e.At})
	})
	event.Subscribe(bus, func(e event.AgentTargetReached) {
		pos := e.Position
		s.record(persist.JournalEntry{NpcID: e.NpcID, Kind: persist.KindTargetReached, Position: &pos, OccurredAt: e.At})
	})
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) record(e persist.JournalEntry) {
	if len(s.buf) >= maxJournalBuffer {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, e)
}

// Buffered returns the number of rows waiting for the next flush.
func (s *PersistenceSystem) Buffered() int { return len(s.buf) }

func (s *PersistenceSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	s.flush()
}

// flush hands the buffer and a stats snapshot to a writer goroutine. When
// the previous write has not finished the buffer is kept for next time.
func (s *PersistenceSystem) flush() {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.log.Debug("previous write still running")
		return
	}
	s.busy = true
	s.mu.Unlock()

	rows := s.buf
	s.buf = nil
	if s.dropped > 0 {
		s.log.Warn("journal rows dropped", zap.Int("count", s.dropped))
		s.dropped = 0
	}
	st := s.mgr.Stats()
	at := time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()
		s.write(rows, st, at)
	}()
}

func (s *PersistenceSystem) write(rows []persist.JournalEntry, st crowd.Stats, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.journal.WriteBatch(ctx, rows); err != nil {
		s.log.Error("journal write failed", zap.Int("rows", len(rows)), zap.Error(err))
	}
	if err := s.stats.Save(ctx, st, at); err != nil {
		s.log.Error("stats snapshot failed", zap.Error(err))
	}
}

// FlushNow writes everything buffered and waits for it. Called on shutdown
// from the game loop goroutine.
func (s *PersistenceSystem) FlushNow() {
	s.wg.Wait()
	s.flush()
	s.wg.Wait()
}
