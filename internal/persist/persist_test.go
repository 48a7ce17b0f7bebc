package persist

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/destromod/crowdnav/internal/config"
	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/zap"
)

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for _, n := range names {
		raw, err := fs.ReadFile(migrations, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s missing goose annotations", n)
		}
	}
}

// openTestDB connects to CROWDNAV_TEST_DSN, skipping when it is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("CROWDNAV_TEST_DSN")
	if dsn == "" {
		t.Skip("CROWDNAV_TEST_DSN not set")
	}
	cfg := config.Defaults().Database
	cfg.DSN = dsn
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := NewDB(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(db.Close)
	v, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if v < 1 {
		t.Fatalf("schema version=%d want>=1", v)
	}
	return db
}

func TestJournalAndStatsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	serverID := int(time.Now().UnixNano() % 1_000_000)

	j := NewJournalRepo(db, serverID)
	now := time.Now().UTC().Truncate(time.Millisecond)
	pos := vmath.Vec3{1, 2, 3}
	err := j.WriteBatch(ctx, []JournalEntry{
		{NpcID: "z1", Kind: KindAdmitted, Position: &pos, OccurredAt: now},
		{NpcID: "z1", Kind: KindEvicted, Reason: "deaggro", OccurredAt: now},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	n, err := j.Prune(ctx, now.Add(time.Second))
	if err != nil || n != 2 {
		t.Fatalf("Prune n=%d err=%v want=2", n, err)
	}

	s := NewStatsRepo(db, serverID)
	if _, _, ok, err := s.Latest(ctx); err != nil || ok {
		t.Fatalf("Latest on empty ok=%v err=%v", ok, err)
	}
	want := crowd.Stats{ActiveCount: 3, Capacity: 50, Admissions: 7, SkippedCycles: 2}
	if err := s.Save(ctx, want, now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, ok, err := s.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("Latest ok=%v err=%v", ok, err)
	}
	want.Free = 47
	if got != want {
		t.Fatalf("got=%+v want=%+v", got, want)
	}
}
