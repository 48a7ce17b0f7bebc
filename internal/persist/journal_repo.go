package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/destromod/crowdnav/internal/vmath"
	"go.uber.org/multierr"
)

// Lifecycle journal kinds.
const (
	KindAdmitted      = "admitted"
	KindEvicted       = "evicted"
	KindForceStopped  = "force_stopped"
	KindTargetReached = "target_reached"
)

// JournalEntry is one crowd lifecycle row.
type JournalEntry struct {
	NpcID      string
	Kind       string
	Reason     string
	Position   *vmath.Vec3 // nil when the event carries no position
	OccurredAt time.Time
}

type JournalRepo struct {
	db       *DB
	serverID int
}

func NewJournalRepo(db *DB, serverID int) *JournalRepo {
	return &JournalRepo{db: db, serverID: serverID}
}

// WriteBatch inserts entries in a single transaction. Nothing is written
// when any insert fails.
func (r *JournalRepo) WriteBatch(ctx context.Context, entries []JournalEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, ignoreClosed(tx.Rollback(ctx)))
		}
	}()

	for _, e := range entries {
		var x, y, z *float64
		if e.Position != nil {
			x, y, z = &e.Position[0], &e.Position[1], &e.Position[2]
		}
		if _, err = tx.Exec(ctx,
			`INSERT INTO crowd_lifecycle (server_id, npc_id, kind, reason, x, y, z, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.serverID, e.NpcID, e.Kind, e.Reason, x, y, z, e.OccurredAt,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}
	return nil
}

// Prune deletes journal rows older than cutoff and returns how many went.
func (r *JournalRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM crowd_lifecycle WHERE server_id = $1 AND occurred_at < $2`,
		r.serverID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
