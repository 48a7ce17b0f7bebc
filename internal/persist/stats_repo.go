package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/destromod/crowdnav/internal/crowd"
	"github.com/jackc/pgx/v5"
)

type StatsRepo struct {
	db       *DB
	serverID int
}

func NewStatsRepo(db *DB, serverID int) *StatsRepo {
	return &StatsRepo{db: db, serverID: serverID}
}

// Save records one stats snapshot.
func (r *StatsRepo) Save(ctx context.Context, st crowd.Stats, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO crowd_stats (server_id, taken_at, active_count, capacity,
			paths_calculated, force_stops, targets_reached, admissions, rejections,
			evictions, cleanup_sweeps, crowd_updates, tick_failures, skipped_cycles)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.serverID, at, st.ActiveCount, st.Capacity,
		int64(st.PathsCalculated), int64(st.ForceStops), int64(st.TargetsReached),
		int64(st.Admissions), int64(st.Rejections), int64(st.Evictions),
		int64(st.CleanupSweeps), int64(st.CrowdUpdates), int64(st.TickFailures),
		int64(st.SkippedCycles),
	)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// Latest loads the most recent snapshot for this server. ok is false when
// none has been written yet.
func (r *StatsRepo) Latest(ctx context.Context) (st crowd.Stats, at time.Time, ok bool, err error) {
	var paths, stops, reached, adm, rej, ev, sweeps, updates, failures, skipped int64
	err = r.db.Pool.QueryRow(ctx,
		`SELECT taken_at, active_count, capacity, paths_calculated, force_stops,
			targets_reached, admissions, rejections, evictions, cleanup_sweeps,
			crowd_updates, tick_failures, skipped_cycles
		 FROM crowd_stats WHERE server_id = $1 ORDER BY taken_at DESC LIMIT 1`,
		r.serverID,
	).Scan(&at, &st.ActiveCount, &st.Capacity, &paths, &stops, &reached,
		&adm, &rej, &ev, &sweeps, &updates, &failures, &skipped)
	if errors.Is(err, pgx.ErrNoRows) {
		return crowd.Stats{}, time.Time{}, false, nil
	}
	if err != nil {
		return crowd.Stats{}, time.Time{}, false, fmt.Errorf("load stats: %w", err)
	}
	st.PathsCalculated = uint64(paths)
	st.ForceStops = uint64(stops)
	st.TargetsReached = uint64(reached)
	st.Admissions = uint64(adm)
	st.Rejections = uint64(rej)
	st.Evictions = uint64(ev)
	st.CleanupSweeps = uint64(sweeps)
	st.CrowdUpdates = uint64(updates)
	st.TickFailures = uint64(failures)
	st.SkippedCycles = uint64(skipped)
	st.Free = st.Capacity - st.ActiveCount
	return st, at, true, nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
