package store

import (
	"context"
	"fmt"
	"time"
)

// RateCounter is the state of one fixed window after a hit.
type RateCounter struct {
	Count       int
	WindowStart time.Time
}

// HitRateCounter records one request for (workspace, visitor) and returns the
// counter afterwards. A window older than `window` is restarted at now. The
// read-modify-write is a single upsert so concurrent handlers never lose a
// hit.
func (db *DB) HitRateCounter(ctx context.Context, workspaceID, visitorID string, now time.Time, window time.Duration) (RateCounter, error) {
	ts := toMicros(now)
	cutoff := toMicros(now.Add(-window))

	var row struct {
		Count       int   `db:"request_count"`
		WindowStart int64 `db:"window_start"`
	}
	err := db.x.GetContext(ctx, &row, db.q(`
		INSERT INTO rate_limit_counters (workspace_id, visitor_id, request_count, window_start)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (workspace_id, visitor_id) DO UPDATE SET
			request_count = CASE WHEN rate_limit_counters.window_start <= ?
				THEN 1 ELSE rate_limit_counters.request_count + 1 END,
			window_start = CASE WHEN rate_limit_counters.window_start <= ?
				THEN excluded.window_start ELSE rate_limit_counters.window_start END
		RETURNING request_count, window_start`),
		workspaceID, visitorID, ts, cutoff, cutoff,
	)
	if err != nil {
		return RateCounter{}, fmt.Errorf("hitting rate counter: %w", err)
	}
	return RateCounter{Count: row.Count, WindowStart: fromMicros(row.WindowStart)}, nil
}

// PruneRateCounters deletes counters whose window closed before cutoff.
func (db *DB) PruneRateCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.x.ExecContext(ctx, db.q(`DELETE FROM rate_limit_counters WHERE window_start < ?`), toMicros(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning rate counters: %w", err)
	}
	return res.RowsAffected()
}
