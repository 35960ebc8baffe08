package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domdrive/idgen"
)

// RunRecord is one finished driver run.
type RunRecord struct {
	RunID       string
	ContainerID string
	State       string
	Iterations  int
	Discovered  int
	Operated    int
	Errors      int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RunLogger writes driver run reports.
type RunLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// RunLoggerOption configures a RunLogger.
type RunLoggerOption func(*RunLogger)

// WithRunIDGenerator sets a custom ID generator for run IDs.
func WithRunIDGenerator(gen idgen.Generator) RunLoggerOption {
	return func(l *RunLogger) { l.newID = gen }
}

// NewRunLogger creates a logger backed by the given observability database.
func NewRunLogger(db *sql.DB, opts ...RunLoggerOption) *RunLogger {
	l := &RunLogger{
		db:    db,
		newID: idgen.Prefixed("run_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogRun records a finished run. Non-blocking: errors are logged via slog
// but do not propagate, so a failing observability store never blocks a
// session shutting down.
func (l *RunLogger) LogRun(ctx context.Context, rec RunRecord) {
	if rec.RunID == "" {
		rec.RunID = l.newID()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO driver_runs (
			run_id, container_id, state, iterations, discovered, operated,
			errors, started_at, finished_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.ContainerID, rec.State, rec.Iterations, rec.Discovered,
		rec.Operated, rec.Errors, rec.StartedAt.Unix(), rec.FinishedAt.Unix())
	if err != nil {
		slog.Error("observability: run log failed", "error", err, "container", rec.ContainerID)
	}
}

// Runs retrieves the most recent runs for a container, newest first.
// An empty containerID matches every container.
func (l *RunLogger) Runs(ctx context.Context, containerID string, limit int) ([]*RunRecord, error) {
	q := `SELECT run_id, container_id, state, iterations, discovered,
		operated, errors, started_at, finished_at FROM driver_runs`
	var args []any
	if containerID != "" {
		q += " WHERE container_id = ?"
		args = append(args, containerID)
	}
	q += " ORDER BY finished_at DESC, run_id DESC LIMIT ?"
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query driver runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished int64
		if err := rows.Scan(&r.RunID, &r.ContainerID, &r.State, &r.Iterations,
			&r.Discovered, &r.Operated, &r.Errors, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan driver run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = time.Unix(finished, 0)
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}
