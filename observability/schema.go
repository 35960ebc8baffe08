package observability

import "database/sql"

// Schema contains the complete DDL for the observability tables.
// Call Init(db) to apply it, or pass it to dbopen.WithSchema.
const Schema = `
-- Bus event log: one row per message published on an exported topic.
-- Payloads are envelope metadata (container ids, paths, counters), never
-- extracted page content.
CREATE TABLE IF NOT EXISTS bus_events (
    event_id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    message_id TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    source_component TEXT,
    payload TEXT,
    meta_version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_bus_events_topic_time
    ON bus_events(topic, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_bus_events_timestamp
    ON bus_events(timestamp DESC);

-- Driver runs: one row per completed control-loop run.
CREATE TABLE IF NOT EXISTS driver_runs (
    run_id TEXT PRIMARY KEY,
    container_id TEXT NOT NULL,
    state TEXT NOT NULL,
    iterations INTEGER NOT NULL DEFAULT 0,
    discovered INTEGER NOT NULL DEFAULT 0,
    operated INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_driver_runs_container
    ON driver_runs(container_id, finished_at DESC);

-- Metadata registry
CREATE TABLE IF NOT EXISTS _observability_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _observability_metadata (table_name, description) VALUES
    ('bus_events', 'Message bus event log'),
    ('driver_runs', 'Driver run reports');
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
