// Package observability persists domdrive's runtime signals to SQLite: a log
// of every message crossing the bus, and a report row per finished driver
// run. It records envelope metadata, never extracted page content, and a
// failing store is logged and tolerated rather than propagated into the
// engines.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domdrive/bus"
	"github.com/hazyhaar/domdrive/dbopen"
	"github.com/hazyhaar/domdrive/idgen"
)

// Event is one persisted bus message.
type Event struct {
	EventID     string
	Topic       string
	MessageID   string
	Timestamp   time.Time
	Source      string
	Payload     string // JSON
	MetaVersion int
}

// EventFilter controls query results from the event log.
type EventFilter struct {
	Topic     string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int // default 100
	Offset    int
}

// BusLog taps every exported topic of a bus and persists the traffic
// asynchronously. Create one per session; Close before closing the database.
type BusLog struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger

	ch     chan *Event
	stop   chan struct{}
	done   chan struct{}
	unsubs []func()
}

// BusLogOption configures a BusLog.
type BusLogOption func(*BusLog)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) BusLogOption {
	return func(l *BusLog) { l.newID = gen }
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) BusLogOption {
	return func(l *BusLog) { l.logger = lg }
}

// NewBusLog subscribes to every exported topic of b and starts the flush
// goroutine. Recommended bufferSize: 1000.
func NewBusLog(db *sql.DB, b *bus.Bus, bufferSize int, opts ...BusLogOption) *BusLog {
	l := &BusLog{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan *Event, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	for _, topic := range bus.Topics() {
		l.unsubs = append(l.unsubs, b.Subscribe(topic, l.record))
	}
	go l.flushLoop()
	return l
}

// record runs on the publisher's goroutine, so it only marshals and queues.
// A full buffer falls back to a synchronous insert rather than dropping the
// event.
func (l *BusLog) record(msg *bus.Message) {
	e := &Event{
		EventID:     l.newID(),
		Topic:       msg.Type,
		MessageID:   msg.ID,
		Timestamp:   msg.Timestamp,
		Source:      msg.Source.Component,
		MetaVersion: msg.Meta.Version,
	}
	if msg.Payload != nil {
		if b, err := json.Marshal(msg.Payload); err == nil {
			e.Payload = string(b)
		}
	}
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("observability: event buffer full, sync fallback", "topic", e.Topic)
		if err := l.insert(context.Background(), e); err != nil {
			l.logger.Error("observability: sync fallback failed", "error", err)
		}
	}
}

// Query retrieves events matching the filter, newest first.
func (l *BusLog) Query(ctx context.Context, f *EventFilter) ([]*Event, error) {
	q := `SELECT event_id, topic, message_id, timestamp, source_component,
		payload, meta_version FROM bus_events WHERE 1=1`
	var args []any

	if f.Topic != "" {
		q += " AND topic = ?"
		args = append(args, f.Topic)
	}
	if f.StartTime != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.StartTime.Unix())
	}
	if f.EndTime != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.EndTime.Unix())
	}
	q += " ORDER BY timestamp DESC, event_id DESC"

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bus events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts int64
		var source, payload sql.NullString
		if err := rows.Scan(&e.EventID, &e.Topic, &e.MessageID, &ts,
			&source, &payload, &e.MetaVersion); err != nil {
			return nil, fmt.Errorf("scan bus event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Source = source.String
		e.Payload = payload.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than retentionDays.
func (l *BusLog) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := dbopen.Exec(ctx, l.db, "DELETE FROM bus_events WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup bus events: %w", err)
	}
	return result.RowsAffected()
}

// Close detaches from the bus, drains the buffer, and stops the flush
// goroutine. Events recorded before Close returns are persisted.
func (l *BusLog) Close() error {
	for _, unsub := range l.unsubs {
		unsub()
	}
	close(l.stop)
	<-l.done
	return nil
}

func (l *BusLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*Event, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertEventSQL)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, e := range batch {
				if _, err := stmt.ExecContext(ctx, e.EventID, e.Topic, e.MessageID,
					e.Timestamp.Unix(), e.Source, e.Payload, e.MetaVersion); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			l.logger.Error("observability: flush failed", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			// drain channel
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertEventSQL = `INSERT INTO bus_events
	(event_id, topic, message_id, timestamp, source_component, payload, meta_version)
	VALUES (?,?,?,?,?,?,?)`

func (l *BusLog) insert(ctx context.Context, e *Event) error {
	_, err := l.db.ExecContext(ctx, insertEventSQL,
		e.EventID, e.Topic, e.MessageID, e.Timestamp.Unix(),
		e.Source, e.Payload, e.MetaVersion)
	return err
}
