// Package store is the event store (C4): the durable, append-only log of
// crossing events plus the live camera configuration record. Writes are
// serialized through a single mutex (spec §4.5, "single-writer"); reads run
// concurrently against the pool.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linetally/peoplecount/internal/counting"
)

var ErrNotFound = errors.New("store: record not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx, the same seam the teacher's
// repository layer uses to let callers run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// EventStore persists CrossingEvents and serves range/aggregate queries over
// them (spec §4.5).
type EventStore struct {
	db DBTX

	writeMu sync.Mutex // serializes inserts; reads are unrestricted
}

func NewEventStore(db DBTX) *EventStore {
	return &EventStore{db: db}
}

// Insert durably persists ev and assigns it a strictly increasing ID. On
// failure it returns the error unmodified; the caller (the worker) is
// responsible for the negative-ID, in-memory-only fallback described in
// spec §7 ("Store write failure").
func (s *EventStore) Insert(ctx context.Context, ev counting.CrossingEvent) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	const query = `
		INSERT INTO events (timestamp, track_id, person_id, direction)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	var personID sql.NullString
	if ev.PersonID != "" {
		personID = sql.NullString{String: ev.PersonID, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, query, ev.Timestamp.UTC(), ev.TrackID, personID, string(ev.Direction)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert event: %w", err)
	}
	return id, nil
}

// Recent returns the most recent limit events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]counting.CrossingEvent, error) {
	const query = `
		SELECT id, timestamp, track_id, person_id, direction
		FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Range returns events with timestamp in [start, end), ascending.
func (s *EventStore) Range(ctx context.Context, start, end time.Time) ([]counting.CrossingEvent, error) {
	const query = `
		SELECT id, timestamp, track_id, person_id, direction
		FROM events
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: range events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]counting.CrossingEvent, error) {
	var out []counting.CrossingEvent
	for rows.Next() {
		var ev counting.CrossingEvent
		var personID sql.NullString
		var direction string
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.TrackID, &personID, &direction); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Direction = counting.Direction(direction)
		if personID.Valid {
			ev.PersonID = personID.String
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return out, nil
}

// HourBucket is one aggregated row from AggregateByHour/Day/Month.
type HourBucket struct {
	Bucket   time.Time `json:"bucket"`
	InCount  int64     `json:"in_count"`
	OutCount int64     `json:"out_count"`
}

// AggregateByHour buckets events in [start, end) by hour.
func (s *EventStore) AggregateByHour(ctx context.Context, start, end time.Time) ([]HourBucket, error) {
	return s.aggregate(ctx, "hour", start, end)
}

// AggregateByDay buckets events in [start, end) by calendar day.
func (s *EventStore) AggregateByDay(ctx context.Context, start, end time.Time) ([]HourBucket, error) {
	return s.aggregate(ctx, "day", start, end)
}

// AggregateByMonth buckets events in [start, end) by calendar month.
func (s *EventStore) AggregateByMonth(ctx context.Context, start, end time.Time) ([]HourBucket, error) {
	return s.aggregate(ctx, "month", start, end)
}

func (s *EventStore) aggregate(ctx context.Context, unit string, start, end time.Time) ([]HourBucket, error) {
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', timestamp) AS bucket,
		       COUNT(*) FILTER (WHERE direction = 'IN')  AS in_count,
		       COUNT(*) FILTER (WHERE direction = 'OUT') AS out_count
		FROM events
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY bucket
		ORDER BY bucket ASC`, unit)

	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: aggregate by %s: %w", unit, err)
	}
	defer rows.Close()

	var out []HourBucket
	for rows.Next() {
		var b HourBucket
		if err := rows.Scan(&b.Bucket, &b.InCount, &b.OutCount); err != nil {
			return nil, fmt.Errorf("store: scan bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate buckets: %w", err)
	}
	return out, nil
}

// FirstEventAt returns the timestamp of the oldest stored event. ok is
// false when the store is empty.
func (s *EventStore) FirstEventAt(ctx context.Context) (t time.Time, ok bool, err error) {
	const query = `SELECT MIN(timestamp) FROM events`

	var ts sql.NullTime
	if err := s.db.QueryRowContext(ctx, query).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("store: first event: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time, true, nil
}

// ClearAll deletes every event (spec's /api/events/clear operation). It does
// not touch camera_settings or meta.
func (s *EventStore) ClearAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("store: clear events: %w", err)
	}
	return nil
}

// Totals returns the all-time in/out counts, used to reconstruct an
// Engine's counters after a restart (spec §9, "counts survive process
// restart by replaying from the store").
func (s *EventStore) Totals(ctx context.Context) (in, out int64, err error) {
	const query = `
		SELECT COUNT(*) FILTER (WHERE direction = 'IN'),
		       COUNT(*) FILTER (WHERE direction = 'OUT')
		FROM events`
	if err := s.db.QueryRowContext(ctx, query).Scan(&in, &out); err != nil {
		return 0, 0, fmt.Errorf("store: totals: %w", err)
	}
	return in, out, nil
}
