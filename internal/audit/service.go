package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// WriteEvent appends one audit entry. A failure is the caller's to decide
// on (log and continue, as the control plane's audit middleware does) — this package
// does not spool or retry; the event store already carries the durable
// record of what the system did, the audit log only adds who/when.
func (s *Service) WriteEvent(ctx context.Context, evt Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, target, detail) VALUES ($1, $2, $3, $4)`,
		evt.Actor, evt.Action, evt.Target, nullableJSON(evt.Detail),
	)
	if err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return nil
}

// Recent returns the most recent audit entries, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, target, detail, at FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var detail []byte
		if err := rows.Scan(&evt.ID, &evt.Actor, &evt.Action, &evt.Target, &detail, &evt.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		evt.Detail = detail
		events = append(events, evt)
	}
	return events, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
