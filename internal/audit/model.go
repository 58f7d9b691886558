// Package audit is a minimal append-only log of control-plane mutations
// (camera reconfiguration, reset, gallery clear/cleanup): who did what to
// what, and when (SPEC_FULL ambient stack — a VMS-style admin surface
// realistically logs this even for a single-tenant deployment).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Event is a single audit log entry. There is no tenant scoping: the
// control plane manages one camera for one operator account.
type Event struct {
	ID     int64           `json:"id"`
	Actor  string          `json:"actor"` // username, or "system"
	Action string          `json:"action"`
	Target string          `json:"target,omitempty"`
	Detail json.RawMessage `json:"detail,omitempty"`
	At     time.Time       `json:"at"`
}

// Filter narrows a query over the audit log.
type Filter struct {
	Since  *time.Time
	Action string
	Limit  int
}

// DBTX is the same read/write seam internal/store uses.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Service writes and queries the audit log.
type Service struct {
	db DBTX
}

func NewService(db DBTX) *Service {
	return &Service{db: db}
}
