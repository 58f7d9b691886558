package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/audit"
)

func TestService_WriteEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := audit.NewService(db)
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("admin", "camera.reconfigure", "camera-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.WriteEvent(context.Background(), audit.Event{
		Actor:  "admin",
		Action: "camera.reconfigure",
		Target: "camera-1",
		Detail: []byte(`{"line_x":400}`),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WriteEvent_NoDetail(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := audit.NewService(db)
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("admin", "system.reset", "", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.WriteEvent(context.Background(), audit.Event{Actor: "admin", Action: "system.reset"})
	assert.NoError(t, err)
}

func TestService_WriteEvent_PropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := audit.NewService(db)
	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(sqlmock.ErrCancelled)

	err = s.WriteEvent(context.Background(), audit.Event{Actor: "admin", Action: "x"})
	assert.Error(t, err)
}

func TestService_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := audit.NewService(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "actor", "action", "target", "detail", "at"}).
		AddRow(int64(2), "admin", "system.reset", "", nil, now).
		AddRow(int64(1), "admin", "camera.reconfigure", "camera-1", []byte(`{"line_x":400}`), now.Add(-time.Minute))

	mock.ExpectQuery("SELECT id, actor, action, target, detail, at").
		WithArgs(10).
		WillReturnRows(rows)

	events, err := s.Recent(context.Background(), 10)
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "system.reset", events[0].Action)
	assert.Equal(t, "camera.reconfigure", events[1].Action)
}

func TestService_Recent_DefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := audit.NewService(db)
	mock.ExpectQuery("SELECT id, actor, action, target, detail, at").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor", "action", "target", "detail", "at"}))

	_, err = s.Recent(context.Background(), 0)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
