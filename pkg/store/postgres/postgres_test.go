package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Wrap(db, zap.NewNop()), mock
}

func TestGet(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM dispatch_kv WHERE key = $1")).
		WithArgs("usage").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"daily_spent":0.5}`)))

	got, err := s.Get(context.Background(), "usage")
	require.NoError(t, err)
	assert.JSONEq(t, `{"daily_spent":0.5}`, string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM dispatch_kv")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dispatch_kv (key, value, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("usage", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Update(context.Background(), "usage", []byte("{}")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFailure(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dispatch_kv")).
		WillReturnError(errors.New("connection reset"))

	err := s.Update(context.Background(), "usage", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS dispatch_kv")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
