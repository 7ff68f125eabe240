package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return FromDB(db), mock
}

func TestMigrate(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM hosts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.InTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM hosts WHERE id = $1", 1)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollsBackOnError(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := c.InTx(context.Background(), func(tx *sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
