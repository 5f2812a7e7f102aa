package migrations_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	files, err := migrations.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, files)
}

func TestRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS positions").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, migrations.Run(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWrapsFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err = migrations.Run(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_init.sql")
}
