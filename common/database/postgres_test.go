package database

import (
	"testing"

	"investorkonnect-signing/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_AppliesPoolSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	Configure(db, &config.DatabaseConfig{MaxConns: 12, MaxIdle: 3, MaxIdleTimeSeconds: 30})
	assert.Equal(t, 12, db.Stats().MaxOpenConnections)

	mock.ExpectClose()
	require.NoError(t, Close(db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClose_NilIsNoop(t *testing.T) {
	assert.NoError(t, Close(nil))
}
