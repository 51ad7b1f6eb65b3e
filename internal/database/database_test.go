package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/models"
)

func TestOpen_SQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "sdm3000.db")
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"})
	require.NoError(t, err)
	defer CloseDB(db)

	require.NoError(t, AutoMigrate(db))
	assert.True(t, db.Migrator().HasTable(&models.SerialLog{}))
	assert.True(t, db.Migrator().HasTable(&models.DispenseRecord{}))

	assert.Equal(t, dsn, sqliteFile(db))
	_, err = os.Stat(dsn + ".migration.lock")
	assert.True(t, os.IsNotExist(err), "迁移锁应已释放")
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	defer CloseDB(db)

	assert.Empty(t, sqliteFile(db))
	require.NoError(t, AutoMigrate(db))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDatabaseConnect))
}

func TestAutoMigrate_Nil(t *testing.T) {
	assert.Error(t, AutoMigrate(nil))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, parseLogLevel("silent"), NewGormLogger(nil, parseLogLevel("silent")).logLevel)
	assert.NotEqual(t, parseLogLevel("info"), parseLogLevel("warn"))
	assert.Equal(t, parseLogLevel(""), parseLogLevel("warn"))
}
