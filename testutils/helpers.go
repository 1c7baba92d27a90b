package testutils

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/questlog/services/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens an in-memory sqlite database. The pool is pinned to one
// connection so every goroutine sees the same in-memory schema.
func SetupTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}

	return db
}

func AssertErrorType(t *testing.T, expected error, actual error) {
	t.Helper()
	require.Error(t, actual)
	require.Equal(t, expected.Error(), actual.Error())
}

// ObservedLogger returns a logging service whose entries are captured.
func ObservedLogger() (*logging.Service, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return logging.NewWithLogger(zap.New(core)), recorded
}
