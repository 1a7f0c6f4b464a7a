package db

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"statuslicense/pkg/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestOtelRegistersPlugin(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Otel(db))
	require.Len(t, db.Config.Plugins, 1)
}

func TestRegisterTelemetrySkipsSQLite(t *testing.T) {
	db := openTestDB(t)

	RegisterTelemetry(telemetryParams{DB: db, Config: &config.Config{}})
	require.Empty(t, db.Config.Plugins)
}
