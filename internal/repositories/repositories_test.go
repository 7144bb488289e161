package repositories

import (
	"fleetprobe/internal/database"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	. "fleetprobe/internal/models"
)

// testDB opens a fresh in-memory database with the schema migrated. A single
// connection keeps the in-memory database alive across queries.
func testDB(t *testing.T) database.DB {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gormDB.AutoMigrate(
		&TestClient{},
		&Connection{},
		&Message{},
		&CampaignRun{},
	))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return database.DB{SQL: gormDB}
}

func newTestClientRow(slug string, port int, status ClientStatus) *TestClient {
	return &TestClient{
		Slug:         slug,
		DisplayName:  slug,
		Port:         port,
		Status:       status,
		PasswordHash: "x",
	}
}
