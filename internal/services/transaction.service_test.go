package services

import (
	"context"
	"errors"
	"fleetprobe/internal/database"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func serviceDB(t *testing.T) database.DB {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gormDB.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error)

	return database.DB{SQL: gormDB}
}

func countItems(t *testing.T, db database.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.SQL.Table("items").Count(&count).Error)
	return count
}

func TestGetTransaction_EmptyContext(t *testing.T) {
	_, ok := GetTransaction(context.Background())
	assert.False(t, ok)
}

func TestWithTransaction_Commit(t *testing.T) {
	db := serviceDB(t)
	service := NewTransactionService(db)

	err := service.WithTransaction(context.Background(), func(ctx context.Context) error {
		tx, ok := GetTransaction(ctx)
		require.True(t, ok)
		return tx.Exec("INSERT INTO items (name) VALUES (?)", "committed").Error
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), countItems(t, db))
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := serviceDB(t)
	service := NewTransactionService(db)

	boom := errors.New("boom")
	err := service.WithTransaction(context.Background(), func(ctx context.Context) error {
		tx, _ := GetTransaction(ctx)
		require.NoError(t, tx.Exec("INSERT INTO items (name) VALUES (?)", "doomed").Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(0), countItems(t, db))
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	db := serviceDB(t)
	service := NewTransactionService(db)

	assert.Panics(t, func() {
		_ = service.WithTransaction(context.Background(), func(ctx context.Context) error {
			tx, _ := GetTransaction(ctx)
			_ = tx.Exec("INSERT INTO items (name) VALUES (?)", "doomed").Error
			panic("boom")
		})
	})

	assert.Equal(t, int64(0), countItems(t, db))
}
