// Package testdb opens throwaway SQLite databases with the full schema for
// tests that exercise the gorm layer.
package testdb

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"easyplanning_backend/internal/model"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection keeps every statement on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

// Account inserts an account and returns it.
func Account(t testing.TB, db *gorm.DB, email string) model.Account {
	t.Helper()
	acct := model.Account{
		Email:    email,
		Password: "x",
		Name:     "Planner " + email,
		Slug:     email,
	}
	require.NoError(t, db.Create(&acct).Error)
	return acct
}
