package services

import (
	"strings"
	"testing"
	"time"

	"rps-arena-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Match{},
		&models.Transaction{},
		&models.Chest{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, externalID, name string, balance int64) *models.User {
	t.Helper()
	user := &models.User{
		ID:           uuid.NewString(),
		ExternalID:   externalID,
		Username:     name,
		FullName:     name,
		StarsBalance: balance,
		Status:       models.UserStatusActive,
		LastActive:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func reloadUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return &user
}

func userTransactions(t *testing.T, db *gorm.DB, userID string) []models.Transaction {
	t.Helper()
	var txns []models.Transaction
	require.NoError(t, db.Where("user_id = ?", userID).Order("created_at").Find(&txns).Error)
	return txns
}
