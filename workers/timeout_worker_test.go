package workers

import (
	"context"
	"strings"
	"testing"
	"time"

	"rps-arena-system/cache"
	"rps-arena-system/models"
	"rps-arena-system/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
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
	))
	return db
}

func newReclaimer(t *testing.T) (*TimeoutReclaimer, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()
	db := testDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	matchCache := cache.NewMatchCache(rdb)
	txns := services.NewTransactionService(db)
	broker := services.NewEventBroker()

	w := NewTimeoutReclaimer(db, matchCache, txns, broker, time.Minute, 30*time.Second)
	return w, db, mr
}

func seedUser(t *testing.T, db *gorm.DB, externalID string, balance int64) *models.User {
	t.Helper()
	user := &models.User{
		ID:           uuid.NewString(),
		ExternalID:   externalID,
		Username:     externalID,
		StarsBalance: balance,
		Status:       models.UserStatusActive,
		LastActive:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedMatch(t *testing.T, db *gorm.DB, p1 *models.User, p2 *models.User, stake int64, status string, age time.Duration) *models.Match {
	t.Helper()
	match := &models.Match{
		ID:          uuid.NewString(),
		Player1ID:   p1.ID,
		StakeAmount: stake,
		Status:      status,
	}
	if p2 != nil {
		match.Player2ID = &p2.ID
		startedAt := time.Now().UTC().Add(-age)
		match.StartedAt = &startedAt
	}
	require.NoError(t, db.Create(match).Error)
	// AutoCreateTime stamps now; backdate to simulate an old match.
	createdAt := time.Now().UTC().Add(-age)
	require.NoError(t, db.Model(match).Update("created_at", createdAt).Error)
	return match
}

func matchStatus(t *testing.T, db *gorm.DB, id string) string {
	t.Helper()
	var match models.Match
	require.NoError(t, db.First(&match, "id = ?", id).Error)
	return match.Status
}

func balance(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return user.StarsBalance
}

func TestReclaimsAbandonedWaitingMatch(t *testing.T) {
	w, db, _ := newReclaimer(t)
	alice := seedUser(t, db, "ext-1", 500)
	match := seedMatch(t, db, alice, nil, 100, models.MatchStatusWaiting, 2*time.Minute)

	w.CheckExpiredMatches(context.Background())

	assert.Equal(t, models.MatchStatusTimeout, matchStatus(t, db, match.ID))

	// no second player ever joined, nothing was escrowed, nothing to refund
	assert.Equal(t, int64(500), balance(t, db, alice.ID))
	var refunds int64
	db.Model(&models.Transaction{}).Count(&refunds)
	assert.Zero(t, refunds)
}

func TestReclaimsInProgressMatchAndRefundsBoth(t *testing.T) {
	w, db, _ := newReclaimer(t)
	// escrow already happened at join: both sit at 450 with 50 locked up
	alice := seedUser(t, db, "ext-1", 450)
	bob := seedUser(t, db, "ext-2", 450)
	match := seedMatch(t, db, alice, bob, 50, models.MatchStatusInProgress, 2*time.Minute)

	w.CheckExpiredMatches(context.Background())

	assert.Equal(t, models.MatchStatusTimeout, matchStatus(t, db, match.ID))
	assert.Equal(t, int64(500), balance(t, db, alice.ID))
	assert.Equal(t, int64(500), balance(t, db, bob.ID))

	var refunds []models.Transaction
	require.NoError(t, db.Where("type = ?", models.TransactionTypeRefund).Find(&refunds).Error)
	require.Len(t, refunds, 2)
	for _, txn := range refunds {
		assert.Equal(t, int64(50), txn.Amount)
		require.NotNil(t, txn.MatchID)
		assert.Equal(t, match.ID, *txn.MatchID)
	}
}

func TestLeavesFreshMatchesAlone(t *testing.T) {
	w, db, _ := newReclaimer(t)
	alice := seedUser(t, db, "ext-1", 500)
	bob := seedUser(t, db, "ext-2", 500)
	fresh := seedMatch(t, db, alice, bob, 50, models.MatchStatusInProgress, 20*time.Second)
	completed := seedMatch(t, db, alice, bob, 50, models.MatchStatusCompleted, 2*time.Hour)

	w.CheckExpiredMatches(context.Background())

	assert.Equal(t, models.MatchStatusInProgress, matchStatus(t, db, fresh.ID))
	assert.Equal(t, models.MatchStatusCompleted, matchStatus(t, db, completed.ID))

	var txnCount int64
	db.Model(&models.Transaction{}).Count(&txnCount)
	assert.Zero(t, txnCount)
}

func TestReclaimIsIdempotent(t *testing.T) {
	w, db, _ := newReclaimer(t)
	alice := seedUser(t, db, "ext-1", 450)
	bob := seedUser(t, db, "ext-2", 450)
	match := seedMatch(t, db, alice, bob, 50, models.MatchStatusInProgress, 2*time.Minute)

	w.CheckExpiredMatches(context.Background())
	w.CheckExpiredMatches(context.Background())

	assert.Equal(t, models.MatchStatusTimeout, matchStatus(t, db, match.ID))
	assert.Equal(t, int64(500), balance(t, db, alice.ID))
	assert.Equal(t, int64(500), balance(t, db, bob.ID))

	var refunds int64
	db.Model(&models.Transaction{}).Where("type = ?", models.TransactionTypeRefund).Count(&refunds)
	assert.Equal(t, int64(2), refunds)
}

func TestReclaimPurgesCacheEntries(t *testing.T) {
	w, db, mr := newReclaimer(t)
	alice := seedUser(t, db, "ext-1", 500)
	bob := seedUser(t, db, "ext-2", 500)
	match := seedMatch(t, db, alice, bob, 0, models.MatchStatusInProgress, 2*time.Minute)

	ctx := context.Background()
	proj := &cache.MatchProjection{
		MatchID:           match.ID,
		Player1ID:         alice.ID,
		Player1ExternalID: alice.ExternalID,
		Player1Name:       alice.Username,
		Status:            models.MatchStatusInProgress,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, w.Cache.SaveProjection(ctx, proj, time.Hour))
	stored, err := w.Cache.PutChoice(ctx, match.ID, 1, "rock", time.Hour)
	require.NoError(t, err)
	require.True(t, stored)

	w.CheckExpiredMatches(ctx)

	assert.Empty(t, mr.Keys())
	_, err = w.Cache.GetProjection(ctx, match.ID)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRefundsEscrowLandedAfterScan(t *testing.T) {
	// The reclaimer's scan snapshot can predate a join: by the time the
	// conditional update fires, both stakes are escrowed. The refund
	// decision must come from the row inside the transaction, or the
	// escrowed stakes are lost.
	w, db, _ := newReclaimer(t)
	alice := seedUser(t, db, "ext-1", 450)
	bob := seedUser(t, db, "ext-2", 450)
	match := seedMatch(t, db, alice, bob, 50, models.MatchStatusInProgress, 2*time.Minute)

	// what the scan saw: still waiting, nobody joined yet
	stale := &models.Match{
		ID:          match.ID,
		Player1ID:   alice.ID,
		StakeAmount: 50,
		Status:      models.MatchStatusWaiting,
	}
	require.NoError(t, w.processExpiredMatch(context.Background(), stale))

	assert.Equal(t, models.MatchStatusTimeout, matchStatus(t, db, match.ID))
	assert.Equal(t, int64(500), balance(t, db, alice.ID))
	assert.Equal(t, int64(500), balance(t, db, bob.ID))

	var refunds int64
	db.Model(&models.Transaction{}).Where("type = ?", models.TransactionTypeRefund).Count(&refunds)
	assert.Equal(t, int64(2), refunds)
}

func TestPerMatchFailureDoesNotBlockCycle(t *testing.T) {
	w, db, _ := newReclaimer(t)
	alice := seedUser(t, db, "ext-1", 450)
	bob := seedUser(t, db, "ext-2", 450)

	// refunding this one overdraws nobody, but the ghost player2 row is gone,
	// so its refund fails and the transaction rolls back
	ghost := &models.User{ID: uuid.NewString(), ExternalID: "ghost", Status: models.UserStatusActive, LastActive: time.Now().UTC()}
	require.NoError(t, db.Create(ghost).Error)
	broken := seedMatch(t, db, alice, ghost, 50, models.MatchStatusInProgress, 2*time.Minute)
	require.NoError(t, db.Delete(ghost).Error)

	healthy := seedMatch(t, db, alice, bob, 50, models.MatchStatusInProgress, 2*time.Minute)

	w.CheckExpiredMatches(context.Background())

	// the broken match rolled back and stays eligible for the next cycle
	assert.Equal(t, models.MatchStatusInProgress, matchStatus(t, db, broken.ID))
	// the healthy one still got reclaimed in the same cycle
	assert.Equal(t, models.MatchStatusTimeout, matchStatus(t, db, healthy.ID))
	assert.Equal(t, int64(500), balance(t, db, bob.ID))
}
