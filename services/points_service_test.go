package services

import (
	"testing"
	"time"

	"reward-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwardAppendsLedgerAndBalance(t *testing.T) {
	svc, rec := newPointsService(t)

	applied, err := svc.Award("alice", "post_created", models.TriggerContext{
		ReferenceType: "post",
		ReferenceID:   "p-1",
	})
	require.NoError(t, err)
	assert.True(t, applied)

	bal, err := svc.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal.Balance)
	assert.Equal(t, int64(10), bal.TotalEarned)
	assert.Equal(t, int64(0), bal.TotalSpent)

	history, err := svc.History("alice", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "post_created", history[0].TriggerName)
	assert.Equal(t, int64(10), history[0].Amount)
	assert.Equal(t, int64(10), history[0].BalanceAfter)
	assert.Equal(t, "post", history[0].ReferenceType)
	assert.Equal(t, "p-1", history[0].ReferenceID)

	require.Len(t, rec.pointsEvents, 1)
	assert.Equal(t, "alice", rec.pointsEvents[0].AccountID)
	assert.Equal(t, int64(10), rec.pointsEvents[0].NewBalance)
}

func TestAwardUnknownTriggerIsNoOp(t *testing.T) {
	svc, rec := newPointsService(t)

	applied, err := svc.Award("alice", "does_not_exist", models.TriggerContext{})
	require.NoError(t, err)
	assert.False(t, applied)

	history, err := svc.History("alice", "", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, rec.pointsEvents)
}

func TestOnceTriggerAppliesOnlyOnce(t *testing.T) {
	svc, _ := newPointsService(t)

	applied, err := svc.Award("alice", "account_activated", models.TriggerContext{})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Award("alice", "account_activated", models.TriggerContext{})
	require.NoError(t, err)
	assert.False(t, applied)

	bal, err := svc.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Balance)
}

func TestDailyLimitCapsAwards(t *testing.T) {
	svc, _ := newPointsService(t)

	// post_created pays 10 with a daily limit of 5: the sixth is declined.
	for i := 0; i < 6; i++ {
		applied, err := svc.Award("alice", "post_created", models.TriggerContext{})
		require.NoError(t, err)
		assert.Equal(t, i < 5, applied, "award %d", i+1)
	}

	bal, err := svc.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Balance)

	history, err := svc.History("alice", "", 10)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestDailyLimitResetsAtDayBoundary(t *testing.T) {
	svc, _ := newPointsService(t)

	// Yesterday's entries exhaust the limit for that day only.
	yesterday := time.Now().AddDate(0, 0, -1)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.DB.Create(&models.LedgerEntry{
			AccountID:   "alice",
			Category:    models.DefaultCategory,
			Amount:      10,
			TriggerName: "post_created",
			CreatedAt:   yesterday,
		}).Error)
	}

	applied, err := svc.Award("alice", "post_created", models.TriggerContext{})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMaxLifetimeCapsAwards(t *testing.T) {
	catalog, err := models.NewTriggerCatalog([]models.TriggerDefinition{
		{Name: "referral", Points: 20, MaxLifetime: 2},
	})
	require.NoError(t, err)

	db := newTestDB(t)
	svc := NewPointsService(db, testLogger(), catalog, models.DefaultRankLadder(), NewDispatcher())

	for i := 0; i < 3; i++ {
		applied, err := svc.Award("alice", "referral", models.TriggerContext{})
		require.NoError(t, err)
		assert.Equal(t, i < 2, applied, "award %d", i+1)
	}

	bal, err := svc.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal.Balance)
}

func TestDeductClampsAtZero(t *testing.T) {
	svc, _ := newPointsService(t)

	_, err := svc.Award("alice", "post_created", models.TriggerContext{})
	require.NoError(t, err)

	applied, err := svc.Deduct("alice", "", 25, "moderation penalty")
	require.NoError(t, err)
	assert.True(t, applied)

	bal, err := svc.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Balance)

	history, err := svc.History("alice", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, TriggerManualDeduct, history[0].TriggerName)
	assert.Equal(t, int64(-10), history[0].Amount)
	assert.Equal(t, "moderation penalty", history[0].Note)

	// Deducting from zero still appends an auditable zero entry.
	applied, err = svc.Deduct("alice", "", 5, "again")
	require.NoError(t, err)
	assert.True(t, applied)

	history, err = svc.History("alice", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(0), history[0].Amount)

	assert.NoError(t, svc.VerifyBalance("alice", ""))
}

func TestDeductRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newPointsService(t)

	applied, err := svc.Deduct("alice", "", 0, "")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = svc.Deduct("alice", "", -5, "")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSetOverridesBalance(t *testing.T) {
	svc, _ := newPointsService(t)

	applied, err := svc.Set("alice", "", 100, "migration import")
	require.NoError(t, err)
	assert.True(t, applied)

	bal, err := svc.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Balance)

	history, err := svc.History("alice", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TriggerManualSet, history[0].TriggerName)
	assert.Equal(t, int64(100), history[0].Amount)

	// Setting to the current value appends nothing.
	applied, err = svc.Set("alice", "", 100, "noop")
	require.NoError(t, err)
	assert.True(t, applied)
	history, err = svc.History("alice", "", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Negative targets are rejected.
	applied, err = svc.Set("alice", "", -1, "bad")
	require.NoError(t, err)
	assert.False(t, applied)

	// Setting lower logs a negative delta.
	applied, err = svc.Set("alice", "", 40, "correction")
	require.NoError(t, err)
	assert.True(t, applied)
	history, err = svc.History("alice", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(-60), history[0].Amount)

	assert.NoError(t, svc.VerifyBalance("alice", ""))
}

func TestVerifyDetectsAndRebuildRepairsDrift(t *testing.T) {
	svc, _ := newPointsService(t)

	_, err := svc.Award("alice", "post_created", models.TriggerContext{})
	require.NoError(t, err)

	// Corrupt the cache behind the ledger's back.
	require.NoError(t, svc.DB.Model(&models.Balance{}).
		Where("account_id = ? AND category = ?", "alice", models.DefaultCategory).
		Update("balance", 999).Error)

	err = svc.VerifyBalance("alice", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBalanceMismatch)

	rebuilt, err := svc.RebuildBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rebuilt.Balance)
	assert.Equal(t, int64(10), rebuilt.TotalEarned)

	assert.NoError(t, svc.VerifyBalance("alice", ""))
}

func TestRankChangeEmittedOncePerMutation(t *testing.T) {
	svc, rec := newPointsService(t)

	// 0 -> 600 jumps over Bronze (100) straight into Silver (500): still a
	// single rank event.
	applied, err := svc.Set("alice", "", 600, "import")
	require.NoError(t, err)
	assert.True(t, applied)

	require.Len(t, rec.rankEvents, 1)
	assert.Equal(t, "Rookie", rec.rankEvents[0].From.Label)
	assert.Equal(t, "Silver", rec.rankEvents[0].To.Label)

	// A mutation inside the same tier emits nothing.
	_, err = svc.Award("alice", "post_created", models.TriggerContext{})
	require.NoError(t, err)
	assert.Len(t, rec.rankEvents, 1)

	// Dropping back down fires the reverse transition.
	_, err = svc.Set("alice", "", 0, "reset")
	require.NoError(t, err)
	require.Len(t, rec.rankEvents, 2)
	assert.Equal(t, "Silver", rec.rankEvents[1].From.Label)
	assert.Equal(t, "Rookie", rec.rankEvents[1].To.Label)
}

func TestCategoriesAreIsolated(t *testing.T) {
	catalog, err := models.NewTriggerCatalog([]models.TriggerDefinition{
		{Name: "post_created", Points: 10},
		{Name: "coins_found", Points: 3, Category: "coins"},
	})
	require.NoError(t, err)

	db := newTestDB(t)
	svc := NewPointsService(db, testLogger(), catalog, models.DefaultRankLadder(), NewDispatcher())

	_, err = svc.Award("alice", "post_created", models.TriggerContext{})
	require.NoError(t, err)
	_, err = svc.Award("alice", "coins_found", models.TriggerContext{})
	require.NoError(t, err)

	points, err := svc.GetBalance("alice", "points")
	require.NoError(t, err)
	coins, err := svc.GetBalance("alice", "coins")
	require.NoError(t, err)
	assert.Equal(t, int64(10), points.Balance)
	assert.Equal(t, int64(3), coins.Balance)
}
