package services

import (
	"testing"

	"reward-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAchievementService(t *testing.T) (*AchievementService, *PointsService, *recordingListener) {
	t.Helper()
	points, rec := newPointsService(t)
	svc := NewAchievementService(
		points.DB,
		testLogger(),
		models.DefaultAchievementCatalog(),
		points,
		points.Events,
	)
	return svc, points, rec
}

func TestAchievementCompletesAndPaysOnce(t *testing.T) {
	svc, points, rec := newAchievementService(t)

	// Social Butterfly: 5 bubble_added events, 150 bonus points.
	for i := 0; i < 4; i++ {
		results, err := svc.ProcessTrigger("alice", "bubble_added", 1, models.TriggerContext{})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, results[0].Completed)
	}

	results, err := svc.ProcessTrigger("alice", "bubble_added", 1, models.TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Completed)
	assert.True(t, results[0].JustCompleted)
	assert.Equal(t, int64(5), results[0].Counter)

	bal, err := points.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.Balance)

	require.Len(t, rec.unlockEvents, 1)
	assert.Equal(t, "social-butterfly", rec.unlockEvents[0].AchievementID)

	// Further events keep counting but never pay or re-complete.
	results, err = svc.ProcessTrigger("alice", "bubble_added", 1, models.TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Completed)
	assert.False(t, results[0].JustCompleted)
	assert.Equal(t, int64(6), results[0].Counter)

	bal, err = points.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.Balance)
	assert.Len(t, rec.unlockEvents, 1)
}

func TestOvershootingIncrementStillCompletesOnce(t *testing.T) {
	svc, points, _ := newAchievementService(t)

	results, err := svc.ProcessTrigger("alice", "bubble_added", 9, models.TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].JustCompleted)
	assert.Equal(t, int64(9), results[0].Counter)

	bal, err := points.GetBalance("alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.Balance)
}

func TestConditionsFilterEvents(t *testing.T) {
	catalog, err := models.NewAchievementCatalog([]models.AchievementDefinition{
		{
			Name: "Photographer", TriggerName: "post_created",
			RequiredCount: 2, RewardPoints: 50,
			Conditions: []models.Condition{{Field: "post_type", Equals: "photo"}},
		},
	})
	require.NoError(t, err)

	points, _ := newPointsService(t)
	svc := NewAchievementService(points.DB, testLogger(), catalog, points, points.Events)

	// Text posts do not advance the counter.
	results, err := svc.ProcessTrigger("alice", "post_created", 1, models.TriggerContext{
		Attributes: map[string]string{"post_type": "text"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	for i := 0; i < 2; i++ {
		results, err = svc.ProcessTrigger("alice", "post_created", 1, models.TriggerContext{
			Attributes: map[string]string{"post_type": "photo"},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
	}
	assert.True(t, results[0].Completed)
}

func TestNonPositiveIncrementIgnored(t *testing.T) {
	svc, _, _ := newAchievementService(t)

	results, err := svc.ProcessTrigger("alice", "bubble_added", 0, models.TriggerContext{})
	require.NoError(t, err)
	assert.Nil(t, results)

	results, err = svc.ProcessTrigger("alice", "bubble_added", -3, models.TriggerContext{})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestUnlistedTriggerAdvancesNothing(t *testing.T) {
	svc, _, _ := newAchievementService(t)

	results, err := svc.ProcessTrigger("alice", "daily_visit", 1, models.TriggerContext{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetProgressSummary(t *testing.T) {
	svc, _, _ := newAchievementService(t)

	// Complete Social Butterfly, partially advance First Post's sibling.
	_, err := svc.ProcessTrigger("alice", "bubble_added", 5, models.TriggerContext{})
	require.NoError(t, err)
	_, err = svc.ProcessTrigger("alice", "post_created", 1, models.TriggerContext{})
	require.NoError(t, err)

	summary, err := svc.GetProgress("alice", 2)
	require.NoError(t, err)

	total := models.DefaultAchievementCatalog().Len()
	assert.Equal(t, total, summary.Total)
	// First Post (1 required) completed alongside Social Butterfly.
	assert.Equal(t, 2, summary.Completed)
	assert.InDelta(t, float64(2)/float64(total)*100, summary.Percentage, 0.001)

	require.Len(t, summary.Next, 2)
	// Nearest unfinished first: Storyteller sits at 1/25.
	assert.Equal(t, "storyteller", summary.Next[0].Definition.ID)
	assert.False(t, summary.Next[0].Completed)
}
