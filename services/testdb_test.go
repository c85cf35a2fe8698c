package services

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"reward-engine/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database per test. The shared-cache
// DSN keeps the schema alive across pooled connections.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.LedgerEntry{},
		&models.Balance{},
		&models.AchievementProgress{},
		&models.Competition{},
		&models.ParticipantScore{},
	))
	return db
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// recordingListener captures every dispatched event for assertions.
type recordingListener struct {
	mu           sync.Mutex
	pointsEvents []PointsAwardedEvent
	rankEvents   []RankChangedEvent
	unlockEvents []AchievementUnlockedEvent
	endedEvents  []CompetitionEndedEvent
}

func (r *recordingListener) OnPointsAwarded(e PointsAwardedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pointsEvents = append(r.pointsEvents, e)
}

func (r *recordingListener) OnRankChanged(e RankChangedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rankEvents = append(r.rankEvents, e)
}

func (r *recordingListener) OnAchievementUnlocked(e AchievementUnlockedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlockEvents = append(r.unlockEvents, e)
}

func (r *recordingListener) OnCompetitionEnded(e CompetitionEndedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endedEvents = append(r.endedEvents, e)
}

// newPointsService wires a points service over a fresh database with the
// default catalogs and a recording listener.
func newPointsService(t *testing.T) (*PointsService, *recordingListener) {
	t.Helper()
	db := newTestDB(t)
	rec := &recordingListener{}
	svc := NewPointsService(
		db,
		testLogger(),
		models.DefaultTriggerCatalog(),
		models.DefaultRankLadder(),
		NewDispatcher(rec),
	)
	return svc, rec
}
