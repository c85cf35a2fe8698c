package services

import (
	"fmt"
	"time"

	"reward-engine/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Window selects the scoring period of a leaderboard query.
type Window string

const (
	WindowAll     Window = "all"
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// ParseWindow maps a query-string value onto a Window, defaulting to all-time.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowAll:
		return WindowAll, nil
	case WindowDaily, WindowWeekly, WindowMonthly:
		return Window(s), nil
	default:
		return WindowAll, fmt.Errorf("unknown leaderboard window %q", s)
	}
}

// start returns the lower bound of the window, ok=false for all-time.
// Weekly starts on Monday, matching the original period semantics.
func (w Window) start(now time.Time) (time.Time, bool) {
	midnight := startOfLocalDay(now)
	switch w {
	case WindowDaily:
		return midnight, true
	case WindowWeekly:
		offset := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset), true
	case WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	default:
		return time.Time{}, false
	}
}

// LeaderboardEntry is one row of a ranked account list.
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"account_id"`
	Score     int64  `json:"score"`
}

// LeaderboardService is the read-side aggregator over ledger and balances.
// It never writes. All-time boards read the balance cache; windowed boards
// sum ledger amounts from the window start. Ties order by who reached the
// score first (earliest last-contributing entry).
type LeaderboardService struct {
	DB  *gorm.DB
	Log *logrus.Logger
}

func NewLeaderboardService(db *gorm.DB, log *logrus.Logger) *LeaderboardService {
	return &LeaderboardService{DB: db, Log: log}
}

// Global returns the top-limit accounts for category over window.
func (s *LeaderboardService) Global(category string, window Window, limit int) ([]LeaderboardEntry, error) {
	return s.query(category, window, limit, nil)
}

// Scoped restricts the same computation to the supplied account ids (a
// social-graph neighborhood, a group roster). How the set was derived is
// the caller's business.
func (s *LeaderboardService) Scoped(category string, window Window, limit int, accountIDs []string) ([]LeaderboardEntry, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	return s.query(category, window, limit, accountIDs)
}

func (s *LeaderboardService) query(category string, window Window, limit int, accountIDs []string) ([]LeaderboardEntry, error) {
	if category == "" {
		category = models.DefaultCategory
	}
	if limit <= 0 || limit > 500 {
		limit = 25
	}

	var entries []LeaderboardEntry
	if from, windowed := window.start(time.Now()); windowed {
		q := s.DB.Model(&models.LedgerEntry{}).
			Select("account_id, SUM(amount) AS score").
			Where("category = ? AND created_at >= ?", category, from).
			Group("account_id").
			Order("score DESC").
			Order("MAX(created_at) ASC").
			Limit(limit)
		if accountIDs != nil {
			q = q.Where("account_id IN ?", accountIDs)
		}
		if err := q.Scan(&entries).Error; err != nil {
			return nil, err
		}
	} else {
		q := s.DB.Model(&models.Balance{}).
			Select("account_id, balance AS score").
			Where("category = ?", category).
			Order("balance DESC").
			Order("updated_at ASC").
			Limit(limit)
		if accountIDs != nil {
			q = q.Where("account_id IN ?", accountIDs)
		}
		if err := q.Scan(&entries).Error; err != nil {
			return nil, err
		}
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// RankOf returns the account's position: accounts with a strictly greater
// score, plus one. Accounts with no activity rank below every scorer.
func (s *LeaderboardService) RankOf(category string, window Window, accountID string) (rank int, score int64, err error) {
	if category == "" {
		category = models.DefaultCategory
	}

	if from, windowed := window.start(time.Now()); windowed {
		var sum struct{ Total int64 }
		if err := s.DB.Model(&models.LedgerEntry{}).
			Select("COALESCE(SUM(amount), 0) AS total").
			Where("account_id = ? AND category = ? AND created_at >= ?", accountID, category, from).
			Scan(&sum).Error; err != nil {
			return 0, 0, err
		}
		score = sum.Total

		var greater int64
		err := s.DB.Raw(`
			SELECT COUNT(*) FROM (
				SELECT account_id FROM ledger_entries
				WHERE category = ? AND created_at >= ?
				GROUP BY account_id
				HAVING SUM(amount) > ?
			) AS better`, category, from, score).Scan(&greater).Error
		if err != nil {
			return 0, 0, err
		}
		return int(greater) + 1, score, nil
	}

	var bal models.Balance
	if err := s.DB.Where("account_id = ? AND category = ?", accountID, category).
		First(&bal).Error; err != nil && err != gorm.ErrRecordNotFound {
		return 0, 0, err
	}
	score = bal.Balance

	var greater int64
	if err := s.DB.Model(&models.Balance{}).
		Where("category = ? AND balance > ?", category, score).
		Count(&greater).Error; err != nil {
		return 0, 0, err
	}
	return int(greater) + 1, score, nil
}
