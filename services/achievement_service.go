package services

import (
	"errors"
	"sort"
	"time"

	"reward-engine/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProgressResult reports the effect of one trigger event on one achievement.
type ProgressResult struct {
	AchievementID string `json:"achievement_id"`
	Counter       int64  `json:"counter"`
	RequiredCount int64  `json:"required_count"`
	Completed     bool   `json:"completed"`
	JustCompleted bool   `json:"just_completed"`
}

// AchievementView pairs a definition with the account's progress on it.
type AchievementView struct {
	Definition  models.AchievementDefinition `json:"definition"`
	Counter     int64                        `json:"counter"`
	Completed   bool                         `json:"completed"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
	Percent     float64                      `json:"percent"`
}

// ProgressSummary aggregates every definition against one account.
type ProgressSummary struct {
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Percentage float64           `json:"percentage"`
	Next       []AchievementView `json:"next"`
}

// AchievementService tracks per-account counters against the achievement
// catalog and pays the one-time completion reward through the points
// service. Counters are monotonic; completion is a one-way transition.
// Counting is at-least-once (callers dedupe event delivery); only the
// completion reward is guaranteed exactly-once, via its once trigger.
type AchievementService struct {
	DB      *gorm.DB
	Log     *logrus.Logger
	Catalog *models.AchievementCatalog
	Points  *PointsService
	Events  *Dispatcher
}

func NewAchievementService(db *gorm.DB, log *logrus.Logger, catalog *models.AchievementCatalog, points *PointsService, events *Dispatcher) *AchievementService {
	return &AchievementService{DB: db, Log: log, Catalog: catalog, Points: points, Events: events}
}

// ProcessTrigger advances every achievement listening on triggerName whose
// conditions match ctx. Non-positive increments are ignored at the boundary.
func (s *AchievementService) ProcessTrigger(accountID, triggerName string, increment int64, ctx models.TriggerContext) ([]ProgressResult, error) {
	if increment <= 0 {
		s.Log.WithFields(logrus.Fields{
			"account":   accountID,
			"trigger":   triggerName,
			"increment": increment,
		}).Warn("achievement increment must be positive, ignored")
		return nil, nil
	}

	defs := s.Catalog.ByTrigger(triggerName)
	if len(defs) == 0 {
		return nil, nil
	}

	var results []ProgressResult
	for _, def := range defs {
		if !def.MatchesContext(ctx) {
			continue
		}
		res, unlocked, err := s.advance(accountID, def, increment)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if unlocked != nil {
			s.Events.AchievementUnlocked(*unlocked)
		}
	}
	return results, nil
}

// advance increments one progress row inside its own transaction, keyed by
// (account, achievement) so unrelated accounts never contend.
func (s *AchievementService) advance(accountID string, def models.AchievementDefinition, increment int64) (ProgressResult, *AchievementUnlockedEvent, error) {
	var (
		res      ProgressResult
		unlocked *AchievementUnlockedEvent
	)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var prog models.AchievementProgress
		err := lockForUpdate(tx).
			Where("account_id = ? AND achievement_id = ?", accountID, def.ID).
			First(&prog).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prog = models.AchievementProgress{AccountID: accountID, AchievementID: def.ID}
			if err := tx.Create(&prog).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		prog.Counter += increment

		justCompleted := false
		if !prog.Completed && prog.Counter >= def.RequiredCount {
			now := time.Now()
			prog.Completed = true
			prog.CompletedAt = &now
			justCompleted = true
		}
		if err := tx.Save(&prog).Error; err != nil {
			return err
		}

		res = ProgressResult{
			AchievementID: def.ID,
			Counter:       prog.Counter,
			RequiredCount: def.RequiredCount,
			Completed:     prog.Completed,
			JustCompleted: justCompleted,
		}
		if justCompleted {
			unlocked = &AchievementUnlockedEvent{
				AccountID:     accountID,
				AchievementID: def.ID,
				RewardPoints:  def.RewardPoints,
				At:            *prog.CompletedAt,
			}
		}
		return nil
	})
	if err != nil {
		return res, nil, err
	}

	// The bonus runs outside the progress transaction: its once trigger
	// makes it safe to retry, and a payout failure must not roll back the
	// recorded completion.
	if res.JustCompleted && def.RewardPoints > 0 {
		applied, err := s.Points.AwardBonus(accountID, models.DefaultCategory, def.UnlockTriggerName(), def.RewardPoints)
		if err != nil {
			return res, unlocked, err
		}
		if !applied {
			s.Log.WithFields(logrus.Fields{
				"account":     accountID,
				"achievement": def.ID,
			}).Warn("completion reward already paid, skipping")
		}
	}
	return res, unlocked, nil
}

// GetProgress aggregates all definitions against the account's rows. Next
// lists the nextN nearest-to-completion unfinished achievements, closest
// first.
func (s *AchievementService) GetProgress(accountID string, nextN int) (ProgressSummary, error) {
	if nextN <= 0 {
		nextN = 3
	}

	var rows []models.AchievementProgress
	if err := s.DB.Where("account_id = ?", accountID).Find(&rows).Error; err != nil {
		return ProgressSummary{}, err
	}
	byID := make(map[string]models.AchievementProgress, len(rows))
	for _, r := range rows {
		byID[r.AchievementID] = r
	}

	summary := ProgressSummary{Total: s.Catalog.Len()}
	var unfinished []AchievementView
	for _, def := range s.Catalog.All() {
		view := AchievementView{Definition: def}
		if prog, ok := byID[def.ID]; ok {
			view.Counter = prog.Counter
			view.Completed = prog.Completed
			view.CompletedAt = prog.CompletedAt
		}
		if view.Completed {
			view.Percent = 100
			summary.Completed++
			continue
		}
		view.Percent = float64(view.Counter) / float64(def.RequiredCount) * 100
		if view.Percent > 100 {
			view.Percent = 100
		}
		unfinished = append(unfinished, view)
	}

	if summary.Total > 0 {
		summary.Percentage = float64(summary.Completed) / float64(summary.Total) * 100
	}

	sort.SliceStable(unfinished, func(i, j int) bool {
		return unfinished[i].Percent > unfinished[j].Percent
	})
	if len(unfinished) > nextN {
		unfinished = unfinished[:nextN]
	}
	summary.Next = unfinished
	return summary, nil
}
