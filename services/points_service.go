package services

import (
	"errors"
	"fmt"
	"time"

	"reward-engine/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Trigger names used for operator adjustments; they bypass the catalog.
const (
	TriggerManualDeduct = "balance_deduct"
	TriggerManualSet    = "balance_set"
)

// ErrBalanceMismatch marks a balance row that disagrees with its ledger.
// This is a fatal inconsistency, not something the engine repairs silently.
var ErrBalanceMismatch = errors.New("balance cache disagrees with ledger")

// PointsService is the award/deduct engine over the ledger and the balance
// cache. Policy rejections (unknown trigger, once consumed, limits reached)
// come back as applied=false with a nil error so that the business action
// that fired the trigger never fails because the reward declined to pay.
type PointsService struct {
	DB       *gorm.DB
	Log      *logrus.Logger
	Triggers *models.TriggerCatalog
	Ladder   *models.RankLadder
	Events   *Dispatcher
}

func NewPointsService(db *gorm.DB, log *logrus.Logger, triggers *models.TriggerCatalog, ladder *models.RankLadder, events *Dispatcher) *PointsService {
	return &PointsService{DB: db, Log: log, Triggers: triggers, Ladder: ladder, Events: events}
}

// lockForUpdate takes a row lock on backends that support it. SQLite (used
// in tests) serializes writers on its own and rejects FOR UPDATE syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// loadBalanceLocked loads the balance row for (account, category), creating
// a zero row first if none exists yet. The returned row is locked for the
// duration of tx, which serializes concurrent writers on the same key.
func loadBalanceLocked(tx *gorm.DB, accountID, category string) (*models.Balance, error) {
	var bal models.Balance
	err := lockForUpdate(tx).
		Where("account_id = ? AND category = ?", accountID, category).
		First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		bal = models.Balance{AccountID: accountID, Category: category}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&bal).Error; err != nil {
			return nil, err
		}
		err = lockForUpdate(tx).
			Where("account_id = ? AND category = ?", accountID, category).
			First(&bal).Error
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// applyDelta appends a ledger entry and updates the balance row inside tx.
// BalanceAfter chains off the locked row, which is what guarantees per-key
// ordering of entries.
func applyDelta(tx *gorm.DB, bal *models.Balance, delta int64, entry *models.LedgerEntry) error {
	bal.Balance += delta
	if delta > 0 {
		bal.TotalEarned += delta
	} else {
		bal.TotalSpent += -delta
	}

	entry.AccountID = bal.AccountID
	entry.Category = bal.Category
	entry.Amount = delta
	entry.BalanceAfter = bal.Balance

	if err := tx.Create(entry).Error; err != nil {
		return err
	}
	return tx.Save(bal).Error
}

func startOfLocalDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Award applies a catalog trigger to an account. It returns false without
// error when the trigger is unknown or a policy declines the payout.
func (s *PointsService) Award(accountID, triggerName string, ref models.TriggerContext) (bool, error) {
	def, ok := s.Triggers.Lookup(triggerName)
	if !ok {
		s.Log.WithFields(logrus.Fields{
			"account": accountID,
			"trigger": triggerName,
		}).Warn("award for unknown trigger ignored")
		return false, nil
	}

	var pending []func()
	applied := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		bal, err := loadBalanceLocked(tx, accountID, def.Category)
		if err != nil {
			return err
		}

		// Policy checks run under the row lock so concurrent awards for the
		// same account see each other's entries.
		var lifetime int64
		if def.Once || def.MaxLifetime > 0 {
			if err := tx.Model(&models.LedgerEntry{}).
				Where("account_id = ? AND trigger_name = ?", accountID, triggerName).
				Count(&lifetime).Error; err != nil {
				return err
			}
			if def.Once && lifetime > 0 {
				return nil
			}
			if def.MaxLifetime > 0 && lifetime >= int64(def.MaxLifetime) {
				return nil
			}
		}
		if def.DailyLimit > 0 {
			var today int64
			if err := tx.Model(&models.LedgerEntry{}).
				Where("account_id = ? AND trigger_name = ? AND created_at >= ?",
					accountID, triggerName, startOfLocalDay(time.Now())).
				Count(&today).Error; err != nil {
				return err
			}
			if today >= int64(def.DailyLimit) {
				return nil
			}
		}

		oldTier := s.Ladder.TierFor(bal.Balance)
		entry := &models.LedgerEntry{
			TriggerName:   triggerName,
			ReferenceType: ref.ReferenceType,
			ReferenceID:   ref.ReferenceID,
		}
		if err := applyDelta(tx, bal, def.Points, entry); err != nil {
			return err
		}
		applied = true
		pending = s.balanceEvents(bal, oldTier, triggerName, def.Points)
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, emit := range pending {
		emit()
	}
	return applied, nil
}

// AwardBonus pays a fixed amount under a synthetic once-per-account trigger.
// Used by the achievement engine so a completion reward cannot double-pay
// even when the completing call is retried.
func (s *PointsService) AwardBonus(accountID, category, triggerName string, points int64) (bool, error) {
	if points <= 0 {
		return false, nil
	}
	if category == "" {
		category = models.DefaultCategory
	}

	var pending []func()
	applied := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		bal, err := loadBalanceLocked(tx, accountID, category)
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.LedgerEntry{}).
			Where("account_id = ? AND trigger_name = ?", accountID, triggerName).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		oldTier := s.Ladder.TierFor(bal.Balance)
		if err := applyDelta(tx, bal, points, &models.LedgerEntry{TriggerName: triggerName}); err != nil {
			return err
		}
		applied = true
		pending = s.balanceEvents(bal, oldTier, triggerName, points)
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, emit := range pending {
		emit()
	}
	return applied, nil
}

// Deduct removes up to amount points, clamping the balance at zero. The
// clamped delta is appended even when it is zero so the operator action
// stays auditable.
func (s *PointsService) Deduct(accountID, category string, amount int64, reason string) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	if category == "" {
		category = models.DefaultCategory
	}

	var pending []func()

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		bal, err := loadBalanceLocked(tx, accountID, category)
		if err != nil {
			return err
		}
		delta := -amount
		if bal.Balance+delta < 0 {
			delta = -bal.Balance
		}
		oldTier := s.Ladder.TierFor(bal.Balance)
		entry := &models.LedgerEntry{TriggerName: TriggerManualDeduct, Note: reason}
		if err := applyDelta(tx, bal, delta, entry); err != nil {
			return err
		}
		pending = s.balanceEvents(bal, oldTier, TriggerManualDeduct, delta)
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, emit := range pending {
		emit()
	}
	return true, nil
}

// Set overrides the balance to amount, logging the signed delta needed to
// reach it. Negative targets are rejected at the boundary.
func (s *PointsService) Set(accountID, category string, amount int64, reason string) (bool, error) {
	if amount < 0 {
		return false, nil
	}
	if category == "" {
		category = models.DefaultCategory
	}

	var pending []func()

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		bal, err := loadBalanceLocked(tx, accountID, category)
		if err != nil {
			return err
		}
		delta := amount - bal.Balance
		if delta == 0 {
			return nil
		}
		oldTier := s.Ladder.TierFor(bal.Balance)
		entry := &models.LedgerEntry{TriggerName: TriggerManualSet, Note: reason}
		if err := applyDelta(tx, bal, delta, entry); err != nil {
			return err
		}
		pending = s.balanceEvents(bal, oldTier, TriggerManualSet, delta)
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, emit := range pending {
		emit()
	}
	return true, nil
}

// balanceEvents builds the event emissions for a committed balance change.
// Rank crossings are detected by comparing the tier before and after the
// mutation, so a jump across several tiers still fires exactly one event.
func (s *PointsService) balanceEvents(bal *models.Balance, oldTier models.RankTier, triggerName string, delta int64) []func() {
	now := time.Now()
	events := []func(){func() {
		s.Events.PointsAwarded(PointsAwardedEvent{
			AccountID:   bal.AccountID,
			Category:    bal.Category,
			TriggerName: triggerName,
			Delta:       delta,
			NewBalance:  bal.Balance,
			At:          now,
		})
	}}

	newTier := s.Ladder.TierFor(bal.Balance)
	if newTier.Ordinal != oldTier.Ordinal {
		accountID, category := bal.AccountID, bal.Category
		events = append(events, func() {
			s.Events.RankChanged(RankChangedEvent{
				AccountID: accountID,
				Category:  category,
				From:      oldTier,
				To:        newTier,
				At:        now,
			})
		})
	}
	return events
}

// GetBalance returns the cached balance row, zero-valued when the account
// has no entries yet.
func (s *PointsService) GetBalance(accountID, category string) (models.Balance, error) {
	if category == "" {
		category = models.DefaultCategory
	}
	var bal models.Balance
	err := s.DB.Where("account_id = ? AND category = ?", accountID, category).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Balance{AccountID: accountID, Category: category}, nil
	}
	return bal, err
}

// History returns the account's ledger entries, newest first.
func (s *PointsService) History(accountID, category string, limit int) ([]models.LedgerEntry, error) {
	if category == "" {
		category = models.DefaultCategory
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := s.DB.
		Where("account_id = ? AND category = ?", accountID, category).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// VerifyBalance checks the cached balance against the ledger sum. A
// mismatch is logged as an integrity failure and returned as
// ErrBalanceMismatch; the caller decides whether to rebuild.
func (s *PointsService) VerifyBalance(accountID, category string) error {
	if category == "" {
		category = models.DefaultCategory
	}
	var sum struct{ Total int64 }
	if err := s.DB.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("account_id = ? AND category = ?", accountID, category).
		Scan(&sum).Error; err != nil {
		return err
	}
	bal, err := s.GetBalance(accountID, category)
	if err != nil {
		return err
	}
	if bal.Balance != sum.Total {
		s.Log.WithFields(logrus.Fields{
			"account":    accountID,
			"category":   category,
			"cached":     bal.Balance,
			"ledger_sum": sum.Total,
		}).Error("balance cache disagrees with ledger")
		return fmt.Errorf("%w: account %s category %s cached %d ledger %d",
			ErrBalanceMismatch, accountID, category, bal.Balance, sum.Total)
	}
	return nil
}

// RebuildBalance replays the ledger and overwrites the balance row. The
// explicit repair path for a verified mismatch.
func (s *PointsService) RebuildBalance(accountID, category string) (models.Balance, error) {
	if category == "" {
		category = models.DefaultCategory
	}
	var rebuilt models.Balance
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		bal, err := loadBalanceLocked(tx, accountID, category)
		if err != nil {
			return err
		}
		var entries []models.LedgerEntry
		if err := tx.
			Where("account_id = ? AND category = ?", accountID, category).
			Order("id ASC").
			Find(&entries).Error; err != nil {
			return err
		}
		bal.Balance, bal.TotalEarned, bal.TotalSpent = 0, 0, 0
		for _, e := range entries {
			bal.Balance += e.Amount
			if e.Amount > 0 {
				bal.TotalEarned += e.Amount
			} else {
				bal.TotalSpent += -e.Amount
			}
		}
		if err := tx.Save(bal).Error; err != nil {
			return err
		}
		rebuilt = *bal
		return nil
	})
	return rebuilt, err
}
