package services

import (
	"errors"
	"fmt"
	"time"

	"reward-engine/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCompetitionNotFound  = errors.New("competition not found")
	ErrCompetitionNotActive = errors.New("competition is not active")
	ErrCompetitionEnded     = errors.New("competition has ended")
	ErrAlreadyJoined        = errors.New("account already joined")
	ErrNotJoined            = errors.New("account has not joined")
	ErrInvalidTimeRange     = errors.New("start time must be before end time")
	ErrScoreNotIncreasing   = errors.New("score may only increase")
)

// CompetitionService runs time-boxed leaderboards through the lifecycle
// upcoming -> active -> ended. Transitions are driven by the two sweep
// methods, which an external scheduler invokes periodically; both are
// idempotent.
type CompetitionService struct {
	DB     *gorm.DB
	Log    *logrus.Logger
	Events *Dispatcher
}

func NewCompetitionService(db *gorm.DB, log *logrus.Logger, events *Dispatcher) *CompetitionService {
	return &CompetitionService{DB: db, Log: log, Events: events}
}

// Create registers a competition in the upcoming state.
func (s *CompetitionService) Create(name, description string, metric models.CompetitionMetric, start, end time.Time) (*models.Competition, error) {
	if name == "" {
		return nil, fmt.Errorf("competition name is required")
	}
	if !start.Before(end) {
		return nil, ErrInvalidTimeRange
	}
	if metric == "" {
		metric = models.MetricCustomScore
	}

	comp := &models.Competition{
		ID:          uuid.NewString(),
		Slug:        slug.Make(name),
		Name:        name,
		Description: description,
		Metric:      metric,
		StartTime:   start,
		EndTime:     end,
		Status:      models.CompetitionUpcoming,
	}

	// Slugs are unique; fall back to a suffixed slug when the name is taken.
	var n int64
	if err := s.DB.Model(&models.Competition{}).Where("slug = ?", comp.Slug).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		comp.Slug = fmt.Sprintf("%s-%s", comp.Slug, comp.ID[:8])
	}

	if err := s.DB.Create(comp).Error; err != nil {
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{
		"competition": comp.Slug,
		"start":       comp.StartTime,
		"end":         comp.EndTime,
	}).Info("competition created")
	return comp, nil
}

// Get loads a competition by id or slug. The id column is uuid-typed, so
// only values that parse as a uuid are matched against it; anything else
// is a slug lookup.
func (s *CompetitionService) Get(idOrSlug string) (*models.Competition, error) {
	q := s.DB
	if _, err := uuid.Parse(idOrSlug); err == nil {
		q = q.Where("id = ?", idOrSlug)
	} else {
		q = q.Where("slug = ?", idOrSlug)
	}

	var comp models.Competition
	err := q.First(&comp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

// List returns competitions, optionally filtered by status, newest first.
func (s *CompetitionService) List(status models.CompetitionStatus) ([]models.Competition, error) {
	q := s.DB.Order("start_time DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var comps []models.Competition
	err := q.Find(&comps).Error
	return comps, err
}

// Join adds the account to an active competition with a zero score.
func (s *CompetitionService) Join(idOrSlug, accountID string) (*models.ParticipantScore, error) {
	comp, err := s.Get(idOrSlug)
	if err != nil {
		return nil, err
	}
	if comp.Status != models.CompetitionActive {
		return nil, ErrCompetitionNotActive
	}

	score := &models.ParticipantScore{
		ID:            uuid.NewString(),
		CompetitionID: comp.ID,
		AccountID:     accountID,
	}
	// The unique index on (competition_id, account_id) is the authority on
	// duplicate joins; a racing second join lands on the conflict, not an
	// error.
	result := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(score)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyJoined
	}
	return score, nil
}

// Leave removes the participant row. Once the competition has ended the
// standings are frozen and leaving is rejected.
func (s *CompetitionService) Leave(idOrSlug, accountID string) error {
	comp, err := s.Get(idOrSlug)
	if err != nil {
		return err
	}
	if comp.Status == models.CompetitionEnded {
		return ErrCompetitionEnded
	}
	result := s.DB.Where("competition_id = ? AND account_id = ?", comp.ID, accountID).
		Delete(&models.ParticipantScore{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotJoined
	}
	return nil
}

// IncrementScore adds delta (> 0) to the participant's score while the
// competition is active.
func (s *CompetitionService) IncrementScore(idOrSlug, accountID string, delta int64) (*models.ParticipantScore, error) {
	if delta <= 0 {
		return nil, ErrScoreNotIncreasing
	}
	return s.updateScore(idOrSlug, accountID, func(current int64) (int64, error) {
		return current + delta, nil
	})
}

// SetScore overwrites the participant's score. Scores only move up.
func (s *CompetitionService) SetScore(idOrSlug, accountID string, value int64) (*models.ParticipantScore, error) {
	return s.updateScore(idOrSlug, accountID, func(current int64) (int64, error) {
		if value < current {
			return 0, ErrScoreNotIncreasing
		}
		return value, nil
	})
}

func (s *CompetitionService) updateScore(idOrSlug, accountID string, next func(int64) (int64, error)) (*models.ParticipantScore, error) {
	comp, err := s.Get(idOrSlug)
	if err != nil {
		return nil, err
	}
	if comp.Status != models.CompetitionActive {
		return nil, ErrCompetitionNotActive
	}

	var score models.ParticipantScore
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		err := lockForUpdate(tx).
			Where("competition_id = ? AND account_id = ?", comp.ID, accountID).
			First(&score).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotJoined
		}
		if err != nil {
			return err
		}
		updated, err := next(score.Score)
		if err != nil {
			return err
		}
		score.Score = updated
		return tx.Save(&score).Error
	})
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// Leaderboard returns the competition standings. Ended competitions serve
// the frozen result; running ones compute positions on the fly with the
// same ordering the freeze uses.
func (s *CompetitionService) Leaderboard(idOrSlug string) (*models.Competition, []models.ParticipantScore, error) {
	comp, err := s.Get(idOrSlug)
	if err != nil {
		return nil, nil, err
	}

	var scores []models.ParticipantScore
	if comp.Status == models.CompetitionEnded {
		err = s.DB.Where("competition_id = ?", comp.ID).
			Order("rank_position ASC").
			Find(&scores).Error
	} else {
		err = s.DB.Where("competition_id = ?", comp.ID).
			Order("score DESC").
			Order("updated_at ASC").
			Order("joined_at ASC").
			Find(&scores).Error
		for i := range scores {
			scores[i].RankPosition = i + 1
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return comp, scores, nil
}

// RecordPointsEarned adds delta to the account's score in every active
// competition scoring the points_earned metric. Only joined participants
// are affected; negative deltas (deductions) never lower a score.
func (s *CompetitionService) RecordPointsEarned(accountID string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	var comps []models.Competition
	if err := s.DB.Where("status = ? AND metric = ?",
		models.CompetitionActive, models.MetricPointsEarned).
		Find(&comps).Error; err != nil {
		return err
	}
	for _, comp := range comps {
		result := s.DB.Model(&models.ParticipantScore{}).
			Where("competition_id = ? AND account_id = ?", comp.ID, accountID).
			Update("score", gorm.Expr("score + ?", delta))
		if result.Error != nil {
			return result.Error
		}
	}
	return nil
}

// CompetitionPointsListener feeds committed points awards into active
// points_earned competitions.
type CompetitionPointsListener struct {
	NoopListener

	Log          *logrus.Logger
	Competitions *CompetitionService
}

func NewCompetitionPointsListener(log *logrus.Logger, competitions *CompetitionService) *CompetitionPointsListener {
	return &CompetitionPointsListener{Log: log, Competitions: competitions}
}

func (l *CompetitionPointsListener) OnPointsAwarded(e PointsAwardedEvent) {
	if err := l.Competitions.RecordPointsEarned(e.AccountID, e.Delta); err != nil {
		l.Log.WithError(err).WithField("account", e.AccountID).Error("failed to score competitions from award")
	}
}

// ActivateDue moves every upcoming competition whose start has passed to
// active. Safe to call repeatedly.
func (s *CompetitionService) ActivateDue() (int, error) {
	var due []models.Competition
	now := time.Now()
	if err := s.DB.Where("status = ? AND start_time <= ?", models.CompetitionUpcoming, now).
		Find(&due).Error; err != nil {
		return 0, err
	}

	activated := 0
	for _, comp := range due {
		result := s.DB.Model(&models.Competition{}).
			Where("id = ? AND status = ?", comp.ID, models.CompetitionUpcoming).
			Update("status", models.CompetitionActive)
		if result.Error != nil {
			s.Log.WithError(result.Error).WithField("competition", comp.Slug).Error("failed to activate competition")
			continue
		}
		if result.RowsAffected > 0 {
			activated++
			s.Log.WithField("competition", comp.Slug).Info("competition activated")
		}
	}
	return activated, nil
}

// EndExpired moves every active competition whose end has passed to ended,
// freezing the final standings in the same transaction.
func (s *CompetitionService) EndExpired() (int, error) {
	var expired []models.Competition
	now := time.Now()
	if err := s.DB.Where("status = ? AND end_time <= ?", models.CompetitionActive, now).
		Find(&expired).Error; err != nil {
		return 0, err
	}

	ended := 0
	for _, comp := range expired {
		var frozen []models.ParticipantScore
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var scores []models.ParticipantScore
			if err := lockForUpdate(tx).
				Where("competition_id = ?", comp.ID).
				Order("score DESC").
				Order("updated_at ASC").
				Order("joined_at ASC").
				Find(&scores).Error; err != nil {
				return err
			}
			for i := range scores {
				scores[i].RankPosition = i + 1
				if err := tx.Save(&scores[i]).Error; err != nil {
					return err
				}
			}

			endedAt := now
			result := tx.Model(&models.Competition{}).
				Where("id = ? AND status = ?", comp.ID, models.CompetitionActive).
				Updates(map[string]interface{}{
					"status":   models.CompetitionEnded,
					"ended_at": &endedAt,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Another sweep got here first.
				return nil
			}
			frozen = scores
			return nil
		})
		if err != nil {
			s.Log.WithError(err).WithField("competition", comp.Slug).Error("failed to end competition")
			continue
		}
		if frozen != nil {
			ended++
			s.Log.WithFields(logrus.Fields{
				"competition":  comp.Slug,
				"participants": len(frozen),
			}).Info("competition ended, standings frozen")
			s.Events.CompetitionEnded(CompetitionEndedEvent{
				CompetitionID: comp.ID,
				Slug:          comp.Slug,
				Standings:     frozen,
				At:            now,
			})
		}
	}
	return ended, nil
}
