package services

import (
	"reward-engine/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RankStatus is an account's position on the ladder.
type RankStatus struct {
	Tier            models.RankTier  `json:"tier"`
	Balance         int64            `json:"balance"`
	ProgressPercent float64          `json:"progress_percent"`
	PointsToNext    int64            `json:"points_to_next"`
	NextTier        *models.RankTier `json:"next_tier,omitempty"`
}

// RankService resolves balances to rank tiers. Rank is a pure function of
// the balance; transitions are detected (and published) by the points
// service at mutation time, not here.
type RankService struct {
	DB     *gorm.DB
	Log    *logrus.Logger
	Ladder *models.RankLadder
	Points *PointsService
}

func NewRankService(db *gorm.DB, log *logrus.Logger, ladder *models.RankLadder, points *PointsService) *RankService {
	return &RankService{DB: db, Log: log, Ladder: ladder, Points: points}
}

// Resolve returns the account's current tier and progress toward the next.
func (s *RankService) Resolve(accountID, category string) (RankStatus, error) {
	bal, err := s.Points.GetBalance(accountID, category)
	if err != nil {
		return RankStatus{}, err
	}
	return s.StatusFor(bal.Balance), nil
}

// StatusFor computes the rank status for a raw balance.
func (s *RankService) StatusFor(balance int64) RankStatus {
	tier := s.Ladder.TierFor(balance)
	status := RankStatus{Tier: tier, Balance: balance}

	next, ok := s.Ladder.Next(tier)
	if !ok {
		// Top of the ladder.
		status.ProgressPercent = 100
		return status
	}
	status.NextTier = &next
	status.PointsToNext = next.MinPoints - balance
	if status.PointsToNext < 0 {
		status.PointsToNext = 0
	}

	span := next.MinPoints - tier.MinPoints
	if span <= 0 {
		// Adjacent tiers sharing a boundary; treat the band as complete.
		status.ProgressPercent = 100
		return status
	}
	pct := float64(balance-tier.MinPoints) / float64(span) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	status.ProgressPercent = pct
	return status
}
