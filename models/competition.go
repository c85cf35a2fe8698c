package models

import (
	"time"
)

// CompetitionStatus is the lifecycle state of a competition. Transitions
// only move forward: upcoming -> active -> ended.
type CompetitionStatus string

const (
	CompetitionUpcoming CompetitionStatus = "upcoming"
	CompetitionActive   CompetitionStatus = "active"
	CompetitionEnded    CompetitionStatus = "ended"
)

// CompetitionMetric names what participant scores measure.
type CompetitionMetric string

const (
	MetricPointsEarned CompetitionMetric = "points_earned"
	MetricCustomScore  CompetitionMetric = "custom_score"
)

// Competition is a time-boxed leaderboard with its own scoring.
type Competition struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	Slug        string            `gorm:"uniqueIndex;not null" json:"slug"`
	Name        string            `gorm:"not null" json:"name"`
	Description string            `gorm:"type:text" json:"description,omitempty"`
	Metric      CompetitionMetric `gorm:"type:varchar(32);default:'custom_score'" json:"metric"`
	StartTime   time.Time         `gorm:"not null;index" json:"start_time"`
	EndTime     time.Time         `gorm:"not null;index" json:"end_time"`
	Status      CompetitionStatus `gorm:"type:varchar(16);default:'upcoming';index" json:"status"`

	// EndedAt is stamped by the end sweep; once set the participant
	// standings are frozen.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	Timestamps
}

// ParticipantScore is one account's score within one competition. Rows are
// created on join, removed on leave while the competition runs, and frozen
// (with RankPosition filled in) when it ends.
type ParticipantScore struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	CompetitionID string `gorm:"uniqueIndex:idx_competition_account,priority:1;not null" json:"competition_id"`
	AccountID     string `gorm:"uniqueIndex:idx_competition_account,priority:2;not null" json:"account_id"`
	Score         int64  `gorm:"default:0" json:"score"`
	RankPosition  int    `gorm:"default:0" json:"rank_position"` // 0 = not ranked yet

	JoinedAt  time.Time `gorm:"autoCreateTime" json:"joined_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
