package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gosimple/slug"
)

// TriggerContext carries the typed metadata of one domain event, used by
// achievement conditions. Attributes holds trigger-family specific keys
// (e.g. "group_id" for group events).
type TriggerContext struct {
	ReferenceType string            `json:"reference_type,omitempty"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

func (c TriggerContext) value(field string) string {
	switch field {
	case "reference_type":
		return c.ReferenceType
	case "reference_id":
		return c.ReferenceID
	default:
		return c.Attributes[field]
	}
}

// Condition is a secondary requirement on the event context. An achievement
// only counts events whose context matches all of its conditions.
type Condition struct {
	Field  string `json:"field" validate:"required"`
	Equals string `json:"equals" validate:"required"`
}

func (cond Condition) Matches(ctx TriggerContext) bool {
	return ctx.value(cond.Field) == cond.Equals
}

// AchievementDefinition is a named unlockable goal: after TriggerName has
// occurred RequiredCount times (counting only condition-matching events),
// the achievement completes and RewardPoints are paid out once.
type AchievementDefinition struct {
	ID            string      `json:"id"`
	Name          string      `json:"name" validate:"required"`
	Description   string      `json:"description"`
	TriggerName   string      `json:"trigger_name" validate:"required"`
	RequiredCount int64       `json:"required_count" validate:"required,gte=1"`
	RewardPoints  int64       `json:"reward_points" validate:"gte=0"`
	Conditions    []Condition `json:"conditions,omitempty"`
}

// UnlockTriggerName is the synthetic once-per-account trigger used to pay
// the completion reward exactly once, even under retried calls.
func (d AchievementDefinition) UnlockTriggerName() string {
	return "achievement_unlocked:" + d.ID
}

func (d AchievementDefinition) MatchesContext(ctx TriggerContext) bool {
	for _, cond := range d.Conditions {
		if !cond.Matches(ctx) {
			return false
		}
	}
	return true
}

// AchievementCatalog is the immutable achievement table, indexed by trigger.
type AchievementCatalog struct {
	byID      map[string]AchievementDefinition
	byTrigger map[string][]AchievementDefinition
	ordered   []AchievementDefinition
}

// NewAchievementCatalog validates definitions, derives missing IDs from the
// name (slugified) and indexes by trigger name.
func NewAchievementCatalog(defs []AchievementDefinition) (*AchievementCatalog, error) {
	c := &AchievementCatalog{
		byID:      make(map[string]AchievementDefinition, len(defs)),
		byTrigger: make(map[string][]AchievementDefinition, len(defs)),
	}
	for _, def := range defs {
		if def.ID == "" {
			def.ID = slug.Make(def.Name)
		}
		if err := triggerValidate.Struct(def); err != nil {
			return nil, fmt.Errorf("invalid achievement %q: %w", def.Name, err)
		}
		for _, cond := range def.Conditions {
			if err := triggerValidate.Struct(cond); err != nil {
				return nil, fmt.Errorf("invalid condition on achievement %q: %w", def.Name, err)
			}
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate achievement id %q", def.ID)
		}
		c.byID[def.ID] = def
		c.byTrigger[def.TriggerName] = append(c.byTrigger[def.TriggerName], def)
		c.ordered = append(c.ordered, def)
	}
	return c, nil
}

// LoadAchievementCatalog reads a JSON array of definitions from path.
func LoadAchievementCatalog(path string) (*AchievementCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read achievement catalog: %w", err)
	}
	var defs []AchievementDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse achievement catalog: %w", err)
	}
	return NewAchievementCatalog(defs)
}

// ByTrigger returns every definition listening on trigger name.
func (c *AchievementCatalog) ByTrigger(name string) []AchievementDefinition {
	return c.byTrigger[name]
}

// ByID returns the definition with the given id.
func (c *AchievementCatalog) ByID(id string) (AchievementDefinition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// All returns every definition in catalog order.
func (c *AchievementCatalog) All() []AchievementDefinition {
	out := make([]AchievementDefinition, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *AchievementCatalog) Len() int { return len(c.ordered) }

// AchievementProgress is the per-account counter for one achievement.
// Counter is monotonically non-decreasing; Completed never reverts.
type AchievementProgress struct {
	AccountID     string     `gorm:"primaryKey" json:"account_id"`
	AchievementID string     `gorm:"primaryKey" json:"achievement_id"`
	Counter       int64      `gorm:"default:0" json:"counter"`
	Completed     bool       `gorm:"default:false;index" json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultAchievements is the built-in catalog used when no catalog file is
// configured.
var DefaultAchievements = []AchievementDefinition{
	{
		Name: "First Post", TriggerName: "post_created",
		RequiredCount: 1, RewardPoints: 20,
		Description: "Published a first post",
	},
	{
		Name: "Storyteller", TriggerName: "post_created",
		RequiredCount: 25, RewardPoints: 100,
		Description: "Published 25 posts",
	},
	{
		Name: "Social Butterfly", TriggerName: "bubble_added",
		RequiredCount: 5, RewardPoints: 150,
		Description: "Added 5 people to a bubble",
	},
	{
		Name: "Conversation Starter", TriggerName: "comment_posted",
		RequiredCount: 50, RewardPoints: 200,
		Description: "Posted 50 comments",
	},
	{
		Name: "Recruiter", TriggerName: "friend_invited",
		RequiredCount: 5, RewardPoints: 250,
		Description: "Invited 5 friends",
	},
}

// DefaultAchievementCatalog returns the built-in catalog.
func DefaultAchievementCatalog() *AchievementCatalog {
	catalog, err := NewAchievementCatalog(DefaultAchievements)
	if err != nil {
		panic(err)
	}
	return catalog
}
