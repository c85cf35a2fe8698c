package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// RankTier is one step of the progression ladder. An account's rank is the
// highest tier whose MinPoints <= balance.
type RankTier struct {
	Ordinal   int    `json:"ordinal"`
	MinPoints int64  `json:"min_points" validate:"gte=0"`
	Label     string `json:"label" validate:"required"`
}

// RankLadder is the ordered tier table, immutable after construction.
type RankLadder struct {
	tiers []RankTier
}

// NewRankLadder sorts tiers by MinPoints, assigns ordinals and validates
// that the ladder starts at zero so every balance maps to a tier.
func NewRankLadder(tiers []RankTier) (*RankLadder, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("rank ladder is empty")
	}
	sorted := make([]RankTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPoints < sorted[j].MinPoints })
	if sorted[0].MinPoints != 0 {
		return nil, fmt.Errorf("lowest rank tier must start at 0 points, got %d", sorted[0].MinPoints)
	}
	for i := range sorted {
		if err := triggerValidate.Struct(sorted[i]); err != nil {
			return nil, fmt.Errorf("invalid rank tier %q: %w", sorted[i].Label, err)
		}
		if i > 0 && sorted[i].MinPoints == sorted[i-1].MinPoints {
			return nil, fmt.Errorf("rank tiers %q and %q share min points %d",
				sorted[i-1].Label, sorted[i].Label, sorted[i].MinPoints)
		}
		sorted[i].Ordinal = i
	}
	return &RankLadder{tiers: sorted}, nil
}

// LoadRankLadder reads a JSON array of rank tiers from path.
func LoadRankLadder(path string) (*RankLadder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rank ladder: %w", err)
	}
	var tiers []RankTier
	if err := json.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("parse rank ladder: %w", err)
	}
	return NewRankLadder(tiers)
}

// TierFor returns the highest tier whose MinPoints <= balance.
func (l *RankLadder) TierFor(balance int64) RankTier {
	// Ladder is small; a linear scan from the top is fine.
	for i := len(l.tiers) - 1; i > 0; i-- {
		if balance >= l.tiers[i].MinPoints {
			return l.tiers[i]
		}
	}
	return l.tiers[0]
}

// Next returns the tier after t in ordinal order, if any.
func (l *RankLadder) Next(t RankTier) (RankTier, bool) {
	if t.Ordinal+1 >= len(l.tiers) {
		return RankTier{}, false
	}
	return l.tiers[t.Ordinal+1], true
}

func (l *RankLadder) Tiers() []RankTier {
	out := make([]RankTier, len(l.tiers))
	copy(out, l.tiers)
	return out
}

// DefaultRankLadder returns the built-in progression ladder.
func DefaultRankLadder() *RankLadder {
	ladder, err := NewRankLadder([]RankTier{
		{MinPoints: 0, Label: "Rookie"},
		{MinPoints: 100, Label: "Bronze"},
		{MinPoints: 500, Label: "Silver"},
		{MinPoints: 1500, Label: "Gold"},
		{MinPoints: 5000, Label: "Platinum"},
		{MinPoints: 15000, Label: "Diamond"},
		{MinPoints: 50000, Label: "Legend"},
	})
	if err != nil {
		panic(err)
	}
	return ladder
}
