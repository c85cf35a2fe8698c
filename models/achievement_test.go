package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAchievementCatalogDerivesIDs(t *testing.T) {
	catalog, err := NewAchievementCatalog([]AchievementDefinition{
		{Name: "Social Butterfly", TriggerName: "bubble_added", RequiredCount: 5},
	})
	require.NoError(t, err)

	def, ok := catalog.ByID("social-butterfly")
	require.True(t, ok)
	assert.Equal(t, "achievement_unlocked:social-butterfly", def.UnlockTriggerName())

	listening := catalog.ByTrigger("bubble_added")
	require.Len(t, listening, 1)
	assert.Equal(t, "social-butterfly", listening[0].ID)
	assert.Empty(t, catalog.ByTrigger("something_else"))
}

func TestNewAchievementCatalogValidates(t *testing.T) {
	_, err := NewAchievementCatalog([]AchievementDefinition{
		{Name: "", TriggerName: "x", RequiredCount: 1},
	})
	assert.Error(t, err)

	_, err = NewAchievementCatalog([]AchievementDefinition{
		{Name: "No Trigger", TriggerName: "", RequiredCount: 1},
	})
	assert.Error(t, err)

	_, err = NewAchievementCatalog([]AchievementDefinition{
		{Name: "Zero Count", TriggerName: "x", RequiredCount: 0},
	})
	assert.Error(t, err)

	_, err = NewAchievementCatalog([]AchievementDefinition{
		{Name: "Twin", TriggerName: "x", RequiredCount: 1},
		{Name: "Twin", TriggerName: "y", RequiredCount: 1},
	})
	assert.Error(t, err)
}

func TestConditionMatching(t *testing.T) {
	ctx := TriggerContext{
		ReferenceType: "post",
		ReferenceID:   "p-1",
		Attributes:    map[string]string{"post_type": "photo"},
	}

	assert.True(t, Condition{Field: "post_type", Equals: "photo"}.Matches(ctx))
	assert.False(t, Condition{Field: "post_type", Equals: "text"}.Matches(ctx))
	assert.True(t, Condition{Field: "reference_type", Equals: "post"}.Matches(ctx))
	assert.False(t, Condition{Field: "missing", Equals: "anything"}.Matches(ctx))

	def := AchievementDefinition{
		Name: "Photographer", TriggerName: "post_created", RequiredCount: 1,
		Conditions: []Condition{
			{Field: "post_type", Equals: "photo"},
			{Field: "reference_type", Equals: "post"},
		},
	}
	assert.True(t, def.MatchesContext(ctx))

	ctx.Attributes["post_type"] = "text"
	assert.False(t, def.MatchesContext(ctx))

	// No conditions means every event matches.
	assert.True(t, AchievementDefinition{}.MatchesContext(TriggerContext{}))
}
