package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTriggerCatalogFillsDefaults(t *testing.T) {
	catalog, err := NewTriggerCatalog([]TriggerDefinition{
		{Name: "post_created", Points: 10},
	})
	require.NoError(t, err)

	def, ok := catalog.Lookup("post_created")
	require.True(t, ok)
	assert.Equal(t, DefaultCategory, def.Category)
	assert.Equal(t, "Post Created", def.Label)
}

func TestNewTriggerCatalogRejectsInvalidEntries(t *testing.T) {
	_, err := NewTriggerCatalog([]TriggerDefinition{{Name: "", Points: 10}})
	assert.Error(t, err)

	_, err = NewTriggerCatalog([]TriggerDefinition{{Name: "broken", Points: 0}})
	assert.Error(t, err)

	_, err = NewTriggerCatalog([]TriggerDefinition{{Name: "negative", Points: -5}})
	assert.Error(t, err)

	_, err = NewTriggerCatalog([]TriggerDefinition{
		{Name: "dup", Points: 1},
		{Name: "dup", Points: 2},
	})
	assert.Error(t, err)
}

func TestLoadTriggerCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "custom_event", "points": 7, "daily_limit": 2}
	]`), 0o644))

	catalog, err := LoadTriggerCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())

	def, ok := catalog.Lookup("custom_event")
	require.True(t, ok)
	assert.Equal(t, int64(7), def.Points)
	assert.Equal(t, 2, def.DailyLimit)

	_, err = LoadTriggerCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDefaultTriggerCatalogIsValid(t *testing.T) {
	catalog := DefaultTriggerCatalog()
	assert.Equal(t, len(DefaultTriggers), catalog.Len())
}
