package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultCategory is the point category used when a trigger does not name one.
const DefaultCategory = "points"

// TriggerDefinition is one entry of the trigger catalog: a named reason
// points may be awarded, together with its payout policy.
type TriggerDefinition struct {
	Name     string `json:"name" validate:"required"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Points   int64  `json:"points" validate:"required,gt=0"`

	// Once restricts the trigger to a single lifetime application per account.
	Once bool `json:"once"`
	// DailyLimit caps applications per account per local calendar day. 0 = unlimited.
	DailyLimit int `json:"daily_limit" validate:"gte=0"`
	// MaxLifetime caps total applications per account. 0 = unlimited.
	MaxLifetime int `json:"max_lifetime" validate:"gte=0"`
}

// TriggerCatalog is the immutable trigger table, loaded once at startup.
type TriggerCatalog struct {
	byName map[string]TriggerDefinition
}

var triggerValidate = validator.New()

var labelCaser = cases.Title(language.English)

// NewTriggerCatalog builds a catalog from definitions, validating each entry
// and filling in defaults (category, derived label).
func NewTriggerCatalog(defs []TriggerDefinition) (*TriggerCatalog, error) {
	byName := make(map[string]TriggerDefinition, len(defs))
	for _, def := range defs {
		if err := triggerValidate.Struct(def); err != nil {
			return nil, fmt.Errorf("invalid trigger %q: %w", def.Name, err)
		}
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate trigger %q", def.Name)
		}
		if def.Category == "" {
			def.Category = DefaultCategory
		}
		if def.Label == "" {
			def.Label = labelCaser.String(strings.ReplaceAll(def.Name, "_", " "))
		}
		byName[def.Name] = def
	}
	return &TriggerCatalog{byName: byName}, nil
}

// LoadTriggerCatalog reads a JSON array of trigger definitions from path.
func LoadTriggerCatalog(path string) (*TriggerCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger catalog: %w", err)
	}
	var defs []TriggerDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse trigger catalog: %w", err)
	}
	return NewTriggerCatalog(defs)
}

// Lookup returns the definition for name. Unknown names return ok=false;
// callers treat that as a no-op, not an error.
func (c *TriggerCatalog) Lookup(name string) (TriggerDefinition, bool) {
	def, ok := c.byName[name]
	return def, ok
}

// Names returns all catalog trigger names (unordered).
func (c *TriggerCatalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	return names
}

func (c *TriggerCatalog) Len() int { return len(c.byName) }

// DefaultTriggers is the built-in catalog used when no catalog file is
// configured.
var DefaultTriggers = []TriggerDefinition{
	{Name: "account_activated", Points: 50, Once: true},
	{Name: "profile_completed", Points: 25, Once: true},
	{Name: "post_created", Points: 10, DailyLimit: 5},
	{Name: "comment_posted", Points: 5, DailyLimit: 10},
	{Name: "post_liked", Points: 2, DailyLimit: 20},
	{Name: "bubble_added", Points: 5, DailyLimit: 10},
	{Name: "friend_invited", Points: 20, MaxLifetime: 50},
	{Name: "daily_visit", Points: 5, DailyLimit: 1},
}

// DefaultTriggerCatalog returns the built-in catalog. It panics only on a
// broken built-in table, which is a programming error.
func DefaultTriggerCatalog() *TriggerCatalog {
	catalog, err := NewTriggerCatalog(DefaultTriggers)
	if err != nil {
		panic(err)
	}
	return catalog
}
