package prefs

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/curatrack/curatrack/internal/extract"
)

// Date order constants
const (
	OrderDayFirst   = "dmy"
	OrderMonthFirst = "mdy"
)

// Preferences are the user's durable settings. The core reads them; it never
// writes them.
type Preferences struct {
	// DateOrder resolves ambiguous numeric dates: "dmy" or "mdy"
	DateOrder string `koanf:"date_order"`
	// LeadDays is the default reminder lead time before expiry
	LeadDays int `koanf:"lead_days"`
	// UpcomingDays is the default window for the upcoming-expiry view
	UpcomingDays int `koanf:"upcoming_days"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"date_order":    OrderDayFirst,
		"lead_days":     3,
		"upcoming_days": 14,
	}
}

// Load reads preferences layered as defaults, then the YAML file at path (if
// present), then CURATRACK_-prefixed environment variables.
func Load(path string) (*Preferences, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading preferences file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider("CURATRACK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CURATRACK_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var prefs Preferences
	if err := k.Unmarshal("", &prefs); err != nil {
		return nil, fmt.Errorf("unmarshaling preferences: %w", err)
	}

	if err := prefs.validate(); err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (p *Preferences) validate() error {
	if p.DateOrder != OrderDayFirst && p.DateOrder != OrderMonthFirst {
		return fmt.Errorf("date_order must be %q or %q, got %q", OrderDayFirst, OrderMonthFirst, p.DateOrder)
	}
	if p.LeadDays < 0 {
		return fmt.Errorf("lead_days must not be negative, got %d", p.LeadDays)
	}
	if p.UpcomingDays < 1 {
		return fmt.Errorf("upcoming_days must be at least 1, got %d", p.UpcomingDays)
	}
	return nil
}

// Locale converts the date-order preference into the extractor's locale
func (p *Preferences) Locale() extract.Locale {
	return extract.Locale{DayFirst: p.DateOrder == OrderDayFirst}
}
