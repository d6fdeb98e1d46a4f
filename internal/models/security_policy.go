package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// HourWindow restricts capability invocations to certain hours and weekdays,
// evaluated in the window's own timezone. StartHour is inclusive, EndHour is
// exclusive. A window where StartHour > EndHour spans midnight.
type HourWindow struct {
	StartHour int
	EndHour   int
	Days      []time.Weekday // empty means every day
	Timezone  string         // IANA name, e.g. "Australia/Melbourne"
}

// Contains reports whether t falls inside the window.
func (w *HourWindow) Contains(t time.Time) (bool, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid policy timezone %q: %w", w.Timezone, err)
	}

	local := t.In(loc)
	if len(w.Days) > 0 && !slices.Contains(w.Days, local.Weekday()) {
		return false, nil
	}

	hour := local.Hour()
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour, nil
	}
	// Overnight window, e.g. 22-06.
	return hour >= w.StartHour || hour < w.EndHour, nil
}

// SecurityPolicy is an organization's automation policy. One row per org,
// created with safe defaults at tenant provisioning and read on every
// capability check.
type SecurityPolicy struct {
	OrgID                  uuid.UUID
	AllowedChannels        []string    // channel types the org accepts messages from
	AllowedHours           *HourWindow // nil means no time restriction
	RatePerMinute          int
	RatePerDay             int
	AllowBrowserAutomation bool
	AllowShellAutomation   bool
	RetentionDays          int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DefaultSecurityPolicy returns the policy applied to newly provisioned
// organizations.
func DefaultSecurityPolicy(orgID uuid.UUID) *SecurityPolicy {
	now := time.Now()
	return &SecurityPolicy{
		OrgID:                  orgID,
		AllowedChannels:        []string{"whatsapp", "telegram", "email"},
		AllowedHours:           nil,
		RatePerMinute:          20,
		RatePerDay:             500,
		AllowBrowserAutomation: false,
		AllowShellAutomation:   false,
		RetentionDays:          90,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}
