package models

import (
	"strings"
	"time"
)

type PersonalDirection string

const (
	PersonalNeutral PersonalDirection = "NEUTRAL"
	PersonalToro    PersonalDirection = "TORO"
	PersonalUrsa    PersonalDirection = "URSA"
)

func ParsePersonalDirection(s string) (PersonalDirection, bool) {
	switch PersonalDirection(strings.ToUpper(strings.TrimSpace(s))) {
	case PersonalNeutral, "":
		return PersonalNeutral, true
	case PersonalToro:
		return PersonalToro, true
	case PersonalUrsa:
		return PersonalUrsa, true
	}
	return "", false
}

// AppliesTo selects the timeframes a personal lean is applied to.
type AppliesTo struct {
	Daily    bool `json:"daily"`
	Weekly   bool `json:"weekly"`
	Cyclical bool `json:"cyclical"`
}

func (a AppliesTo) For(tf Timeframe) bool {
	switch tf {
	case Daily:
		return a.Daily
	case Weekly:
		return a.Weekly
	case Cyclical:
		return a.Cyclical
	}
	return false
}

// PersonalBiasState is the trader's manual lean plus an optional timed override.
type PersonalBiasState struct {
	Direction         PersonalDirection `json:"direction"`
	OverrideActive    bool              `json:"override_active"`
	OverrideDirection BiasLevel         `json:"override_direction,omitempty"`
	OverrideReason    string            `json:"override_reason,omitempty"`
	OverrideExpiresAt time.Time         `json:"override_expires_at,omitempty"`
	AppliesTo         AppliesTo         `json:"applies_to"`
}

// DefaultPersonalBiasState is neutral, no override, applied to daily and weekly.
func DefaultPersonalBiasState() PersonalBiasState {
	return PersonalBiasState{
		Direction: PersonalNeutral,
		AppliesTo: AppliesTo{Daily: true, Weekly: true},
	}
}

// OverrideLive reports whether the override is active and not yet expired at now.
func (p PersonalBiasState) OverrideLive(now time.Time) bool {
	if !p.OverrideActive {
		return false
	}
	return p.OverrideExpiresAt.IsZero() || now.Before(p.OverrideExpiresAt)
}
