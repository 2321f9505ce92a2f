package bias

import (
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

// ApplyPersonal shifts raw one step toward the personal direction when it
// applies, clamping to [MAJOR_URSA, MAJOR_TORO].
func ApplyPersonal(raw models.BiasLevel, dir models.PersonalDirection, applies bool) models.BiasLevel {
	if !applies {
		return raw
	}
	switch dir {
	case models.PersonalToro:
		return models.LevelFromOrdinal(raw.Ordinal() + 1)
	case models.PersonalUrsa:
		return models.LevelFromOrdinal(raw.Ordinal() - 1)
	default:
		return raw
	}
}

// TradingInputs are the computed levels EffectiveTradingBias falls back on.
// Zero values mean unknown.
type TradingInputs struct {
	Composite models.BiasLevel
	Effective map[models.Timeframe]models.BiasLevel
}

// EffectiveTradingBias returns the live override if any, otherwise the
// composite, then the daily, weekly and cyclical effective levels in turn.
func EffectiveTradingBias(p models.PersonalBiasState, in TradingInputs, now time.Time) models.TradingBias {
	if p.OverrideLive(now) && p.OverrideDirection.Valid() {
		tb := models.TradingBias{
			Level:      p.OverrideDirection,
			IsOverride: true,
			Reason:     p.OverrideReason,
			Source:     "override",
		}
		if !p.OverrideExpiresAt.IsZero() {
			exp := p.OverrideExpiresAt
			tb.ExpiresAt = &exp
		}
		return tb
	}
	if in.Composite.Valid() {
		return models.TradingBias{Level: in.Composite, Source: "composite"}
	}
	for _, tf := range []models.Timeframe{models.Daily, models.Weekly, models.Cyclical} {
		if lvl := in.Effective[tf]; lvl.Valid() {
			return models.TradingBias{Level: lvl, Source: string(tf)}
		}
	}
	return models.TradingBias{Level: models.SafeLevel, Source: "default"}
}

// ValidOverrideDirection reports whether lvl may be used as an override.
func ValidOverrideDirection(lvl models.BiasLevel) bool {
	return lvl == models.MajorToro || lvl == models.MajorUrsa
}

// ExpireOverride clears an override whose expiry has passed. It reports
// whether the state changed.
func ExpireOverride(p *models.PersonalBiasState, now time.Time) bool {
	if !p.OverrideActive || p.OverrideLive(now) {
		return false
	}
	p.OverrideActive = false
	p.OverrideDirection = 0
	p.OverrideReason = ""
	p.OverrideExpiresAt = time.Time{}
	return true
}
