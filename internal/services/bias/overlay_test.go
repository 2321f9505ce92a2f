package bias

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

var allLevels = []models.BiasLevel{
	models.MajorUrsa, models.MinorUrsa, models.LeanUrsa,
	models.LeanToro, models.MinorToro, models.MajorToro,
}

func TestApplyPersonal(t *testing.T) {
	assert.Equal(t, models.MinorToro, ApplyPersonal(models.LeanToro, models.PersonalToro, true))
	assert.Equal(t, models.LeanUrsa, ApplyPersonal(models.LeanToro, models.PersonalUrsa, true))
	assert.Equal(t, models.MajorToro, ApplyPersonal(models.MajorToro, models.PersonalToro, true))
	assert.Equal(t, models.MajorUrsa, ApplyPersonal(models.MajorUrsa, models.PersonalUrsa, true))

	for _, lvl := range allLevels {
		assert.Equal(t, lvl, ApplyPersonal(lvl, models.PersonalNeutral, true))
		assert.Equal(t, lvl, ApplyPersonal(lvl, models.PersonalToro, false))
		assert.Equal(t, lvl, ApplyPersonal(lvl, models.PersonalUrsa, false))
	}
}

func TestEffectiveTradingBias_Override(t *testing.T) {
	now := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)
	p := models.DefaultPersonalBiasState()
	p.OverrideActive = true
	p.OverrideDirection = models.MajorUrsa
	p.OverrideReason = "FOMC"
	p.OverrideExpiresAt = now.Add(24 * time.Hour)

	in := TradingInputs{Composite: models.MajorToro}
	tb := EffectiveTradingBias(p, in, now)
	assert.True(t, tb.IsOverride)
	assert.Equal(t, models.MajorUrsa, tb.Level)
	assert.Equal(t, "FOMC", tb.Reason)
	require.NotNil(t, tb.ExpiresAt)
	assert.Equal(t, p.OverrideExpiresAt, *tb.ExpiresAt)

	// past expiry the override is ignored even before the poll clears it
	tb = EffectiveTradingBias(p, in, now.Add(25*time.Hour))
	assert.False(t, tb.IsOverride)
	assert.Equal(t, models.MajorToro, tb.Level)
}

func TestEffectiveTradingBias_Fallbacks(t *testing.T) {
	now := time.Now()
	p := models.DefaultPersonalBiasState()

	tb := EffectiveTradingBias(p, TradingInputs{}, now)
	assert.Equal(t, models.LeanToro, tb.Level)
	assert.Equal(t, "default", tb.Source)

	tb = EffectiveTradingBias(p, TradingInputs{Effective: map[models.Timeframe]models.BiasLevel{
		models.Weekly:   models.MinorUrsa,
		models.Cyclical: models.MajorToro,
	}}, now)
	assert.Equal(t, models.MinorUrsa, tb.Level)
	assert.Equal(t, "weekly", tb.Source)

	tb = EffectiveTradingBias(p, TradingInputs{Effective: map[models.Timeframe]models.BiasLevel{
		models.Daily:  models.LeanUrsa,
		models.Weekly: models.MinorUrsa,
	}}, now)
	assert.Equal(t, models.LeanUrsa, tb.Level)
	assert.Equal(t, "daily", tb.Source)
}

func TestExpireOverride(t *testing.T) {
	now := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)
	p := models.DefaultPersonalBiasState()
	p.OverrideActive = true
	p.OverrideDirection = models.MajorToro
	p.OverrideReason = "CPI"
	p.OverrideExpiresAt = now.Add(time.Hour)

	assert.False(t, ExpireOverride(&p, now))
	assert.True(t, p.OverrideActive)

	assert.True(t, ExpireOverride(&p, now.Add(time.Hour)))
	assert.False(t, p.OverrideActive)
	assert.Equal(t, models.BiasLevel(0), p.OverrideDirection)
	assert.Empty(t, p.OverrideReason)

	assert.False(t, ExpireOverride(&p, now.Add(2*time.Hour)))
}

func TestResolve(t *testing.T) {
	lvl := func(l models.BiasLevel) *models.BiasLevel { return &l }

	r := Resolve(models.LeanToro, lvl(models.MinorToro))
	assert.True(t, r.IsBoost)
	assert.False(t, r.IsDrag)
	assert.Equal(t, models.MinorToro, r.Effective)
	assert.True(t, r.ShowModifier())

	r = Resolve(models.LeanToro, lvl(models.LeanUrsa))
	assert.True(t, r.IsDrag)
	assert.Equal(t, models.LeanUrsa, r.Effective)

	r = Resolve(models.MinorUrsa, lvl(models.MinorUrsa))
	assert.False(t, r.ShowModifier())

	r = Resolve(models.MinorUrsa, nil)
	assert.Equal(t, models.MinorUrsa, r.Effective)
	assert.False(t, r.ShowModifier())

	r = ResolveTimeframe(models.Cyclical, models.MinorUrsa, lvl(models.MajorToro))
	assert.Equal(t, models.MinorUrsa, r.Effective)
	assert.False(t, r.ShowModifier())

	// large jumps are accepted as-is
	r = ResolveTimeframe(models.Daily, models.MajorUrsa, lvl(models.MajorToro))
	assert.Equal(t, models.MajorToro, r.Effective)
	assert.True(t, r.IsBoost)
}

func TestAlign(t *testing.T) {
	for _, lvl := range allLevels {
		assert.NotEqual(t, models.Mixed, Align(lvl, lvl), lvl.String())
	}
	assert.Equal(t, models.AlignedBullish, Align(models.LeanToro, models.MajorToro))
	assert.Equal(t, models.AlignedBearish, Align(models.LeanUrsa, models.MajorUrsa))
	assert.Equal(t, models.Mixed, Align(models.LeanToro, models.LeanUrsa))
	assert.Equal(t, models.Mixed, Align(models.MajorUrsa, models.MinorToro))
}
