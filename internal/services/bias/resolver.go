package bias

import "github.com/303webhouse/pandoras-box-sub000/internal/domain/models"

// Resolve classifies the server-supplied effective level against raw. The
// effective value is accepted as-is; only its direction relative to raw is
// derived here. A nil or invalid effective means no modifier.
func Resolve(raw models.BiasLevel, effective *models.BiasLevel) models.Resolution {
	res := models.Resolution{Raw: raw, Effective: raw}
	if effective == nil || !effective.Valid() {
		return res
	}
	res.Effective = *effective
	res.IsBoost = effective.Ordinal() > raw.Ordinal()
	res.IsDrag = effective.Ordinal() < raw.Ordinal()
	return res
}

// ResolveTimeframe applies Resolve with the hierarchy rule that cyclical has
// no modifier source.
func ResolveTimeframe(tf models.Timeframe, raw models.BiasLevel, effective *models.BiasLevel) models.Resolution {
	if tf == models.Cyclical {
		return Resolve(raw, nil)
	}
	return Resolve(raw, effective)
}
