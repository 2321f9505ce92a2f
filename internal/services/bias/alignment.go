package bias

import "github.com/303webhouse/pandoras-box-sub000/internal/domain/models"

// Align reports whether two levels agree in direction. Ordinal 4 and up is
// bullish, 3 and below bearish.
func Align(a, b models.BiasLevel) models.Alignment {
	switch {
	case a.IsBullish() && b.IsBullish():
		return models.AlignedBullish
	case a.IsBearish() && b.IsBearish():
		return models.AlignedBearish
	default:
		return models.Mixed
	}
}
