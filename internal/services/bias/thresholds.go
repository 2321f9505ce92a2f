package bias

import (
	"math"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
)

// Thresholds are the unscaled major/minor vote thresholds of a timeframe.
type Thresholds struct {
	Major int
	Minor int
}

// DefaultThresholds are 8/4 for daily and 7/3 for weekly and cyclical.
func DefaultThresholds() map[models.Timeframe]Thresholds {
	return map[models.Timeframe]Thresholds{
		models.Daily:    {Major: 8, Minor: 4},
		models.Weekly:   {Major: 7, Minor: 3},
		models.Cyclical: {Major: 7, Minor: 3},
	}
}

// ThresholdsFromConfig reads the per-timeframe thresholds from cfg.
func ThresholdsFromConfig(cfg *config.Config) map[models.Timeframe]Thresholds {
	return map[models.Timeframe]Thresholds{
		models.Daily:    {Major: cfg.Bias.Daily.Major, Minor: cfg.Bias.Daily.Minor},
		models.Weekly:   {Major: cfg.Bias.Weekly.Major, Minor: cfg.Bias.Weekly.Minor},
		models.Cyclical: {Major: cfg.Bias.Cyclical.Major, Minor: cfg.Bias.Cyclical.Minor},
	}
}

// Scale multiplies both thresholds by enabled/total and rounds half away from
// zero. Results are clamped to at least 1 so a zero vote always lands on
// LEAN_TORO.
func (t Thresholds) Scale(enabled, total int) (major, minor int) {
	if total <= 0 || enabled >= total {
		return atLeastOne(t.Major), atLeastOne(t.Minor)
	}
	scale := float64(enabled) / float64(total)
	major = atLeastOne(int(math.Round(float64(t.Major) * scale)))
	minor = atLeastOne(int(math.Round(float64(t.Minor) * scale)))
	if minor > major {
		minor = major
	}
	return major, minor
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
