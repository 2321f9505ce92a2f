package models

import (
	"encoding/json"
	"strings"
	"time"
)

// BiasLevel is one of six ordered directional classifications. Ordinals are
// fixed: 1 (MAJOR_URSA) .. 6 (MAJOR_TORO). Zero is "unset".
type BiasLevel int

const (
	MajorUrsa BiasLevel = iota + 1
	MinorUrsa
	LeanUrsa
	LeanToro
	MinorToro
	MajorToro
)

// SafeLevel is the neutral-leaning fallback used whenever a level cannot be
// parsed or computed.
const SafeLevel = LeanToro

var biasLevelNames = map[BiasLevel]string{
	MajorUrsa: "MAJOR_URSA",
	MinorUrsa: "MINOR_URSA",
	LeanUrsa:  "LEAN_URSA",
	LeanToro:  "LEAN_TORO",
	MinorToro: "MINOR_TORO",
	MajorToro: "MAJOR_TORO",
}

func (l BiasLevel) String() string {
	if s, ok := biasLevelNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

func (l BiasLevel) Ordinal() int { return int(l) }

func (l BiasLevel) Valid() bool { return l >= MajorUrsa && l <= MajorToro }

// IsBullish covers LEAN_TORO through MAJOR_TORO.
func (l BiasLevel) IsBullish() bool { return l.Valid() && l >= LeanToro }

// IsBearish covers MAJOR_URSA through LEAN_URSA.
func (l BiasLevel) IsBearish() bool { return l.Valid() && l <= LeanUrsa }

// LevelFromOrdinal clamps n into [1,6].
func LevelFromOrdinal(n int) BiasLevel {
	if n < int(MajorUrsa) {
		return MajorUrsa
	}
	if n > int(MajorToro) {
		return MajorToro
	}
	return BiasLevel(n)
}

// ParseBiasLevel accepts MAJOR_TORO style names, the reversed TORO_MAJOR
// form, and ordinals "1".."6". Matching is case-insensitive.
func ParseBiasLevel(s string) (BiasLevel, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if len(norm) == 1 && norm[0] >= '1' && norm[0] <= '6' {
		return BiasLevel(norm[0] - '0'), true
	}
	for lvl, name := range biasLevelNames {
		if norm == name {
			return lvl, true
		}
		if head, tail, ok := strings.Cut(name, "_"); ok && norm == tail+"_"+head {
			return lvl, true
		}
	}
	return 0, false
}

func (l BiasLevel) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON never fails: unknown strings decode to SafeLevel, null stays unset.
func (l *BiasLevel) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err := json.Unmarshal(b, &n); err == nil && n >= 1 && n <= 6 {
			*l = BiasLevel(n)
			return nil
		}
		*l = SafeLevel
		return nil
	}
	if lvl, ok := ParseBiasLevel(s); ok {
		*l = lvl
		return nil
	}
	*l = SafeLevel
	return nil
}

type Timeframe string

const (
	Daily    Timeframe = "daily"
	Weekly   Timeframe = "weekly"
	Cyclical Timeframe = "cyclical"
)

// Timeframes lists timeframes from the top of the hierarchy down.
var Timeframes = []Timeframe{Cyclical, Weekly, Daily}

func ParseTimeframe(s string) (Timeframe, bool) {
	switch Timeframe(strings.ToLower(strings.TrimSpace(s))) {
	case Daily:
		return Daily, true
	case Weekly:
		return Weekly, true
	case Cyclical:
		return Cyclical, true
	}
	return "", false
}

type Trend string

const (
	TrendNew       Trend = "NEW"
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendStable    Trend = "STABLE"
)

type FactorVote struct {
	FactorID string `json:"factor_id"`
	Vote     int    `json:"vote"`
	Enabled  bool   `json:"enabled"`
}

// ClassifyResult is the output of one aggregation pass.
type ClassifyResult struct {
	Level          BiasLevel `json:"level"`
	FilteredVote   int       `json:"filtered_vote"`
	EnabledCount   int       `json:"enabled_count"`
	TotalFactors   int       `json:"total_factors"`
	MajorThreshold int       `json:"major_threshold"`
	MinorThreshold int       `json:"minor_threshold"`
}

// TimeframeBiasSnapshot is the classified state of one timeframe. Only the
// previous level survives a new update.
type TimeframeBiasSnapshot struct {
	Timeframe       Timeframe      `json:"timeframe"`
	Level           BiasLevel      `json:"level"`
	PreviousLevel   *BiasLevel     `json:"previous_level"`
	Trend           Trend          `json:"trend"`
	Votes           []FactorVote   `json:"votes"`
	Classification  ClassifyResult `json:"classification"`
	ServerLevel     BiasLevel      `json:"server_level,omitempty"`
	ServerEffective *BiasLevel     `json:"server_effective,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Resolution is the hierarchical-modifier verdict for one timeframe.
type Resolution struct {
	Raw       BiasLevel `json:"raw"`
	Effective BiasLevel `json:"effective"`
	IsBoost   bool      `json:"is_boost"`
	IsDrag    bool      `json:"is_drag"`
}

// ShowModifier is false when the effective level equals the raw one.
func (r Resolution) ShowModifier() bool { return r.IsBoost || r.IsDrag }

type Alignment string

const (
	AlignedBullish Alignment = "ALIGNED_BULLISH"
	AlignedBearish Alignment = "ALIGNED_BEARISH"
	Mixed          Alignment = "MIXED"
)

// TimeframeView is what the presentation layer reads for one timeframe.
type TimeframeView struct {
	Snapshot   TimeframeBiasSnapshot `json:"snapshot"`
	Resolution Resolution            `json:"resolution"`
	Effective  BiasLevel             `json:"effective"`
	Personal   bool                  `json:"personal_applied"`
}

// BiasShift is the server's trend-versus-daily-baseline report, passed through opaque.
type BiasShift map[string]interface{}

// BiasStatus is the server's composite/timeframe bias response.
type BiasStatus struct {
	Composite  BiasLevel                    `json:"composite_level"`
	Timeframes map[string]BiasUpdatePayload `json:"timeframes"`
	UpdatedAt  string                       `json:"updated_at"`
}

type TradingBias struct {
	Level      BiasLevel  `json:"level"`
	IsOverride bool       `json:"is_override"`
	Reason     string     `json:"reason,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Source     string     `json:"source"`
}

type BiasBoardSnapshot struct {
	Timeframes     map[Timeframe]TimeframeView   `json:"timeframes"`
	Personal       PersonalBiasState             `json:"personal"`
	Trading        TradingBias                   `json:"trading"`
	DailyWeekly    Alignment                     `json:"daily_weekly_alignment"`
	WeeklyCyclical Alignment                     `json:"weekly_cyclical_alignment"`
	Composite      BiasLevel                     `json:"composite,omitempty"`
	Shift          BiasShift                     `json:"shift,omitempty"`
	FactorMasks    map[Timeframe]map[string]bool `json:"factor_masks,omitempty"`
	Stale          bool                          `json:"stale"`
	UpdatedAt      time.Time                     `json:"updated_at"`
}

// BiasShiftEvent is published when a timeframe changes level.
type BiasShiftEvent struct {
	Timeframe Timeframe `json:"timeframe"`
	From      BiasLevel `json:"from"`
	To        BiasLevel `json:"to"`
	Trend     Trend     `json:"trend"`
	Vote      int       `json:"filtered_vote"`
	At        time.Time `json:"at"`
}
