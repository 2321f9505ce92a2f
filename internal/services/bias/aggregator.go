package bias

import (
	"sort"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

// EnabledMask maps factor id to enabled. Factors absent from the mask are enabled.
type EnabledMask map[string]bool

func (m EnabledMask) Enabled(factorID string) bool {
	if m == nil {
		return true
	}
	on, ok := m[factorID]
	return !ok || on
}

// Clone returns an independent copy.
func (m EnabledMask) Clone() EnabledMask {
	out := make(EnabledMask, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Aggregator classifies factor votes into a BiasLevel. It holds only
// configuration, so every call is a pure function of its inputs.
type Aggregator struct {
	thresholds map[models.Timeframe]Thresholds
}

func NewAggregator(thresholds map[models.Timeframe]Thresholds) *Aggregator {
	merged := DefaultThresholds()
	for tf, t := range thresholds {
		if t.Major > 0 || t.Minor > 0 {
			merged[tf] = t
		}
	}
	return &Aggregator{thresholds: merged}
}

func (a *Aggregator) Thresholds(tf models.Timeframe) Thresholds {
	if t, ok := a.thresholds[tf]; ok {
		return t
	}
	return a.thresholds[models.Weekly]
}

// Classify sums the votes of enabled factors and maps the sum onto the six
// levels using thresholds scaled by the enabled share of factors.
func (a *Aggregator) Classify(tf models.Timeframe, votes []models.FactorVote, mask EnabledMask) models.ClassifyResult {
	res := models.ClassifyResult{TotalFactors: len(votes)}
	for _, v := range votes {
		if !mask.Enabled(v.FactorID) {
			continue
		}
		res.EnabledCount++
		res.FilteredVote += v.Vote
	}
	res.MajorThreshold, res.MinorThreshold = a.Thresholds(tf).Scale(res.EnabledCount, res.TotalFactors)
	if res.EnabledCount == 0 {
		res.FilteredVote = 0
		res.Level = models.LeanToro
		return res
	}
	res.Level = levelFor(res.FilteredVote, res.MajorThreshold, res.MinorThreshold)
	return res
}

func levelFor(vote, major, minor int) models.BiasLevel {
	switch {
	case vote >= major:
		return models.MajorToro
	case vote >= minor:
		return models.MinorToro
	case vote >= 0:
		// zero resolves bullish
		return models.LeanToro
	case vote > -minor:
		return models.LeanUrsa
	case vote > -major:
		return models.MinorUrsa
	default:
		return models.MajorUrsa
	}
}

// ComputeTrend compares next against prev. A nil prev yields NEW.
func ComputeTrend(prev *models.BiasLevel, next models.BiasLevel) models.Trend {
	if prev == nil || !prev.Valid() {
		return models.TrendNew
	}
	switch {
	case next.Ordinal() > prev.Ordinal():
		return models.TrendImproving
	case next.Ordinal() < prev.Ordinal():
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

// VotesFromFactors converts the details.factors map of a bias update into a
// vote list ordered by factor id.
func VotesFromFactors(factors map[string]models.FactorDetail, mask EnabledMask) []models.FactorVote {
	ids := make([]string, 0, len(factors))
	for id := range factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	votes := make([]models.FactorVote, 0, len(ids))
	for _, id := range ids {
		votes = append(votes, models.FactorVote{
			FactorID: id,
			Vote:     factors[id].VoteValue(),
			Enabled:  mask.Enabled(id),
		})
	}
	return votes
}

// Snapshot builds the next snapshot of a timeframe from the previous one.
// Only the previous level is carried over.
func (a *Aggregator) Snapshot(prev *models.TimeframeBiasSnapshot, tf models.Timeframe, votes []models.FactorVote, mask EnabledMask, at time.Time) models.TimeframeBiasSnapshot {
	marked := make([]models.FactorVote, len(votes))
	for i, v := range votes {
		v.Enabled = mask.Enabled(v.FactorID)
		marked[i] = v
	}
	res := a.Classify(tf, marked, mask)
	return a.snapshotFrom(prev, tf, res.Level, res, marked, at)
}

// SnapshotFromLevel is used when the update carries no factor breakdown and
// the server level is taken as the raw level.
func (a *Aggregator) SnapshotFromLevel(prev *models.TimeframeBiasSnapshot, tf models.Timeframe, level models.BiasLevel, at time.Time) models.TimeframeBiasSnapshot {
	if !level.Valid() {
		level = models.SafeLevel
	}
	return a.snapshotFrom(prev, tf, level, models.ClassifyResult{Level: level}, nil, at)
}

func (a *Aggregator) snapshotFrom(prev *models.TimeframeBiasSnapshot, tf models.Timeframe, level models.BiasLevel, res models.ClassifyResult, votes []models.FactorVote, at time.Time) models.TimeframeBiasSnapshot {
	var prevLevel *models.BiasLevel
	if prev != nil && prev.Level.Valid() {
		l := prev.Level
		prevLevel = &l
	}
	return models.TimeframeBiasSnapshot{
		Timeframe:      tf,
		Level:          level,
		PreviousLevel:  prevLevel,
		Trend:          ComputeTrend(prevLevel, level),
		Votes:          votes,
		Classification: res,
		Timestamp:      at,
	}
}

// Reclassify re-runs classification of cur under a new mask. The snapshot
// still describes the same update, so its previous level is kept.
func (a *Aggregator) Reclassify(cur models.TimeframeBiasSnapshot, mask EnabledMask) models.TimeframeBiasSnapshot {
	if len(cur.Votes) == 0 {
		return cur
	}
	marked := make([]models.FactorVote, len(cur.Votes))
	for i, v := range cur.Votes {
		v.Enabled = mask.Enabled(v.FactorID)
		marked[i] = v
	}
	res := a.Classify(cur.Timeframe, marked, mask)
	out := cur
	out.Votes = marked
	out.Level = res.Level
	out.Classification = res
	out.Trend = ComputeTrend(cur.PreviousLevel, res.Level)
	return out
}
