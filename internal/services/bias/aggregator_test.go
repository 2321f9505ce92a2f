package bias

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

func weeklyVotes() []models.FactorVote {
	return []models.FactorVote{
		{FactorID: "index_trends", Vote: 2},
		{FactorID: "dollar_trend", Vote: 2},
		{FactorID: "sector_rotation", Vote: 1},
		{FactorID: "credit_spreads", Vote: 1},
		{FactorID: "market_breadth", Vote: 1},
		{FactorID: "vix_term_structure", Vote: 0},
	}
}

func TestClassify_WeeklyExample(t *testing.T) {
	agg := NewAggregator(nil)

	res := agg.Classify(models.Weekly, weeklyVotes(), nil)
	assert.Equal(t, 7, res.FilteredVote)
	assert.Equal(t, 6, res.EnabledCount)
	assert.Equal(t, 7, res.MajorThreshold)
	assert.Equal(t, 3, res.MinorThreshold)
	assert.Equal(t, models.MajorToro, res.Level)

	res = agg.Classify(models.Weekly, weeklyVotes(), EnabledMask{"vix_term_structure": false})
	assert.Equal(t, 7, res.FilteredVote)
	assert.Equal(t, 5, res.EnabledCount)
	assert.Equal(t, 6, res.MajorThreshold)
	assert.Equal(t, 3, res.MinorThreshold) // round(2.5) = 3
	assert.Equal(t, models.MajorToro, res.Level)
}

func TestClassify_Ladder(t *testing.T) {
	agg := NewAggregator(nil)
	votes := func(v int) []models.FactorVote {
		return []models.FactorVote{{FactorID: "a", Vote: v}}
	}
	cases := []struct {
		tf   models.Timeframe
		vote int
		want models.BiasLevel
	}{
		{models.Daily, 8, models.MajorToro},
		{models.Daily, 7, models.MinorToro},
		{models.Daily, 4, models.MinorToro},
		{models.Daily, 3, models.LeanToro},
		{models.Daily, 0, models.LeanToro},
		{models.Daily, -1, models.LeanUrsa},
		{models.Daily, -3, models.LeanUrsa},
		{models.Daily, -4, models.MinorUrsa},
		{models.Daily, -7, models.MinorUrsa},
		{models.Daily, -8, models.MajorUrsa},
		{models.Weekly, 7, models.MajorToro},
		{models.Weekly, 3, models.MinorToro},
		{models.Weekly, -3, models.MinorUrsa},
		{models.Weekly, -7, models.MajorUrsa},
		{models.Cyclical, 2, models.LeanToro},
		{models.Cyclical, -2, models.LeanUrsa},
	}
	for _, c := range cases {
		got := agg.Classify(c.tf, votes(c.vote), nil)
		assert.Equal(t, c.want, got.Level, "%s vote=%d", c.tf, c.vote)
	}
}

func TestClassify_ZeroIsLeanToro(t *testing.T) {
	agg := NewAggregator(nil)
	for _, tf := range models.Timeframes {
		for n := 1; n <= 8; n++ {
			votes := make([]models.FactorVote, 0, n+1)
			for i := 0; i < n; i++ {
				votes = append(votes, models.FactorVote{FactorID: string(rune('a' + i)), Vote: 0})
			}
			// one disabled factor with a large vote shrinks the thresholds
			votes = append(votes, models.FactorVote{FactorID: "off", Vote: -9})
			res := agg.Classify(tf, votes, EnabledMask{"off": false})
			require.Equal(t, 0, res.FilteredVote)
			assert.Equal(t, models.LeanToro, res.Level, "%s n=%d", tf, n)
		}
	}
}

func TestClassify_NoEnabledFactors(t *testing.T) {
	agg := NewAggregator(nil)
	res := agg.Classify(models.Daily, weeklyVotes(), EnabledMask{
		"index_trends": false, "dollar_trend": false, "sector_rotation": false,
		"credit_spreads": false, "market_breadth": false, "vix_term_structure": false,
	})
	assert.Equal(t, 0, res.EnabledCount)
	assert.Equal(t, 0, res.FilteredVote)
	assert.Equal(t, models.LeanToro, res.Level)

	res = agg.Classify(models.Daily, nil, nil)
	assert.Equal(t, models.LeanToro, res.Level)
}

func TestClassify_Deterministic(t *testing.T) {
	agg := NewAggregator(nil)
	mask := EnabledMask{"dollar_trend": false}
	first := agg.Classify(models.Weekly, weeklyVotes(), mask)
	second := agg.Classify(models.Weekly, weeklyVotes(), mask)
	assert.Equal(t, first, second)
}

func TestClassify_DisableThenReenable(t *testing.T) {
	agg := NewAggregator(nil)
	baseline := agg.Classify(models.Daily, weeklyVotes(), nil)

	mask := EnabledMask{}
	for _, v := range weeklyVotes() {
		mask[v.FactorID] = false
	}
	_ = agg.Classify(models.Daily, weeklyVotes(), mask)
	for id := range mask {
		mask[id] = true
	}
	again := agg.Classify(models.Daily, weeklyVotes(), mask)
	assert.Equal(t, baseline, again)
}

func TestClassify_MonotonicInVote(t *testing.T) {
	agg := NewAggregator(nil)
	for _, tf := range models.Timeframes {
		for disabled := 0; disabled < 4; disabled++ {
			mask := EnabledMask{}
			votes := []models.FactorVote{
				{FactorID: "x", Vote: 0},
				{FactorID: "b", Vote: 1},
				{FactorID: "c", Vote: -1},
				{FactorID: "d", Vote: 2},
				{FactorID: "e", Vote: -2},
			}
			for i := 0; i < disabled; i++ {
				mask[votes[len(votes)-1-i].FactorID] = false
			}
			prev := models.MajorUrsa
			for v := -15; v <= 15; v++ {
				votes[0].Vote = v
				lvl := agg.Classify(tf, votes, mask).Level
				require.GreaterOrEqual(t, lvl.Ordinal(), prev.Ordinal(), "%s vote=%d disabled=%d", tf, v, disabled)
				prev = lvl
			}
		}
	}
}

func TestClassify_AddingPositiveFactorNeverLowers(t *testing.T) {
	agg := NewAggregator(nil)
	base := []models.FactorVote{
		{FactorID: "a", Vote: 2},
		{FactorID: "b", Vote: 1},
		{FactorID: "c", Vote: -1},
	}
	before := agg.Classify(models.Weekly, base, nil)
	after := agg.Classify(models.Weekly, append(base, models.FactorVote{FactorID: "d", Vote: 2}), nil)
	assert.GreaterOrEqual(t, after.Level.Ordinal(), before.Level.Ordinal())

	neg := agg.Classify(models.Weekly, append(base, models.FactorVote{FactorID: "d", Vote: -3}), nil)
	assert.LessOrEqual(t, neg.Level.Ordinal(), before.Level.Ordinal())
}

func TestThresholds_Scale(t *testing.T) {
	th := Thresholds{Major: 7, Minor: 3}
	major, minor := th.Scale(5, 6)
	assert.Equal(t, 6, major)
	assert.Equal(t, 3, minor)

	major, minor = th.Scale(1, 7)
	assert.Equal(t, 1, major)
	assert.Equal(t, 1, minor)

	major, minor = Thresholds{Major: 8, Minor: 4}.Scale(3, 3)
	assert.Equal(t, 8, major)
	assert.Equal(t, 4, minor)
}

func TestComputeTrend(t *testing.T) {
	lvl := func(l models.BiasLevel) *models.BiasLevel { return &l }

	assert.Equal(t, models.TrendNew, ComputeTrend(nil, models.LeanToro))
	assert.Equal(t, models.TrendImproving, ComputeTrend(lvl(models.LeanToro), models.MinorToro))
	assert.Equal(t, models.TrendDeclining, ComputeTrend(lvl(models.LeanToro), models.LeanUrsa))
	assert.Equal(t, models.TrendStable, ComputeTrend(lvl(models.MajorUrsa), models.MajorUrsa))
}

func TestSnapshot_KeepsOnlyPreviousLevel(t *testing.T) {
	agg := NewAggregator(nil)
	now := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	first := agg.Snapshot(nil, models.Weekly, weeklyVotes(), nil, now)
	assert.Nil(t, first.PreviousLevel)
	assert.Equal(t, models.TrendNew, first.Trend)
	assert.Equal(t, models.MajorToro, first.Level)

	second := agg.Snapshot(&first, models.Weekly, []models.FactorVote{{FactorID: "index_trends", Vote: -2}}, nil, now.Add(time.Minute))
	require.NotNil(t, second.PreviousLevel)
	assert.Equal(t, models.MajorToro, *second.PreviousLevel)
	assert.Equal(t, models.TrendDeclining, second.Trend)

	third := agg.Snapshot(&second, models.Weekly, []models.FactorVote{{FactorID: "index_trends", Vote: -2}}, nil, now.Add(2*time.Minute))
	assert.Equal(t, second.Level, *third.PreviousLevel)
	assert.Equal(t, models.TrendStable, third.Trend)
}

func TestReclassify_TogglesFactor(t *testing.T) {
	agg := NewAggregator(nil)
	now := time.Now()
	snap := agg.Snapshot(nil, models.Weekly, weeklyVotes(), nil, now)

	off := agg.Reclassify(snap, EnabledMask{"index_trends": false, "dollar_trend": false})
	// 4 of 6 enabled, vote 3, thresholds round(4.67)=5 and round(2)=2
	assert.Equal(t, 3, off.Classification.FilteredVote)
	assert.Equal(t, 5, off.Classification.MajorThreshold)
	assert.Equal(t, 2, off.Classification.MinorThreshold)
	assert.Equal(t, models.MinorToro, off.Level)
	assert.False(t, off.Votes[0].Enabled)

	on := agg.Reclassify(off, nil)
	assert.Equal(t, snap.Level, on.Level)
	assert.Equal(t, snap.Classification, on.Classification)
}

func TestVotesFromFactors(t *testing.T) {
	var two, one models.FactorDetail
	require.NoError(t, json.Unmarshal([]byte(`{"vote":"2"}`), &two))
	require.NoError(t, json.Unmarshal([]byte(`{"score":1.4}`), &one))

	votes := VotesFromFactors(map[string]models.FactorDetail{"b": two, "a": one, "c": {}}, EnabledMask{"c": false})
	require.Len(t, votes, 3)
	assert.Equal(t, models.FactorVote{FactorID: "a", Vote: 1, Enabled: true}, votes[0])
	assert.Equal(t, models.FactorVote{FactorID: "b", Vote: 2, Enabled: true}, votes[1])
	assert.Equal(t, models.FactorVote{FactorID: "c", Vote: 0, Enabled: false}, votes[2])
}
