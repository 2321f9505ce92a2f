package usecase

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

func newTestFeed(b *fakeBackend, opts ...FeedOption) *SignalFeed {
	return NewSignalFeed(b, logger.Nop(), opts...)
}

func TestSignalFeed_RankedInsertIsStable(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	f.Insert(sig("a", 50))
	f.Insert(sig("b", 70))
	f.Insert(sig("c", 50))
	f.Insert(sig("d", 60))
	f.Insert(sig("e", 50))

	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, ids(f.List(models.Equity)))
}

func TestSignalFeed_RankFloorSendsToOverflow(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	for i := 10; i >= 1; i-- {
		require.True(t, f.Insert(sig("s"+strconv.Itoa(i), float64(i*10))))
	}
	require.Len(t, f.List(models.Equity), 10)

	// equal to the 10th score does not exceed the floor
	assert.False(t, f.Insert(sig("low", 10)))
	assert.Len(t, f.List(models.Equity), 10)
	assert.Equal(t, 1, f.Snapshot().Lists[models.Equity].Overflow)

	assert.True(t, f.Insert(sig("mid", 11)))
	list := ids(f.List(models.Equity))
	require.Len(t, list, 11)
	assert.Equal(t, "mid", list[9])
	assert.Equal(t, "s1", list[10])
}

func TestSignalFeed_UpsertDeduplicates(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	f.Insert(sig("a", 50))
	f.Insert(sig("b", 40))
	f.Insert(sig("a", 30))
	assert.Equal(t, []string{"b", "a"}, ids(f.List(models.Equity)))

	// a signal parked in overflow is promoted when it comes back with a better score
	for i := 0; i < 10; i++ {
		f.Insert(sig("f"+strconv.Itoa(i), 100))
	}
	assert.False(t, f.Insert(sig("o", 1)))
	assert.Equal(t, 1, f.Snapshot().Lists[models.Equity].Overflow)
	assert.True(t, f.Insert(sig("o", 200)))
	snap := f.Snapshot().Lists[models.Equity]
	assert.Equal(t, 0, snap.Overflow)
	assert.Equal(t, "o", snap.Signals[0].SignalID)
}

func TestSignalFeed_PriorityAlwaysFirst(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	f.Insert(sig("a", 90))
	f.Insert(sig("b", 80))

	f.InsertPriority(sig("p", -5))
	assert.Equal(t, []string{"p", "a", "b"}, ids(f.List(models.Equity)))
	assert.True(t, f.List(models.Equity)[0].IsPriority)

	f.InsertPriority(sig("b", 0))
	assert.Equal(t, []string{"b", "p", "a"}, ids(f.List(models.Equity)))

	// later ranked inserts still honour strict ordering around the priority entry
	f.Insert(sig("c", 95))
	assert.Equal(t, "c", f.List(models.Equity)[0].SignalID)
}

func TestSignalFeed_SignalLivesInOneList(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	f.Insert(sig("x", 10))
	moved := sig("x", 20)
	moved.AssetClass = models.Crypto
	f.Insert(moved)

	assert.Empty(t, f.List(models.Equity))
	assert.Equal(t, []string{"x"}, ids(f.List(models.Crypto)))
}

func TestSignalFeed_RemoveIsIdempotent(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	f.Insert(sig("a", 1))
	assert.True(t, f.Remove("a"))
	assert.False(t, f.Remove("a"))
	assert.False(t, f.Remove("missing"))

	// a late duplicate of an accepted signal stays out
	assert.False(t, f.Insert(sig("a", 1)))
	assert.Empty(t, f.List(models.Equity))
}

func TestSignalFeed_AcceptRefetches(t *testing.T) {
	b := newFakeBackend()
	b.active[models.Equity] = []models.Signal{sig("a", 90), sig("b", 80), sig("c", 70)}
	f := newTestFeed(b)
	require.NoError(t, f.Refetch(context.Background()))
	require.Equal(t, []string{"a", "b", "c"}, ids(f.List(models.Equity)))

	// the server knows about d even though the stream event was missed
	b.mu.Lock()
	b.active[models.Equity] = append(b.active[models.Equity], sig("d", 60))
	b.mu.Unlock()

	require.NoError(t, f.Accept(context.Background(), "b"))
	assert.Equal(t, []string{"b"}, b.accepted)
	assert.Equal(t, []string{"a", "c", "d"}, ids(f.List(models.Equity)))

	require.NoError(t, f.Dismiss(context.Background(), "a", "chased"))
	assert.Equal(t, "chased", b.dismissed["a"])
	assert.Equal(t, []string{"c", "d"}, ids(f.List(models.Equity)))
}

func TestSignalFeed_AcceptFailureStillRemovesLocally(t *testing.T) {
	b := newFakeBackend()
	f := newTestFeed(b)
	f.Insert(sig("a", 1))
	b.setFail(true)

	err := f.Accept(context.Background(), "a")
	require.Error(t, err)
	assert.Empty(t, f.List(models.Equity))
	assert.True(t, f.Snapshot().Stale)
}

func TestSignalFeed_ActionFailureLogsRefetchError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.log")
	log, err := logger.New(&logger.Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	b := newFakeBackend()
	f := NewSignalFeed(b, log)
	f.Insert(sig("a", 1))
	b.setFail(true)

	require.Error(t, f.Accept(context.Background(), "a"))
	require.Error(t, f.Dismiss(context.Background(), "b", "stale"))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "refetch after accept failed")
	assert.Contains(t, string(out), "refetch after dismiss failed")
}

func TestSignalFeed_ActionOnUnknownSignal(t *testing.T) {
	b := newFakeBackend()
	b.actionErr = &xhttp.StatusError{Method: "POST", URL: "/api/signals/x/accept", Code: 404}
	f := newTestFeed(b)

	assert.ErrorIs(t, f.Accept(context.Background(), "x"), ErrSignalNotFound)
	assert.ErrorIs(t, f.Dismiss(context.Background(), "x", ""), ErrSignalNotFound)
}

func TestSignalFeed_RefetchKeepsNewerStreamState(t *testing.T) {
	b := newFakeBackend()
	b.active[models.Equity] = []models.Signal{sig("old", 50), sig("gone", 40)}
	f := newTestFeed(b)

	fired := false
	b.onFetch = func() {
		if fired {
			return
		}
		fired = true
		// arrive while the request is in flight
		f.Insert(sig("fresh", 99))
		f.Remove("gone")
		b.mu.Lock()
		b.active[models.Equity] = withoutID(b.active[models.Equity], "gone")
		b.mu.Unlock()
	}
	require.NoError(t, f.Refetch(context.Background()))
	b.onFetch = nil

	assert.Equal(t, []string{"fresh", "old"}, ids(f.List(models.Equity)))

	// the next refetch is authoritative again: fresh is unknown to the server
	require.NoError(t, f.Refetch(context.Background()))
	assert.Equal(t, []string{"old"}, ids(f.List(models.Equity)))
}

func TestSignalFeed_IgnoresOutOfDateRefetch(t *testing.T) {
	f := newTestFeed(newFakeBackend())
	f.Insert(sig("a", 1))
	f.Insert(sig("b", 2))

	newer := f.Revision()
	require.True(t, f.ApplyRefetch(models.Equity, newer, []models.Signal{sig("x", 5)}))
	assert.False(t, f.ApplyRefetch(models.Equity, newer-1, []models.Signal{sig("y", 5)}))
	assert.Equal(t, []string{"x"}, ids(f.List(models.Equity)))
}

func TestSignalFeed_LoadMore(t *testing.T) {
	b := newFakeBackend()
	no := false
	b.pages = []models.SignalsPage{
		{Signals: []models.Signal{sig("a", 5), sig("b", 4)}},
		{Signals: []models.Signal{sig("b", 4), sig("c", 3)}, HasMore: &no},
	}
	f := newTestFeed(b, WithPageLimit(2))
	ctx := context.Background()

	n, err := f.LoadMore(ctx, models.Equity)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	cur := f.Snapshot().Lists[models.Equity].Cursor
	assert.True(t, cur.HasMore)
	assert.Equal(t, 2, cur.Offset)

	n, err = f.LoadMore(ctx, models.Equity)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b", "c"}, ids(f.List(models.Equity)))
	assert.False(t, f.Snapshot().Lists[models.Equity].Cursor.HasMore)

	n, err = f.LoadMore(ctx, models.Equity)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []int{0, 2}, b.pageCalls)
}

func TestSignalFeed_LoadMoreNoopWhileLoading(t *testing.T) {
	b := newFakeBackend()
	f := newTestFeed(b)
	f.lists[models.Equity].cursor.Loading = true

	n, err := f.LoadMore(context.Background(), models.Equity)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, b.pageCalls)
}

func TestSignalFeed_LoadMoreHeuristicEndsShortPage(t *testing.T) {
	b := newFakeBackend()
	b.pages = []models.SignalsPage{{Signals: []models.Signal{sig("a", 1)}}}
	f := newTestFeed(b, WithPageLimit(5))

	_, err := f.LoadMore(context.Background(), models.Equity)
	require.NoError(t, err)
	assert.False(t, f.Snapshot().Lists[models.Equity].Cursor.HasMore)
}

func TestSignalFeed_FallsBackToLastGoodSnapshot(t *testing.T) {
	cache := newMapCache()
	b := newFakeBackend()
	b.active[models.Crypto] = []models.Signal{{SignalID: "btc", AssetClass: models.Crypto, Ticker: "BTC", Score: 80}}
	require.NoError(t, newTestFeed(b, WithFeedCache(cache)).Refetch(context.Background()))

	b.setFail(true)
	f := newTestFeed(b, WithFeedCache(cache))
	require.Error(t, f.Refetch(context.Background()))

	snap := f.Snapshot()
	assert.True(t, snap.Stale)
	assert.Equal(t, []string{"btc"}, ids(snap.Lists[models.Crypto].Signals))

	b.setFail(false)
	require.NoError(t, f.Refetch(context.Background()))
	assert.False(t, f.Snapshot().Stale)
}

func TestSignalFeed_NeverHoldsDuplicates(t *testing.T) {
	f := newTestFeed(newFakeBackend(), WithRankFloor(4))
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		id := "s" + strconv.Itoa(rng.Intn(15))
		s := sig(id, float64(rng.Intn(200)-50))
		if rng.Intn(2) == 0 {
			s.AssetClass = models.Crypto
		}
		switch rng.Intn(6) {
		case 0:
			f.InsertPriority(s)
		case 1:
			f.Remove(id)
		case 2:
			f.ApplyRefetch(s.AssetClass, f.Revision(), []models.Signal{s, sig("s3", 10)})
		default:
			f.Insert(s)
		}

		seen := map[string]bool{}
		for _, l := range f.lists {
			for _, x := range append(append([]models.Signal(nil), l.signals...), l.overflow...) {
				require.False(t, seen[x.SignalID], "duplicate %s at step %d", x.SignalID, i)
				seen[x.SignalID] = true
			}
		}
	}
}
