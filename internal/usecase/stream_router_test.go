package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

type routerFixture struct {
	router   *StreamRouter
	feed     *SignalFeed
	scouts   *ScoutTracker
	board    *BiasBoard
	activity *ActivityState
	timers   *fakeTimers
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ft := newFakeTimers(time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC))
	backend := newFakeBackend()
	f := &routerFixture{
		feed:     newTestFeed(backend),
		scouts:   newTestScouts(ft),
		board:    NewBiasBoard(nil, newMemPrefs(), backend, logger.Nop(), WithBoardClock(ft.Now)),
		activity: NewActivityState(),
		timers:   ft,
	}
	f.router = NewStreamRouter(f.feed, f.scouts, f.board, f.activity, logger.Nop())
	return f
}

func (f *routerFixture) send(t *testing.T, frame string) error {
	t.Helper()
	var env models.Envelope
	require.NoError(t, json.Unmarshal([]byte(frame), &env))
	env.Normalize()
	env.ReceivedAt = f.timers.Now()
	h, ok := f.router.Handlers()[env.Type]
	require.True(t, ok, "no handler for %s", env.Type)
	return h(context.Background(), env)
}

func TestStreamRouter_CoversEveryEventType(t *testing.T) {
	f := newRouterFixture(t)
	handlers := f.router.Handlers()
	for _, et := range models.KnownEventTypes {
		assert.Contains(t, handlers, et)
	}
}

func TestStreamRouter_ScoutThenConfirmingSignal(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"signal_id":"s1","ticker":"nvda","signal_type":"SCOUT","direction":"LONG"}}`))
	require.Equal(t, []string{"NVDA"}, tickers(f.scouts.Snapshot()))
	assert.Empty(t, f.feed.List(models.Equity))

	require.NoError(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"signal_id":"s2","ticker":"NVDA","score":"72.5"}}`))
	assert.Empty(t, f.scouts.Snapshot())
	list := f.feed.List(models.Equity)
	require.Len(t, list, 1)
	assert.Equal(t, 72.5, list[0].Score)

	require.NoError(t, f.send(t, `{"type":"SCOUT_ALERT","data":{"id":"s3","symbol":"AMD","direction":"SHORT"}}`))
	snap := f.scouts.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.Short, snap[0].Direction)
}

func TestStreamRouter_PriorityPaths(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"signal_id":"a","ticker":"A","score":90}}`))
	require.NoError(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"signal_id":"p","ticker":"P","score":1,"is_priority":true}}`))
	require.NoError(t, f.send(t, `{"type":"SIGNAL_PRIORITY_UPDATE","data":{"signal_id":"q","ticker":"Q","score":2}}`))

	assert.Equal(t, []string{"q", "p", "a"}, ids(f.feed.List(models.Equity)))
}

func TestStreamRouter_RemovalIsIdempotent(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"signal_id":"a","ticker":"A","score":1}}`))
	require.NoError(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"signal_id":"b","ticker":"B","score":2}}`))

	require.NoError(t, f.send(t, `{"type":"SIGNAL_ACCEPTED","signal_id":"a"}`))
	require.NoError(t, f.send(t, `{"type":"SIGNAL_DISMISSED","data":{"id":"b"}}`))
	require.NoError(t, f.send(t, `{"type":"SIGNAL_DISMISSED","data":{"signal_id":"b"}}`))
	require.NoError(t, f.send(t, `{"type":"SIGNAL_ACCEPTED","signal_id":"never-seen"}`))
	assert.Empty(t, f.feed.List(models.Equity))

	assert.Error(t, f.send(t, `{"type":"SIGNAL_ACCEPTED"}`))
}

func TestStreamRouter_BiasUpdate(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.send(t, `{"type":"BIAS_UPDATE","data":{"timeframe":"WEEKLY","level":"MAJOR_TORO","details":{"factors":{"a":{"vote":2},"b":{"vote":"2"},"c":{"score":1},"d":{"vote":-1},"vix":{"vote":2}}}}}`))
	// five factors, vote 6, thresholds 7/3
	assert.Equal(t, models.MinorToro, f.board.View(models.Weekly).Snapshot.Level)

	assert.Error(t, f.send(t, `{"type":"BIAS_UPDATE","data":{"timeframe":"yearly","level":"LEAN_TORO"}}`))
	assert.Error(t, f.send(t, `{"type":"BIAS_UPDATE","data":"nope"}`))
}

func TestStreamRouter_Activity(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.send(t, `{"type":"FLOW_UPDATE","count":3,"tickers_updated":["SPY","QQQ","IWM"]}`))
	require.NoError(t, f.send(t, `{"type":"FLOW_UPDATE","data":{"count":2,"tickers_updated":["TSLA","AAPL"]}}`))
	require.NoError(t, f.send(t, `{"type":"POSITION_UPDATE","data":{"ticker":"SPY","qty":100}}`))

	snap := f.activity.Snapshot()
	require.NotNil(t, snap.LastFlow)
	assert.Equal(t, 2, snap.LastFlow.Count)
	assert.Equal(t, []string{"TSLA", "AAPL"}, snap.LastFlow.TickersUpdated)
	assert.Equal(t, 2, snap.FlowCount)
	assert.Equal(t, 1, snap.PositionCount)
	assert.JSONEq(t, `{"ticker":"SPY","qty":100}`, string(snap.LastPosition))
}

func TestStreamRouter_SignalWithoutIDIsRejected(t *testing.T) {
	f := newRouterFixture(t)
	assert.Error(t, f.send(t, `{"type":"NEW_SIGNAL","data":{"ticker":"X"}}`))
	assert.Error(t, f.send(t, `{"type":"NEW_SIGNAL","data":[1,2]}`))
	assert.Empty(t, f.feed.List(models.Equity))
}
