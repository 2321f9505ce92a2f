package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

func newTestReconciler(specs ReconcileSpecs) (*Reconciler, *fakeBackend, *SignalFeed, *BiasBoard) {
	backend := newFakeBackend()
	feed := newTestFeed(backend)
	board := NewBiasBoard(nil, newMemPrefs(), backend, logger.Nop())
	return NewReconciler(feed, board, specs, logger.Nop()), backend, feed, board
}

func TestReconciler_RejectsBadSpec(t *testing.T) {
	r, _, _, _ := newTestReconciler(ReconcileSpecs{Signals: "every now and then"})
	assert.Error(t, r.Start(context.Background()))
}

func TestReconciler_SyncPullsEverything(t *testing.T) {
	r, backend, feed, board := newTestReconciler(ReconcileSpecs{})
	backend.active[models.Equity] = []models.Signal{sig("a", 5)}
	backend.status = models.BiasStatus{Composite: models.MajorToro}

	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, []string{"a"}, ids(feed.List(models.Equity)))
	assert.Equal(t, "composite", board.TradingBias().Source)

	backend.setFail(true)
	assert.Error(t, r.Sync(context.Background()))
}

func TestReconciler_RunsScheduledJobs(t *testing.T) {
	r, backend, feed, _ := newTestReconciler(ReconcileSpecs{Signals: "* * * * * *"})
	backend.active[models.Equity] = []models.Signal{sig("a", 5)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return len(feed.List(models.Equity)) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestReconciler_ResyncsOnNewSession(t *testing.T) {
	r, backend, feed, _ := newTestReconciler(ReconcileSpecs{})
	backend.active[models.Equity] = []models.Signal{sig("a", 5)}

	r.OnConnection(models.ConnectionState{Status: models.StatusOpen, SessionID: "one"})
	r.OnConnection(models.ConnectionState{Status: models.StatusClosed, SessionID: "one"})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, feed.List(models.Equity))

	r.OnConnection(models.ConnectionState{Status: models.StatusOpen, SessionID: "two"})
	assert.Eventually(t, func() bool {
		return len(feed.List(models.Equity)) == 1
	}, time.Second, 10*time.Millisecond)
}
