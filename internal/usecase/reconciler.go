package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// ReconcileSpecs are cron specs for the periodic polls. An empty spec
// disables that job.
type ReconcileSpecs struct {
	Signals  string
	Bias     string
	Override string
}

// Reconciler polls REST on a schedule so missed stream events heal, and
// expires overrides. It also refetches when the stream comes back.
type Reconciler struct {
	feed    *SignalFeed
	board   *BiasBoard
	specs   ReconcileSpecs
	log     *logger.Logger
	timeout time.Duration

	mu       sync.Mutex
	cron     *cron.Cron
	ctx      context.Context
	lastOpen string
}

func NewReconciler(feed *SignalFeed, board *BiasBoard, specs ReconcileSpecs, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		feed:    feed,
		board:   board,
		specs:   specs,
		log:     log.With(logger.String("component", "reconciler")),
		timeout: 20 * time.Second,
		ctx:     context.Background(),
	}
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

// Start schedules the jobs. Jobs run with ctx until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	cl := cronLogger{log: r.log}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"signals", r.specs.Signals, r.RefetchSignals},
		{"bias", r.specs.Bias, r.RefreshBias},
		{"override", r.specs.Override, r.checkOverride},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		j := j
		if _, err := c.AddFunc(j.spec, func() { r.run(j.name, j.fn) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}

	r.mu.Lock()
	r.ctx = ctx
	r.cron = c
	r.mu.Unlock()
	c.Start()
	r.log.Info("reconciler started",
		logger.String("signals", r.specs.Signals),
		logger.String("bias", r.specs.Bias),
		logger.String("override", r.specs.Override),
	)
	return nil
}

// Stop halts scheduling and waits for running jobs.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (r *Reconciler) run(name string, fn func(context.Context) error) {
	r.mu.Lock()
	parent := r.ctx
	r.mu.Unlock()
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		r.log.Warn("reconcile failed", logger.String("job", name), logger.Error(err), logger.Duration("took", time.Since(start)))
		return
	}
	r.log.Debug("reconciled", logger.String("job", name), logger.Duration("took", time.Since(start)))
}

func (r *Reconciler) RefetchSignals(ctx context.Context) error {
	return r.feed.Refetch(ctx)
}

func (r *Reconciler) RefreshBias(ctx context.Context) error {
	return r.board.Refresh(ctx)
}

func (r *Reconciler) checkOverride(ctx context.Context) error {
	r.board.CheckOverrideExpiry(ctx)
	return nil
}

// Sync runs every poll once, e.g. at startup.
func (r *Reconciler) Sync(ctx context.Context) error {
	return errors.Join(r.RefetchSignals(ctx), r.RefreshBias(ctx))
}

// OnConnection is a stream status observer. Each new OPEN session after the
// first triggers a background resync to cover the gap.
func (r *Reconciler) OnConnection(st models.ConnectionState) {
	if st.Status != models.StatusOpen {
		return
	}
	r.mu.Lock()
	first := r.lastOpen == ""
	same := r.lastOpen == st.SessionID
	r.lastOpen = st.SessionID
	r.mu.Unlock()
	if first || same {
		return
	}
	go r.run("resync", r.Sync)
}
