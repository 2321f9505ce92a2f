package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	"github.com/303webhouse/pandoras-box-sub000/internal/services/bias"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
	"github.com/303webhouse/pandoras-box-sub000/pkg/util"
)

const (
	prefsFactorsNS  = "bias_factors"
	prefsPersonalNS = "bias_personal"
	prefsPersonalID = "state"

	cacheBiasStatus = "bias:status"
	cacheBiasShift  = "bias:shift"
)

var (
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	ErrInvalidOverride  = errors.New("override direction must be MAJOR_TORO or MAJOR_URSA")
	ErrInvalidPersonal  = errors.New("invalid personal direction")

	errStatusSuperseded = errors.New("status entry older than current snapshot")
)

// BiasBoard is the state container for per-timeframe bias. Every mutation
// reclassifies under the lock, so readers never see a half-applied update.
type BiasBoard struct {
	agg         *bias.Aggregator
	prefs       domrepo.PreferenceStore
	backend     domrepo.BackendAPI
	cache       domrepo.SnapshotCache
	journal     domrepo.BiasJournal
	shifts      domrepo.BiasShiftPublisher
	log         *logger.Logger
	metrics     domrepo.Metrics
	now         func() time.Time
	overrideTTL time.Duration

	mu        sync.RWMutex
	snaps     map[models.Timeframe]*models.TimeframeBiasSnapshot
	revs      map[models.Timeframe]uint64
	masks     map[models.Timeframe]bias.EnabledMask
	personal  models.PersonalBiasState
	composite models.BiasLevel
	shift     models.BiasShift
	stale     bool
	updatedAt time.Time
}

type BoardOption func(*BiasBoard)

func WithBoardCache(c domrepo.SnapshotCache) BoardOption {
	return func(b *BiasBoard) { b.cache = c }
}

func WithJournal(j domrepo.BiasJournal) BoardOption {
	return func(b *BiasBoard) { b.journal = j }
}

func WithShiftPublisher(p domrepo.BiasShiftPublisher) BoardOption {
	return func(b *BiasBoard) { b.shifts = p }
}

func WithBoardMetrics(m domrepo.Metrics) BoardOption {
	return func(b *BiasBoard) {
		if m != nil {
			b.metrics = m
		}
	}
}

func WithBoardClock(now func() time.Time) BoardOption {
	return func(b *BiasBoard) {
		if now != nil {
			b.now = now
		}
	}
}

func WithOverrideTTL(d time.Duration) BoardOption {
	return func(b *BiasBoard) {
		if d > 0 {
			b.overrideTTL = d
		}
	}
}

func NewBiasBoard(agg *bias.Aggregator, prefs domrepo.PreferenceStore, backend domrepo.BackendAPI, log *logger.Logger, opts ...BoardOption) *BiasBoard {
	if agg == nil {
		agg = bias.NewAggregator(nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	b := &BiasBoard{
		agg:         agg,
		prefs:       prefs,
		backend:     backend,
		log:         log.With(logger.String("component", "bias")),
		metrics:     metrics.Nop{},
		now:         time.Now,
		overrideTTL: 24 * time.Hour,
		snaps:       make(map[models.Timeframe]*models.TimeframeBiasSnapshot),
		revs:        make(map[models.Timeframe]uint64),
		masks:       make(map[models.Timeframe]bias.EnabledMask),
		personal:    models.DefaultPersonalBiasState(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load reads factor masks and the personal state from the preference store.
// Missing or unreadable entries keep their defaults.
func (b *BiasBoard) Load(ctx context.Context) error {
	if b.prefs == nil {
		return nil
	}
	var errs []error
	masks := make(map[models.Timeframe]bias.EnabledMask)
	for _, tf := range models.Timeframes {
		var m bias.EnabledMask
		ok, err := b.prefs.Get(ctx, prefsFactorsNS, string(tf), &m)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s factors: %w", tf, err))
			continue
		}
		if ok && m != nil {
			masks[tf] = m
		}
	}
	personal := models.DefaultPersonalBiasState()
	ok, err := b.prefs.Get(ctx, prefsPersonalNS, prefsPersonalID, &personal)
	if err != nil {
		errs = append(errs, fmt.Errorf("load personal bias: %w", err))
		personal = models.DefaultPersonalBiasState()
	} else if !ok {
		personal = models.DefaultPersonalBiasState()
	}
	if _, valid := models.ParsePersonalDirection(string(personal.Direction)); !valid {
		personal.Direction = models.PersonalNeutral
	}

	b.mu.Lock()
	for tf, m := range masks {
		b.masks[tf] = m
		if cur := b.snaps[tf]; cur != nil {
			next := b.agg.Reclassify(*cur, m)
			b.snaps[tf] = &next
		}
	}
	b.personal = personal
	expired := bias.ExpireOverride(&b.personal, b.now())
	b.mu.Unlock()

	if expired {
		_ = b.persistPersonal(ctx)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		b.log.Warn("preferences partially loaded", logger.Error(err))
		return err
	}
	return nil
}

// ApplyUpdate handles one BIAS_UPDATE payload. With a factor breakdown the
// level is classified locally under the stored mask; without one the server
// level is taken as raw. A payload identical to the current snapshot only
// refreshes its timestamp, so duplicates leave the trend alone.
func (b *BiasBoard) ApplyUpdate(ctx context.Context, p models.BiasUpdatePayload) (models.TimeframeBiasSnapshot, error) {
	return b.apply(ctx, p, nil)
}

// statusToken records per-timeframe revisions taken before a status poll.
type statusToken map[models.Timeframe]uint64

func (b *BiasBoard) statusToken() statusToken {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tok := make(statusToken, len(b.revs))
	for tf, r := range b.revs {
		tok[tf] = r
	}
	return tok
}

// apply writes one update. With a non-nil token the payload comes from a
// status poll and loses to anything applied since the token was taken, to
// any snapshot with a newer timestamp, and to a local classification of the
// same server level.
func (b *BiasBoard) apply(ctx context.Context, p models.BiasUpdatePayload, tok statusToken) (models.TimeframeBiasSnapshot, error) {
	tf, ok := models.ParseTimeframe(p.Timeframe)
	if !ok {
		return models.TimeframeBiasSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, p.Timeframe)
	}
	serverLevel, _ := models.ParseBiasLevel(p.Level)
	var serverEffective *models.BiasLevel
	if lvl, ok := models.ParseBiasLevel(p.EffectiveLevel); ok {
		serverEffective = &lvl
	}
	at := util.ParseTimeDefault(p.Timestamp, b.now())

	b.mu.Lock()
	prev := b.snaps[tf]
	if tok != nil && prev != nil {
		_, hasTS := util.ParseTime(p.Timestamp)
		switch {
		case b.revs[tf] != tok[tf], hasTS && at.Before(prev.Timestamp):
			cur := *prev
			b.mu.Unlock()
			return cur, errStatusSuperseded
		case len(p.Details.Factors) == 0 && len(prev.Votes) > 0 && serverLevel == prev.ServerLevel:
			cur := *prev
			b.mu.Unlock()
			return cur, nil
		}
	}
	b.revs[tf]++
	mask := b.masks[tf]
	var next models.TimeframeBiasSnapshot
	if len(p.Details.Factors) > 0 {
		votes := bias.VotesFromFactors(p.Details.Factors, mask)
		next = b.agg.Snapshot(prev, tf, votes, mask, at)
	} else {
		next = b.agg.SnapshotFromLevel(prev, tf, serverLevel, at)
	}
	next.ServerLevel = serverLevel
	next.ServerEffective = serverEffective

	if prev != nil && sameUpdate(*prev, next) {
		refreshed := *prev
		refreshed.Timestamp = at
		b.snaps[tf] = &refreshed
		b.updatedAt = b.now()
		b.mu.Unlock()
		return refreshed, nil
	}
	b.snaps[tf] = &next
	b.updatedAt = b.now()
	view := b.viewLocked(tf)
	b.mu.Unlock()

	b.metrics.RecordBiasLevel(string(tf), view.Effective.Ordinal())
	b.log.Debug("bias updated",
		logger.String("timeframe", string(tf)),
		logger.String("level", next.Level.String()),
		logger.String("trend", string(next.Trend)),
		logger.Int("filtered_vote", next.Classification.FilteredVote),
	)
	b.publish(ctx, prev, next)
	return next, nil
}

func sameUpdate(a, b models.TimeframeBiasSnapshot) bool {
	if a.Level != b.Level || a.ServerLevel != b.ServerLevel {
		return false
	}
	if (a.ServerEffective == nil) != (b.ServerEffective == nil) {
		return false
	}
	if a.ServerEffective != nil && *a.ServerEffective != *b.ServerEffective {
		return false
	}
	if len(a.Votes) == 0 && len(b.Votes) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Votes, b.Votes)
}

func (b *BiasBoard) publish(ctx context.Context, prev *models.TimeframeBiasSnapshot, next models.TimeframeBiasSnapshot) {
	if b.journal != nil {
		if err := b.journal.Append(ctx, next); err != nil {
			b.metrics.RecordError("bias_journal")
			b.log.Warn("bias journal append failed", logger.Error(err))
		}
	}
	if b.shifts == nil || prev == nil || prev.Level == next.Level {
		return
	}
	ev := models.BiasShiftEvent{
		Timeframe: next.Timeframe,
		From:      prev.Level,
		To:        next.Level,
		Trend:     next.Trend,
		Vote:      next.Classification.FilteredVote,
		At:        next.Timestamp,
	}
	if err := b.shifts.PublishShift(ctx, ev); err != nil {
		b.metrics.RecordError("bias_shift_publish")
		b.log.Warn("bias shift publish failed", logger.Error(err))
	}
}

// SetFactorEnabled toggles one factor, reclassifies and persists the mask.
func (b *BiasBoard) SetFactorEnabled(ctx context.Context, tf models.Timeframe, factorID string, enabled bool) (models.TimeframeView, error) {
	if _, ok := models.ParseTimeframe(string(tf)); !ok {
		return models.TimeframeView{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	b.mu.Lock()
	mask := b.masks[tf].Clone()
	mask[factorID] = enabled
	b.masks[tf] = mask
	if cur := b.snaps[tf]; cur != nil {
		next := b.agg.Reclassify(*cur, mask)
		b.snaps[tf] = &next
	}
	b.updatedAt = b.now()
	view := b.viewLocked(tf)
	b.mu.Unlock()

	b.metrics.RecordBiasLevel(string(tf), view.Effective.Ordinal())
	if b.prefs != nil {
		if err := b.prefs.Set(ctx, prefsFactorsNS, string(tf), mask); err != nil {
			b.log.Warn("persist factor mask failed", logger.String("timeframe", string(tf)), logger.Error(err))
			return view, fmt.Errorf("persist factors: %w", err)
		}
	}
	return view, nil
}

// SetPersonal changes the manual lean and, when given, the timeframes it applies to.
func (b *BiasBoard) SetPersonal(ctx context.Context, direction string, appliesTo *models.AppliesTo) (models.PersonalBiasState, error) {
	dir, ok := models.ParsePersonalDirection(direction)
	if !ok {
		return models.PersonalBiasState{}, fmt.Errorf("%w: %q", ErrInvalidPersonal, direction)
	}
	b.mu.Lock()
	b.personal.Direction = dir
	if appliesTo != nil {
		b.personal.AppliesTo = *appliesTo
	}
	b.updatedAt = b.now()
	state := b.personal
	b.mu.Unlock()

	return state, b.persistPersonal(ctx)
}

// ParseOverrideDirection accepts MAJOR_TORO/MAJOR_URSA and the short TORO/URSA forms.
func ParseOverrideDirection(s string) (models.BiasLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TORO", "BULLISH":
		return models.MajorToro, nil
	case "URSA", "BEARISH":
		return models.MajorUrsa, nil
	}
	lvl, ok := models.ParseBiasLevel(s)
	if !ok || !bias.ValidOverrideDirection(lvl) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOverride, s)
	}
	return lvl, nil
}

// SetOverride activates a timed override. ttl <= 0 uses the configured default.
// A backend failure is logged; the local override still applies.
func (b *BiasBoard) SetOverride(ctx context.Context, direction models.BiasLevel, reason string, ttl time.Duration) (models.TradingBias, error) {
	if !bias.ValidOverrideDirection(direction) {
		return models.TradingBias{}, ErrInvalidOverride
	}
	if ttl <= 0 {
		ttl = b.overrideTTL
	}
	now := b.now()
	expires := now.Add(ttl)

	b.mu.Lock()
	b.personal.OverrideActive = true
	b.personal.OverrideDirection = direction
	b.personal.OverrideReason = reason
	b.personal.OverrideExpiresAt = expires
	b.updatedAt = now
	b.mu.Unlock()

	if b.backend != nil {
		if err := b.backend.SetBiasOverride(ctx, direction, reason, expires); err != nil {
			b.metrics.RecordError("set_override")
			b.log.Warn("backend override failed", logger.Error(err))
		}
	}
	b.log.Info("bias override set",
		logger.String("direction", direction.String()),
		logger.String("reason", reason),
		logger.Time("expires_at", expires),
	)
	err := b.persistPersonal(ctx)
	return b.TradingBias(), err
}

// ClearOverride ends the override now.
func (b *BiasBoard) ClearOverride(ctx context.Context) (models.TradingBias, error) {
	b.mu.Lock()
	wasActive := b.personal.OverrideActive
	b.personal.OverrideActive = false
	b.personal.OverrideDirection = 0
	b.personal.OverrideReason = ""
	b.personal.OverrideExpiresAt = time.Time{}
	b.updatedAt = b.now()
	b.mu.Unlock()

	if wasActive && b.backend != nil {
		if err := b.backend.ClearBiasOverride(ctx); err != nil {
			b.metrics.RecordError("clear_override")
			b.log.Warn("backend override clear failed", logger.Error(err))
		}
	}
	err := b.persistPersonal(ctx)
	return b.TradingBias(), err
}

// CheckOverrideExpiry reverts an override whose expiry has passed. It
// reports whether anything changed.
func (b *BiasBoard) CheckOverrideExpiry(ctx context.Context) bool {
	b.mu.Lock()
	changed := bias.ExpireOverride(&b.personal, b.now())
	if changed {
		b.updatedAt = b.now()
	}
	b.mu.Unlock()
	if changed {
		b.log.Info("bias override expired")
		_ = b.persistPersonal(ctx)
	}
	return changed
}

func (b *BiasBoard) persistPersonal(ctx context.Context) error {
	if b.prefs == nil {
		return nil
	}
	b.mu.RLock()
	state := b.personal
	b.mu.RUnlock()
	if err := b.prefs.Set(ctx, prefsPersonalNS, prefsPersonalID, state); err != nil {
		b.log.Warn("persist personal bias failed", logger.Error(err))
		return fmt.Errorf("persist personal bias: %w", err)
	}
	return nil
}

// Refresh polls the backend for bias status and shift. On failure the last
// good response is used and the board is marked stale.
func (b *BiasBoard) Refresh(ctx context.Context) error {
	var errs []error

	tok := b.statusToken()
	start := time.Now()
	status, err := b.backend.FetchBiasStatus(ctx)
	b.metrics.RecordLatency("fetch_bias_status", time.Since(start).Seconds())
	if err != nil {
		b.metrics.RecordError("fetch_bias_status")
		errs = append(errs, fmt.Errorf("fetch bias status: %w", err))
		if cached, ok := b.cached(cacheBiasStatus); ok {
			if s, ok := cached.(models.BiasStatus); ok {
				status, err = s, nil
			}
		}
	} else if b.cache != nil {
		b.cache.Put(cacheBiasStatus, status)
	}
	if err == nil {
		b.applyStatus(ctx, status, tok)
	}

	shift, serr := b.backend.FetchBiasShift(ctx)
	if serr != nil {
		b.metrics.RecordError("fetch_bias_shift")
		errs = append(errs, fmt.Errorf("fetch bias shift: %w", serr))
		if cached, ok := b.cached(cacheBiasShift); ok {
			if s, ok := cached.(models.BiasShift); ok {
				shift, serr = s, nil
			}
		}
	} else if b.cache != nil {
		b.cache.Put(cacheBiasShift, shift)
	}

	b.mu.Lock()
	if serr == nil {
		b.shift = shift
	}
	b.stale = len(errs) > 0
	b.mu.Unlock()
	return errors.Join(errs...)
}

func (b *BiasBoard) cached(key string) (interface{}, bool) {
	if b.cache == nil {
		return nil, false
	}
	v, ok := b.cache.Get(key)
	if ok {
		age, _ := b.cache.Age(key)
		b.log.Info("serving cached bias response", logger.String("key", key), logger.Duration("age", age))
	}
	return v, ok
}

func (b *BiasBoard) applyStatus(ctx context.Context, status models.BiasStatus, tok statusToken) {
	b.mu.Lock()
	if status.Composite.Valid() {
		b.composite = status.Composite
	}
	b.mu.Unlock()
	for key, p := range status.Timeframes {
		if p.Timeframe == "" {
			p.Timeframe = key
		}
		if _, err := b.apply(ctx, p, tok); err != nil {
			b.log.Debug("skipping bias status entry", logger.String("timeframe", key), logger.Error(err))
		}
	}
}

func (b *BiasBoard) viewLocked(tf models.Timeframe) models.TimeframeView {
	snap := b.snaps[tf]
	if snap == nil {
		return models.TimeframeView{
			Snapshot:   models.TimeframeBiasSnapshot{Timeframe: tf, Level: models.SafeLevel, Trend: models.TrendNew},
			Resolution: models.Resolution{Raw: models.SafeLevel, Effective: models.SafeLevel},
			Effective:  models.SafeLevel,
		}
	}
	res := bias.ResolveTimeframe(tf, snap.Level, snap.ServerEffective)
	applies := b.personal.AppliesTo.For(tf)
	eff := bias.ApplyPersonal(res.Effective, b.personal.Direction, applies)
	cp := *snap
	cp.Votes = append([]models.FactorVote(nil), snap.Votes...)
	return models.TimeframeView{
		Snapshot:   cp,
		Resolution: res,
		Effective:  eff,
		Personal:   applies && b.personal.Direction != models.PersonalNeutral,
	}
}

// View returns the current view of one timeframe.
func (b *BiasBoard) View(tf models.Timeframe) models.TimeframeView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewLocked(tf)
}

func (b *BiasBoard) tradingLocked(now time.Time) models.TradingBias {
	in := bias.TradingInputs{Composite: b.composite, Effective: make(map[models.Timeframe]models.BiasLevel)}
	for tf := range b.snaps {
		in.Effective[tf] = b.viewLocked(tf).Effective
	}
	return bias.EffectiveTradingBias(b.personal, in, now)
}

// TradingBias is the single directional read used for trading decisions.
func (b *BiasBoard) TradingBias() models.TradingBias {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tradingLocked(b.now())
}

// Snapshot returns a consistent copy of the whole board.
func (b *BiasBoard) Snapshot() models.BiasBoardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	views := make(map[models.Timeframe]models.TimeframeView, len(models.Timeframes))
	for _, tf := range models.Timeframes {
		views[tf] = b.viewLocked(tf)
	}
	shift := make(models.BiasShift, len(b.shift))
	for k, v := range b.shift {
		shift[k] = v
	}
	masks := make(map[models.Timeframe]map[string]bool, len(b.masks))
	for tf, m := range b.masks {
		masks[tf] = m.Clone()
	}
	return models.BiasBoardSnapshot{
		Timeframes:     views,
		Personal:       b.personal,
		Trading:        b.tradingLocked(b.now()),
		DailyWeekly:    bias.Align(views[models.Daily].Effective, views[models.Weekly].Effective),
		WeeklyCyclical: bias.Align(views[models.Weekly].Effective, views[models.Cyclical].Effective),
		Composite:      b.composite,
		Shift:          shift,
		FactorMasks:    masks,
		Stale:          b.stale,
		UpdatedAt:      b.updatedAt,
	}
}
