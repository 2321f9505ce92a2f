package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
)

var ErrSignalNotFound = errors.New("signal not found")

// streamInsert remembers a stream insertion so it can be replayed on top of
// a refetch that was requested before it arrived.
type streamInsert struct {
	rev      uint64
	signal   models.Signal
	priority bool
}

type feedList struct {
	signals  []models.Signal
	overflow []models.Signal
	cursor   models.PageCursor

	// revision of the last refetch applied to this list
	applied    uint64
	tombstones map[string]tombstone
	inserts    map[string]streamInsert
}

type tombstone struct {
	rev uint64
	at  time.Time
}

// tombstoneTTL bounds how long a removed id keeps stale stream inserts out.
const tombstoneTTL = time.Hour

func newFeedList(limit int) *feedList {
	return &feedList{
		cursor:     models.PageCursor{Limit: limit, HasMore: true},
		tombstones: make(map[string]tombstone),
		inserts:    make(map[string]streamInsert),
	}
}

func (l *feedList) indexOf(id string) int {
	for i, s := range l.signals {
		if s.SignalID == id {
			return i
		}
	}
	return -1
}

func (l *feedList) overflowIndexOf(id string) int {
	for i, s := range l.overflow {
		if s.SignalID == id {
			return i
		}
	}
	return -1
}

// drop removes id from both the visible list and the overflow queue.
func (l *feedList) drop(id string) bool {
	found := false
	if i := l.indexOf(id); i >= 0 {
		l.signals = append(l.signals[:i:i], l.signals[i+1:]...)
		found = true
	}
	if i := l.overflowIndexOf(id); i >= 0 {
		l.overflow = append(l.overflow[:i:i], l.overflow[i+1:]...)
		found = true
	}
	return found
}

// floor is the score at rank pos (1-based), or 0 with fewer entries.
func (l *feedList) floor(pos int) float64 {
	if len(l.signals) < pos {
		return 0
	}
	return l.signals[pos-1].Score
}

// insertRanked places s before the first entry with a strictly lower score,
// or into the overflow queue when it does not beat the rank floor.
func (l *feedList) insertRanked(s models.Signal, floorPos int) bool {
	l.drop(s.SignalID)
	if len(l.signals) >= floorPos && !(s.Score > l.floor(floorPos)) {
		l.overflow = append(l.overflow, s)
		return false
	}
	pos := len(l.signals)
	for i, cur := range l.signals {
		if cur.Score < s.Score {
			pos = i
			break
		}
	}
	l.signals = append(l.signals, models.Signal{})
	copy(l.signals[pos+1:], l.signals[pos:])
	l.signals[pos] = s
	return true
}

func (l *feedList) insertPriority(s models.Signal) {
	l.drop(s.SignalID)
	l.signals = append([]models.Signal{s}, l.signals...)
}

// SignalFeed owns the ranked equity and crypto lists.
type SignalFeed struct {
	backend   domrepo.BackendAPI
	cache     domrepo.SnapshotCache
	log       *logger.Logger
	metrics   domrepo.Metrics
	now       func() time.Time
	floorPos  int
	pageLimit int

	mu        sync.RWMutex
	rev       uint64
	lists     map[models.AssetClass]*feedList
	stale     bool
	updatedAt time.Time
}

type FeedOption func(*SignalFeed)

func WithFeedCache(c domrepo.SnapshotCache) FeedOption {
	return func(f *SignalFeed) { f.cache = c }
}

func WithFeedMetrics(m domrepo.Metrics) FeedOption {
	return func(f *SignalFeed) {
		if m != nil {
			f.metrics = m
		}
	}
}

func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *SignalFeed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithRankFloor sets the rank whose score gates insertion into a full list.
func WithRankFloor(pos int) FeedOption {
	return func(f *SignalFeed) {
		if pos > 0 {
			f.floorPos = pos
		}
	}
}

func WithPageLimit(n int) FeedOption {
	return func(f *SignalFeed) {
		if n > 0 {
			f.pageLimit = n
		}
	}
}

func NewSignalFeed(backend domrepo.BackendAPI, log *logger.Logger, opts ...FeedOption) *SignalFeed {
	if log == nil {
		log = logger.Nop()
	}
	f := &SignalFeed{
		backend:   backend,
		log:       log.With(logger.String("component", "feed")),
		metrics:   metrics.Nop{},
		now:       time.Now,
		floorPos:  10,
		pageLimit: 25,
		lists:     make(map[models.AssetClass]*feedList),
	}
	for _, o := range opts {
		o(f)
	}
	for _, ac := range models.AssetClasses {
		f.lists[ac] = newFeedList(f.pageLimit)
	}
	return f
}

func (f *SignalFeed) list(ac models.AssetClass) *feedList {
	l, ok := f.lists[ac]
	if !ok {
		l = newFeedList(f.pageLimit)
		f.lists[ac] = l
	}
	return l
}

func (f *SignalFeed) record(ac models.AssetClass, l *feedList) {
	f.updatedAt = f.now()
	f.metrics.RecordFeedSize(string(ac), len(l.signals), len(l.overflow))
}

// admit prepares the insertion of s: it rejects removed ids and takes s out
// of every other list. Caller holds f.mu.
func (f *SignalFeed) admit(s models.Signal) (*feedList, bool) {
	if s.SignalID == "" {
		return nil, false
	}
	for ac, l := range f.lists {
		if _, gone := l.tombstones[s.SignalID]; gone {
			return nil, false
		}
		if ac != s.AssetClass && l.drop(s.SignalID) {
			delete(l.inserts, s.SignalID)
			f.record(ac, l)
		}
	}
	f.rev++
	return f.list(s.AssetClass), true
}

// Insert applies a regular NEW_SIGNAL. It reports whether the signal became
// visible; false means it went to the overflow queue or was ignored because
// it was already accepted or dismissed.
func (f *SignalFeed) Insert(s models.Signal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.admit(s)
	if !ok {
		return false
	}
	l.inserts[s.SignalID] = streamInsert{rev: f.rev, signal: s}
	visible := l.insertRanked(s, f.floorPos)
	f.record(s.AssetClass, l)
	return visible
}

// InsertPriority puts s at index 0 regardless of score.
func (f *SignalFeed) InsertPriority(s models.Signal) bool {
	s.IsPriority = true
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.admit(s)
	if !ok {
		return false
	}
	l.inserts[s.SignalID] = streamInsert{rev: f.rev, signal: s, priority: true}
	l.insertPriority(s)
	f.record(s.AssetClass, l)
	return true
}

// Remove drops id from every list. Missing ids are a no-op.
func (f *SignalFeed) Remove(id string) bool {
	if id == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	found := false
	now := f.now()
	for ac, l := range f.lists {
		delete(l.inserts, id)
		l.tombstones[id] = tombstone{rev: f.rev, at: now}
		if l.drop(id) {
			found = true
			f.record(ac, l)
		}
	}
	return found
}

func (f *SignalFeed) present(id string) bool {
	for _, l := range f.lists {
		if l.indexOf(id) >= 0 || l.overflowIndexOf(id) >= 0 {
			return true
		}
	}
	return false
}

// Find returns the signal with id from any list.
func (f *SignalFeed) Find(id string) (models.Signal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, l := range f.lists {
		if i := l.indexOf(id); i >= 0 {
			return l.signals[i], true
		}
		if i := l.overflowIndexOf(id); i >= 0 {
			return l.overflow[i], true
		}
	}
	return models.Signal{}, false
}

// Accept removes the signal locally, tells the backend, then refetches.
func (f *SignalFeed) Accept(ctx context.Context, id string) error {
	f.Remove(id)
	err := f.backend.AcceptSignal(ctx, id)
	if err != nil {
		f.log.Warn("accept signal failed", logger.String("signal_id", id), logger.Error(err))
	}
	if rerr := f.Refetch(ctx); rerr != nil {
		f.log.Warn("refetch after accept failed", logger.Error(rerr))
	}
	return wrapAction("accept", id, err)
}

// Dismiss removes the signal locally, tells the backend, then refetches.
func (f *SignalFeed) Dismiss(ctx context.Context, id, reason string) error {
	f.Remove(id)
	err := f.backend.DismissSignal(ctx, id, reason)
	if err != nil {
		f.log.Warn("dismiss signal failed", logger.String("signal_id", id), logger.Error(err))
	}
	if rerr := f.Refetch(ctx); rerr != nil {
		f.log.Warn("refetch after dismiss failed", logger.Error(rerr))
	}
	return wrapAction("dismiss", id, err)
}

// wrapAction maps a backend 404 to ErrSignalNotFound.
func wrapAction(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if xhttp.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%s %s: %w", op, id, ErrSignalNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

func feedCacheKey(ac models.AssetClass) string { return "signals:" + string(ac) }

// Refetch reloads every asset class from the backend. A failed class keeps
// its current list and marks the feed stale.
func (f *SignalFeed) Refetch(ctx context.Context) error {
	var errs []error
	for _, ac := range models.AssetClasses {
		if err := f.refetchClass(ctx, ac); err != nil {
			errs = append(errs, err)
		}
	}
	f.mu.Lock()
	f.stale = len(errs) > 0
	f.mu.Unlock()
	return errors.Join(errs...)
}

func (f *SignalFeed) refetchClass(ctx context.Context, ac models.AssetClass) error {
	token := f.Revision()
	start := time.Now()
	signals, err := f.backend.FetchActiveSignals(ctx, ac)
	f.metrics.RecordLatency("fetch_active_signals", time.Since(start).Seconds())
	if err != nil {
		f.metrics.RecordError("fetch_active_signals")
		f.restoreFromCache(ac)
		return fmt.Errorf("fetch %s signals: %w", ac, err)
	}
	if f.cache != nil {
		f.cache.Put(feedCacheKey(ac), append([]models.Signal(nil), signals...))
	}
	f.ApplyRefetch(ac, token, signals)
	return nil
}

// restoreFromCache fills an empty list from the last good response.
func (f *SignalFeed) restoreFromCache(ac models.AssetClass) {
	if f.cache == nil {
		return
	}
	v, ok := f.cache.Get(feedCacheKey(ac))
	if !ok {
		return
	}
	signals, ok := v.([]models.Signal)
	if !ok {
		return
	}
	age, _ := f.cache.Age(feedCacheKey(ac))
	f.log.Info("serving cached signals",
		logger.String("asset_class", string(ac)),
		logger.Duration("age", age),
		logger.Int("count", len(signals)),
	)
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.list(ac)
	if len(l.signals) > 0 || len(l.overflow) > 0 {
		return
	}
	for _, s := range signals {
		if _, gone := l.tombstones[s.SignalID]; gone || s.SignalID == "" || f.present(s.SignalID) {
			continue
		}
		l.signals = append(l.signals, s)
	}
	f.record(ac, l)
	f.log.Info("restored signals from last good snapshot", logger.String("asset_class", string(ac)), logger.Int("count", len(l.signals)))
}

// Revision returns the current mutation counter. Take it before a fetch and
// hand it back to ApplyRefetch.
func (f *SignalFeed) Revision() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rev
}

// ApplyRefetch replaces the list for ac with the server payload fetched at
// revision token. Removals and insertions the stream delivered after token
// are re-applied on top, so a slow response cannot undo them. Responses
// older than the last applied one are ignored.
func (f *SignalFeed) ApplyRefetch(ac models.AssetClass, token uint64, server []models.Signal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.list(ac)
	if token < l.applied {
		f.log.Debug("ignoring out-of-date refetch", logger.String("asset_class", string(ac)))
		return false
	}

	seen := make(map[string]struct{}, len(server))
	next := make([]models.Signal, 0, len(server))
	for _, s := range server {
		if s.SignalID == "" {
			continue
		}
		if _, dup := seen[s.SignalID]; dup {
			continue
		}
		if ts, ok := l.tombstones[s.SignalID]; ok {
			if ts.rev > token {
				continue
			}
			// the server still lists it, so the removal did not stick
			delete(l.tombstones, s.SignalID)
		}
		seen[s.SignalID] = struct{}{}
		s.AssetClass = ac
		next = append(next, s)
	}
	l.signals = next
	l.overflow = nil
	for other, ol := range f.lists {
		if other == ac {
			continue
		}
		for id := range seen {
			if ol.drop(id) {
				delete(ol.inserts, id)
				f.record(other, ol)
			}
		}
	}

	replay := make([]streamInsert, 0, len(l.inserts))
	for id, in := range l.inserts {
		if in.rev <= token {
			delete(l.inserts, id)
			continue
		}
		replay = append(replay, in)
	}
	sort.Slice(replay, func(i, j int) bool { return replay[i].rev < replay[j].rev })
	for _, in := range replay {
		if in.priority {
			l.insertPriority(in.signal)
		} else {
			l.insertRanked(in.signal, f.floorPos)
		}
	}
	cutoff := f.now().Add(-tombstoneTTL)
	for id, ts := range l.tombstones {
		if ts.rev <= token && ts.at.Before(cutoff) {
			delete(l.tombstones, id)
		}
	}

	l.applied = token
	l.cursor.Offset = len(server)
	l.cursor.HasMore = len(server) >= l.cursor.Limit
	f.record(ac, l)
	return true
}

// LoadMore fetches the next page for ac. It does nothing while a page is
// loading or once the server reported no more pages.
func (f *SignalFeed) LoadMore(ctx context.Context, ac models.AssetClass) (int, error) {
	f.mu.Lock()
	l := f.list(ac)
	if l.cursor.Loading || !l.cursor.HasMore {
		f.mu.Unlock()
		return 0, nil
	}
	l.cursor.Loading = true
	offset, limit := l.cursor.Offset, l.cursor.Limit
	f.mu.Unlock()

	page, err := f.backend.FetchSignalsPage(ctx, ac, offset, limit)

	f.mu.Lock()
	defer f.mu.Unlock()
	l = f.list(ac)
	l.cursor.Loading = false
	if err != nil {
		f.metrics.RecordError("fetch_signals_page")
		return 0, fmt.Errorf("load more %s: %w", ac, err)
	}

	added := 0
	for _, s := range page.Signals {
		if s.SignalID == "" || f.present(s.SignalID) {
			continue
		}
		if _, gone := l.tombstones[s.SignalID]; gone {
			continue
		}
		s.AssetClass = ac
		l.signals = append(l.signals, s)
		added++
	}
	l.cursor.Offset = offset + len(page.Signals)
	if page.HasMore != nil {
		l.cursor.HasMore = *page.HasMore
	} else {
		l.cursor.HasMore = len(page.Signals) >= limit
	}
	f.record(ac, l)
	return added, nil
}

// Snapshot returns a copy of every list.
func (f *SignalFeed) Snapshot() models.FeedSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := models.FeedSnapshot{
		Lists:     make(map[models.AssetClass]models.FeedList, len(f.lists)),
		Stale:     f.stale,
		Revision:  f.rev,
		UpdatedAt: f.updatedAt,
	}
	for ac, l := range f.lists {
		snap.Lists[ac] = models.FeedList{
			Signals:  append([]models.Signal(nil), l.signals...),
			Overflow: len(l.overflow),
			Cursor:   l.cursor,
		}
	}
	return snap
}

// List returns the visible signals of ac.
func (f *SignalFeed) List(ac models.AssetClass) []models.Signal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	l, ok := f.lists[ac]
	if !ok {
		return nil
	}
	return append([]models.Signal(nil), l.signals...)
}
