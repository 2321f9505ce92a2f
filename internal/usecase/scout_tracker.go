package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
)

// Stopper is the part of *time.Timer the trackers need.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc in production.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

type scoutEntry struct {
	alert models.ScoutAlert
	gen   uint64
	timer Stopper
}

// ScoutTracker holds the visible scout alerts, newest first. Each alert
// expires on its own timer; a timer firing for an alert that is already gone
// does nothing.
type ScoutTracker struct {
	ttl      time.Duration
	capacity int
	after    AfterFunc
	now      func() time.Time
	log      *logger.Logger
	metrics  domrepo.Metrics

	mu      sync.Mutex
	entries []*scoutEntry
	gen     uint64
	closed  bool
}

type ScoutOption func(*ScoutTracker)

func WithScoutAfterFunc(fn AfterFunc) ScoutOption {
	return func(s *ScoutTracker) {
		if fn != nil {
			s.after = fn
		}
	}
}

func WithScoutClock(now func() time.Time) ScoutOption {
	return func(s *ScoutTracker) {
		if now != nil {
			s.now = now
		}
	}
}

func WithScoutMetrics(m domrepo.Metrics) ScoutOption {
	return func(s *ScoutTracker) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewScoutTracker(ttl time.Duration, capacity int, log *logger.Logger, opts ...ScoutOption) *ScoutTracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if capacity <= 0 {
		capacity = 3
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &ScoutTracker{
		ttl:      ttl,
		capacity: capacity,
		after:    realAfterFunc,
		now:      time.Now,
		log:      log.With(logger.String("component", "scouts")),
		metrics:  metrics.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normTicker(t string) string { return strings.ToUpper(strings.TrimSpace(t)) }

// Upsert puts alert at the front, replacing any alert for the same ticker,
// and drops the oldest alerts beyond capacity. It returns the evicted alerts.
func (s *ScoutTracker) Upsert(alert models.ScoutAlert) []models.ScoutAlert {
	alert.Ticker = normTicker(alert.Ticker)
	if alert.Ticker == "" {
		return nil
	}
	now := s.now()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.alert.Ticker == alert.Ticker || (alert.SignalID != "" && e.alert.SignalID == alert.SignalID) {
			e.timer.Stop()
			continue
		}
		kept = append(kept, e)
	}

	s.gen++
	entry := &scoutEntry{alert: alert, gen: s.gen}
	gen := s.gen
	entry.timer = s.after(s.ttl, func() { s.expire(gen) })
	s.entries = append([]*scoutEntry{entry}, kept...)

	var evicted []models.ScoutAlert
	for len(s.entries) > s.capacity {
		last := s.entries[len(s.entries)-1]
		last.timer.Stop()
		evicted = append(evicted, last.alert)
		s.entries = s.entries[:len(s.entries)-1]
	}
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.RecordScoutCount(n)
	s.log.Debug("scout alert", logger.String("ticker", alert.Ticker), logger.Int("visible", n), logger.Int("evicted", len(evicted)))
	return evicted
}

// ConfirmByTicker removes the alert for ticker, if any, because a full
// signal for it arrived.
func (s *ScoutTracker) ConfirmByTicker(ticker string) bool {
	ticker = normTicker(ticker)
	return s.removeWhere(func(e *scoutEntry) bool { return e.alert.Ticker == ticker }, "confirmed")
}

// Dismiss removes the alert with signalID on user request.
func (s *ScoutTracker) Dismiss(signalID string) bool {
	return s.removeWhere(func(e *scoutEntry) bool { return e.alert.SignalID == signalID }, "dismissed")
}

func (s *ScoutTracker) expire(gen uint64) {
	s.removeWhere(func(e *scoutEntry) bool { return e.gen == gen }, "expired")
}

func (s *ScoutTracker) removeWhere(match func(*scoutEntry) bool, reason string) bool {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if match(e) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.entries[idx]
	removed.timer.Stop()
	s.entries = append(s.entries[:idx:idx], s.entries[idx+1:]...)
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.RecordScoutCount(n)
	s.log.Debug("scout alert removed", logger.String("ticker", removed.alert.Ticker), logger.String("reason", reason))
	return true
}

// Snapshot returns the visible alerts, newest first.
func (s *ScoutTracker) Snapshot() []models.ScoutAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScoutAlert, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.alert
	}
	return out
}

// Close stops every pending expiry timer. Later upserts are ignored.
func (s *ScoutTracker) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.timer.Stop()
	}
	s.closed = true
}
