package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

var errBackendDown = errors.New("backend down")

type fakeBackend struct {
	mu sync.Mutex

	active    map[models.AssetClass][]models.Signal
	pages     []models.SignalsPage
	pageCalls []int
	status    models.BiasStatus
	shift     models.BiasShift
	fail      bool
	actionErr error

	// onFetch runs inside FetchActiveSignals before it returns, to model
	// stream events arriving while a refetch is in flight.
	onFetch func()
	// onStatus does the same for FetchBiasStatus.
	onStatus func()

	accepted  []string
	dismissed map[string]string
	overrides []models.BiasLevel
	cleared   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		active:    make(map[models.AssetClass][]models.Signal),
		dismissed: make(map[string]string),
	}
}

func (b *fakeBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *fakeBackend) FetchActiveSignals(_ context.Context, ac models.AssetClass) ([]models.Signal, error) {
	b.mu.Lock()
	fail := b.fail
	out := append([]models.Signal(nil), b.active[ac]...)
	hook := b.onFetch
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return nil, errBackendDown
	}
	return out, nil
}

func (b *fakeBackend) FetchSignalsPage(_ context.Context, _ models.AssetClass, offset, _ int) (models.SignalsPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageCalls = append(b.pageCalls, offset)
	if b.fail {
		return models.SignalsPage{}, errBackendDown
	}
	if len(b.pages) == 0 {
		return models.SignalsPage{}, nil
	}
	p := b.pages[0]
	b.pages = b.pages[1:]
	return p, nil
}

func (b *fakeBackend) FetchBiasStatus(context.Context) (models.BiasStatus, error) {
	b.mu.Lock()
	fail := b.fail
	status := b.status
	hook := b.onStatus
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return models.BiasStatus{}, errBackendDown
	}
	return status, nil
}

func (b *fakeBackend) FetchBiasShift(context.Context) (models.BiasShift, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errBackendDown
	}
	return b.shift, nil
}

func (b *fakeBackend) AcceptSignal(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errBackendDown
	}
	if b.actionErr != nil {
		return b.actionErr
	}
	b.accepted = append(b.accepted, id)
	for ac, list := range b.active {
		b.active[ac] = withoutID(list, id)
	}
	return nil
}

func (b *fakeBackend) DismissSignal(_ context.Context, id, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errBackendDown
	}
	if b.actionErr != nil {
		return b.actionErr
	}
	b.dismissed[id] = reason
	for ac, list := range b.active {
		b.active[ac] = withoutID(list, id)
	}
	return nil
}

func (b *fakeBackend) SetBiasOverride(_ context.Context, dir models.BiasLevel, _ string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errBackendDown
	}
	b.overrides = append(b.overrides, dir)
	return nil
}

func (b *fakeBackend) ClearBiasOverride(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errBackendDown
	}
	b.cleared++
	return nil
}

func withoutID(list []models.Signal, id string) []models.Signal {
	out := list[:0:0]
	for _, s := range list {
		if s.SignalID != id {
			out = append(out, s)
		}
	}
	return out
}

// memPrefs is an in-memory PreferenceStore that round-trips through JSON
// like the real stores do.
type memPrefs struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemPrefs() *memPrefs { return &memPrefs{data: make(map[string][]byte)} }

func (p *memPrefs) Get(_ context.Context, namespace, key string, dest interface{}) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.data[namespace+":"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (p *memPrefs) Set(_ context.Context, namespace, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[namespace+":"+key] = b
	p.sets++
	return nil
}

// mapCache is a trivial SnapshotCache.
type mapCache struct {
	mu sync.Mutex
	m  map[string]interface{}
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string]interface{})} }

func (c *mapCache) Put(key string, v interface{}) {
	c.mu.Lock()
	c.m[key] = v
	c.mu.Unlock()
}

func (c *mapCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Age(key string) (time.Duration, bool) {
	_, ok := c.Get(key)
	return time.Minute, ok
}

func sig(id string, score float64) models.Signal {
	return models.Signal{SignalID: id, AssetClass: models.Equity, Ticker: id, Score: score, Direction: models.Long}
}

func ids(list []models.Signal) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.SignalID
	}
	return out
}
