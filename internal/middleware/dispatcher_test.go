package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
)

type countingMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	events map[string]int
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{events: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) RecordEvent(t string) {
	m.mu.Lock()
	m.events[t]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func TestIsHeartbeat(t *testing.T) {
	for _, f := range []string{"pong", "PONG", " ping\n", "Ping"} {
		assert.True(t, IsHeartbeat([]byte(f)), f)
	}
	for _, f := range []string{"", "pongs", `{"type":"pong"}`} {
		assert.False(t, IsHeartbeat([]byte(f)), f)
	}
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"type":"new_signal","data":{"signal_id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventNewSignal, env.Type)
	assert.JSONEq(t, `{"signal_id":"x"}`, string(env.Data))

	_, err = Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDispatcher_RoutesByType(t *testing.T) {
	m := newCountingMetrics()
	at := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	d := NewDispatcher(logger.Nop(), WithDispatcherMetrics(m), WithClock(func() time.Time { return at }))

	var got []models.Envelope
	d.Register(models.EventBiasUpdate, func(_ context.Context, env models.Envelope) error {
		got = append(got, env)
		return nil
	})

	d.HandleFrame(context.Background(), []byte(`{"type":"BIAS_UPDATE","data":{"timeframe":"daily"}}`))
	d.HandleFrame(context.Background(), []byte("pong"))
	d.HandleFrame(context.Background(), []byte(`garbage`))
	d.HandleFrame(context.Background(), []byte(`{"type":"SOMETHING_NEW"}`))

	require.Len(t, got, 1)
	assert.Equal(t, at, got[0].ReceivedAt)
	assert.Equal(t, 1, m.events[string(models.EventBiasUpdate)])
	assert.Equal(t, 1, m.errors["event_malformed"])
	assert.Equal(t, 1, m.errors["event_unknown"])
}

func TestDispatcher_UnknownTypeError(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	err := d.Dispatch(context.Background(), models.Envelope{Type: "NOPE"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	m := newCountingMetrics()
	d := NewDispatcher(logger.Nop(), WithDispatcherMetrics(m))
	d.Register(models.EventFlowUpdate, func(context.Context, models.Envelope) error {
		panic("boom")
	})
	calls := 0
	d.Register(models.EventPositionUpdate, func(context.Context, models.Envelope) error {
		calls++
		return nil
	})

	err := d.Dispatch(context.Background(), models.Envelope{Type: models.EventFlowUpdate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, m.errors["event_panic"])

	// the dispatcher still works afterwards
	require.NoError(t, d.Dispatch(context.Background(), models.Envelope{Type: models.EventPositionUpdate}))
	assert.Equal(t, 1, calls)
}

func TestDispatcher_HandlerErrorIsCounted(t *testing.T) {
	m := newCountingMetrics()
	d := NewDispatcher(logger.Nop(), WithDispatcherMetrics(m))
	boom := errors.New("bad payload")
	d.Register(models.EventNewSignal, func(context.Context, models.Envelope) error { return boom })

	assert.ErrorIs(t, d.Dispatch(context.Background(), models.Envelope{Type: models.EventNewSignal}), boom)
	assert.Equal(t, 1, m.errors["event_handler"])
	assert.Zero(t, m.events[string(models.EventNewSignal)])
}

func TestDispatcher_SerialisesHandlers(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	var active, maxActive int
	var mu sync.Mutex
	d.Register(models.EventNewSignal, func(context.Context, models.Envelope) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.HandleFrame(context.Background(), []byte(`{"type":"NEW_SIGNAL"}`))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}
