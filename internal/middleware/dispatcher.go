package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// EventHandler handles one decoded envelope.
type EventHandler func(ctx context.Context, env models.Envelope) error

// Dispatcher sits between the event sources (stream, bus) and the state
// containers. It drops heartbeats, decodes the envelope, and routes by type.
// Dispatch is serialised so handlers observe one event at a time.
type Dispatcher struct {
	log      *logger.Logger
	metrics  domrepo.Metrics
	now      func() time.Time
	handlers map[models.EventType]EventHandler

	mu sync.Mutex
}

type DispatcherOption func(*Dispatcher)

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithDispatcherMetrics(m domrepo.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func NewDispatcher(log *logger.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	d := &Dispatcher{
		log:      log.With(logger.String("component", "dispatcher")),
		metrics:  metrics.Nop{},
		now:      time.Now,
		handlers: make(map[models.EventType]EventHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register sets the handler for t, replacing any previous one.
func (d *Dispatcher) Register(t models.EventType, h EventHandler) {
	d.mu.Lock()
	d.handlers[t] = h
	d.mu.Unlock()
}

// IsHeartbeat reports whether frame is a bare ping/pong text frame.
func IsHeartbeat(frame []byte) bool {
	f := bytes.TrimSpace(frame)
	return bytes.EqualFold(f, []byte("pong")) || bytes.EqualFold(f, []byte("ping"))
}

// HandleFrame is the entry point for raw frames. Errors are logged and
// counted, never returned.
func (d *Dispatcher) HandleFrame(ctx context.Context, frame []byte) {
	if IsHeartbeat(frame) {
		return
	}
	env, err := Decode(frame)
	if err != nil {
		d.metrics.RecordError("event_malformed")
		d.log.Warn("dropping malformed frame", logger.Error(err), logger.Int("bytes", len(frame)))
		return
	}
	_ = d.Dispatch(ctx, env)
}

// Decode peeks at the discriminator and returns the envelope with Data left raw.
func Decode(frame []byte) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	env.Normalize()
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return env, nil
}

// Dispatch routes env to its handler under the dispatch lock. Handler panics
// are recovered and reported as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, env models.Envelope) (err error) {
	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = d.now()
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		d.metrics.RecordError("event_unknown")
		d.log.Debug("no handler for event", logger.String("type", string(env.Type)))
		return fmt.Errorf("%w: %s", ErrUnknownEvent, env.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordError("event_panic")
			d.log.Error("event handler panic",
				logger.String("type", string(env.Type)),
				logger.Any("panic", r),
			)
			err = fmt.Errorf("handler %s panicked: %v", env.Type, r)
		}
	}()

	if err = h(ctx, env); err != nil {
		d.metrics.RecordError("event_handler")
		d.log.Warn("event handler failed", logger.String("type", string(env.Type)), logger.Error(err))
		return err
	}
	d.metrics.RecordEvent(string(env.Type))
	d.metrics.RecordLatency("dispatch_"+string(env.Type), time.Since(start).Seconds())
	return nil
}
