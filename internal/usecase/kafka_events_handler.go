package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	mid "github.com/303webhouse/pandoras-box-sub000/internal/middleware"
	pkgkafka "github.com/303webhouse/pandoras-box-sub000/pkg/kafka"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
)

// EnvelopeDispatcher routes a decoded envelope to its handler.
type EnvelopeDispatcher interface {
	Dispatch(ctx context.Context, env models.Envelope) error
}

// KafkaEventsHandler feeds envelopes mirrored onto a Kafka topic into the
// same dispatcher as the live stream.
type KafkaEventsHandler struct {
	topic    string
	dispatch EnvelopeDispatcher
	metrics  domrepo.Metrics
	now      func() time.Time
}

func NewKafkaEventsHandler(topic string, dispatch EnvelopeDispatcher, m domrepo.Metrics) *KafkaEventsHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &KafkaEventsHandler{topic: topic, dispatch: dispatch, metrics: m, now: time.Now}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

// Handle decodes one frame. Unknown event types are skipped; decode and
// handler errors are returned so the consumer can retry or dead-letter.
func (h *KafkaEventsHandler) Handle(ctx context.Context, b []byte) error {
	if mid.IsHeartbeat(b) {
		return nil
	}
	env, err := mid.Decode(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	env.ReceivedAt = h.now()

	start := time.Now()
	err = h.dispatch.Dispatch(ctx, env)
	h.metrics.RecordLatency("bus_dispatch_seconds", time.Since(start).Seconds())
	if errors.Is(err, mid.ErrUnknownEvent) {
		return nil
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaEventsHandler)(nil)
