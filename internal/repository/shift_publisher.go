package repository

import (
	"context"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	pkgkafka "github.com/303webhouse/pandoras-box-sub000/pkg/kafka"
)

// KafkaShiftPublisher writes bias level changes keyed by timeframe so one
// timeframe's shifts stay ordered.
type KafkaShiftPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	owned    bool
}

var _ domrepo.BiasShiftPublisher = (*KafkaShiftPublisher)(nil)

// NewKafkaShiftPublisher publishes on topic. When owned is true Close also
// closes the producer.
func NewKafkaShiftPublisher(producer *pkgkafka.Producer, topic string, owned bool) *KafkaShiftPublisher {
	return &KafkaShiftPublisher{producer: producer, topic: topic, owned: owned}
}

func (p *KafkaShiftPublisher) PublishShift(ctx context.Context, ev models.BiasShiftEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Timeframe), ev)
}

func (p *KafkaShiftPublisher) Close() error {
	if p.owned && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
