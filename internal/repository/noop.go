package repository

import (
	"context"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

// NoopJournal is used when ClickHouse is disabled.
type NoopJournal struct{}

func (NoopJournal) Append(context.Context, models.TimeframeBiasSnapshot) error { return nil }
func (NoopJournal) Close() error                                              { return nil }

// NoopShiftPublisher is used when Kafka is disabled.
type NoopShiftPublisher struct{}

func (NoopShiftPublisher) PublishShift(context.Context, models.BiasShiftEvent) error { return nil }
func (NoopShiftPublisher) Close() error                                            { return nil }
