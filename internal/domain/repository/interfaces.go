package repository

import (
	"context"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

// PreferenceStore persists small client preferences by namespace and key.
// Get returns found=false when nothing is stored.
type PreferenceStore interface {
	Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, namespace, key string, value interface{}) error
}

// BackendAPI is the REST collaborator that owns authoritative state.
type BackendAPI interface {
	FetchActiveSignals(ctx context.Context, ac models.AssetClass) ([]models.Signal, error)
	FetchSignalsPage(ctx context.Context, ac models.AssetClass, offset, limit int) (models.SignalsPage, error)
	FetchBiasStatus(ctx context.Context) (models.BiasStatus, error)
	FetchBiasShift(ctx context.Context) (models.BiasShift, error)
	AcceptSignal(ctx context.Context, signalID string) error
	DismissSignal(ctx context.Context, signalID, reason string) error
	SetBiasOverride(ctx context.Context, direction models.BiasLevel, reason string, expiresAt time.Time) error
	ClearBiasOverride(ctx context.Context) error
}

// SnapshotCache keeps the last successful response per key.
type SnapshotCache interface {
	Put(key string, value interface{})
	Get(key string) (interface{}, bool)
	// Age reports how long ago key was stored.
	Age(key string) (time.Duration, bool)
}

// BiasJournal appends classified snapshots for offline analysis.
type BiasJournal interface {
	Append(ctx context.Context, snap models.TimeframeBiasSnapshot) error
	Close() error
}

// BiasShiftPublisher fans level changes out to other consumers.
type BiasShiftPublisher interface {
	PublishShift(ctx context.Context, ev models.BiasShiftEvent) error
	Close() error
}

type Metrics interface {
	RecordEvent(eventType string)
	RecordError(kind string)
	RecordReconnect()
	RecordConnectionStatus(status string)
	RecordFeedSize(assetClass string, visible, overflow int)
	RecordScoutCount(n int)
	RecordBiasLevel(timeframe string, ordinal int)
	RecordLatency(op string, seconds float64)
}
