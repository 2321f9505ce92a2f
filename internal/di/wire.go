//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/303webhouse/pandoras-box-sub000/internal/usecase"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
	"github.com/303webhouse/pandoras-box-sub000/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideMetrics,
		ProvideLogger,

		// Optional infrastructure
		ProvideKafkaProducer,
		ProvideShiftPublisher,
		ProvideClickHouseClient,
		ProvideBiasJournal,

		// Collaborators
		ProvidePreferences,
		ProvideBackend,
		ProvideSnapshotCache,
		ProvideAggregator,

		// State containers
		ProvideBiasBoard,
		ProvideSignalFeed,
		ProvideScoutTracker,
		usecase.NewActivityState,
		usecase.NewStreamRouter,

		// Event sources
		ProvideDispatcher,
		ProvideStreamClient,
		ProvideKafkaConsumer,
		ProvideReconciler,

		// HTTP
		ProvideRateLimiter,
		ProvideHandlers,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
