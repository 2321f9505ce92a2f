package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	"github.com/303webhouse/pandoras-box-sub000/internal/handler/api"
	mid "github.com/303webhouse/pandoras-box-sub000/internal/middleware"
	internalrepo "github.com/303webhouse/pandoras-box-sub000/internal/repository"
	"github.com/303webhouse/pandoras-box-sub000/internal/service/backend"
	"github.com/303webhouse/pandoras-box-sub000/internal/service/cache"
	"github.com/303webhouse/pandoras-box-sub000/internal/service/prefs"
	"github.com/303webhouse/pandoras-box-sub000/internal/service/ratelimit"
	"github.com/303webhouse/pandoras-box-sub000/internal/service/stream"
	"github.com/303webhouse/pandoras-box-sub000/internal/services/bias"
	"github.com/303webhouse/pandoras-box-sub000/internal/usecase"
	pkgch "github.com/303webhouse/pandoras-box-sub000/pkg/clickhouse"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	pkgkafka "github.com/303webhouse/pandoras-box-sub000/pkg/kafka"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
	"github.com/303webhouse/pandoras-box-sub000/pkg/metrics"
	"github.com/303webhouse/pandoras-box-sub000/pkg/server"
)

// ProvideLogger builds the application logger from the log section. With a
// producer present, repeated entries are aggregated onto the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}
	return log.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(int(kafkago.RequireOne)),
		pkgkafka.WithBatching(50, 200*time.Millisecond),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideShiftPublisher publishes level changes when a producer exists.
func ProvideShiftPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.BiasShiftPublisher {
	if producer == nil || cfg.Kafka.ShiftsTopic == "" {
		return internalrepo.NoopShiftPublisher{}
	}
	return internalrepo.NewKafkaShiftPublisher(producer, cfg.Kafka.ShiftsTopic, false)
}

// ProvideClickHouseClient returns nil when the journal is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, 0),
		pkgch.WithAsyncInsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.JournalSchema(journalTable(cfg))...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func journalTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
}

// ProvideBiasJournal journals snapshots into ClickHouse when a client exists.
func ProvideBiasJournal(cfg *config.Config, client *pkgch.Client, log *logger.Logger) repository.BiasJournal {
	if client == nil {
		return internalrepo.NoopJournal{}
	}
	return internalrepo.NewClickHouseJournal(client.DB(), journalTable(cfg),
		cfg.ClickHouse.FlushEvery, cfg.ClickHouse.BatchSize, log)
}

func ProvidePreferences(cfg *config.Config, log *logger.Logger) (*prefs.Store, error) {
	return prefs.Open(cfg, log)
}

func ProvideBackend(cfg *config.Config, log *logger.Logger) *backend.Client {
	return backend.NewFromConfig(cfg, log)
}

func ProvideSnapshotCache(cfg *config.Config) *cache.SnapshotCache {
	return cache.NewSnapshotCache(cfg.SnapshotCache.TTL)
}

func ProvideAggregator(cfg *config.Config) *bias.Aggregator {
	return bias.NewAggregator(bias.ThresholdsFromConfig(cfg))
}

func ProvideBiasBoard(
	cfg *config.Config,
	agg *bias.Aggregator,
	store *prefs.Store,
	rest *backend.Client,
	snapshots *cache.SnapshotCache,
	journal repository.BiasJournal,
	pub repository.BiasShiftPublisher,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.BiasBoard {
	return usecase.NewBiasBoard(agg, store, rest, log,
		usecase.WithBoardCache(snapshots),
		usecase.WithJournal(journal),
		usecase.WithShiftPublisher(pub),
		usecase.WithBoardMetrics(m),
		usecase.WithOverrideTTL(cfg.Bias.OverrideTTL),
	)
}

func ProvideSignalFeed(cfg *config.Config, rest *backend.Client, snapshots *cache.SnapshotCache, m repository.Metrics, log *logger.Logger) *usecase.SignalFeed {
	return usecase.NewSignalFeed(rest, log,
		usecase.WithFeedCache(snapshots),
		usecase.WithFeedMetrics(m),
		usecase.WithRankFloor(cfg.Feed.RankFloorPosition),
		usecase.WithPageLimit(cfg.Feed.PageLimit),
	)
}

func ProvideScoutTracker(cfg *config.Config, m repository.Metrics, log *logger.Logger) *usecase.ScoutTracker {
	return usecase.NewScoutTracker(cfg.Scout.TTL, cfg.Scout.Capacity, log, usecase.WithScoutMetrics(m))
}

// ProvideDispatcher registers every router handler on a fresh dispatcher.
func ProvideDispatcher(router *usecase.StreamRouter, m repository.Metrics, log *logger.Logger) *mid.Dispatcher {
	d := mid.NewDispatcher(log, mid.WithDispatcherMetrics(m))
	for t, h := range router.Handlers() {
		d.Register(t, h)
	}
	return d
}

func ProvideStreamClient(cfg *config.Config, d *mid.Dispatcher, m repository.Metrics, log *logger.Logger) *stream.Client {
	return stream.New(cfg.Stream.URL, d.HandleFrame, log,
		stream.WithPingInterval(cfg.Stream.PingInterval),
		stream.WithReconnectDelay(cfg.Stream.ReconnectDelay),
		stream.WithLivenessWindow(cfg.Stream.LivenessWindow),
		stream.WithMetrics(m),
	)
}

// ProvideReconciler subscribes the reconciler to connection changes so a new
// stream session triggers a resync.
func ProvideReconciler(cfg *config.Config, feed *usecase.SignalFeed, board *usecase.BiasBoard, client *stream.Client, log *logger.Logger) *usecase.Reconciler {
	r := usecase.NewReconciler(feed, board, usecase.ReconcileSpecs{
		Signals:  cfg.Reconcile.SignalsSpec,
		Bias:     cfg.Reconcile.BiasSpec,
		Override: cfg.Reconcile.OverrideSpec,
	}, log)
	client.OnStatus(r.OnConnection)
	return r
}

// ProvideKafkaConsumer returns nil unless Kafka is enabled with an events topic.
func ProvideKafkaConsumer(cfg *config.Config, d *mid.Dispatcher, reg *prometheus.Registry, m repository.Metrics, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.EventsTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Workers),
		pkgkafka.WithConsumerRetry(3, 100*time.Millisecond, 2*time.Second),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaEventsHandler(cfg.Kafka.EventsTopic, d, m))
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, km kafkago.Message, _ []byte, err error) {
			log.Warn("bus event failed",
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Error(err),
			)
		},
	})
	return consumer, nil
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// ProvideHandlers builds the REST surface. Write routes share one limiter.
func ProvideHandlers(
	log *logger.Logger,
	board *usecase.BiasBoard,
	feed *usecase.SignalFeed,
	scouts *usecase.ScoutTracker,
	activity *usecase.ActivityState,
	client *stream.Client,
	limiter *ratelimit.Limiter,
) []xhttp.Handler {
	mw := limiter.Middleware()
	return []xhttp.Handler{
		api.NewBiasHandler(log, board, mw),
		api.NewSignalsHandler(log, feed, mw),
		api.NewStatusHandler(scouts, client, activity, mw),
	}
}

func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, handlers []xhttp.Handler, reg *prometheus.Registry) *xhttp.Server {
	return xhttp.NewServer(log, handlers,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithRegistry(reg),
	)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	client *stream.Client,
	board *usecase.BiasBoard,
	scouts *usecase.ScoutTracker,
	reconciler *usecase.Reconciler,
	consumer *pkgkafka.Consumer,
	httpServer *xhttp.Server,
	store *prefs.Store,
	journal repository.BiasJournal,
	pub repository.BiasShiftPublisher,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
) *server.App {
	app := server.New(cfg, log, client, board, reconciler, httpServer)
	if consumer != nil {
		app.Consumer = consumer
	}
	app.Closers = closers(log, scouts, journal, pub, producer, store, chClient)
	return app
}

// closers lists resources in release order. Nil optional clients are skipped.
func closers(log *logger.Logger, scouts *usecase.ScoutTracker, journal repository.BiasJournal, pub repository.BiasShiftPublisher, producer *pkgkafka.Producer, store *prefs.Store, chClient *pkgch.Client) []server.Closer {
	out := []server.Closer{
		{Name: "scouts", Close: func() error { scouts.Close(); return nil }},
		{Name: "journal", Close: journal.Close},
		{Name: "shift_publisher", Close: pub.Close},
	}
	if producer != nil {
		out = append(out,
			server.Closer{Name: "log_collector", Close: func() error { log.RemoveCollector(); return nil }},
			server.Closer{Name: "kafka_producer", Close: producer.Close},
		)
	}
	out = append(out, server.Closer{Name: "preferences", Close: store.Close})
	if chClient != nil {
		out = append(out, server.Closer{Name: "clickhouse", Close: chClient.Close})
	}
	return out
}
