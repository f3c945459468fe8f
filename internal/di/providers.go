package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	"TransitWatch/internal/handler/api"
	"TransitWatch/internal/repository"
	icache "TransitWatch/internal/service/cache"
	"TransitWatch/internal/services/ephemeris"
	"TransitWatch/internal/services/scoring"
	"TransitWatch/internal/usecase"
	pkgcache "TransitWatch/pkg/cache"
	pkgch "TransitWatch/pkg/clickhouse"
	"TransitWatch/pkg/config"
	xhttp "TransitWatch/pkg/http"
	pkgkafka "TransitWatch/pkg/kafka"
	applogger "TransitWatch/pkg/logger"
	"TransitWatch/pkg/metrics"
	"TransitWatch/pkg/queue"
	"TransitWatch/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideKafkaProducer creates a Kafka producer when alerts or logs are
// shipped to Kafka, nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Notifications.Kafka && !cfg.Log.Collector.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With the collector enabled,
// aggregated error logs are published to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.FlushInterval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Source:         "transitwatch",
			Publisher:      producer,
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(nil)
}

// ProvideRedisCache connects to Redis when any component needs it.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !cfg.UsesRedis() {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.Timeout),
		pkgcache.WithRedisPrefix(cfg.Persistence.KeyPrefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client for the clickhouse
// archive backend, nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Archive.Backend != "clickhouse" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, cfg.ClickHouse.ConnMaxLifetime),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout, cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
	}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideChart loads the natal chart file.
func ProvideChart(cfg *config.Config) (*models.NatalChart, error) {
	chart, err := repository.LoadChartFile(cfg.Chart.Path)
	if err != nil {
		return nil, fmt.Errorf("natal chart: %w", err)
	}
	return chart, nil
}

// ProvideEphemeris wraps the mean-motion model with the LRU cache.
func ProvideEphemeris(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) (*ephemeris.CachedProvider, func()) {
	p := ephemeris.NewCachedProvider(ephemeris.NewMeanMotionProvider(),
		ephemeris.WithCapacity(cfg.Ephemeris.CacheCapacity),
		ephemeris.WithTTL(cfg.Ephemeris.CacheTTL),
		ephemeris.WithSweepInterval(cfg.Ephemeris.SweepInterval),
		ephemeris.WithPrecision(cfg.Ephemeris.Precision),
		ephemeris.WithMetrics(m),
		ephemeris.WithLogger(l.With("ephemeris")),
	)
	return p, func() { _ = p.Close() }
}

// ProvidePositionTracker uses the chart's ayanamsa, falling back to the
// configured one when the chart file leaves it out.
func ProvidePositionTracker(cfg *config.Config, chart *models.NatalChart, p *ephemeris.CachedProvider) *usecase.PositionTracker {
	ayanamsa := chart.Ayanamsa()
	if ayanamsa == 0 {
		ayanamsa = cfg.Ephemeris.Ayanamsa
	}
	return usecase.NewPositionTracker(p, ayanamsa, nil)
}

func ProvidePositionMonitor(cfg *config.Config, tracker *usecase.PositionTracker, m domrepo.Metrics, l *applogger.Logger) *usecase.PositionMonitor {
	return usecase.NewPositionMonitor(tracker, cfg.Monitor.Interval, m, l.With("monitor"))
}

func ProvideTransitAnalyzer(cfg *config.Config, chart *models.NatalChart) *usecase.TransitAnalyzer {
	return usecase.NewTransitAnalyzer(chart, cfg.Analysis.Orb, scoring.Thresholds{
		Critical: cfg.Analysis.CriticalThreshold,
		Medium:   cfg.Analysis.MediumThreshold,
	})
}

// ProvideBlobStore selects where the ephemeris cache snapshot lives.
func ProvideBlobStore(cfg *config.Config, rc *pkgcache.RedisCache) domrepo.BlobStore {
	switch cfg.Persistence.Backend {
	case "redis":
		return repository.NewRedisBlobStore(rc, "blob")
	case "file":
		return repository.NewFileBlobStore(cfg.Persistence.Dir)
	default:
		return repository.NewMemoryBlobStore()
	}
}

func ProvideDedupStore(cfg *config.Config, rc *pkgcache.RedisCache) domrepo.DedupStore {
	if cfg.Persistence.Dedup == "redis" {
		return repository.NewRedisDedupStore(rc, "dedup", cfg.Alerts.DedupTTL)
	}
	return repository.NewMemoryDedupStore(cfg.Alerts.DedupTTL)
}

// ProvideAlertArchive opens the configured archive backend. The result is
// nil when archiving is off.
func ProvideAlertArchive(cfg *config.Config, ch *pkgch.Client) (domrepo.AlertArchive, func(), error) {
	var archive domrepo.AlertArchive
	switch cfg.Archive.Backend {
	case "sqlite":
		a, err := repository.NewSQLiteAlertArchive(cfg.Archive.SQLitePath, cfg.Archive.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite archive: %w", err)
		}
		archive = a
	case "clickhouse":
		archive = repository.NewCHAlertArchive(ch, cfg.ClickHouse.Database+"."+cfg.Archive.Table)
	default:
		return nil, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		_ = archive.Close()
		return nil, nil, fmt.Errorf("alert archive init: %w", err)
	}
	return archive, func() { _ = archive.Close() }, nil
}

func ProvideAlertArchiveHandler(cfg *config.Config, archive domrepo.AlertArchive, m domrepo.Metrics) *usecase.AlertArchiveHandler {
	if archive == nil {
		return nil
	}
	return usecase.NewAlertArchiveHandler(cfg.Kafka.AlertsTopic, repository.AlertMessageType, archive, m)
}

func ProvideWSHub(l *applogger.Logger) (*repository.WSHub, func()) {
	hub := repository.NewWSHub(l.With("ws"))
	return hub, hub.Close
}

// ProvideRedisQueue creates the queue channel. It also consumes the queue
// into the ClickHouse archive; other backends are written by the archive sink.
func ProvideRedisQueue(cfg *config.Config, rc *pkgcache.RedisCache, handler *usecase.AlertArchiveHandler, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Notifications.Queue {
		return nil
	}
	ql := l.With("queue")
	opt := queue.WithKeyPrefix(cfg.Persistence.KeyPrefix + ":queue")
	if handler == nil || cfg.Archive.Backend != "clickhouse" {
		return queue.NewRedisQueue(ql, &queue.QueueConfig{}, rc.Client(), queue.ModeProducerOnly, opt)
	}
	q := queue.NewRedisQueue(ql, &queue.QueueConfig{
		Workers:    cfg.Redis.Queue.Workers,
		RetryLimit: cfg.Redis.Queue.RetryLimit,
		RetryDelay: cfg.Redis.Queue.RetryDelay,
	}, rc.Client(), queue.ModeProducerConsumer, opt)
	q.RegisterJob(handler.QueueJob())
	return q
}

// ProvideNotificationSink fans alerts out to every enabled channel.
func ProvideNotificationSink(
	cfg *config.Config,
	l *applogger.Logger,
	m domrepo.Metrics,
	producer *pkgkafka.Producer,
	q *queue.RedisQueue,
	hub *repository.WSHub,
	archive domrepo.AlertArchive,
) domrepo.NotificationSink {
	var sinks []repository.NamedSink
	if cfg.Notifications.Log {
		sinks = append(sinks, repository.NamedSink{Name: "log", Sink: repository.NewLogSink(l.With("alerts"))})
	}
	if cfg.Notifications.Kafka && producer != nil {
		sinks = append(sinks, repository.NamedSink{Name: "kafka", Sink: repository.NewKafkaSink(producer, cfg.Kafka.AlertsTopic)})
	}
	if q != nil {
		sinks = append(sinks, repository.NamedSink{Name: "queue", Sink: repository.NewQueueSink(q)})
	}
	if cfg.Notifications.WebSocket {
		sinks = append(sinks, repository.NamedSink{Name: "websocket", Sink: hub})
	}
	if cfg.Notifications.Webhook.Enabled {
		sinks = append(sinks, repository.NamedSink{Name: "webhook", Sink: repository.NewWebhookSink(repository.WebhookConfig{
			URL:         cfg.Notifications.Webhook.URL,
			Headers:     cfg.Notifications.Webhook.Headers,
			Timeout:     cfg.Notifications.Webhook.Timeout,
			OpenTimeout: cfg.Notifications.Webhook.OpenTimeout,
		}, l)})
	}
	if archive != nil && cfg.Archive.Backend == "sqlite" {
		sinks = append(sinks, repository.NamedSink{Name: "archive", Sink: repository.NewArchiveSink(archive)})
	}
	return repository.NewMultiSink(m, l.With("notify"), sinks...)
}

func ProvideAlertEngine(cfg *config.Config, dedup domrepo.DedupStore, sink domrepo.NotificationSink, m domrepo.Metrics, l *applogger.Logger) *usecase.AlertEngine {
	return usecase.NewAlertEngine(usecase.DefaultAlertRules(), usecase.TimingThresholds{
		Immediate: cfg.Alerts.Timing.ImmediateDays,
		Soon:      cfg.Alerts.Timing.SoonDays,
		Upcoming:  cfg.Alerts.Timing.UpcomingDays,
		Advance:   cfg.Alerts.Timing.AdvanceDays,
	}, dedup, sink,
		usecase.WithEngineMetrics(m),
		usecase.WithEngineLogger(l.With("alerts")),
	)
}

// ProvideRulesWatcher hot-reloads the rules file into the engine. Nil when
// no rules file is configured.
func ProvideRulesWatcher(cfg *config.Config, engine *usecase.AlertEngine, l *applogger.Logger) (*repository.RulesWatcher, error) {
	if cfg.Alerts.RulesPath == "" {
		return nil, nil
	}
	w, err := repository.NewRulesWatcher(cfg.Alerts.RulesPath, usecase.DefaultAlertRules(), engine.SetRules, l.With("rules"))
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	return w, nil
}

func ProvideTransitAnalysis(
	cfg *config.Config,
	analyzer *usecase.TransitAnalyzer,
	tracker *usecase.PositionTracker,
	monitor *usecase.PositionMonitor,
	engine *usecase.AlertEngine,
	blobs domrepo.BlobStore,
	provider *ephemeris.CachedProvider,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.TransitAnalysis {
	return usecase.NewTransitAnalysis(usecase.TransitAnalysisConfig{
		CacheID:          "ephemeris-cache",
		MaxDaysAhead:     cfg.Predictions.MaxDaysAhead,
		PredictionStep:   cfg.Predictions.Step,
		SubscriberBuffer: cfg.Monitor.SubscriberBuffer,
		PumpMinInterval:  cfg.Monitor.PumpMinInterval,
	}, analyzer, tracker, monitor, engine,
		usecase.WithCachePersistence(blobs, provider),
		usecase.WithAnalysisMetrics(m),
		usecase.WithAnalysisLogger(l.With("analysis")),
	)
}

// ProvideKafkaConsumer creates the archive consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config, handler *usecase.AlertArchiveHandler, m domrepo.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled || handler == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l.With("kafka")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(handler)
	consumer.WithConsumerHook(archiveHook(m, l.With("kafka")))
	return consumer, nil
}

// archiveHook drops empty messages before decoding and counts handler failures.
func archiveHook(m domrepo.Metrics, l *applogger.Logger) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			if len(data) == 0 {
				return ctx, km, data, &pkgkafka.HookError{Code: "ERR_EMPTY", Err: errors.New("empty alert message")}
			}
			return ctx, km, data, nil
		},
		Err: func(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
			m.RecordError("archive_consume")
			l.Warn("archive message failed",
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err))
		},
	}
}

// ProvideResponseCache shares prediction responses through Redis when the
// state lives there, otherwise keeps them in process.
func ProvideResponseCache(cfg *config.Config, rc *pkgcache.RedisCache) icache.BytesCache {
	if cfg.Persistence.Backend == "redis" && rc != nil {
		return icache.NewRemoteCache(rc, "resp")
	}
	return icache.NewTTLCache()
}

func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	analysis *usecase.TransitAnalysis,
	archive domrepo.AlertArchive,
	hub *repository.WSHub,
	respCache icache.BytesCache,
) *api.TransitsEchoHandler {
	opts := []api.HandlerOption{
		api.WithResponseCache(respCache, cfg.Predictions.CacheTTL),
		api.WithRateLimit(cfg.Predictions.RateLimit, cfg.Predictions.RateWindow),
	}
	if cfg.Notifications.WebSocket {
		opts = append(opts, api.WithAlertStream(hub))
	}
	if archive != nil {
		opts = append(opts, api.WithArchive(archive))
	}
	return api.NewTransitsEchoHandler(l.With("api"), analysis, analysis.Tracker(), opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.TransitsEchoHandler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithServerLogger(l.With("http")),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	analysis *usecase.TransitAnalysis,
	httpServer *xhttp.Server,
	rules *repository.RulesWatcher,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
) *server.App {
	return server.New(cfg, l, analysis, httpServer, rules, consumer, q)
}
