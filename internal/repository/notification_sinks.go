package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	pkghttp "TransitWatch/pkg/http"
	pkgkafka "TransitWatch/pkg/kafka"
	applogger "TransitWatch/pkg/logger"
	"TransitWatch/pkg/queue"
)

// AlertMessageType is the queue message type carrying a models.Alert.
const AlertMessageType = "transit_alert"

// LogSink writes alerts to the structured log.
type LogSink struct {
	l *applogger.Logger
}

func NewLogSink(l *applogger.Logger) *LogSink { return &LogSink{l: l} }

func (s *LogSink) Send(_ context.Context, a models.Alert) error {
	if s.l == nil {
		return nil
	}
	s.l.Info("transit alert",
		applogger.String("id", a.ID.String()),
		applogger.String("chart", a.ChartID),
		applogger.String("type", string(a.Type)),
		applogger.String("priority", string(a.Priority)),
		applogger.String("timing", string(a.Timing)),
		applogger.Time("at", a.Timestamp),
		applogger.String("message", a.Message),
	)
	return nil
}

// KafkaSink publishes alerts keyed by chart id so one chart stays ordered.
type KafkaSink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSink(producer *pkgkafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Send(ctx context.Context, a models.Alert) error {
	if err := s.producer.Publish(ctx, s.topic, []byte(a.ChartID), a,
		kafka.Header{Key: "event_type", Value: []byte(a.Type)},
		kafka.Header{Key: "priority", Value: []byte(a.Priority)},
	); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// QueueSink pushes alerts onto the Redis work queue.
type QueueSink struct {
	q queue.QueueService
}

func NewQueueSink(q queue.QueueService) *QueueSink { return &QueueSink{q: q} }

func (s *QueueSink) Send(ctx context.Context, a models.Alert) error {
	if err := s.q.PublishMessage(ctx, AlertMessageType, a); err != nil {
		return fmt.Errorf("queue publish: %w", err)
	}
	return nil
}

// ArchiveSink writes each alert straight into an archive.
type ArchiveSink struct {
	archive domrepo.AlertArchive
}

func NewArchiveSink(archive domrepo.AlertArchive) *ArchiveSink { return &ArchiveSink{archive: archive} }

func (s *ArchiveSink) Send(ctx context.Context, a models.Alert) error {
	return s.archive.StoreAlerts(ctx, []models.Alert{a})
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	URL              string
	Headers          map[string]string
	Timeout          time.Duration
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// WebhookSink POSTs alerts as JSON behind a circuit breaker so a dead
// endpoint fails fast instead of stalling every delivery.
type WebhookSink struct {
	client *pkghttp.Client
	url    string
	header map[string]string
	cb     *gobreaker.CircuitBreaker
}

func NewWebhookSink(cfg WebhookConfig, l *applogger.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 3
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		// a rejected payload says nothing about endpoint health
		IsSuccessful: func(err error) bool {
			return err == nil || pkghttp.IsClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if l != nil {
				l.Warn("circuit breaker state changed",
					applogger.String("name", name),
					applogger.String("from", from.String()),
					applogger.String("to", to.String()),
				)
			}
		},
	})
	return &WebhookSink{
		client: pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout)),
		url:    cfg.URL,
		header: cfg.Headers,
		cb:     cb,
	}
}

func (s *WebhookSink) Send(ctx context.Context, a models.Alert) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
			Method:  pkghttp.MethodPost,
			URL:     s.url,
			Headers: s.header,
			Body:    a,
		}, nil)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// State exposes the breaker state for health output.
func (s *WebhookSink) State() gobreaker.State { return s.cb.State() }

// NamedSink pairs a sink with its channel name for metrics and logs.
type NamedSink struct {
	Name string
	Sink domrepo.NotificationSink
}

// MultiSink fans an alert out to every channel. A failing channel does not
// stop the others; the joined error names each failure.
type MultiSink struct {
	sinks   []NamedSink
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewMultiSink(metrics domrepo.Metrics, l *applogger.Logger, sinks ...NamedSink) *MultiSink {
	return &MultiSink{sinks: sinks, metrics: metrics, l: l}
}

// Channels lists the configured channel names.
func (m *MultiSink) Channels() []string {
	out := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		out[i] = s.Name
	}
	return out
}

func (m *MultiSink) Send(ctx context.Context, a models.Alert) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Sink.Send(ctx, a)
		if m.metrics != nil {
			m.metrics.RecordNotification(s.Name, err == nil)
		}
		if err != nil {
			if m.l != nil {
				m.l.Warn("notification channel failed",
					applogger.String("channel", s.Name),
					applogger.String("alert", a.ID.String()),
					applogger.Error(err),
				)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
