// Package kafka publishes committed domain events to a Kafka topic with
// franz-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"legisla/internal/events"
	"legisla/internal/platform/config"
)

var (
	produced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legisla_events_published_total",
		Help: "Domain events produced to Kafka by result",
	}, []string{"result"})
	produceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "legisla_events_publish_duration_seconds",
		Help:    "Latency of synchronous event produce calls",
		Buckets: prometheus.DefBuckets,
	})
)

// Publisher implements events.Publisher.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewPublisher connects to the brokers. Records are produced with acks from
// all in-sync replicas and keyed by event key so per-entity order holds
// within a partition.
func NewPublisher(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w", err)
	}
	return &Publisher{client: client, topic: cfg.Topic, logger: logger}, nil
}

// EnsureTopic creates the events topic if it does not exist.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resps, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Publish produces the events synchronously, in order.
func (p *Publisher) Publish(ctx context.Context, evts ...events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	start := time.Now()

	records := make([]*kgo.Record, 0, len(evts))
	for _, evt := range evts {
		value, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.Type, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(evt.Key),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event-type", Value: []byte(evt.Type)},
			},
		})
	}

	err := p.client.ProduceSync(ctx, records...).FirstErr()
	produceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		produced.WithLabelValues("error").Add(float64(len(records)))
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "failed to publish domain events",
				"count", len(records),
				"error", err,
			)
		}
		return fmt.Errorf("produce events: %w", err)
	}
	produced.WithLabelValues("ok").Add(float64(len(records)))
	return nil
}

// Health pings the brokers.
func (p *Publisher) Health(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) {
	if err := p.client.Flush(ctx); err != nil && p.logger != nil {
		p.logger.WarnContext(ctx, "kafka flush on close failed", "error", err)
	}
	p.client.Close()
}
