// Package events provides event publishing to Kafka. The publisher
// carries the transcript event stream and also implements the
// persistence and token-usage sink collaborators.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/collab"
	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/observability/metrics"
)

// Publisher publishes consultation events to per-kind Kafka topics.
// With Kafka disabled it degrades to log-only mode, which is also the
// mode tests run in.
type Publisher struct {
	writerPartial    *kafka.Writer
	writerFinal      *kafka.Writer
	writerStructured *kafka.Writer
	writerUsage      *kafka.Writer
	principal        string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicPartial    string
	TopicFinal      string
	TopicStructured string
	TopicUsage      string
	Principal       string
	Enabled         bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		p := &Publisher{enabled: false, metrics: m}
		if cfg != nil {
			p.principal = cfg.Principal
		}
		return p
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicStructured", cfg.TopicStructured).
		Str("topicUsage", cfg.TopicUsage).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial:    newWriter(cfg.TopicPartial),
		writerFinal:      newWriter(cfg.TopicFinal),
		writerStructured: newWriter(cfg.TopicStructured),
		writerUsage:      newWriter(cfg.TopicUsage),
		principal:        cfg.Principal,
		enabled:          true,
		metrics:          m,
	}
}

// PublishPartial publishes a partial transcript event keyed by consultation id.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerPartial, "partial", key, event)
}

// PublishFinal publishes a final transcript event keyed by consultation id.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, "final", key, event)
}

// SaveConsultation implements collab.PersistenceSink by publishing the
// finalized record to the structured-results topic.
func (p *Publisher) SaveConsultation(ctx context.Context, rec collab.ConsultationRecord) error {
	return p.publish(ctx, p.writerStructured, "structured", rec.ConsultationID, rec)
}

// RecordUsage implements collab.TokenUsageSink by publishing the usage
// record to the token-usage topic.
func (p *Publisher) RecordUsage(ctx context.Context, rec collab.UsageRecord) error {
	return p.publish(ctx, p.writerUsage, "usage", rec.ConsultationID, rec)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, eventType, key string, event any) error {
	start := time.Now()

	topic := ""
	if writer != nil {
		topic = writer.Topic
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerPartial, p.writerFinal, p.writerStructured, p.writerUsage} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("topic", w.Topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
