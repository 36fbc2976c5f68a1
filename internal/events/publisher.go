// Package events publishes reconciled turns to Kafka and consumes transcript
// events produced by the speech ingress service.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
)

// Publisher writes turn events to an "updated" topic for in-progress turns and
// a "final" topic for settled turns. Writes are asynchronous so the session
// event loop never waits on the broker.
type Publisher struct {
	writerUpdated *kafka.Writer
	writerFinal   *kafka.Writer
	principal     string
	topicUpdated  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicUpdated string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a turn publisher. A nil config, Enabled=false or no brokers
// yields a log-only publisher.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("turn-publisher"),
	}

	if cfg == nil {
		p.logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}
	p.principal = cfg.Principal
	p.topicUpdated = cfg.TopicUpdated
	p.topicFinal = cfg.TopicFinal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerUpdated = p.newWriter(cfg.Brokers, cfg.TopicUpdated, "updated", transport)
	p.writerFinal = p.newWriter(cfg.Brokers, cfg.TopicFinal, "final", transport)
	p.enabled = true

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUpdated", cfg.TopicUpdated).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka turn publisher initialized")
	return p
}

func (p *Publisher) newWriter(brokers []string, topic, eventType string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			for _, m := range messages {
				p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(m.Time).Seconds())
			}
			if err != nil {
				p.logger.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Failed to write to Kafka")
			}
		},
	}
}

// OnTurn publishes a turn that was just created or revised. Keyed by session
// so one conversation stays on one partition.
func (p *Publisher) OnTurn(sessionID, room string, turn models.Turn) {
	ev := models.TurnEvent{
		EventType: models.EventTurnUpdated,
		SessionID: sessionID,
		Room:      room,
		TurnID:    turn.ID,
		Role:      turn.Role,
		Content:   turn.Content,
		IsFinal:   turn.IsFinal,
		CreatedAt: turn.CreatedAt.UnixMilli(),
		Timestamp: time.Now().UnixMilli(),
	}
	if turn.IsFinal {
		ev.EventType = models.EventTurnFinal
	}
	if err := p.Publish(context.Background(), sessionID, ev); err != nil {
		logger := logging.WithTurn(sessionID, turn.ID, string(turn.Role))
		logger.Warn().Err(err).Msg("Turn publish failed")
	}
}

// Publish writes ev to the topic matching its finality.
func (p *Publisher) Publish(ctx context.Context, key string, ev models.TurnEvent) error {
	if ev.IsFinal {
		return p.publish(ctx, p.writerFinal, p.topicFinal, "final", key, ev)
	}
	return p.publish(ctx, p.writerUpdated, p.topicUpdated, "updated", key, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, ev models.TurnEvent) error {
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal turn event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing turn event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  start,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.EventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	// Async writer: errors are reported through Completion.
	return writer.WriteMessages(ctx, msg)
}

// Enabled reports whether messages reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerUpdated, p.writerFinal} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			p.logger.Error().Err(e).Str("topic", w.Topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
