package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
)

// SegmentSink receives segments decoded from the transcript topics.
type SegmentSink func(role models.Role, segments []models.Segment) error

// ConsumerConfig holds transcript consumer configuration.
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	TopicPartial string
	TopicFinal   string
	// Role is the channel the consumed transcripts are attributed to.
	Role models.Role
	// Interactions limits consumption to these interaction ids. Empty accepts all.
	Interactions []string
}

// Consumer reads partial and final transcripts published by the speech
// ingress service and feeds them to the session as segments.
type Consumer struct {
	cfg     ConsumerConfig
	sink    SegmentSink
	allow   map[string]bool
	readers []*kafka.Reader
	metrics *metrics.Metrics
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer; call Run to start reading.
func NewConsumer(cfg ConsumerConfig, sink SegmentSink) *Consumer {
	c := &Consumer{
		cfg:     cfg,
		sink:    sink,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("transcript-consumer"),
	}
	if len(cfg.Interactions) > 0 {
		c.allow = make(map[string]bool, len(cfg.Interactions))
		for _, id := range cfg.Interactions {
			c.allow[id] = true
		}
	}
	return c
}

// Run starts one reader per topic and returns immediately.
func (c *Consumer) Run(ctx context.Context) {
	for _, topic := range []string{c.cfg.TopicPartial, c.cfg.TopicFinal} {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		})
		c.readers = append(c.readers, r)
		c.wg.Add(1)
		go c.consume(ctx, r, topic)
	}
	c.logger.Info().
		Strs("brokers", c.cfg.Brokers).
		Str("group", c.cfg.GroupID).
		Str("role", string(c.cfg.Role)).
		Msg("Transcript consumer started")
}

// Close stops the readers and waits for the consume loops to exit.
func (c *Consumer) Close() error {
	var err error
	for _, r := range c.readers {
		if e := r.Close(); e != nil {
			err = e
		}
	}
	c.wg.Wait()
	return err
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader, topic string) {
	defer c.wg.Done()
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		err = c.Handle(topic, msg.Value)
		c.metrics.RecordKafkaConsumed(topic, err)
		if err != nil {
			c.logger.Debug().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Transcript message not applied")
		}
	}
}

// Handle decodes one transcript message and hands it to the sink.
func (c *Consumer) Handle(topic string, value []byte) error {
	interaction, seg, err := decodeTranscript(topic == c.cfg.TopicFinal, value)
	if err != nil {
		return err
	}
	if c.allow != nil && !c.allow[interaction] {
		return nil
	}
	return c.sink(c.cfg.Role, []models.Segment{seg})
}

func decodeTranscript(final bool, value []byte) (string, models.Segment, error) {
	if final {
		var ev models.TranscriptFinal
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", models.Segment{}, fmt.Errorf("decode final transcript: %w", err)
		}
		if ev.SegmentID == "" {
			return "", models.Segment{}, fmt.Errorf("final transcript without segmentId")
		}
		return ev.InteractionID, ev.Segment(), nil
	}

	var ev models.TranscriptPartial
	if err := json.Unmarshal(value, &ev); err != nil {
		return "", models.Segment{}, fmt.Errorf("decode partial transcript: %w", err)
	}
	if ev.SegmentID == "" {
		return "", models.Segment{}, fmt.Errorf("partial transcript without segmentId")
	}
	return ev.InteractionID, ev.Segment(), nil
}
