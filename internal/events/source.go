package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"media-enrichment-service/internal/models"
)

// Delivery is one inbound event plus its acknowledgment callback.
type Delivery struct {
	Event models.PipelineEvent
	Key   string
	Ack   func(ctx context.Context) error
}

// Source yields pipeline events. Fetch returns io.EOF when the source is
// exhausted and blocks until an event is available otherwise.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}

// Decode parses a message body. JSON objects are decoded as PipelineEvent;
// a JSON string or any other body is taken as the source URL itself.
func Decode(body []byte) models.PipelineEvent {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '{':
			var ev models.PipelineEvent
			if err := json.Unmarshal(trimmed, &ev); err == nil {
				return ev
			}
		case '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err == nil {
				return models.PipelineEvent{SourceURL: strings.TrimSpace(s)}
			}
		}
	}
	return models.PipelineEvent{SourceURL: string(trimmed)}
}

// ConsumerConfig holds Kafka consumer settings.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// StartLatest starts a new consumer group at the end of the topic.
	StartLatest bool
}

// messageReader is the subset of *kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes pipeline events from a topic with manual commits.
type KafkaSource struct {
	reader messageReader
	topic  string
}

// NewKafkaSource creates a consumer-group reader.
func NewKafkaSource(cfg ConsumerConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka source: brokers, topic and group id are required")
	}

	start := kafka.FirstOffset
	if cfg.StartLatest {
		start = kafka.LastOffset
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		Dialer:      dialer,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    1e6,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().
				Str("component", "kafka.source").
				Str("topic", cfg.Topic).
				Msgf("reader: "+msg, args...)
		}),
	})

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Msg("Kafka source initialized")

	return &KafkaSource{reader: reader, topic: cfg.Topic}, nil
}

// Fetch blocks for the next message. Ack commits its offset.
func (s *KafkaSource) Fetch(ctx context.Context) (Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		Event: Decode(msg.Value),
		Key:   fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Ack: func(ctx context.Context) error {
			return s.reader.CommitMessages(ctx, msg)
		},
	}, nil
}

// Close closes the reader and leaves the consumer group.
func (s *KafkaSource) Close() error {
	log.Info().Str("topic", s.topic).Msg("Kafka source closing")
	return s.reader.Close()
}

// StaticSource yields a fixed list of events, then io.EOF.
type StaticSource struct {
	mu     sync.Mutex
	events []models.PipelineEvent
	next   int
	acked  []string
}

// NewStaticSource creates a source over events.
func NewStaticSource(events ...models.PipelineEvent) *StaticSource {
	return &StaticSource{events: events}
}

// Fetch returns the next event or io.EOF.
func (s *StaticSource) Fetch(ctx context.Context) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.events) {
		return Delivery{}, io.EOF
	}
	ev := s.events[s.next]
	key := fmt.Sprintf("static/%d", s.next)
	s.next++

	return Delivery{
		Event: ev,
		Key:   key,
		Ack: func(context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.acked = append(s.acked, key)
			return nil
		},
	}, nil
}

// Acked returns the keys acknowledged so far.
func (s *StaticSource) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

// Close is a no-op.
func (s *StaticSource) Close() error { return nil }

var (
	_ Source = (*KafkaSource)(nil)
	_ Source = (*StaticSource)(nil)
)
