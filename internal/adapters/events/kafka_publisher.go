package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/pkg/config"
)

const (
	headerEventType = "event-type"
	headerChannel   = "channel"
)

// ErrPublisherClosed is returned when publishing after Close
var ErrPublisherClosed = errors.New("kafka publisher is closed")

// messageWriter is the part of kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes booking events to a Kafka topic. Messages are
// keyed by slot so every change to one slot lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic
func NewKafkaPublisher(cfg *config.KafkaConfig) (providers.EventPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error().Msgf(msg, args...)
		}),
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish writes the event to Kafka. The channel travels as a header.
func (p *KafkaPublisher) Publish(ctx context.Context, channel string, event *entities.BookingEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SlotID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.Type)},
			{Key: headerChannel, Value: []byte(channel)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
