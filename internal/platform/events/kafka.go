package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// Kafka header names carried next to the structured event.
const (
	KafkaHeaderType = "ce_type"
	KafkaHeaderID   = "ce_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaPublisher writes CloudEvents to a Kafka topic keyed by event id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("events: kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, topic, logger), nil
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

var _ Publisher = (*KafkaPublisher)(nil)

// Publish implements Publisher. Kafka has no server-side message id, so the event id is returned.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.CloudEvent) (string, error) {
	if p == nil || p.writer == nil {
		return "", ErrNotConfigured
	}
	value, err := Encode(event)
	if err != nil {
		return "", err
	}
	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: KafkaHeaderType, Value: []byte(event.Type)},
			{Key: KafkaHeaderID, Value: []byte(event.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka publish failed",
			zap.String("topic", p.topic),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return "", fmt.Errorf("events: kafka write: %w", err)
	}
	p.logger.Debug("kafka event published",
		zap.String("topic", p.topic),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)
	return event.ID, nil
}

// Close closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// EventHandler receives events decoded by a KafkaSource.
type EventHandler func(ctx context.Context, event domain.CommerceEvent) error

// KafkaSource reads Commerce events from a topic and hands them to a handler. Messages that
// fail to decode or to handle are logged and skipped.
type KafkaSource struct {
	reader  messageReader
	handler EventHandler
	logger  *zap.Logger

	retryDelay    time.Duration
	maxRetryDelay time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	closeErr error
}

const (
	defaultReadRetryDelay    = 500 * time.Millisecond
	defaultMaxReadRetryDelay = 30 * time.Second
)

// NewKafkaSource joins groupID on topic.
func NewKafkaSource(brokers []string, topic, groupID string, handler EventHandler, logger *zap.Logger) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("events: kafka topic is required")
	}
	if handler == nil {
		return nil, errors.New("events: handler is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newKafkaSource(reader, handler, logger), nil
}

func newKafkaSource(reader messageReader, handler EventHandler, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{
		reader:        reader,
		handler:       handler,
		logger:        logger,
		retryDelay:    defaultReadRetryDelay,
		maxRetryDelay: defaultMaxReadRetryDelay,
		stopCh:        make(chan struct{}),
	}
}

// Run consumes until ctx is cancelled or Stop is called. Read errors are retried with a
// doubling delay capped at maxRetryDelay.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Info("kafka source started")
	delay := s.retryDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info("kafka source stopped")
			return nil
		default:
		}

		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-s.stopCh:
				s.logger.Info("kafka source stopped")
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Error("kafka read failed", zap.Duration("retry_in", delay), zap.Error(err))
			if stopped, err := s.wait(ctx, delay); stopped {
				return err
			}
			delay = min(delay*2, s.maxRetryDelay)
			continue
		}
		delay = s.retryDelay
		s.handleMessage(ctx, msg)
	}
}

// wait sleeps for d and reports whether ctx or Stop ended the source meanwhile.
func (s *KafkaSource) wait(ctx context.Context, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-s.stopCh:
		s.logger.Info("kafka source stopped")
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// Stop ends Run and closes the reader. It is safe to call more than once.
func (s *KafkaSource) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

func (s *KafkaSource) handleMessage(ctx context.Context, msg kafka.Message) {
	var event domain.CommerceEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		s.logger.Error("kafka event decode failed",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	if event.Type == "" {
		event.Type = headerValue(msg.Headers, KafkaHeaderType)
	}
	if event.ID == "" {
		event.ID = headerValue(msg.Headers, KafkaHeaderID)
	}
	if err := s.handler(ctx, event); err != nil {
		s.logger.Error("kafka event handler failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
