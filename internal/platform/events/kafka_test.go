package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	messages []kafka.Message
	closed   bool
	closes   int
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	r.closes++
	return nil
}

// failingReader fails every read until failures is exhausted, then reports EOF.
type failingReader struct {
	failures int
	reads    int
	readAt   []time.Time
	onRead   func()
}

func (r *failingReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	r.reads++
	r.readAt = append(r.readAt, time.Now())
	if r.onRead != nil {
		r.onRead()
	}
	if r.reads <= r.failures {
		return kafka.Message{}, errors.New("broker unavailable")
	}
	return kafka.Message{}, io.EOF
}

func (r *failingReader) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newKafkaPublisher(writer, "checkout-events", nil)

	id, err := publisher.Publish(context.Background(), domain.CloudEvent{
		ID:   "evt-9",
		Type: "3rd_party_custom_event",
		Data: json.RawMessage(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "evt-9" {
		t.Fatalf("expected event id, got %q", id)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "evt-9" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if headerValue(msg.Headers, KafkaHeaderType) != "3rd_party_custom_event" || headerValue(msg.Headers, KafkaHeaderID) != "evt-9" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	var decoded domain.CloudEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.SpecVersion != domain.CloudEventSpecVersion {
		t.Fatalf("expected spec version to default, got %q", decoded.SpecVersion)
	}

	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	publisher := newKafkaPublisher(&fakeWriter{err: boom}, "t", nil)
	if _, err := publisher.Publish(context.Background(), domain.CloudEvent{ID: "1", Type: "t"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestKafkaSourceDispatchesDecodedEvents(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"id":"1","type":"com.adobe.commerce.observer.sales_order_place_after","data":{"value":{"increment_id":"100"}}}`)},
		{Value: []byte(`not json`)},
		{
			Value:   []byte(`{"data":{}}`),
			Headers: []kafka.Header{{Key: KafkaHeaderType, Value: []byte("from.header")}, {Key: KafkaHeaderID, Value: []byte("h-2")}},
		},
		{Value: []byte(`{"id":"3","type":"failing"}`)},
	}}

	var seen []domain.CommerceEvent
	source := newKafkaSource(reader, func(_ context.Context, event domain.CommerceEvent) error {
		seen = append(seen, event)
		if event.Type == "failing" {
			return errors.New("handler failed")
		}
		return nil
	}, nil)

	if err := source.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 dispatched events, got %d: %+v", len(seen), seen)
	}
	if seen[0].ID != "1" || seen[0].Type != "com.adobe.commerce.observer.sales_order_place_after" {
		t.Fatalf("unexpected first event %+v", seen[0])
	}
	if seen[1].ID != "h-2" || seen[1].Type != "from.header" {
		t.Fatalf("expected header fallback, got %+v", seen[1])
	}
}

func TestKafkaSourceStopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	source := newKafkaSource(reader, func(context.Context, domain.CommerceEvent) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := source.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := source.Stop(); err != nil || !reader.closed {
		t.Fatalf("expected reader closed, err=%v", err)
	}
	if err := source.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got %v", err)
	}
}

func TestKafkaSourceBacksOffOnReadErrors(t *testing.T) {
	reader := &failingReader{failures: 3}
	source := newKafkaSource(reader, func(context.Context, domain.CommerceEvent) error { return nil }, nil)
	source.retryDelay = 5 * time.Millisecond
	source.maxRetryDelay = 20 * time.Millisecond

	if err := source.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reader.reads != 4 {
		t.Fatalf("expected 3 failed reads and a final EOF, got %d reads", reader.reads)
	}
	minGaps := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	for i, want := range minGaps {
		if gap := reader.readAt[i+1].Sub(reader.readAt[i]); gap < want {
			t.Fatalf("retry %d came after %s, want at least %s", i+1, gap, want)
		}
	}
}

func TestKafkaSourceBackoffHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &failingReader{failures: 100}
	reader.onRead = func() {
		time.AfterFunc(10*time.Millisecond, cancel)
	}
	source := newKafkaSource(reader, func(context.Context, domain.CommerceEvent) error { return nil }, nil)
	source.retryDelay = time.Hour

	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept sleeping after cancellation")
	}
}

func TestKafkaSourceConcurrentStop(t *testing.T) {
	reader := &fakeReader{}
	source := newKafkaSource(reader, func(context.Context, domain.CommerceEvent) error { return nil }, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := source.Stop(); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()
	if reader.closes != 1 {
		t.Fatalf("expected the reader to be closed once, got %d", reader.closes)
	}
	if err := source.Run(context.Background()); err != nil {
		t.Fatalf("Run after Stop: %v", err)
	}
}
