package observability

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

const metricsNamespace = "github.com/hanko-field/commerce-checkout/checkout"

// Webhook names used as metric prefixes.
const (
	WebhookCollectTaxes           = "collect_taxes"
	WebhookCollectAdjustmentTaxes = "collect_adjustment_taxes"
	WebhookFilterPayment          = "filter_payment"
	WebhookValidatePayment        = "validate_payment"
	WebhookShippingMethods        = "shipping_methods"
)

// Error codes attached to checkout.<name>.error_count.
const (
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeInvalidPayload     = "invalid_payload"
	ErrorCodeException          = "exception"

	// NoteWebhookError is the requestctx annotation handlers set to refine the error code.
	NoteWebhookError = "webhook_error"
)

type webhookCounters struct {
	total   metric.Int64Counter
	success metric.Int64Counter
	errors  metric.Int64Counter
}

// CheckoutMetrics owns the per-webhook request counters and the auth verification counters.
type CheckoutMetrics struct {
	meter metric.Meter

	mu       sync.Mutex
	webhooks map[string]webhookCounters

	verifications metric.Int64Counter
	verifyLatency metric.Float64Histogram
}

// NewCheckoutMetrics registers instruments on meter, or on the global provider when nil.
func NewCheckoutMetrics(meter metric.Meter) (*CheckoutMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricsNamespace)
	}
	m := &CheckoutMetrics{meter: meter, webhooks: make(map[string]webhookCounters)}

	for _, name := range []string{
		WebhookCollectTaxes,
		WebhookCollectAdjustmentTaxes,
		WebhookFilterPayment,
		WebhookValidatePayment,
		WebhookShippingMethods,
	} {
		if _, err := m.counters(name); err != nil {
			return nil, err
		}
	}

	var err error
	m.verifications, err = meter.Int64Counter(
		"auth.verification.count",
		metric.WithDescription("Inbound request verification outcomes"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: verification counter: %w", err)
	}
	m.verifyLatency, err = meter.Float64Histogram(
		"auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for inbound request verification"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: verification latency: %w", err)
	}
	return m, nil
}

func (m *CheckoutMetrics) counters(name string) (webhookCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.webhooks[name]; ok {
		return c, nil
	}
	var (
		c   webhookCounters
		err error
	)
	prefix := "checkout." + name
	if c.total, err = m.meter.Int64Counter(prefix+".total_count", metric.WithDescription("Total number of "+name+" requests.")); err != nil {
		return c, fmt.Errorf("observability: %s total counter: %w", name, err)
	}
	if c.success, err = m.meter.Int64Counter(prefix+".success_count", metric.WithDescription("Number of successful "+name+" requests.")); err != nil {
		return c, fmt.Errorf("observability: %s success counter: %w", name, err)
	}
	if c.errors, err = m.meter.Int64Counter(prefix+".error_count", metric.WithDescription("Number of failed "+name+" requests.")); err != nil {
		return c, fmt.Errorf("observability: %s error counter: %w", name, err)
	}
	m.webhooks[name] = c
	return c, nil
}

// RecordWebhook counts one webhook call. errorCode is ignored on success.
func (m *CheckoutMetrics) RecordWebhook(ctx context.Context, name string, success bool, errorCode string) {
	if m == nil {
		return
	}
	c, err := m.counters(name)
	if err != nil {
		requestctx.Logger(ctx).Sugar().Warnf("checkout metrics unavailable for %s: %v", name, err)
		return
	}
	c.total.Add(ctx, 1)
	if success {
		c.success.Add(ctx, 1)
		return
	}
	if errorCode == "" {
		errorCode = ErrorCodeException
	}
	c.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("error_code", errorCode)))
}

// RecordVerification implements auth.MetricsRecorder.
func (m *CheckoutMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
		attribute.Bool("success", success),
	)
	m.verifications.Add(ctx, 1, attrs)
	m.verifyLatency.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(attribute.String("kind", kind)))
	if !success {
		requestctx.Annotate(ctx, NoteWebhookError, ErrorCodeVerificationFailed)
	}
}

// InstrumentWebhook counts the wrapped webhook. Commerce webhooks always answer 200, so a call
// succeeds when the status is 200 and the body is not an exception operation.
func (m *CheckoutMetrics) InstrumentWebhook(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			notes, ok := requestctx.NotesFrom(ctx)
			if !ok {
				ctx, notes = requestctx.WithNotes(ctx)
				r = r.WithContext(ctx)
			}
			requestctx.Annotate(ctx, "webhook", name)

			rec := &webhookRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			success := rec.status == http.StatusOK && !isExceptionBody(rec.head.Bytes())
			code, _ := notes.Get(NoteWebhookError)
			m.RecordWebhook(ctx, name, success, code)
		})
	}
}

var exceptionMarker = []byte(`"op":"exception"`)

func isExceptionBody(head []byte) bool {
	trimmed := bytes.TrimSpace(head)
	return bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(trimmed, exceptionMarker)
}

const webhookHeadLimit = 64

type webhookRecorder struct {
	http.ResponseWriter
	status int
	head   bytes.Buffer
}

func (r *webhookRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *webhookRecorder) Write(b []byte) (int, error) {
	if room := webhookHeadLimit - r.head.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		r.head.Write(b[:room])
	}
	return r.ResponseWriter.Write(b)
}
