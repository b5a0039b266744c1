package rabbitmq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, backoff(base, 1))
	assert.Equal(t, 2*time.Second, backoff(base, 2))
	assert.Equal(t, 8*time.Second, backoff(base, 4))
	assert.Equal(t, maxBackoff, backoff(base, 10))
	assert.Equal(t, time.Second, backoff(base, 0))
}

func TestAttemptFromHeaders(t *testing.T) {
	assert.Equal(t, 1, attemptFromHeaders(nil))
	assert.Equal(t, 1, attemptFromHeaders(amqp.Table{"x-death": "garbage"}))
	assert.Equal(t, 3, attemptFromHeaders(amqp.Table{
		"x-death": []interface{}{amqp.Table{}, amqp.Table{}, amqp.Table{}},
	}))
}

func TestTableCarrierRoundTripsTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	headers := amqp.Table{"x-dlq-reason": "bad payload"}
	prop.Inject(ctx, tableCarrier(headers))

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headers["traceparent"])
	assert.Equal(t, "bad payload", headers["x-dlq-reason"])

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), tableCarrier(headers)))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestTableCarrierGetStringifies(t *testing.T) {
	c := tableCarrier(amqp.Table{"bytes": []byte("abc"), "num": int32(7)})
	assert.Equal(t, "abc", c.Get("bytes"))
	assert.Equal(t, "7", c.Get("num"))
	assert.Equal(t, "", c.Get("missing"))
}
