package obs

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Admit("ADMITTED")
	m.Outcome("persisted")
	m.Lock("acquire", "busy")
	m.CacheLookup("mutex", "hit")
	m.ObserveMS("admit", 1)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Admit("ADMITTED")
	m.Admit("ADMITTED")
	m.Outcome("replayed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `seckill_admit_total{result="ADMITTED"} 2`), body)
	assert.True(t, strings.Contains(body, `seckill_order_outcome_total{outcome="replayed"} 1`), body)
}

func TestTraceCarrierRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "admit")
	defer span.End()

	carrier := InjectTrace(ctx)
	require.NotEmpty(t, carrier["traceparent"])

	out := ExtractTrace(context.Background(), carrier)
	assert.Equal(t, span.SpanContext().TraceID(), traceIDOf(out))

	assert.Nil(t, InjectTrace(context.Background()))
}

func traceIDOf(ctx context.Context) trace.TraceID {
	return trace.SpanContextFromContext(ctx).TraceID()
}
