package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/eishaa-e/flowboard/api"
	requestSpanName    = "flowboard.api.request"
	requestEventName   = "flowboard.request"
	requestEventDomain = "flowboard.api"
	metricsKey         = "flowboard.metrics"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	method        string
	route         string
	authDuration  time.Duration
	storeDuration time.Duration
	items         int
	itemsSet      bool
	errorStage    string
	err           error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}, ctx
}

// metricsFrom returns the metrics of the current request, or nil outside the
// observe middleware. Every method is safe on a nil receiver.
func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.authDuration = duration
}

// ObserveStore accumulates time spent in storage calls.
func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) SetItems(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.items = count
	m.itemsSet = true
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) SetError(err error) {
	if m == nil || err == nil {
		return
	}
	m.err = err
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.method":                m.method,
		"http.route":                 m.route,
		"http.status_code":           status,
		"flowboard.request.total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		attrs["flowboard.request.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		attrs["flowboard.request.store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.itemsSet {
		attrs["flowboard.request.items"] = m.items
	}
	if m.errorStage != "" {
		attrs["flowboard.request.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

// Log emits the request as an observability event, both as a log entry and
// as an event on the request span, then ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}
	severityText, severityNumber := severityForStatus(status, err)
	attrs := m.attributes(status, err)

	kvs := make([]attribute.KeyValue, 0, len(attrs)+3)
	kvs = append(kvs,
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
	)
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}

	m.span.SetAttributes(
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
	)
	if m.errorStage != "" {
		m.span.SetAttributes(attribute.String("flowboard.request.error_stage", m.errorStage))
	}
	m.span.AddEvent("observability.event", trace.WithAttributes(kvs...))
	if severityNumber >= severityError {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger != nil {
		fields := log.Fields{
			"event.name":      requestEventName,
			"event.domain":    requestEventDomain,
			"attributes":      attrs,
			"severity_text":   severityText,
			"severity_number": severityNumber,
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), "observability.event")
	}
	m.span.End()
}

const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError, status == 0 && err != nil:
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	}
	return "INFO", severityInfo
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= severityError:
		return log.ErrorLevel
	case n >= severityWarn:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func toAttribute(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case int:
		return attribute.Int(k, val)
	case float64:
		return attribute.Float64(k, val)
	case bool:
		return attribute.Bool(k, val)
	}
	return attribute.String(k, "")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// observe wraps every request in a span and emits its observability event.
func observe(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsKey, m)

			err := next(c)
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = statusFor(err)
			}
			m.Log(status, err)
			return err
		}
	}
}
