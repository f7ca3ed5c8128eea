package middleware

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingProvider hands out spans that remember what was set on them.
type recordingProvider struct {
	noop.TracerProvider
	mu    sync.Mutex
	spans []*recordedSpan
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &recordingTracer{provider: p}
}

func (p *recordingProvider) recorded() []*recordedSpan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*recordedSpan(nil), p.spans...)
}

type recordingTracer struct {
	noop.Tracer
	provider *recordingProvider
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordedSpan{
		name:   name,
		kind:   cfg.SpanKind(),
		parent: trace.SpanContextFromContext(ctx),
		attrs:  map[attribute.Key]attribute.Value{},
	}
	for _, kv := range cfg.Attributes() {
		s.attrs[kv.Key] = kv.Value
	}
	t.provider.mu.Lock()
	t.provider.spans = append(t.provider.spans, s)
	t.provider.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordedSpan struct {
	noop.Span
	name   string
	kind   trace.SpanKind
	parent trace.SpanContext
	attrs  map[attribute.Key]attribute.Value
	status codes.Code
	ended  bool
}

func (s *recordedSpan) SetName(name string) { s.name = name }
func (s *recordedSpan) End(...trace.SpanEndOption) { s.ended = true }
func (s *recordedSpan) SetStatus(code codes.Code, _ string) { s.status = code }
func (s *recordedSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func newTracedRouter(tp trace.TracerProvider, opts ...TracingOption) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Tracing(append([]TracingOption{WithTracerProvider(tp)}, opts...)...))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func TestTracing_SpanPerRequest(t *testing.T) {
	tp := &recordingProvider{}
	h := newTracedRouter(tp, WithAttributeExtractor(func(*http.Request) []attribute.KeyValue {
		return []attribute.KeyValue{attribute.String("test.attr", "ok")}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/sessions/abc", nil))

	spans := tp.recorded()
	if len(spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.name != "HTTP GET /sessions/{id}" {
		t.Errorf("name = %q, want %q", s.name, "HTTP GET /sessions/{id}")
	}
	if s.kind != trace.SpanKindServer {
		t.Errorf("kind = %v, want server", s.kind)
	}
	if !s.ended {
		t.Error("span not ended")
	}
	if s.status != codes.Ok {
		t.Errorf("status = %v, want Ok", s.status)
	}

	tests := []struct {
		key  attribute.Key
		want string
	}{
		{"http.method", "GET"},
		{"http.target", "/sessions/abc"},
		{"http.route", "/sessions/{id}"},
		{"test.attr", "ok"},
	}
	for _, tt := range tests {
		if got := s.attrs[tt.key].Emit(); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}
	if got := s.attrs["http.status_code"].AsInt64(); got != http.StatusNoContent {
		t.Errorf("http.status_code = %d, want %d", got, http.StatusNoContent)
	}
	if id, ok := s.attrs["http.request_id"]; !ok || id.AsString() == "" {
		t.Error("http.request_id missing")
	}
}

func TestTracing_ServerErrorStatus(t *testing.T) {
	tp := &recordingProvider{}
	newTracedRouter(tp).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/boom", nil))

	spans := tp.recorded()
	if len(spans) != 1 || spans[0].status != codes.Error {
		t.Fatalf("spans = %+v, want one span with Error status", spans)
	}
}

func TestTracing_Filter(t *testing.T) {
	tp := &recordingProvider{}
	h := newTracedRouter(tp, WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/healthz"
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	if n := len(tp.recorded()); n != 0 {
		t.Fatalf("len(spans) = %d, want 0", n)
	}
}

func TestTracing_ExtractsParent(t *testing.T) {
	tp := &recordingProvider{}
	h := newTracedRouter(tp, WithPropagator(propagation.TraceContext{}))

	req := httptest.NewRequest("GET", "/sessions/abc", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := tp.recorded()
	if len(spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1", len(spans))
	}
	if got := spans[0].parent.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("parent trace id = %s", got)
	}
	if !spans[0].parent.IsRemote() {
		t.Error("parent is not remote")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(WithRegistry(reg), WithNamespace("test"))

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	for _, path := range []string{"/sessions/a", "/sessions/b", "/missing", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	tests := []struct {
		route, code string
		want        float64
	}{
		{"/sessions/{id}", "200", 2},
		{"/missing", "404", 1},
		{"unmatched", "404", 1},
	}
	for _, tt := range tests {
		got := counterValue(t, m.requests.WithLabelValues(tt.route, "GET", tt.code))
		if got != tt.want {
			t.Errorf("requests{%s,%s} = %v, want %v", tt.route, tt.code, got, tt.want)
		}
	}
	if got := histogramCount(t, m.duration.WithLabelValues("/sessions/{id}", "GET")); got != 2 {
		t.Errorf("duration count = %d, want 2", got)
	}

	var g dto.Metric
	if err := m.inFlight.Write(&g); err != nil {
		t.Fatal(err)
	}
	if v := g.GetGauge().GetValue(); v != 0 {
		t.Errorf("in flight = %v, want 0", v)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"test_http_requests_total", "test_http_request_duration_seconds", "test_http_requests_in_flight"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

// hijackWriter is a ResponseWriter that supports hijacking.
type hijackWriter struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	a, _ := net.Pipe()
	return a, nil, nil
}

func TestStatusRecorder(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	if rec.status != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.status, http.StatusTeapot)
	}

	if _, _, err := newStatusRecorder(httptest.NewRecorder()).Hijack(); err == nil {
		t.Error("Hijack() on a plain recorder = nil error")
	}

	hw := &hijackWriter{ResponseRecorder: httptest.NewRecorder()}
	rec = newStatusRecorder(hw)
	conn, _, err := http.NewResponseController(rec).Hijack()
	if err != nil {
		t.Fatalf("Hijack() error = %v", err)
	}
	conn.Close()
	if !hw.hijacked || rec.status != http.StatusSwitchingProtocols {
		t.Errorf("hijacked = %v, status = %d", hw.hijacked, rec.status)
	}
}
