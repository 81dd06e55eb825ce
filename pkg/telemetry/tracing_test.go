package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

type recordingProvider struct {
	embedded.TracerProvider
	mu    sync.Mutex
	names []string
	spans []*recordingSpan
}

func (p *recordingProvider) Tracer(name string, _ ...trace.TracerOption) trace.Tracer {
	p.mu.Lock()
	p.names = append(p.names, name)
	p.mu.Unlock()
	return &recordingTracer{p: p}
}

type recordingTracer struct {
	embedded.Tracer
	p *recordingProvider
}

func (t *recordingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	s := &recordingSpan{Span: trace.SpanFromContext(context.Background()), name: name, attrs: map[attribute.Key]attribute.Value{}}
	t.p.mu.Lock()
	t.p.spans = append(t.p.spans, s)
	t.p.mu.Unlock()
	return ctx, s
}

type recordingSpan struct {
	trace.Span
	name   string
	status codes.Code
	attrs  map[attribute.Key]attribute.Value
	ended  bool
}

func (s *recordingSpan) SetName(name string) { s.name = name }

func (s *recordingSpan) SetStatus(code codes.Code, _ string) { s.status = code }

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordingSpan) End(...trace.SpanEndOption) { s.ended = true }

func TestNewTracer(t *testing.T) {
	tp := &recordingProvider{}
	NewTracer(WithTracerProvider(tp))
	NewTracer(WithTracerProvider(tp), WithTracerName("custom"))
	if len(tp.names) != 2 || tp.names[0] != DefaultTracerName || tp.names[1] != "custom" {
		t.Errorf("tracer names = %v, want [%s custom]", tp.names, DefaultTracerName)
	}
}

func TestHTTPTracing(t *testing.T) {
	tp := &recordingProvider{}
	r := chi.NewRouter()
	r.Use(HTTPTracing(
		WithTracerProvider(tp),
		WithRequestFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
	))
	r.Get("/entities/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {})

	do := func(path string, upgrade bool) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if upgrade {
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	do("/entities/7", false)
	do("/broken", false)
	do("/healthz", false)
	do("/ws", true)

	if len(tp.spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(tp.spans))
	}

	tests := []struct {
		span       *recordingSpan
		wantName   string
		wantStatus codes.Code
		wantCode   int64
	}{
		{tp.spans[0], "replinet.admin GET /entities/{id}", codes.Ok, 200},
		{tp.spans[1], "replinet.admin GET /broken", codes.Error, 500},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if tt.span.name != tt.wantName {
				t.Errorf("name = %q, want %q", tt.span.name, tt.wantName)
			}
			if tt.span.status != tt.wantStatus {
				t.Errorf("status = %v, want %v", tt.span.status, tt.wantStatus)
			}
			if got := tt.span.attrs["http.status_code"].AsInt64(); got != tt.wantCode {
				t.Errorf("http.status_code = %d, want %d", got, tt.wantCode)
			}
			if !tt.span.ended {
				t.Error("span not ended")
			}
		})
	}
}
