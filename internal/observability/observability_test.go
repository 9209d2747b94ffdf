package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"media-enrichment-service/internal/observability/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s := NewServer(":0")

	if rec := get(t, s.Handler(), "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("unexpected /healthz response %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_Readiness(t *testing.T) {
	s := NewServer(":0")

	if rec := get(t, s.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", rec.Code)
	}

	s.SetReady(true)
	if rec := get(t, s.Handler(), "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(":0")
	metrics.DefaultMetrics.RecordEventStart()
	metrics.DefaultMetrics.RecordEventEnd("", "none", 0.1)

	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "media_enrichment_events_received_total") {
		t.Error("expected service metrics in exposition")
	}
}

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.DefaultMetrics
	method := "/test.Service/Unary"
	before := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(method, codes.NotFound.String()))

	icpt := UnaryServerInterceptor(m)
	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method},
		func(context.Context, interface{}) (interface{}, error) {
			return nil, status.Error(codes.NotFound, "missing")
		})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}

	after := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(method, codes.NotFound.String()))
	if after != before+1 {
		t.Errorf("expected call counted, before=%v after=%v", before, after)
	}
}

func TestStreamServerInterceptor_RecordsOK(t *testing.T) {
	m := metrics.DefaultMetrics
	method := "/test.Service/Stream"
	before := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(method, codes.OK.String()))

	icpt := StreamServerInterceptor(m)
	err := icpt(nil, nil, &grpc.StreamServerInfo{FullMethod: method},
		func(interface{}, grpc.ServerStream) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	after := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(method, codes.OK.String()))
	if after != before+1 {
		t.Errorf("expected call counted, before=%v after=%v", before, after)
	}
}

func TestIsHealthCheck(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{"/grpc.health.v1.Health/Check", true},
		{"/grpc.health.v1.Health/Watch", true},
		{"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo", false},
		{"/grpc.health.v1.HealthExtra/Check", false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := isHealthCheck(tt.method); got != tt.want {
				t.Errorf("isHealthCheck(%q) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}

func TestUnaryServerInterceptor_CountsHealthChecks(t *testing.T) {
	m := metrics.DefaultMetrics
	method := "/grpc.health.v1.Health/Check"
	before := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(method, codes.OK.String()))

	icpt := UnaryServerInterceptor(m)
	if _, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method},
		func(context.Context, interface{}) (interface{}, error) { return "serving", nil }); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	if after := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(method, codes.OK.String())); after != before+1 {
		t.Errorf("expected health check counted, before=%v after=%v", before, after)
	}
}
