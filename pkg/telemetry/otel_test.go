package telemetry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type mockTraceCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	mu            sync.Mutex
	resourceSpans []*tracepb.ResourceSpans
	headers       metadata.MD
	notify        chan struct{}
}

func startMockTraceCollector(t *testing.T) (*mockTraceCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start OTLP listener: %v", err)
	}

	collector := &mockTraceCollector{notify: make(chan struct{}, 1)}

	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, collector)

	go func() {
		_ = server.Serve(lis)
	}()

	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})

	return collector, lis.Addr().String()
}

func (m *mockTraceCollector) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	m.mu.Lock()
	m.resourceSpans = append(m.resourceSpans, req.ResourceSpans...)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.headers = md.Copy()
	}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}

	return &collectortrace.ExportTraceServiceResponse{}, nil
}

func (m *mockTraceCollector) waitForResourceSpans(ctx context.Context) []*tracepb.ResourceSpans {
	for {
		m.mu.Lock()
		if len(m.resourceSpans) > 0 {
			out := append([]*tracepb.ResourceSpans(nil), m.resourceSpans...)
			m.mu.Unlock()
			return out
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-m.notify:
		}
	}
}

func TestSetupProvider_ExportsTerminationSpans(t *testing.T) {
	collector, endpoint := startMockTraceCollector(t)

	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	ResetMetricsForTest()
	t.Cleanup(ResetMetricsForTest)

	ctx := context.Background()
	shutdown, err := SetupProvider(ctx, Config{
		ServiceName:  "decodeguard-test",
		Endpoint:     endpoint,
		Insecure:     true,
		Environment:  "test",
		Headers:      map[string]string{"x-collector-token": "s3cret"},
		ResourceTags: map[string]string{"region": "eu-west-1"},
	})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}

	RecordTermination(ctx, TerminationEvent{
		ConnectionID:  "conn-7",
		AccumulatedMs: 1010,
		Reason:        "exceeded net processing time",
	})

	// Shutdown flushes the batcher.
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown provider: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resourceSpans := collector.waitForResourceSpans(waitCtx)
	if len(resourceSpans) == 0 {
		t.Fatalf("collector received no spans")
	}

	resourceAttrs := map[string]string{}
	for _, attr := range resourceSpans[0].GetResource().GetAttributes() {
		resourceAttrs[attr.GetKey()] = attr.GetValue().GetStringValue()
	}
	if got := resourceAttrs["service.name"]; got != "decodeguard-test" {
		t.Fatalf("expected service.name decodeguard-test, got %q", got)
	}
	if got := resourceAttrs["deployment.environment"]; got != "test" {
		t.Fatalf("expected deployment.environment test, got %q", got)
	}
	if got := resourceAttrs["region"]; got != "eu-west-1" {
		t.Fatalf("expected region tag eu-west-1, got %q", got)
	}

	collector.mu.Lock()
	token := collector.headers.Get("x-collector-token")
	collector.mu.Unlock()
	if len(token) != 1 || token[0] != "s3cret" {
		t.Fatalf("expected export header x-collector-token, got %v", token)
	}

	var found bool
	for _, rs := range resourceSpans {
		for _, scope := range rs.GetScopeSpans() {
			for _, span := range scope.GetSpans() {
				if span.GetName() == "governance.terminate" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("governance.terminate span was not exported")
	}
}

func TestResourceAttributes(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []attribute.KeyValue
	}{
		{
			name: "defaults",
			cfg:  Config{},
			want: []attribute.KeyValue{attribute.String("service.name", DefaultServiceName)},
		},
		{
			name: "environment and sorted tags",
			cfg: Config{
				ServiceName:  "edge",
				Environment:  "prod",
				ResourceTags: map[string]string{"zone": "b", "region": "eu"},
			},
			want: []attribute.KeyValue{
				attribute.String("service.name", "edge"),
				attribute.String("deployment.environment", "prod"),
				attribute.String("region", "eu"),
				attribute.String("zone", "b"),
			},
		},
		{
			name: "tags cannot override identity",
			cfg: Config{
				ServiceName:  "edge",
				ResourceTags: map[string]string{"service.name": "spoofed"},
			},
			want: []attribute.KeyValue{attribute.String("service.name", "edge")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resourceAttributes(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d attributes, got %v", len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("attribute %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSetupProvider_NoEndpointWithHeadersIsNoop(t *testing.T) {
	prev := otel.GetTracerProvider()
	shutdown, err := SetupProvider(context.Background(), Config{Headers: map[string]string{"a": "b"}})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("tracer provider replaced without an endpoint")
	}
}
