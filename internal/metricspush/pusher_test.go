package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"

	"github.com/packhouse/packline/internal/config"
)

type capturedPush struct {
	header http.Header
	body   []byte
}

func TestRemoteWritePushSendsSnappyProtobuf(t *testing.T) {
	captured := make(chan capturedPush, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read push body: %v", err)
		}
		captured <- capturedPush{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packline_push_runs_total",
		Help: "Test counter.",
	}, []string{"job"})
	registry.MustRegister(runs)
	runs.WithLabelValues("daily_archive").Add(3)

	durations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "packline_push_duration_seconds",
		Help: "Test histogram, must not be remote written.",
	})
	registry.MustRegister(durations)
	durations.Observe(0.25)

	pusher := NewRemoteWritePusher(server.URL, "push-token")
	if err := pusher.Push(context.Background(), registry); err != nil {
		t.Fatalf("push: %v", err)
	}

	var got capturedPush
	select {
	case got = <-captured:
	default:
		t.Fatal("no push request received")
	}

	if enc := got.header.Get("Content-Encoding"); enc != "snappy" {
		t.Fatalf("Content-Encoding = %q, want snappy", enc)
	}
	if ct := got.header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("Content-Type = %q, want application/x-protobuf", ct)
	}
	if v := got.header.Get("X-Prometheus-Remote-Write-Version"); v != "0.1.0" {
		t.Fatalf("remote write version = %q, want 0.1.0", v)
	}
	if auth := got.header.Get("Authorization"); auth != "Bearer push-token" {
		t.Fatalf("Authorization = %q, want bearer token", auth)
	}

	raw, err := snappy.Decode(nil, got.body)
	if err != nil {
		t.Fatalf("snappy decode: %v", err)
	}
	var req prompb.WriteRequest
	if err := proto.Unmarshal(raw, protoadapt.MessageV2Of(&req)); err != nil {
		t.Fatalf("unmarshal write request: %v", err)
	}

	if len(req.Timeseries) != 1 {
		t.Fatalf("timeseries = %d, want 1 (histograms must be skipped)", len(req.Timeseries))
	}
	series := req.Timeseries[0]
	if len(series.Labels) != 2 {
		t.Fatalf("labels = %d, want __name__ and job", len(series.Labels))
	}
	if series.Labels[0].Name != "__name__" || series.Labels[0].Value != "packline_push_runs_total" {
		t.Fatalf("unexpected name label %+v", series.Labels[0])
	}
	if series.Labels[1].Name != "job" || series.Labels[1].Value != "daily_archive" {
		t.Fatalf("unexpected job label %+v", series.Labels[1])
	}
	if len(series.Samples) != 1 || series.Samples[0].Value != 3 {
		t.Fatalf("unexpected samples %+v", series.Samples)
	}
}

func TestRemoteWritePushReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "packline_push_errors_probe", Help: "Test counter."})
	registry.MustRegister(counter)
	counter.Inc()

	pusher := NewRemoteWritePusher(server.URL, "")
	err := pusher.Push(context.Background(), registry)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "remote write returned") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoteWritePushSkipsEmptyGatherer(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	pusher := NewRemoteWritePusher(server.URL, "")
	if err := pusher.Push(context.Background(), prometheus.NewRegistry()); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := requests.Load(); got != 0 {
		t.Fatalf("requests = %d, want 0 for empty gatherer", got)
	}
}

func TestPushgatewayPushUsesJobAndGrouping(t *testing.T) {
	type requestInfo struct {
		method string
		path   string
	}
	captured := make(chan requestInfo, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured <- requestInfo{method: r.Method, path: r.URL.Path}
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "packline_gateway_probe_total", Help: "Test counter."})
	registry.MustRegister(counter)
	counter.Inc()

	pusher := NewPushgatewayPusher(server.URL, "packline", map[string]string{"environment": "test"})
	if err := pusher.Push(context.Background(), registry); err != nil {
		t.Fatalf("push: %v", err)
	}

	var got requestInfo
	select {
	case got = <-captured:
	default:
		t.Fatal("no pushgateway request received")
	}
	if got.method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", got.method)
	}
	if got.path != "/metrics/job/packline/environment/test" {
		t.Fatalf("path = %s", got.path)
	}
}

func TestPushgatewayPushRequiresJob(t *testing.T) {
	pusher := NewPushgatewayPusher("http://127.0.0.1:9091", "", nil)
	if err := pusher.Push(context.Background(), prometheus.NewRegistry()); err == nil {
		t.Fatal("expected error for empty job")
	}
}

func TestNewPusherRoutesExporters(t *testing.T) {
	base := config.Config{AppName: "packline", Environment: "test"}

	disabled := base
	disabled.MetricsPush = config.MetricsPushConfig{Enabled: false}
	if p := NewPusher(disabled, zap.NewNop()); p != nil {
		t.Fatalf("disabled push built %T", p)
	}

	remote := base
	remote.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_remote_write",
		Endpoint: "http://127.0.0.1:9009/api/v1/push",
	}
	if _, ok := NewPusher(remote, zap.NewNop()).(*RemoteWritePusher); !ok {
		t.Fatal("remote_write exporter did not build a RemoteWritePusher")
	}

	gateway := base
	gateway.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_pushgateway",
		Endpoint: "http://127.0.0.1:9091",
	}
	if _, ok := NewPusher(gateway, zap.NewNop()).(*PushgatewayPusher); !ok {
		t.Fatal("pushgateway exporter did not build a PushgatewayPusher")
	}

	unknown := base
	unknown.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "statsd",
		Endpoint: "http://127.0.0.1:8125",
	}
	if p := NewPusher(unknown, zap.NewNop()); p != nil {
		t.Fatalf("unknown exporter built %T", p)
	}

	missingEndpoint := base
	missingEndpoint.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_remote_write",
	}
	if p := NewPusher(missingEndpoint, zap.NewNop()); p != nil {
		t.Fatalf("missing endpoint built %T", p)
	}

	badURL := base
	badURL.MetricsPush = config.MetricsPushConfig{
		Enabled:  true,
		Exporter: "prometheus_remote_write",
		Endpoint: "not a url",
	}
	if p := NewPusher(badURL, zap.NewNop()); p != nil {
		t.Fatalf("invalid endpoint built %T", p)
	}
}
