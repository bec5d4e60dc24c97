package metrics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPromObs(reg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new prom obs: %v", err)
	}

	obs.IncCounter(EventsArmed, 3)
	if got := testutil.ToFloat64(obs.counters[EventsArmed]); got != 3 {
		t.Fatalf("expected armed counter 3, got %f", got)
	}

	obs.IncCounter(OverflowChannelB, 1)
	if got := testutil.ToFloat64(obs.counters[OverflowChannelB]); got != 1 {
		t.Fatalf("expected overflow B counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(obs.counters[OverflowChannelA]); got != 0 {
		t.Fatalf("expected overflow A counter 0, got %f", got)
	}

	obs.SetGauge(LastEventTimestamp, 1700000000)
	if got := testutil.ToFloat64(obs.gauges[LastEventTimestamp]); got != 1700000000 {
		t.Fatalf("expected last event gauge, got %f", got)
	}

	obs.ObserveLatency(PersistSeconds, 0.25)
	hCollector := obs.histos[PersistSeconds].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected persist histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("not_a_metric", 1)
}

func TestNewPromObsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromObs(reg, nil); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPromObs(reg, nil); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestPromObsLogFormat(t *testing.T) {
	var buf bytes.Buffer
	obs, err := NewPromObs(prometheus.NewRegistry(), log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("new prom obs: %v", err)
	}
	obs.LogError("capture abandoned", errors.New("boom"), F("event", "10-00-00"), F("code", "short_read"))
	got := strings.TrimSpace(buf.String())
	want := "ERROR: capture abandoned: boom event=10-00-00 code=short_read"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	buf.Reset()
	obs.LogWarn("over-range on channel A")
	if got := strings.TrimSpace(buf.String()); got != "WARN: over-range on channel A" {
		t.Fatalf("unexpected warn line %q", got)
	}
}

func TestServeExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPromObs(reg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new prom obs: %v", err)
	}
	obs.IncCounter(EventsPersisted, 2)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveListener(ctx, ln, reg) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), EventsPersisted+" 2") {
		cancel()
		t.Fatalf("expected persisted counter in output, got:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop after cancel")
	}
}
