package metrics

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromObs logs through a standard logger and exports run metrics.
type PromObs struct {
	logger   *log.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the run metrics with reg. A nil logger writes to the
// standard logger.
func NewPromObs(reg prometheus.Registerer, logger *log.Logger) (*PromObs, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	armed := counter(EventsArmed, "Captures armed.")
	persisted := counter(EventsPersisted, "Events written to an artifact.")
	captureErrs := counter(CaptureErrors, "Captures abandoned before conversion.")
	persistErrs := counter(PersistErrors, "Converted events that could not be written.")
	overA := counter(OverflowChannelA, "Events with an over-range sample on channel A.")
	overB := counter(OverflowChannelB, "Events with an over-range sample on channel B.")
	wait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    TriggerWaitSeconds,
		Help:    "Time from arming to capture completion.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	persist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    PersistSeconds,
		Help:    "Time spent writing one artifact.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: LastEventTimestamp,
		Help: "Unix time the last persisted event was armed.",
	})

	for _, c := range []prometheus.Collector{armed, persisted, captureErrs, persistErrs, overA, overB, wait, persist, last} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			EventsArmed:      armed,
			EventsPersisted:  persisted,
			CaptureErrors:    captureErrs,
			PersistErrors:    persistErrs,
			OverflowChannelA: overA,
			OverflowChannelB: overB,
		},
		gauges: map[string]prometheus.Gauge{
			LastEventTimestamp: last,
		},
		histos: map[string]prometheus.Observer{
			TriggerWaitSeconds: wait,
			PersistSeconds:     persist,
		},
	}, nil
}

func (p *PromObs) LogInfo(msg string, fields ...Field) {
	logLine(p.logger, "INFO", msg, nil, fields)
}

func (p *PromObs) LogWarn(msg string, fields ...Field) {
	logLine(p.logger, "WARN", msg, nil, fields)
}

func (p *PromObs) LogError(msg string, err error, fields ...Field) {
	logLine(p.logger, "ERROR", msg, err, fields)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, g)
}

func serveListener(ctx context.Context, ln net.Listener, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
