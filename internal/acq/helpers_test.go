package acq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/verte-zerg/blockcap/internal/driver"
	"github.com/verte-zerg/blockcap/internal/metrics"
	"github.com/verte-zerg/blockcap/internal/model"
)

func defaultSetup(total int, pre float64) Setup {
	channels := []model.ChannelConfig{
		{Channel: model.ChannelA, Enabled: true, Coupling: model.CouplingDC, Range: model.Range5V},
		{Channel: model.ChannelB, Enabled: true, Coupling: model.CouplingDC, Range: model.Range5V},
	}
	trig := func(ch model.Channel) model.ChannelTrigger {
		return model.ChannelTrigger{
			Channel:         ch,
			UpperMV:         500,
			UpperHysteresis: 10,
			Mode:            model.ThresholdLevel,
			Direction:       model.DirectionFalling,
		}
	}
	return Setup{
		Request:  model.AcquisitionRequest{Timebase: 1, TotalSamples: total, PreFraction: pre},
		Channels: channels,
		Trigger:  model.TriggerSpec{Channels: []model.ChannelTrigger{trig(model.ChannelA), trig(model.ChannelB)}},
	}
}

type fixture struct {
	sim  *driver.Sim
	sess *Session
	conf Configured
	bufs *Buffers
}

func newFixture(t *testing.T, simCfg driver.SimConfig, setup Setup) *fixture {
	t.Helper()
	sim := driver.NewSim(simCfg)
	sess, err := OpenSession(sim, metrics.Nop{})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() {
		// Best-effort close.
		_ = sess.Close()
	})
	conf, err := Configure(sess, setup)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	bufs, err := BuffersFor(conf)
	if err != nil {
		t.Fatalf("buffers: %v", err)
	}
	if err := bufs.Register(sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{sim: sim, sess: sess, conf: conf, bufs: bufs}
}

// memSink keeps a copy of every persisted event.
type memSink struct {
	mu      sync.Mutex
	records []model.EventRecord
	failOn  map[int]error
	calls   int
}

func (s *memSink) Persist(rec *model.EventRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.failOn[s.calls]; ok {
		return "", err
	}
	cp := *rec
	cp.Rows = append([]model.Row(nil), rec.Rows...)
	s.records = append(s.records, cp)
	return rec.ArmedAt.Format(EventNameLayout) + ".tsv", nil
}

type memRecorder struct {
	outcomes []model.EventOutcome
	err      error
}

func (r *memRecorder) RecordEvent(_ context.Context, out model.EventOutcome) error {
	r.outcomes = append(r.outcomes, out)
	return r.err
}

// stepClock returns successive seconds from a fixed start.
func stepClock() func() time.Time {
	t := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

var errDisk = errors.New("disk full")

// spyObs records warnings and counter increments.
type spyObs struct {
	metrics.Nop
	mu       sync.Mutex
	warns    []string
	counters map[string]float64
}

func (o *spyObs) LogWarn(msg string, _ ...metrics.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warns = append(o.warns, msg)
}

func (o *spyObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counters == nil {
		o.counters = map[string]float64{}
	}
	o.counters[name] += v
}
