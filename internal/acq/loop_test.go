package acq

import (
	"context"
	"testing"
	"time"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/driver"
	"github.com/verte-zerg/blockcap/internal/metrics"
	"github.com/verte-zerg/blockcap/internal/model"
)

func newTestLoop(t *testing.T, f *fixture, sink Sink, cfg LoopConfig) *Loop {
	t.Helper()
	return newObservedLoop(t, f, sink, metrics.Nop{}, cfg)
}

func newObservedLoop(t *testing.T, f *fixture, sink Sink, obs metrics.Observer, cfg LoopConfig) *Loop {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = stepClock()
	}
	l, err := NewLoop(f.sess, f.conf, f.bufs, sink, obs, cfg)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	return l
}

func TestLoopPersistsOneEvent(t *testing.T) {
	f := newFixture(t, driver.SimConfig{ReadyAfterPolls: 3}, defaultSetup(1000, 0.3))
	sink := &memSink{}
	l := newTestLoop(t, f, sink, LoopConfig{MaxEvents: 1})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if l.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", l.State())
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected one artifact, got %d", len(sink.records))
	}
	rows := sink.records[0].Rows
	if len(rows) != 1000 {
		t.Fatalf("expected 1000 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].ElapsedNs <= rows[i-1].ElapsedNs {
			t.Fatalf("elapsed time not increasing at row %d", i)
		}
	}
	if rows[0].ElapsedNs != 0 || rows[999].ElapsedNs != 3996 {
		t.Fatalf("unexpected time axis: first %v last %v", rows[0].ElapsedNs, rows[999].ElapsedNs)
	}
	if rows[0].AMV < 1000 || rows[300].AMV > 0 || rows[300].BMV > 0 {
		t.Fatalf("unexpected waveform: baseline %v, pulse A %v B %v", rows[0].AMV, rows[300].AMV, rows[300].BMV)
	}
	if n := f.sim.CallCount("ArmCapture"); n != 1 {
		t.Fatalf("expected one arm, got %d", n)
	}
}

func TestLoopIsolatesFetchFailure(t *testing.T) {
	f := newFixture(t, driver.SimConfig{FetchErrors: map[int]error{2: driver.StatusDriverFunction}}, defaultSetup(200, 0.3))
	sink := &memSink{}
	rec := &memRecorder{}
	l := newTestLoop(t, f, sink, LoopConfig{MaxEvents: 3, RetryBackoff: time.Millisecond})
	l.SetRecorder(rec)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected artifacts for events 1 and 3, got %d", len(sink.records))
	}
	first := sink.records[0].ArmedAt.Format(EventNameLayout)
	third := sink.records[1].ArmedAt.Format(EventNameLayout)
	if first != "10-00-01" || third != "10-00-03" {
		t.Fatalf("unexpected artifact events %s and %s", first, third)
	}
	if len(rec.outcomes) != 3 {
		t.Fatalf("expected three recorded outcomes, got %d", len(rec.outcomes))
	}
	if rec.outcomes[1].Outcome != model.OutcomeCaptureFailed || rec.outcomes[1].ErrorCode != string(acqerr.DriverFailure) {
		t.Fatalf("unexpected second outcome: %+v", rec.outcomes[1])
	}
	if rec.outcomes[2].Outcome != model.OutcomePersisted {
		t.Fatalf("expected third event persisted, got %+v", rec.outcomes[2])
	}
}

func TestLoopAbandonsShortRead(t *testing.T) {
	f := newFixture(t, driver.SimConfig{ShortReads: map[int]int{1: 10}}, defaultSetup(200, 0.3))
	sink := &memSink{}
	l := newTestLoop(t, f, sink, LoopConfig{})

	out, err := l.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Outcome != model.OutcomeCaptureFailed || out.ErrorCode != string(acqerr.ShortRead) {
		t.Fatalf("expected short read failure, got %+v", out)
	}
	if sink.calls != 0 {
		t.Fatalf("expected nothing persisted, got %d calls", sink.calls)
	}
	if l.State() != StateIdle {
		t.Fatalf("expected idle after failure, got %s", l.State())
	}
}

func TestLoopPersistsOverflowedEvent(t *testing.T) {
	f := newFixture(t, driver.SimConfig{Overflow: map[int][]model.Channel{1: {model.ChannelB}}}, defaultSetup(200, 0.3))
	sink := &memSink{}
	obs := &spyObs{}
	l := newObservedLoop(t, f, sink, obs, LoopConfig{})

	out, err := l.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Outcome != model.OutcomePersisted {
		t.Fatalf("expected persisted despite overflow, got %+v", out)
	}
	if out.OverflowA || !out.OverflowB {
		t.Fatalf("expected overflow on B only, got A=%v B=%v", out.OverflowA, out.OverflowB)
	}
	if !sink.records[0].Overflow[1] || sink.records[0].Overflow[0] {
		t.Fatalf("unexpected record overflow flags %v", sink.records[0].Overflow)
	}
	if len(obs.warns) != 1 || obs.warns[0] != "over-range on channel B" {
		t.Fatalf("expected one channel B warning, got %q", obs.warns)
	}
	if obs.counters[metrics.OverflowChannelB] != 1 || obs.counters[metrics.OverflowChannelA] != 0 {
		t.Fatalf("expected only the channel B overflow counter, got %v", obs.counters)
	}

	// Flags do not leak into the next event.
	out, err = l.Step(context.Background())
	if err != nil {
		t.Fatalf("second step: %v", err)
	}
	if out.OverflowA || out.OverflowB {
		t.Fatalf("expected clean second event, got %+v", out)
	}
}

func TestLoopReportsBothOverflowsIndependently(t *testing.T) {
	f := newFixture(t, driver.SimConfig{Overflow: map[int][]model.Channel{1: {model.ChannelA, model.ChannelB}}}, defaultSetup(100, 1.0))
	sink := &memSink{}
	obs := &spyObs{}
	l := newObservedLoop(t, f, sink, obs, LoopConfig{})

	out, err := l.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Outcome != model.OutcomePersisted || !out.OverflowA || !out.OverflowB {
		t.Fatalf("expected persisted event with both flags, got %+v", out)
	}
	want := []string{"over-range on channel A", "over-range on channel B"}
	if len(obs.warns) != 2 || obs.warns[0] != want[0] || obs.warns[1] != want[1] {
		t.Fatalf("expected warnings %q, got %q", want, obs.warns)
	}
	if obs.counters[metrics.OverflowChannelA] != 1 || obs.counters[metrics.OverflowChannelB] != 1 {
		t.Fatalf("expected one increment per channel, got %v", obs.counters)
	}
	if obs.counters[metrics.EventsPersisted] != 1 {
		t.Fatalf("expected the event counted as persisted, got %v", obs.counters)
	}
}

func TestLoopTimeoutStopsAndRearms(t *testing.T) {
	f := newFixture(t, driver.SimConfig{NeverReady: map[int]bool{1: true}}, defaultSetup(200, 0.3))
	sink := &memSink{}
	l := newTestLoop(t, f, sink, LoopConfig{PollInterval: time.Millisecond, MaxWait: 5 * time.Millisecond, MaxEvents: 2})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := f.sim.CallCount("Stop"); n != 1 {
		t.Fatalf("expected timed out capture to be stopped once, got %d", n)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected second event persisted, got %d artifacts", len(sink.records))
	}
	if f.sim.Arms() != 2 {
		t.Fatalf("expected re-arm after timeout, got %d arms", f.sim.Arms())
	}
}

func TestLoopCancelWhileWaiting(t *testing.T) {
	f := newFixture(t, driver.SimConfig{NeverReady: map[int]bool{1: true}}, defaultSetup(200, 0.3))
	sink := &memSink{}
	rec := &memRecorder{}
	l := newTestLoop(t, f, sink, LoopConfig{PollInterval: time.Millisecond})
	l.SetRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
	if sink.calls != 0 {
		t.Fatalf("expected nothing persisted, got %d", sink.calls)
	}
	if n := f.sim.CallCount("Stop"); n != 1 {
		t.Fatalf("expected pending capture stopped, got %d", n)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0].ErrorCode != string(acqerr.Canceled) {
		t.Fatalf("expected one canceled outcome, got %+v", rec.outcomes)
	}
	if l.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", l.State())
	}
}

func TestLoopCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, driver.SimConfig{}, defaultSetup(200, 0.3))
	l := newTestLoop(t, f, &memSink{}, LoopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.sim.Arms() != 0 {
		t.Fatalf("expected no arms, got %d", f.sim.Arms())
	}
}

func TestLoopPersistFailureContinues(t *testing.T) {
	f := newFixture(t, driver.SimConfig{}, defaultSetup(200, 0.3))
	sink := &memSink{failOn: map[int]error{1: errDisk}}
	rec := &memRecorder{}
	l := newTestLoop(t, f, sink, LoopConfig{MaxEvents: 2})
	l.SetRecorder(rec)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %d", len(rec.outcomes))
	}
	if rec.outcomes[0].Outcome != model.OutcomePersistFailed || rec.outcomes[0].ErrorCode != string(acqerr.IOFailure) {
		t.Fatalf("unexpected first outcome: %+v", rec.outcomes[0])
	}
	if rec.outcomes[1].Outcome != model.OutcomePersisted {
		t.Fatalf("unexpected second outcome: %+v", rec.outcomes[1])
	}
}

func TestLoopRecorderFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, driver.SimConfig{}, defaultSetup(200, 0.3))
	sink := &memSink{}
	l := newTestLoop(t, f, sink, LoopConfig{MaxEvents: 2})
	l.SetRecorder(&memRecorder{err: errDisk})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected both events persisted, got %d", len(sink.records))
	}
}

func TestLoopArmFailure(t *testing.T) {
	f := newFixture(t, driver.SimConfig{ArmErrors: map[int]error{1: driver.StatusBusy}}, defaultSetup(200, 0.3))
	l := newTestLoop(t, f, &memSink{}, LoopConfig{})
	out, err := l.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.ErrorCode != string(acqerr.DriverFailure) {
		t.Fatalf("expected driver failure, got %+v", out)
	}
	if n := f.sim.CallCount("Fetch"); n != 0 {
		t.Fatalf("expected no fetch after failed arm, got %d", n)
	}
}

func TestLoopRejectsInconsistentPlan(t *testing.T) {
	f := newFixture(t, driver.SimConfig{}, defaultSetup(200, 0.3))
	conf := f.conf
	conf.Timing.PreSamples++
	l, err := NewLoop(f.sess, conf, f.bufs, &memSink{}, metrics.Nop{}, LoopConfig{})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	err = l.Run(context.Background())
	if acqerr.Of(err) != acqerr.InvalidRange {
		t.Fatalf("expected fatal invalid range, got %v", err)
	}
	if f.sim.Arms() != 0 {
		t.Fatalf("expected no arm, got %d", f.sim.Arms())
	}
}

func TestNewLoopRejectsNegativeDurations(t *testing.T) {
	f := newFixture(t, driver.SimConfig{}, defaultSetup(200, 0.3))
	if _, err := NewLoop(f.sess, f.conf, f.bufs, &memSink{}, metrics.Nop{}, LoopConfig{MaxWait: -time.Second}); err == nil {
		t.Fatalf("expected error for negative max wait")
	}
}

func TestStateString(t *testing.T) {
	if StateArmed.String() != "armed" || StateStopped.String() != "stopped" {
		t.Fatalf("unexpected state names")
	}
	if State(42).String() != "State(42)" {
		t.Fatalf("unexpected fallback name %q", State(42).String())
	}
}
