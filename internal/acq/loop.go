package acq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/metrics"
	"github.com/verte-zerg/blockcap/internal/model"
	"github.com/verte-zerg/blockcap/internal/units"
)

// State is the acquisition loop state.
type State int

// Loop states. Stopped is terminal.
const (
	StateIdle State = iota
	StateArmed
	StateReady
	StateFetched
	StatePersisted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateReady:
		return "ready"
	case StateFetched:
		return "fetched"
	case StatePersisted:
		return "persisted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventNameLayout formats the event identifier from the arm time.
const EventNameLayout = "15-04-05"

// Sink persists one converted event. It must not retain rec.
type Sink interface {
	Persist(rec *model.EventRecord) (string, error)
}

// Recorder stores event outcomes in the event index.
type Recorder interface {
	RecordEvent(ctx context.Context, out model.EventOutcome) error
}

// LoopConfig tunes the loop.
type LoopConfig struct {
	// PollInterval is the readiness poll cadence.
	PollInterval time.Duration
	// MaxWait bounds the wait for one trigger. Zero waits forever.
	MaxWait time.Duration
	// RetryBackoff is slept after a failed capture before re-arming.
	RetryBackoff time.Duration
	// MaxEvents ends the run after that many armed events. Zero is unbounded.
	MaxEvents int
	// Now stamps events; defaults to time.Now.
	Now func() time.Time
}

// Loop runs the arm, poll, fetch, convert and persist cycle.
type Loop struct {
	sess *Session
	conf Configured
	bufs *Buffers
	sink Sink
	rec  Recorder
	obs  metrics.Observer
	cfg  LoopConfig

	scaleA units.Scaler
	scaleB units.Scaler
	rows   []model.Row
	record model.EventRecord

	state  State
	events int
}

// NewLoop builds a loop over registered buffers.
func NewLoop(sess *Session, conf Configured, bufs *Buffers, sink Sink, obs metrics.Observer, cfg LoopConfig) (*Loop, error) {
	if cfg.PollInterval < 0 || cfg.MaxWait < 0 || cfg.RetryBackoff < 0 {
		return nil, fmt.Errorf("loop durations must be >= 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := &Loop{
		sess:  sess,
		conf:  conf,
		bufs:  bufs,
		sink:  sink,
		obs:   obs,
		cfg:   cfg,
		rows:  make([]model.Row, conf.Timing.TotalSamples),
		state: StateIdle,
	}
	var err error
	if a, ok := conf.Channel(model.ChannelA); ok && a.Enabled {
		if l.scaleA, err = units.NewScaler(a.Range, conf.MaxADC); err != nil {
			return nil, err
		}
	}
	if b, ok := conf.Channel(model.ChannelB); ok && b.Enabled {
		if l.scaleB, err = units.NewScaler(b.Range, conf.MaxADC); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// SetRecorder attaches the event index.
func (l *Loop) SetRecorder(r Recorder) {
	l.rec = r
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// Events returns the number of armed events.
func (l *Loop) Events() int {
	return l.events
}

// Run loops until ctx is cancelled, MaxEvents is reached or a fatal error
// occurs. Per-event failures are reported and never end the run.
func (l *Loop) Run(ctx context.Context) error {
	defer func() { l.state = StateStopped }()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.cfg.MaxEvents > 0 && l.events >= l.cfg.MaxEvents {
			return nil
		}
		out, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if out.Outcome != model.OutcomeCaptureFailed {
			continue
		}
		if out.ErrorCode == string(acqerr.Canceled) {
			return nil
		}
		if l.cfg.RetryBackoff > 0 {
			if err := sleepCtx(ctx, l.cfg.RetryBackoff); err != nil {
				return nil
			}
		}
	}
}

// Step runs one event from Idle back to Idle. The returned error is set
// only for fatal conditions; event failures are described by the outcome.
func (l *Loop) Step(ctx context.Context) (model.EventOutcome, error) {
	t := l.conf.Timing
	if t.PreSamples+t.PostSamples != t.TotalSamples || l.bufs.Len() != t.TotalSamples || len(l.rows) != t.TotalSamples {
		return model.EventOutcome{}, acqerr.New(acqerr.InvalidRange, "arm",
			fmt.Sprintf("pre %d + post %d does not match %d samples and buffer length %d", t.PreSamples, t.PostSamples, t.TotalSamples, l.bufs.Len()), nil)
	}

	armedAt := l.cfg.Now()
	l.events++
	out := model.EventOutcome{ArmedAt: armedAt}
	name := armedAt.Format(EventNameLayout)

	l.bufs.resetOverflow()
	if err := l.sess.arm(t.PreSamples, t.PostSamples, t.Timebase); err != nil {
		return l.fail(ctx, out, acqerr.New(acqerr.DriverFailure, "arm", "event "+name, err)), nil
	}
	l.state = StateArmed
	l.obs.IncCounter(metrics.EventsArmed, 1)

	wait, err := l.waitReady(ctx)
	out.TriggerWait = wait
	if err != nil {
		if errors.Is(err, acqerr.Timeout) || errors.Is(err, acqerr.Canceled) {
			if serr := l.sess.Stop(); serr != nil {
				l.obs.LogError("stop pending capture", serr, metrics.F("event", name))
			}
		}
		return l.fail(ctx, out, err), nil
	}
	l.state = StateReady
	l.obs.ObserveLatency(metrics.TriggerWaitSeconds, wait.Seconds())

	n, err := l.sess.fetch(0, t.TotalSamples, l.bufs.overflow)
	if err != nil {
		return l.fail(ctx, out, acqerr.New(acqerr.DriverFailure, "fetch", "event "+name, err)), nil
	}
	if n < t.TotalSamples {
		return l.fail(ctx, out, acqerr.New(acqerr.ShortRead, "fetch",
			fmt.Sprintf("event %s: got %d of %d samples", name, n, t.TotalSamples), nil)), nil
	}
	l.state = StateFetched
	out.Samples = t.TotalSamples

	out.OverflowA = l.bufs.Overflowed(model.ChannelA)
	out.OverflowB = l.bufs.Overflowed(model.ChannelB)
	if out.OverflowA {
		l.obs.LogWarn("over-range on channel A", metrics.F("event", name))
		l.obs.IncCounter(metrics.OverflowChannelA, 1)
	}
	if out.OverflowB {
		l.obs.LogWarn("over-range on channel B", metrics.F("event", name))
		l.obs.IncCounter(metrics.OverflowChannelB, 1)
	}

	rec := l.convert(armedAt, out.OverflowA, out.OverflowB)
	persistStart := time.Now()
	path, err := l.sink.Persist(rec)
	if err != nil {
		if acqerr.Of(err) == acqerr.Unknown {
			err = acqerr.New(acqerr.IOFailure, "persist", "event "+name, err)
		}
		out.Outcome = model.OutcomePersistFailed
		return l.finish(ctx, out, err), nil
	}
	l.state = StatePersisted
	l.obs.ObserveLatency(metrics.PersistSeconds, time.Since(persistStart).Seconds())
	l.obs.IncCounter(metrics.EventsPersisted, 1)
	l.obs.SetGauge(metrics.LastEventTimestamp, float64(armedAt.Unix()))
	l.obs.LogInfo("triggered event", metrics.F("event", name), metrics.F("path", path), metrics.F("wait", wait))

	out.Outcome = model.OutcomePersisted
	out.ArtifactPath = path
	return l.finish(ctx, out, nil), nil
}

func (l *Loop) waitReady(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var timer *time.Timer
	if l.cfg.PollInterval > 0 {
		timer = time.NewTimer(l.cfg.PollInterval)
		defer timer.Stop()
	}
	for {
		ready, err := l.sess.pollReady()
		if err != nil {
			return time.Since(start), acqerr.New(acqerr.DriverFailure, "poll", "", err)
		}
		if ready {
			return time.Since(start), nil
		}
		elapsed := time.Since(start)
		if l.cfg.MaxWait > 0 && elapsed >= l.cfg.MaxWait {
			return elapsed, acqerr.New(acqerr.Timeout, "poll", fmt.Sprintf("no trigger within %s", l.cfg.MaxWait), nil)
		}
		if timer == nil {
			if ctx.Err() != nil {
				return elapsed, acqerr.New(acqerr.Canceled, "poll", "", ctx.Err())
			}
			continue
		}
		select {
		case <-ctx.Done():
			return time.Since(start), acqerr.New(acqerr.Canceled, "poll", "", ctx.Err())
		case <-timer.C:
			timer.Reset(l.cfg.PollInterval)
		}
	}
}

func (l *Loop) convert(armedAt time.Time, overflowA, overflowB bool) *model.EventRecord {
	interval := l.conf.Timing.IntervalNs
	a := l.bufs.Data(model.ChannelA)
	b := l.bufs.Data(model.ChannelB)
	for i := range l.rows {
		row := model.Row{ElapsedNs: units.ElapsedNs(i, interval)}
		if a != nil {
			row.AMV = l.scaleA.MV(a[i])
		}
		if b != nil {
			row.BMV = l.scaleB.MV(b[i])
		}
		l.rows[i] = row
	}
	l.record = model.EventRecord{
		ArmedAt:    armedAt,
		IntervalNs: interval,
		Rows:       l.rows,
		Overflow:   [2]bool{overflowA, overflowB},
	}
	return &l.record
}

func (l *Loop) fail(ctx context.Context, out model.EventOutcome, err error) model.EventOutcome {
	out.Outcome = model.OutcomeCaptureFailed
	return l.finish(ctx, out, err)
}

func (l *Loop) finish(ctx context.Context, out model.EventOutcome, err error) model.EventOutcome {
	if err != nil {
		out.ErrorCode = string(acqerr.Of(err))
		out.ErrorMessage = err.Error()
		name := out.ArmedAt.Format(EventNameLayout)
		switch out.Outcome {
		case model.OutcomePersistFailed:
			l.obs.IncCounter(metrics.PersistErrors, 1)
			l.obs.LogError("event lost", err, metrics.F("event", name))
		default:
			if acqerr.Of(err) != acqerr.Canceled {
				l.obs.IncCounter(metrics.CaptureErrors, 1)
			}
			l.obs.LogError("capture abandoned", err, metrics.F("event", name), metrics.F("code", out.ErrorCode))
		}
	}
	if l.rec != nil {
		if rerr := l.rec.RecordEvent(context.WithoutCancel(ctx), out); rerr != nil {
			l.obs.LogError("record event", rerr, metrics.F("event", out.ArmedAt.Format(EventNameLayout)))
		}
	}
	l.state = StateIdle
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
