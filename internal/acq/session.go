// Package acq drives the triggered block-capture cycle: one-time device
// setup followed by the arm, poll, fetch, convert and persist loop.
package acq

import (
	"errors"
	"sync"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/driver"
	"github.com/verte-zerg/blockcap/internal/metrics"
	"github.com/verte-zerg/blockcap/internal/model"
)

// Session owns the open instrument handle. Every driver call goes through
// it under one mutex, so at most one call is in flight.
type Session struct {
	mu     sync.Mutex
	drv    driver.Driver
	h      driver.Handle
	closed bool
}

// OpenSession opens the instrument. A power-source mismatch reported by
// open is corrected with exactly one SwitchPowerSource call; if that fails
// the session is not opened.
func OpenSession(drv driver.Driver, obs metrics.Observer) (*Session, error) {
	h, err := drv.Open()
	if err == nil {
		return &Session{drv: drv, h: h}, nil
	}
	var st driver.Status
	if !errors.As(err, &st) || !st.IsPowerSourceMismatch() {
		return nil, acqerr.New(acqerr.NotConnected, "open", "", err)
	}
	obs.LogInfo("switching power source", metrics.F("status", st.Error()))
	if serr := drv.SwitchPowerSource(h, st); serr != nil {
		if cerr := drv.Close(h); cerr != nil {
			// Best-effort close of a half-opened unit.
			_ = cerr
		}
		return nil, acqerr.New(acqerr.PowerSourceMismatch, "switch power source", st.Error(), serr)
	}
	return &Session{drv: drv, h: h}, nil
}

// Handle returns the driver handle.
func (s *Session) Handle() driver.Handle {
	return s.h
}

// Close releases the handle. It must be the last call on the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return acqerr.New(acqerr.NotConnected, "close", "session already closed", nil)
	}
	s.closed = true
	if err := s.drv.Close(s.h); err != nil {
		return acqerr.New(acqerr.DriverFailure, "close", "", err)
	}
	return nil
}

// Stop aborts a pending capture.
func (s *Session) Stop() error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.Stop(h) })
}

func (s *Session) do(fn func(driver.Driver, driver.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return acqerr.New(acqerr.NotConnected, "", "session closed", nil)
	}
	return fn(s.drv, s.h)
}

func (s *Session) resolveTiming(timebase uint32, samples int) (driver.Timing, error) {
	var t driver.Timing
	err := s.do(func(d driver.Driver, h driver.Handle) error {
		var err error
		t, err = d.ResolveTiming(h, timebase, samples)
		return err
	})
	return t, err
}

func (s *Session) maxADC() (int16, error) {
	var v int16
	err := s.do(func(d driver.Driver, h driver.Handle) error {
		var err error
		v, err = d.MaxADC(h)
		return err
	})
	return v, err
}

func (s *Session) setChannel(cfg model.ChannelConfig) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.SetChannel(h, cfg) })
}

func (s *Session) setTriggerProperties(props []driver.ThresholdProperties, autoMs int16) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.SetTriggerProperties(h, props, autoMs) })
}

func (s *Session) setTriggerDirections(dirs model.Directions) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.SetTriggerDirections(h, dirs) })
}

func (s *Session) setTriggerConditions(groups []model.ConditionGroup) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.SetTriggerConditions(h, groups) })
}

func (s *Session) setStimulus(spec model.StimulusSpec) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.SetStimulus(h, spec) })
}

func (s *Session) registerBuffer(ch model.Channel, buf []int16) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.RegisterBuffer(h, ch, buf) })
}

func (s *Session) arm(pre, post int, timebase uint32) error {
	return s.do(func(d driver.Driver, h driver.Handle) error { return d.ArmCapture(h, pre, post, timebase) })
}

func (s *Session) pollReady() (bool, error) {
	var ready bool
	err := s.do(func(d driver.Driver, h driver.Handle) error {
		var err error
		ready, err = d.PollReady(h)
		return err
	})
	return ready, err
}

func (s *Session) fetch(start, count int, overflow []int16) (int, error) {
	var n int
	err := s.do(func(d driver.Driver, h driver.Handle) error {
		var err error
		n, err = d.Fetch(h, start, count, overflow)
		return err
	})
	return n, err
}
