package acq

import (
	"errors"
	"testing"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/driver"
	"github.com/verte-zerg/blockcap/internal/metrics"
)

func TestOpenSessionSwitchesPowerSourceOnce(t *testing.T) {
	sim := driver.NewSim(driver.SimConfig{OpenStatus: []error{driver.StatusPowerSupplyNotConnected}})
	sess, err := OpenSession(sim, metrics.Nop{})
	if err != nil {
		t.Fatalf("expected session after power switch, got %v", err)
	}
	defer sess.Close()
	if n := sim.CallCount("SwitchPowerSource"); n != 1 {
		t.Fatalf("expected exactly one power source switch, got %d", n)
	}
	if _, err := sess.maxADC(); err != nil {
		t.Fatalf("expected usable session, got %v", err)
	}
}

func TestOpenSessionSecondMismatchIsFatal(t *testing.T) {
	sim := driver.NewSim(driver.SimConfig{
		OpenStatus:   []error{driver.StatusUSB3DeviceNonUSB3Port},
		SwitchStatus: []error{driver.StatusUSB3DeviceNonUSB3Port},
	})
	_, err := OpenSession(sim, metrics.Nop{})
	if acqerr.Of(err) != acqerr.PowerSourceMismatch {
		t.Fatalf("expected power source mismatch, got %v", err)
	}
	if n := sim.CallCount("SwitchPowerSource"); n != 1 {
		t.Fatalf("expected one switch attempt, got %d", n)
	}
	if sim.IsOpen() {
		t.Fatalf("expected half-opened unit to be closed")
	}
	if !acqerr.IsFatal(err) {
		t.Fatalf("expected mismatch to be fatal")
	}
}

func TestOpenSessionNotFound(t *testing.T) {
	sim := driver.NewSim(driver.SimConfig{OpenStatus: []error{driver.StatusNotFound}})
	_, err := OpenSession(sim, metrics.Nop{})
	if acqerr.Of(err) != acqerr.NotConnected {
		t.Fatalf("expected not connected, got %v", err)
	}
	if !errors.Is(err, driver.StatusNotFound) {
		t.Fatalf("expected driver status in chain, got %v", err)
	}
	if n := sim.CallCount("SwitchPowerSource"); n != 0 {
		t.Fatalf("did not expect a power switch, got %d", n)
	}
}

func TestSessionCloseOnce(t *testing.T) {
	sim := driver.NewSim(driver.SimConfig{})
	sess, err := OpenSession(sim, metrics.Nop{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sess.Close(); acqerr.Of(err) != acqerr.NotConnected {
		t.Fatalf("expected second close to report not connected, got %v", err)
	}
	if err := sess.Stop(); acqerr.Of(err) != acqerr.NotConnected {
		t.Fatalf("expected stop after close to report not connected, got %v", err)
	}
	if n := sim.CallCount("Close"); n != 1 {
		t.Fatalf("expected one driver close, got %d", n)
	}
}
