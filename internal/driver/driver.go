// Package driver defines the command/response interface to the instrument
// driver and a simulated implementation of it.
package driver

import (
	"fmt"
	"strings"

	"github.com/verte-zerg/blockcap/internal/model"
)

// Handle identifies an open instrument session.
type Handle int16

// Status is a non-success driver status code.
type Status uint32

// Driver status codes. Values follow the vendor numbering.
const (
	StatusOK                      Status = 0x00
	StatusMaxUnitsOpened          Status = 0x01
	StatusMemoryFail              Status = 0x02
	StatusNotFound                Status = 0x03
	StatusOperationFailed         Status = 0x06
	StatusNotResponding           Status = 0x07
	StatusInvalidHandle           Status = 0x0C
	StatusInvalidParameter        Status = 0x0D
	StatusInvalidTimebase         Status = 0x0E
	StatusInvalidVoltageRange     Status = 0x0F
	StatusInvalidChannel          Status = 0x10
	StatusInvalidTriggerChannel   Status = 0x11
	StatusInvalidConditionChannel Status = 0x12
	StatusNoSignalGenerator       Status = 0x13
	StatusBlockModeFailed         Status = 0x15
	StatusDataNotAvailable        Status = 0x18
	StatusTooManySamples          Status = 0x1D
	StatusNoSamplesAvailable      Status = 0x25
	StatusBusy                    Status = 0x27
	StatusDriverFunction          Status = 0x43
	StatusPowerSupplyNotConnected Status = 0x11A
	StatusUSB3DeviceNonUSB3Port   Status = 0x11E
)

var statusNames = map[Status]string{
	StatusOK:                      "PICO_OK",
	StatusMaxUnitsOpened:          "PICO_MAX_UNITS_OPENED",
	StatusMemoryFail:              "PICO_MEMORY_FAIL",
	StatusNotFound:                "PICO_NOT_FOUND",
	StatusOperationFailed:         "PICO_OPERATION_FAILED",
	StatusNotResponding:           "PICO_NOT_RESPONDING",
	StatusInvalidHandle:           "PICO_INVALID_HANDLE",
	StatusInvalidParameter:        "PICO_INVALID_PARAMETER",
	StatusInvalidTimebase:         "PICO_INVALID_TIMEBASE",
	StatusInvalidVoltageRange:     "PICO_INVALID_VOLTAGE_RANGE",
	StatusInvalidChannel:          "PICO_INVALID_CHANNEL",
	StatusInvalidTriggerChannel:   "PICO_INVALID_TRIGGER_CHANNEL",
	StatusInvalidConditionChannel: "PICO_INVALID_CONDITION_CHANNEL",
	StatusNoSignalGenerator:       "PICO_NO_SIGNAL_GENERATOR",
	StatusBlockModeFailed:         "PICO_BLOCK_MODE_FAILED",
	StatusDataNotAvailable:        "PICO_DATA_NOT_AVAILABLE",
	StatusTooManySamples:          "PICO_TOO_MANY_SAMPLES",
	StatusNoSamplesAvailable:      "PICO_NO_SAMPLES_AVAILABLE",
	StatusBusy:                    "PICO_BUSY",
	StatusDriverFunction:          "PICO_DRIVER_FUNCTION",
	StatusPowerSupplyNotConnected: "PICO_POWER_SUPPLY_NOT_CONNECTED",
	StatusUSB3DeviceNonUSB3Port:   "PICO_USB3_0_DEVICE_NON_USB3_0_PORT",
}

func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("%s (0x%X)", name, uint32(s))
	}
	return fmt.Sprintf("driver status 0x%X", uint32(s))
}

// IsPowerSourceMismatch reports whether s is recoverable by switching the
// power source.
func (s Status) IsPowerSourceMismatch() bool {
	return s == StatusPowerSupplyNotConnected || s == StatusUSB3DeviceNonUSB3Port
}

// Timing is what the device reports for a timebase.
type Timing struct {
	IntervalNs float64
	MaxSamples int
}

// ThresholdProperties is one channel's trigger thresholds in device codes.
type ThresholdProperties struct {
	Channel         model.Channel
	UpperCode       int16
	UpperHysteresis uint16
	LowerCode       int16
	LowerHysteresis uint16
	Mode            model.ThresholdMode
}

// Driver is the command/response interface to the instrument. Every call
// returns nil on success or an error, usually a Status.
type Driver interface {
	Open() (Handle, error)
	Close(h Handle) error
	SwitchPowerSource(h Handle, code Status) error
	ResolveTiming(h Handle, timebase uint32, samples int) (Timing, error)
	MaxADC(h Handle) (int16, error)
	SetChannel(h Handle, cfg model.ChannelConfig) error
	SetTriggerProperties(h Handle, props []ThresholdProperties, autoTriggerMs int16) error
	SetTriggerDirections(h Handle, dirs model.Directions) error
	SetTriggerConditions(h Handle, groups []model.ConditionGroup) error
	SetStimulus(h Handle, spec model.StimulusSpec) error
	RegisterBuffer(h Handle, ch model.Channel, buf []int16) error
	ArmCapture(h Handle, pre, post int, timebase uint32) error
	PollReady(h Handle) (bool, error)
	// Fetch copies samples into the registered buffers, sets overflow[ch]
	// for every registered channel and returns the number of samples copied.
	Fetch(h Handle, start, count int, overflow []int16) (int, error)
	Stop(h Handle) error
}

// Names lists the device names accepted by New.
func Names() []string {
	return []string{"sim"}
}

// New returns the driver registered under name.
func New(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sim", "simulated":
		return NewSim(SimConfig{}), nil
	case "":
		return nil, fmt.Errorf("device name is empty")
	}
	return nil, fmt.Errorf("unsupported device %q (available: %s)", name, strings.Join(Names(), ", "))
}
