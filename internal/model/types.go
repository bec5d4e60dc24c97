// Package model defines shared data structures.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies an analog input.
type Channel int

// Analog input channels.
const (
	ChannelA Channel = iota
	ChannelB
	ChannelC
	ChannelD
)

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	case ChannelC:
		return "C"
	case ChannelD:
		return "D"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// ParseChannel parses "a".."d" (case-insensitive).
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return ChannelA, nil
	case "b":
		return ChannelB, nil
	case "c":
		return ChannelC, nil
	case "d":
		return ChannelD, nil
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Coupling selects AC or DC input coupling.
type Coupling int

// Coupling modes, in driver order.
const (
	CouplingAC Coupling = iota
	CouplingDC
)

func (c Coupling) String() string {
	if c == CouplingAC {
		return "ac"
	}
	return "dc"
}

// ParseCoupling parses "ac" or "dc".
func ParseCoupling(s string) (Coupling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ac":
		return CouplingAC, nil
	case "dc":
		return CouplingDC, nil
	}
	return 0, fmt.Errorf("unknown coupling %q (want ac or dc)", s)
}

// Range is the driver's input range index.
type Range int

// Input ranges, in driver enum order.
const (
	Range10mV Range = iota
	Range20mV
	Range50mV
	Range100mV
	Range200mV
	Range500mV
	Range1V
	Range2V
	Range5V
	Range10V
	Range20V
)

var rangeFullScaleMV = []float64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 20000}

var rangeNames = []string{"10mV", "20mV", "50mV", "100mV", "200mV", "500mV", "1V", "2V", "5V", "10V", "20V"}

// FullScaleMV returns the +/- full-scale voltage of the range in millivolts.
func (r Range) FullScaleMV() (float64, bool) {
	if r < 0 || int(r) >= len(rangeFullScaleMV) {
		return 0, false
	}
	return rangeFullScaleMV[r], true
}

func (r Range) String() string {
	if r < 0 || int(r) >= len(rangeNames) {
		return fmt.Sprintf("Range(%d)", int(r))
	}
	return rangeNames[r]
}

// ParseRange parses names such as "5V" or "500mV".
func ParseRange(s string) (Range, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for i, name := range rangeNames {
		if strings.ToLower(name) == want {
			return Range(i), nil
		}
	}
	return 0, fmt.Errorf("unknown range %q (available: %s)", s, strings.Join(rangeNames, ", "))
}

// ChannelConfig is applied once before the first capture.
type ChannelConfig struct {
	Channel  Channel
	Enabled  bool
	Coupling Coupling
	Range    Range
	OffsetV  float64
}

// Direction is a per-slot trigger direction.
type Direction int

// Trigger directions, in driver enum order.
const (
	DirectionAbove Direction = iota
	DirectionBelow
	DirectionRising
	DirectionFalling
	DirectionRisingOrFalling
	DirectionNone
)

var directionNames = map[Direction]string{
	DirectionAbove:           "above",
	DirectionBelow:           "below",
	DirectionRising:          "rising",
	DirectionFalling:         "falling",
	DirectionRisingOrFalling: "rising-or-falling",
	DirectionNone:            "none",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection parses a direction name.
func ParseDirection(s string) (Direction, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for d, name := range directionNames {
		if name == want {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger direction %q (want rising, falling, above, below, rising-or-falling or none)", s)
}

// DirectionSlot indexes the direction table submitted to the driver.
type DirectionSlot int

// Direction slots. Every slot is submitted, unused ones as DirectionNone.
const (
	DirSlotA DirectionSlot = iota
	DirSlotB
	DirSlotC
	DirSlotD
	DirSlotExt
	DirSlotAux
	DirectionSlotCount
)

// Directions is the full direction table.
type Directions [DirectionSlotCount]Direction

// ThresholdMode selects level or window triggering.
type ThresholdMode int

// Threshold modes.
const (
	ThresholdLevel ThresholdMode = iota
	ThresholdWindow
)

// ChannelTrigger describes one channel participating in the trigger.
// In level mode only UpperMV and UpperHysteresis are used; the lower
// threshold mirrors the upper one.
type ChannelTrigger struct {
	Channel         Channel
	UpperMV         float64
	UpperHysteresis uint16
	LowerMV         float64
	LowerHysteresis uint16
	Mode            ThresholdMode
	Direction       Direction
}

// ConditionState is the per-slot value inside a ConditionGroup.
type ConditionState int

// Condition states.
const (
	ConditionDontCare ConditionState = iota
	ConditionTrue
	ConditionFalse
)

// ConditionSlot indexes a ConditionGroup.
type ConditionSlot int

// Condition slots, in driver struct order.
const (
	CondSlotA ConditionSlot = iota
	CondSlotB
	CondSlotC
	CondSlotD
	CondSlotExt
	CondSlotAux
	CondSlotPulseWidth
	CondSlotDigital
	ConditionSlotCount
)

// ConditionGroup is an AND of its non-don't-care slots.
type ConditionGroup [ConditionSlotCount]ConditionState

// AllOf returns a group requiring every given channel to be true.
func AllOf(channels ...Channel) ConditionGroup {
	var g ConditionGroup
	for _, ch := range channels {
		g[ConditionSlot(ch)] = ConditionTrue
	}
	return g
}

// TriggerSpec defines when a block is considered triggered. The overall
// trigger is the OR of Conditions.
type TriggerSpec struct {
	Channels      []ChannelTrigger
	Conditions    []ConditionGroup
	AutoTriggerMs int16
}

// Wave is a signal generator waveform.
type Wave int

// Built-in waveforms.
const (
	WaveSine Wave = iota
	WaveSquare
	WaveTriangle
	WaveRampUp
	WaveRampDown
	WaveDC
)

var waveNames = map[Wave]string{
	WaveSine:     "sine",
	WaveSquare:   "square",
	WaveTriangle: "triangle",
	WaveRampUp:   "ramp-up",
	WaveRampDown: "ramp-down",
	WaveDC:       "dc",
}

func (w Wave) String() string {
	if name, ok := waveNames[w]; ok {
		return name
	}
	return fmt.Sprintf("Wave(%d)", int(w))
}

// ParseWave parses a waveform name.
func ParseWave(s string) (Wave, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for w, name := range waveNames {
		if name == want {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown wave %q", s)
}

// SigGenTrigger selects the edge that fires the generator.
type SigGenTrigger int

// Generator trigger types.
const (
	SigGenRising SigGenTrigger = iota
	SigGenFalling
	SigGenGateHigh
	SigGenGateLow
)

// SigGenSource selects what fires the generator.
type SigGenSource int

// Generator trigger sources.
const (
	SigGenSourceNone SigGenSource = iota
	SigGenSourceScopeTrig
	SigGenSourceAuxIn
	SigGenSourceExtIn
	SigGenSourceSoftTrig
)

var sigGenTriggerNames = map[SigGenTrigger]string{
	SigGenRising:   "rising",
	SigGenFalling:  "falling",
	SigGenGateHigh: "gate-high",
	SigGenGateLow:  "gate-low",
}

var sigGenSourceNames = map[SigGenSource]string{
	SigGenSourceNone:      "none",
	SigGenSourceScopeTrig: "scope",
	SigGenSourceAuxIn:     "aux",
	SigGenSourceExtIn:     "ext",
	SigGenSourceSoftTrig:  "soft",
}

func (t SigGenTrigger) String() string {
	if name, ok := sigGenTriggerNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SigGenTrigger(%d)", int(t))
}

func (s SigGenSource) String() string {
	if name, ok := sigGenSourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SigGenSource(%d)", int(s))
}

// ParseSigGenTrigger parses a generator trigger type name.
func ParseSigGenTrigger(s string) (SigGenTrigger, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for t, name := range sigGenTriggerNames {
		if name == want {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown generator trigger type %q (want rising, falling, gate-high or gate-low)", s)
}

// ParseSigGenSource parses a generator trigger source name.
func ParseSigGenSource(s string) (SigGenSource, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for src, name := range sigGenSourceNames {
		if name == want {
			return src, nil
		}
	}
	return 0, fmt.Errorf("unknown generator trigger source %q (want none, scope, aux, ext or soft)", s)
}

// StimulusSpec programs the built-in generator used as a reference edge.
type StimulusSpec struct {
	Enabled       bool
	Wave          Wave
	OffsetMicroV  int32
	PkToPkMicroV  uint32
	StartHz       float64
	StopHz        float64
	Shots         uint32
	Sweeps        uint32
	TriggerType   SigGenTrigger
	TriggerSource SigGenSource
}

// AcquisitionRequest is what the operator asks for.
type AcquisitionRequest struct {
	Timebase     uint32
	TotalSamples int
	PreFraction  float64
}

// AcquisitionTiming is resolved once against the device.
type AcquisitionTiming struct {
	Timebase     uint32
	PreSamples   int
	PostSamples  int
	TotalSamples int
	IntervalNs   float64
	MaxSamples   int
}

// Row is one persisted sample.
type Row struct {
	ElapsedNs float64
	AMV       float64
	BMV       float64
}

// EventRecord is one converted capture.
type EventRecord struct {
	ArmedAt    time.Time
	IntervalNs float64
	Rows       []Row
	Overflow   [2]bool
}

// Outcome classifies how an armed event ended.
type Outcome string

// Event outcomes.
const (
	OutcomePersisted     Outcome = "persisted"
	OutcomeCaptureFailed Outcome = "capture_failed"
	OutcomePersistFailed Outcome = "persist_failed"
)

// EventOutcome is what the event index stores per armed event.
type EventOutcome struct {
	ArmedAt      time.Time
	Outcome      Outcome
	ErrorCode    string
	ErrorMessage string
	ArtifactPath string
	Samples      int
	OverflowA    bool
	OverflowB    bool
	TriggerWait  time.Duration
}

// RunInfo describes one acquisition run.
type RunInfo struct {
	StartedAt  time.Time
	Device     string
	Timing     AcquisitionTiming
	OutputDir  string
	TriggerMV  float64
	ConfigDesc string
}

// EventFilter narrows event listings.
type EventFilter struct {
	Since   *time.Time
	Last    int
	Outcome Outcome
}

// EventEntry is one listed event.
type EventEntry struct {
	ID           int64
	RunID        int64
	ArmedAt      time.Time
	Outcome      Outcome
	ErrorCode    string
	ErrorMessage string
	ArtifactPath string
	Samples      int
	OverflowA    bool
	OverflowB    bool
	TriggerWait  time.Duration
}
