package driver

import (
	"math"
	"math/rand"
	"sync"

	"github.com/verte-zerg/blockcap/internal/model"
)

const simHandle Handle = 1

const (
	simDefaultMaxADC     int16 = 32512
	simDefaultMaxSamples       = 16_000_000
	simDecaySamples            = 40.0
)

// SimConfig scripts the simulated instrument. Per-event maps are keyed by
// the 1-based arm count.
type SimConfig struct {
	MaxADC     int16
	MaxSamples int
	// ReadyAfterPolls is the number of PollReady calls before a capture
	// reports completion. Zero means the first poll succeeds.
	ReadyAfterPolls int
	Seed            int64

	// OpenStatus is returned by successive Open calls; once exhausted Open
	// succeeds.
	OpenStatus []error
	// SwitchStatus is returned by successive SwitchPowerSource calls.
	SwitchStatus []error
	// Reject makes the named method fail with the given error.
	Reject map[string]error

	ArmErrors   map[int]error
	FetchErrors map[int]error
	ShortReads  map[int]int
	Overflow    map[int][]model.Channel
	NeverReady  map[int]bool
}

// Sim is a deterministic in-memory instrument.
type Sim struct {
	mu  sync.Mutex
	cfg SimConfig
	rnd *rand.Rand

	open       bool
	openCalls  int
	switchCall int
	calls      []string

	channels map[model.Channel]model.ChannelConfig
	buffers  map[model.Channel][]int16
	props    []ThresholdProperties
	dirs     model.Directions
	groups   []model.ConditionGroup
	stimulus *model.StimulusSpec

	arms     int
	armed    bool
	polls    int
	pre      int
	post     int
	timebase uint32
}

// NewSim builds a simulated instrument.
func NewSim(cfg SimConfig) *Sim {
	if cfg.MaxADC <= 0 {
		cfg.MaxADC = simDefaultMaxADC
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = simDefaultMaxSamples
	}
	return &Sim{
		cfg:      cfg,
		rnd:      rand.New(rand.NewSource(cfg.Seed)),
		channels: map[model.Channel]model.ChannelConfig{},
		buffers:  map[model.Channel][]int16{},
	}
}

// Calls returns the driver methods invoked so far, in order.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times method was invoked.
func (s *Sim) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Arms returns the number of ArmCapture calls.
func (s *Sim) Arms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arms
}

// ThresholdProperties returns the last submitted threshold batch.
func (s *Sim) ThresholdProperties() []ThresholdProperties {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ThresholdProperties(nil), s.props...)
}

// Directions returns the last submitted direction table.
func (s *Sim) Directions() model.Directions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs
}

// ConditionGroups returns the last submitted condition groups.
func (s *Sim) ConditionGroups() []model.ConditionGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ConditionGroup(nil), s.groups...)
}

// Stimulus returns the programmed generator settings, if any.
func (s *Sim) Stimulus() (model.StimulusSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stimulus == nil {
		return model.StimulusSpec{}, false
	}
	return *s.stimulus, true
}

// IsOpen reports whether the session is open.
func (s *Sim) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Sim) record(method string) error {
	s.calls = append(s.calls, method)
	if err, ok := s.cfg.Reject[method]; ok {
		return err
	}
	return nil
}

func (s *Sim) check(h Handle) error {
	if !s.open || h != simHandle {
		return StatusInvalidHandle
	}
	return nil
}

// Open implements Driver.
func (s *Sim) Open() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Open"); err != nil {
		return 0, err
	}
	idx := s.openCalls
	s.openCalls++
	if idx < len(s.cfg.OpenStatus) && s.cfg.OpenStatus[idx] != nil {
		err := s.cfg.OpenStatus[idx]
		if st, ok := err.(Status); ok && st.IsPowerSourceMismatch() {
			// The unit is reachable, just on the wrong power source.
			s.open = true
			return simHandle, err
		}
		return 0, err
	}
	s.open = true
	return simHandle, nil
}

// Close implements Driver.
func (s *Sim) Close(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Close"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	s.open = false
	s.armed = false
	return nil
}

// SwitchPowerSource implements Driver.
func (s *Sim) SwitchPowerSource(h Handle, code Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SwitchPowerSource"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	if !code.IsPowerSourceMismatch() {
		return StatusInvalidParameter
	}
	idx := s.switchCall
	s.switchCall++
	if idx < len(s.cfg.SwitchStatus) {
		return s.cfg.SwitchStatus[idx]
	}
	return nil
}

// ResolveTiming implements Driver. Intervals follow the two-channel
// timebase formula: 2^n/500 MHz below 3, (n-2)/62.5 MHz above.
func (s *Sim) ResolveTiming(h Handle, timebase uint32, samples int) (Timing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ResolveTiming"); err != nil {
		return Timing{}, err
	}
	if err := s.check(h); err != nil {
		return Timing{}, err
	}
	if timebase == 0 && s.enabledCount() > 1 {
		return Timing{}, StatusInvalidTimebase
	}
	var interval float64
	if timebase < 3 {
		interval = math.Exp2(float64(timebase)) * 2
	} else {
		interval = float64(timebase-2) * 16
	}
	return Timing{IntervalNs: interval, MaxSamples: s.cfg.MaxSamples}, nil
}

func (s *Sim) enabledCount() int {
	n := 0
	for _, c := range s.channels {
		if c.Enabled {
			n++
		}
	}
	// Both channels are on until configured otherwise.
	if len(s.channels) == 0 {
		return 2
	}
	return n
}

// MaxADC implements Driver.
func (s *Sim) MaxADC(h Handle) (int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("MaxADC"); err != nil {
		return 0, err
	}
	if err := s.check(h); err != nil {
		return 0, err
	}
	return s.cfg.MaxADC, nil
}

// SetChannel implements Driver.
func (s *Sim) SetChannel(h Handle, cfg model.ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetChannel"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	if cfg.Channel < model.ChannelA || cfg.Channel > model.ChannelB {
		return StatusInvalidChannel
	}
	if _, ok := cfg.Range.FullScaleMV(); !ok {
		return StatusInvalidVoltageRange
	}
	s.channels[cfg.Channel] = cfg
	return nil
}

// SetTriggerProperties implements Driver.
func (s *Sim) SetTriggerProperties(h Handle, props []ThresholdProperties, _ int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetTriggerProperties"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	for _, p := range props {
		if c, ok := s.channels[p.Channel]; !ok || !c.Enabled {
			return StatusInvalidTriggerChannel
		}
	}
	s.props = append([]ThresholdProperties(nil), props...)
	return nil
}

// SetTriggerDirections implements Driver.
func (s *Sim) SetTriggerDirections(h Handle, dirs model.Directions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetTriggerDirections"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	s.dirs = dirs
	return nil
}

// SetTriggerConditions implements Driver.
func (s *Sim) SetTriggerConditions(h Handle, groups []model.ConditionGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetTriggerConditions"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	for _, g := range groups {
		for slot := model.CondSlotA; slot <= model.CondSlotB; slot++ {
			if g[slot] == model.ConditionDontCare {
				continue
			}
			if c, ok := s.channels[model.Channel(slot)]; !ok || !c.Enabled {
				return StatusInvalidConditionChannel
			}
		}
	}
	s.groups = append([]model.ConditionGroup(nil), groups...)
	return nil
}

// SetStimulus implements Driver.
func (s *Sim) SetStimulus(h Handle, spec model.StimulusSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("SetStimulus"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	if spec.StopHz < spec.StartHz {
		return StatusInvalidParameter
	}
	stim := spec
	s.stimulus = &stim
	return nil
}

// RegisterBuffer implements Driver.
func (s *Sim) RegisterBuffer(h Handle, ch model.Channel, buf []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("RegisterBuffer"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	if _, ok := s.channels[ch]; !ok {
		return StatusInvalidChannel
	}
	s.buffers[ch] = buf
	return nil
}

// ArmCapture implements Driver.
func (s *Sim) ArmCapture(h Handle, pre, post int, timebase uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ArmCapture"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	s.arms++
	if err, ok := s.cfg.ArmErrors[s.arms]; ok {
		return err
	}
	if pre < 0 || post < 0 || pre+post > s.cfg.MaxSamples {
		return StatusTooManySamples
	}
	s.armed = true
	s.polls = 0
	s.pre, s.post, s.timebase = pre, post, timebase
	return nil
}

// PollReady implements Driver.
func (s *Sim) PollReady(h Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Polls are not recorded in the call log; loops issue many of them.
	if err := s.check(h); err != nil {
		return false, err
	}
	if !s.armed {
		return false, StatusOperationFailed
	}
	if s.cfg.NeverReady[s.arms] {
		return false, nil
	}
	s.polls++
	return s.polls > s.cfg.ReadyAfterPolls, nil
}

// Fetch implements Driver.
func (s *Sim) Fetch(h Handle, start, count int, overflow []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Fetch"); err != nil {
		return 0, err
	}
	if err := s.check(h); err != nil {
		return 0, err
	}
	if !s.armed || s.polls <= s.cfg.ReadyAfterPolls {
		return 0, StatusDataNotAvailable
	}
	s.armed = false
	if err, ok := s.cfg.FetchErrors[s.arms]; ok {
		return 0, err
	}
	total := s.pre + s.post
	if start < 0 || start+count > total {
		return 0, StatusInvalidParameter
	}
	n := count
	if short, ok := s.cfg.ShortReads[s.arms]; ok && short < n {
		n = short
	}
	saturated := map[model.Channel]bool{}
	for _, ch := range s.cfg.Overflow[s.arms] {
		saturated[ch] = true
	}
	for i := range overflow {
		overflow[i] = 0
	}
	// Channels are filled in id order so one seed yields one noise sequence.
	for ch := model.ChannelA; ch <= model.ChannelD; ch++ {
		buf, ok := s.buffers[ch]
		if !ok {
			continue
		}
		gain := 1.0
		if ch == model.ChannelB {
			gain = 0.8
		}
		for i := 0; i < n && i < len(buf); i++ {
			buf[i] = s.sample(start+i, gain, saturated[ch])
		}
		if saturated[ch] && int(ch) < len(overflow) {
			overflow[ch] = 1
		}
	}
	return n, nil
}

// sample renders a baseline followed by a falling pulse at the trigger point.
func (s *Sim) sample(i int, gain float64, saturate bool) int16 {
	full := float64(s.cfg.MaxADC)
	v := 0.25 * full
	if i >= s.pre {
		v = 0.25*full - 0.6*full*math.Exp(-float64(i-s.pre)/simDecaySamples)
	}
	v = v*gain + s.rnd.NormFloat64()*0.002*full
	if saturate && i == s.pre {
		v = -full
	}
	if v > full {
		v = full
	}
	if v < -full {
		v = -full
	}
	return int16(math.Round(v))
}

// Stop implements Driver.
func (s *Sim) Stop(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Stop"); err != nil {
		return err
	}
	if err := s.check(h); err != nil {
		return err
	}
	s.armed = false
	return nil
}
