package acq

import (
	"fmt"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/driver"
	"github.com/verte-zerg/blockcap/internal/model"
	"github.com/verte-zerg/blockcap/internal/units"
)

// Setup is everything the configurator applies before the first capture.
type Setup struct {
	Request  model.AcquisitionRequest
	Channels []model.ChannelConfig
	Trigger  model.TriggerSpec
	Stimulus model.StimulusSpec
}

// Configured is the result of a successful setup.
type Configured struct {
	Timing   model.AcquisitionTiming
	MaxADC   int16
	Channels []model.ChannelConfig
}

// Channel returns the configuration applied to ch.
func (c Configured) Channel(ch model.Channel) (model.ChannelConfig, bool) {
	for _, cfg := range c.Channels {
		if cfg.Channel == ch {
			return cfg, true
		}
	}
	return model.ChannelConfig{}, false
}

// DefaultConditions is a single group requiring channels A and B.
func DefaultConditions() []model.ConditionGroup {
	return []model.ConditionGroup{model.AllOf(model.ChannelA, model.ChannelB)}
}

// Configure runs the one-time setup sequence. The steps are strictly
// ordered and any failure aborts the whole setup.
func Configure(sess *Session, setup Setup) (Configured, error) {
	timing, err := resolveTiming(sess, setup.Request)
	if err != nil {
		return Configured{}, err
	}

	maxADC, err := sess.maxADC()
	if err != nil {
		return Configured{}, rejected("max adc", "", err)
	}
	if maxADC <= 0 {
		return Configured{}, acqerr.New(acqerr.DriverRejected, "max adc", fmt.Sprintf("device reported %d", maxADC), nil)
	}

	seen := map[model.Channel]bool{}
	for _, ch := range setup.Channels {
		if seen[ch.Channel] {
			return Configured{}, acqerr.New(acqerr.InvalidRange, "set channel", fmt.Sprintf("channel %s configured twice", ch.Channel), nil)
		}
		seen[ch.Channel] = true
		if err := sess.setChannel(ch); err != nil {
			return Configured{}, rejected("set channel", ch.Channel.String(), err)
		}
	}
	out := Configured{Timing: timing, MaxADC: maxADC, Channels: append([]model.ChannelConfig(nil), setup.Channels...)}

	props, err := thresholdProperties(out, setup.Trigger)
	if err != nil {
		return Configured{}, err
	}
	if err := sess.setTriggerProperties(props, setup.Trigger.AutoTriggerMs); err != nil {
		return Configured{}, rejected("set trigger properties", "", err)
	}

	if err := sess.setTriggerDirections(directionTable(setup.Trigger)); err != nil {
		return Configured{}, rejected("set trigger directions", "", err)
	}

	// Without thresholds there is nothing to AND; an empty group list leaves
	// only the auto trigger.
	groups := setup.Trigger.Conditions
	if len(groups) == 0 && len(props) > 0 {
		groups = DefaultConditions()
	}
	if err := validateConditions(out, groups); err != nil {
		return Configured{}, err
	}
	if err := sess.setTriggerConditions(groups); err != nil {
		return Configured{}, rejected("set trigger conditions", "", err)
	}

	if setup.Stimulus.Enabled {
		if err := sess.setStimulus(setup.Stimulus); err != nil {
			return Configured{}, rejected("set stimulus", "", err)
		}
	}
	return out, nil
}

func resolveTiming(sess *Session, req model.AcquisitionRequest) (model.AcquisitionTiming, error) {
	pre, post, err := units.SplitSamples(req.TotalSamples, req.PreFraction)
	if err != nil {
		return model.AcquisitionTiming{}, acqerr.New(acqerr.InvalidRange, "resolve timing", "", err)
	}
	t, err := sess.resolveTiming(req.Timebase, req.TotalSamples)
	if err != nil {
		return model.AcquisitionTiming{}, rejected("resolve timing", fmt.Sprintf("timebase %d", req.Timebase), err)
	}
	if req.TotalSamples > t.MaxSamples {
		return model.AcquisitionTiming{}, acqerr.New(acqerr.InvalidRange, "resolve timing",
			fmt.Sprintf("%d samples requested, timebase %d supports %d", req.TotalSamples, req.Timebase, t.MaxSamples), nil)
	}
	if t.IntervalNs <= 0 {
		return model.AcquisitionTiming{}, acqerr.New(acqerr.DriverRejected, "resolve timing",
			fmt.Sprintf("device reported interval %v ns", t.IntervalNs), nil)
	}
	return model.AcquisitionTiming{
		Timebase:     req.Timebase,
		PreSamples:   pre,
		PostSamples:  post,
		TotalSamples: req.TotalSamples,
		IntervalNs:   t.IntervalNs,
		MaxSamples:   t.MaxSamples,
	}, nil
}

func thresholdProperties(c Configured, spec model.TriggerSpec) ([]driver.ThresholdProperties, error) {
	props := make([]driver.ThresholdProperties, 0, len(spec.Channels))
	for _, tr := range spec.Channels {
		cfg, ok := c.Channel(tr.Channel)
		if !ok || !cfg.Enabled {
			return nil, acqerr.New(acqerr.InvalidRange, "trigger thresholds", fmt.Sprintf("channel %s is not enabled", tr.Channel), nil)
		}
		upper, err := units.MillivoltsToCode(tr.UpperMV, cfg.Range, c.MaxADC)
		if err != nil {
			return nil, acqerr.New(acqerr.InvalidRange, "trigger thresholds", "channel "+tr.Channel.String(), err)
		}
		lower, lowerHyst := upper, tr.UpperHysteresis
		if tr.Mode == model.ThresholdWindow {
			lower, err = units.MillivoltsToCode(tr.LowerMV, cfg.Range, c.MaxADC)
			if err != nil {
				return nil, acqerr.New(acqerr.InvalidRange, "trigger thresholds", "channel "+tr.Channel.String(), err)
			}
			lowerHyst = tr.LowerHysteresis
		}
		props = append(props, driver.ThresholdProperties{
			Channel:         tr.Channel,
			UpperCode:       upper,
			UpperHysteresis: tr.UpperHysteresis,
			LowerCode:       lower,
			LowerHysteresis: lowerHyst,
			Mode:            tr.Mode,
		})
	}
	return props, nil
}

func directionTable(spec model.TriggerSpec) model.Directions {
	var dirs model.Directions
	for i := range dirs {
		dirs[i] = model.DirectionNone
	}
	for _, tr := range spec.Channels {
		dirs[model.DirectionSlot(tr.Channel)] = tr.Direction
	}
	return dirs
}

func validateConditions(c Configured, groups []model.ConditionGroup) error {
	for gi, g := range groups {
		for ch := model.ChannelA; ch <= model.ChannelD; ch++ {
			if g[model.ConditionSlot(ch)] == model.ConditionDontCare {
				continue
			}
			cfg, ok := c.Channel(ch)
			if !ok || !cfg.Enabled {
				return acqerr.New(acqerr.InvalidRange, "trigger conditions",
					fmt.Sprintf("group %d references disabled channel %s", gi, ch), nil)
			}
		}
	}
	return nil
}

func rejected(op, msg string, err error) error {
	return acqerr.New(acqerr.DriverRejected, op, msg, err)
}
