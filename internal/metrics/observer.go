// Package metrics carries logging and Prometheus instrumentation for the
// acquisition run.
package metrics

import (
	"fmt"
	"log"
	"strings"
)

// Metric names.
const (
	EventsArmed        = "blockcap_events_armed_total"
	EventsPersisted    = "blockcap_events_persisted_total"
	CaptureErrors      = "blockcap_capture_errors_total"
	PersistErrors      = "blockcap_persist_errors_total"
	OverflowChannelA   = "blockcap_overflow_channel_a_total"
	OverflowChannelB   = "blockcap_overflow_channel_b_total"
	TriggerWaitSeconds = "blockcap_trigger_wait_seconds"
	PersistSeconds     = "blockcap_persist_seconds"
	LastEventTimestamp = "blockcap_last_event_timestamp_seconds"
)

// Observer receives log lines and metric updates. Unknown metric names are
// ignored.
type Observer interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	SetGauge(name string, v float64)
}

// Field is one key=value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Nop discards everything.
type Nop struct{}

func (Nop) LogInfo(string, ...Field) {}
func (Nop) LogWarn(string, ...Field) {}
func (Nop) LogError(string, error, ...Field) {}
func (Nop) IncCounter(string, float64) {}
func (Nop) ObserveLatency(string, float64) {}
func (Nop) SetGauge(string, float64) {}

func format(level, msg string, err error, fields []Field) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

func logLine(l *log.Logger, level, msg string, err error, fields []Field) {
	line := format(level, msg, err, fields)
	if l == nil {
		log.Print(line)
		return
	}
	l.Print(line)
}
