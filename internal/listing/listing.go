package listing

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/blockcap/internal/model"
)

// Headers are the event table columns.
var Headers = []string{"ID", "Armed", "Outcome", "Samples", "Wait", "Over", "Detail"}

var rightAlign = map[int]bool{0: true, 3: true, 4: true}

const armedLayout = "2006-01-02 15:04:05"

// ParseOutcome accepts an outcome name; empty means any.
func ParseOutcome(s string) (model.Outcome, error) {
	switch o := model.Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case "", model.OutcomePersisted, model.OutcomeCaptureFailed, model.OutcomePersistFailed:
		return o, nil
	}
	return "", fmt.Errorf("unknown outcome %q (expected %s, %s or %s)", s,
		model.OutcomePersisted, model.OutcomeCaptureFailed, model.OutcomePersistFailed)
}

// Row renders one event as table cells.
func Row(e model.EventEntry) []string {
	detail := e.ArtifactPath
	if e.Outcome != model.OutcomePersisted {
		detail = e.ErrorCode
		if e.ErrorMessage != "" {
			detail += ": " + e.ErrorMessage
		}
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.ArmedAt.Local().Format(armedLayout),
		string(e.Outcome),
		strconv.Itoa(e.Samples),
		formatWait(e.TriggerWait),
		overflowFlags(e.OverflowA, e.OverflowB),
		detail,
	}
}

// Rows renders events as table cells.
func Rows(events []model.EventEntry) [][]string {
	rows := make([][]string, len(events))
	for i, e := range events {
		rows[i] = Row(e)
	}
	return rows
}

// WriteTable writes an aligned table followed by a summary line.
func WriteTable(w io.Writer, events []model.EventEntry) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events recorded.")
		return err
	}
	for _, line := range formatTable(Headers, Rows(events), rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, Summarize(events).String())
	return err
}

type yamlEvent struct {
	ID           int64  `yaml:"id"`
	Run          int64  `yaml:"run"`
	ArmedAt      string `yaml:"armed_at"`
	Outcome      string `yaml:"outcome"`
	Samples      int    `yaml:"samples,omitempty"`
	TriggerWait  string `yaml:"trigger_wait,omitempty"`
	OverflowA    bool   `yaml:"overflow_a,omitempty"`
	OverflowB    bool   `yaml:"overflow_b,omitempty"`
	Artifact     string `yaml:"artifact,omitempty"`
	ErrorCode    string `yaml:"error_code,omitempty"`
	ErrorMessage string `yaml:"error,omitempty"`
}

type yamlDoc struct {
	Summary Summary     `yaml:"summary"`
	Events  []yamlEvent `yaml:"events"`
}

// WriteYAML writes the events and their summary as one YAML document.
func WriteYAML(w io.Writer, events []model.EventEntry) error {
	doc := yamlDoc{Summary: Summarize(events), Events: make([]yamlEvent, 0, len(events))}
	for _, e := range events {
		ye := yamlEvent{
			ID:           e.ID,
			Run:          e.RunID,
			ArmedAt:      e.ArmedAt.Format(time.RFC3339Nano),
			Outcome:      string(e.Outcome),
			Samples:      e.Samples,
			OverflowA:    e.OverflowA,
			OverflowB:    e.OverflowB,
			Artifact:     e.ArtifactPath,
			ErrorCode:    e.ErrorCode,
			ErrorMessage: e.ErrorMessage,
		}
		if e.TriggerWait > 0 {
			ye.TriggerWait = e.TriggerWait.String()
		}
		doc.Events = append(doc.Events, ye)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Summary counts events by outcome.
type Summary struct {
	Total         int `yaml:"total"`
	Persisted     int `yaml:"persisted"`
	CaptureFailed int `yaml:"capture_failed"`
	PersistFailed int `yaml:"persist_failed"`
	Overflowed    int `yaml:"overflowed"`
}

// Summarize counts events.
func Summarize(events []model.EventEntry) Summary {
	s := Summary{Total: len(events)}
	for _, e := range events {
		switch e.Outcome {
		case model.OutcomePersisted:
			s.Persisted++
		case model.OutcomeCaptureFailed:
			s.CaptureFailed++
		case model.OutcomePersistFailed:
			s.PersistFailed++
		}
		if e.OverflowA || e.OverflowB {
			s.Overflowed++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d events: %d persisted, %d capture failed, %d persist failed, %d over-range",
		s.Total, s.Persisted, s.CaptureFailed, s.PersistFailed, s.Overflowed)
}

func formatWait(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func overflowFlags(a, b bool) string {
	switch {
	case a && b:
		return "AB"
	case a:
		return "A"
	case b:
		return "B"
	default:
		return "-"
	}
}
