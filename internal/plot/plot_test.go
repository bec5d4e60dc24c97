package plot

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/verte-zerg/blockcap/internal/model"
)

func pulseRows(n int) []model.Row {
	rows := make([]model.Row, n)
	for i := range rows {
		v := 1250.0
		if i >= n/3 {
			v = -1750
		}
		rows[i] = model.Row{ElapsedNs: float64(i) * 4, AMV: v, BMV: v * 0.8}
	}
	return rows
}

func TestWaveform(t *testing.T) {
	var buf bytes.Buffer
	if err := Waveform(&buf, "10-15-30", pulseRows(1000), Options{Width: 40, Height: 6}); err != nil {
		t.Fatalf("waveform: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 1+6+2 {
		t.Fatalf("expected title, 6 plot rows, axis and legend; got %d lines:\n%s", len(lines), out)
	}
	if lines[0] != "10-15-30" {
		t.Fatalf("expected title first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "1250 mV") || !strings.Contains(lines[6], "-1750 mV") {
		t.Fatalf("expected shared mV axis labels, got %q and %q", lines[1], lines[6])
	}
	if !strings.HasSuffix(lines[7], "4 µs") {
		t.Fatalf("expected time span on axis, got %q", lines[7])
	}
	if !strings.Contains(lines[8], "A (solid)") || !strings.Contains(lines[8], "B (dashed)") {
		t.Fatalf("expected legend, got %q", lines[8])
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("did not expect colour for a buffer writer")
	}
}

func TestWaveformForcedColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	if err := Waveform(&buf, "", pulseRows(50), Options{Width: 20, Height: 4, ForceColor: true}); err != nil {
		t.Fatalf("waveform: %v", err)
	}
	if !strings.Contains(buf.String(), colorReset) {
		t.Fatalf("expected ANSI colour codes")
	}
}

func TestWaveformEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Waveform(&buf, "", nil, Options{}); err == nil {
		t.Fatalf("expected error for empty rows")
	}
}

func TestPlotWidthFor(t *testing.T) {
	axisWidth := axisLabelWidth + utf8.RuneCountInString(axisSeparator)
	if got := PlotWidthFor(80); got != 80-axisWidth {
		t.Fatalf("expected width %d, got %d", 80-axisWidth, got)
	}
	if got := PlotWidthFor(0); got != minPlotWidth {
		t.Fatalf("expected min width %d, got %d", minPlotWidth, got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[float64]string{
		0:      "0 ns",
		996:    "996 ns",
		3996:   "4 µs",
		2.5e6:  "2.5 ms",
		1.25e9: "1.25 s",
		-4000:  "-4 µs",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%v): expected %q, got %q", in, want, got)
		}
	}
}

func TestResample(t *testing.T) {
	down := resample([]float64{1, 3, 5, 7}, 2)
	if down[0] != 2 || down[1] != 6 {
		t.Fatalf("unexpected downsample: %v", down)
	}
	up := resample([]float64{0, 10}, 3)
	if up[0] != 0 || up[1] != 5 || up[2] != 10 {
		t.Fatalf("unexpected upsample: %v", up)
	}
}
