package acq

import (
	"testing"

	"github.com/verte-zerg/blockcap/internal/model"
)

func TestAllocateBuffers(t *testing.T) {
	b, err := AllocateBuffers(128, []model.Channel{model.ChannelA, model.ChannelB})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if b.Len() != 128 || len(b.Data(model.ChannelA)) != 128 || len(b.Data(model.ChannelB)) != 128 {
		t.Fatalf("unexpected buffer sizes")
	}
	if b.Data(model.ChannelC) != nil {
		t.Fatalf("expected no buffer for channel C")
	}
	b.overflow[model.ChannelB] = 1
	if b.Overflowed(model.ChannelA) || !b.Overflowed(model.ChannelB) {
		t.Fatalf("unexpected overflow flags: %v", b.overflow)
	}
	b.resetOverflow()
	if b.Overflowed(model.ChannelB) {
		t.Fatalf("expected flags cleared")
	}
	if b.Overflowed(model.ChannelD) {
		t.Fatalf("expected unknown channel to report no overflow")
	}
}

func TestAllocateBuffersRejects(t *testing.T) {
	if _, err := AllocateBuffers(0, []model.Channel{model.ChannelA}); err == nil {
		t.Fatalf("expected error for zero length")
	}
	if _, err := AllocateBuffers(10, nil); err == nil {
		t.Fatalf("expected error for no channels")
	}
	if _, err := AllocateBuffers(10, []model.Channel{model.ChannelA, model.ChannelA}); err == nil {
		t.Fatalf("expected error for duplicate channel")
	}
}

func TestBuffersForSkipsDisabledChannels(t *testing.T) {
	conf := Configured{
		Timing: model.AcquisitionTiming{TotalSamples: 64},
		Channels: []model.ChannelConfig{
			{Channel: model.ChannelA, Enabled: true, Range: model.Range5V},
			{Channel: model.ChannelB, Enabled: false, Range: model.Range5V},
		},
	}
	b, err := BuffersFor(conf)
	if err != nil {
		t.Fatalf("buffers: %v", err)
	}
	if b.Data(model.ChannelA) == nil || b.Data(model.ChannelB) != nil {
		t.Fatalf("expected only channel A buffer")
	}
}
