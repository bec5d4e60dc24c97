package acq

import (
	"fmt"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/model"
)

// Buffers are the capture regions shared with the driver. They are sized
// once and overwritten in place by every fetch.
type Buffers struct {
	samples  int
	data     map[model.Channel][]int16
	order    []model.Channel
	overflow []int16
}

// AllocateBuffers makes one buffer of n codes per channel and one overflow
// flag per channel id.
func AllocateBuffers(n int, channels []model.Channel) (*Buffers, error) {
	if n <= 0 {
		return nil, fmt.Errorf("buffer length must be > 0, got %d", n)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to allocate buffers for")
	}
	b := &Buffers{samples: n, data: map[model.Channel][]int16{}}
	flags := 0
	for _, ch := range channels {
		if _, dup := b.data[ch]; dup {
			return nil, fmt.Errorf("channel %s allocated twice", ch)
		}
		b.data[ch] = make([]int16, n)
		b.order = append(b.order, ch)
		if int(ch)+1 > flags {
			flags = int(ch) + 1
		}
	}
	b.overflow = make([]int16, flags)
	return b, nil
}

// BuffersFor allocates buffers for the enabled channels of c.
func BuffersFor(c Configured) (*Buffers, error) {
	var channels []model.Channel
	for _, cfg := range c.Channels {
		if cfg.Enabled {
			channels = append(channels, cfg.Channel)
		}
	}
	return AllocateBuffers(c.Timing.TotalSamples, channels)
}

// Register hands every buffer to the driver.
func (b *Buffers) Register(sess *Session) error {
	for _, ch := range b.order {
		if err := sess.registerBuffer(ch, b.data[ch]); err != nil {
			return acqerr.New(acqerr.DriverRejected, "register buffer", "channel "+ch.String(), err)
		}
	}
	return nil
}

// Len is the fixed buffer length.
func (b *Buffers) Len() int {
	return b.samples
}

// Data returns the buffer for ch, or nil when ch has none.
func (b *Buffers) Data(ch model.Channel) []int16 {
	return b.data[ch]
}

// Overflowed reports the flag the last fetch left for ch.
func (b *Buffers) Overflowed(ch model.Channel) bool {
	if int(ch) >= len(b.overflow) {
		return false
	}
	return b.overflow[ch] != 0
}

func (b *Buffers) resetOverflow() {
	for i := range b.overflow {
		b.overflow[i] = 0
	}
}
