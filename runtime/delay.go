package runtime

import (
	"fmt"

	"github.com/sbl8/strobe/core"
)

// delayLine is the state behind registers and delay stages. read runs in
// the evaluate phase and yields the vector pushed depth ticks ago; push
// runs in the latch phase with the current input. Both carry the valid
// flag alongside the lanes, so invalid samples age out of a delay line
// exactly like valid ones.
type delayLine interface {
	read(dst []core.Sample) bool
	push(lanes []core.Sample, valid bool) error
	reset()
}

// shiftThreshold is the depth at or below which a delay is realized as a
// shift register. Deeper delays use a ring with modulo cursors; shifting
// that much data every tick costs more than the counter bookkeeping.
const shiftThreshold = 4

// newDelayLine allocates a delay line of the given shape from the arena.
func newDelayLine(a *Arena, width, depth int) (delayLine, error) {
	if depth < 1 {
		return nil, fmt.Errorf("delay depth %d below 1", depth)
	}
	buf, err := a.AllocStageState(uintptr(core.RingBytes(width, depth)), 0)
	if err != nil {
		return nil, err
	}
	if depth <= shiftThreshold {
		return newShiftDelay(buf, width, depth), nil
	}
	return newRingDelay(buf, width, depth)
}

// delayStateBytes returns the arena requirement for one delay line.
func delayStateBytes(width, depth int) uintptr {
	return uintptr(core.RingBytes(width, depth))
}

// shiftDelay holds depth slots and moves every slot down one position on
// push. Slot 0 is the oldest; the reset default is zero lanes, invalid.
type shiftDelay struct {
	buf   []byte
	width int
	depth int
	slot  int
}

func newShiftDelay(buf []byte, width, depth int) *shiftDelay {
	d := &shiftDelay{buf: buf, width: width, depth: depth, slot: width + 1}
	d.reset()
	return d
}

func (d *shiftDelay) read(dst []core.Sample) bool {
	for i := range dst {
		dst[i] = core.Sample(d.buf[i])
	}
	return d.buf[d.width] != 0
}

func (d *shiftDelay) push(lanes []core.Sample, valid bool) error {
	if len(lanes) != d.width {
		return fmt.Errorf("lane width %d on push to %d-wide delay", len(lanes), d.width)
	}
	copy(d.buf, d.buf[d.slot:])
	off := (d.depth - 1) * d.slot
	for i, s := range lanes {
		d.buf[off+i] = byte(s)
	}
	if valid {
		d.buf[off+d.width] = 1
	} else {
		d.buf[off+d.width] = 0
	}
	return nil
}

func (d *shiftDelay) reset() {
	for i := range d.buf {
		d.buf[i] = 0
	}
}

// ringDelay wraps a counter-addressed ring with a single full-depth
// cursor. Reading before the push yields the slot the write counter is
// about to reuse, which is the input from depth ticks ago.
type ringDelay struct {
	ring *core.Ring
	cur  *core.Cursor
}

func newRingDelay(buf []byte, width, depth int) (*ringDelay, error) {
	ring, err := core.NewRing(buf, width, depth)
	if err != nil {
		return nil, err
	}
	cur, err := ring.Cursor(depth)
	if err != nil {
		return nil, err
	}
	return &ringDelay{ring: ring, cur: cur}, nil
}

func (d *ringDelay) read(dst []core.Sample) bool {
	return d.cur.Read(dst)
}

func (d *ringDelay) push(lanes []core.Sample, valid bool) error {
	return d.ring.Push(lanes, valid)
}

func (d *ringDelay) reset() {
	d.ring.Reset()
}
