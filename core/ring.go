package core

import (
	"errors"
	"fmt"
)

// Ring is a fixed-capacity circular buffer of lane vectors, backed by a
// byte region supplied by the caller (normally carved from the runtime
// arena). Each slot holds one vector's lanes plus its valid byte.
//
// Addressing is done purely with modulo counters: one write counter owned
// by the producer and one counter per read cursor, each started with a
// fixed offset behind the write counter. All counters advance together on
// Push, so a cursor always denotes the slot written a fixed number of
// pushes ago. There is no pointer arithmetic derived from data.
type Ring struct {
	buf     []byte
	width   int
	depth   int
	slot    int
	w       Counter
	pushes  uint64
	cursors []*Cursor
}

// Cursor reads slots a fixed number of pushes behind the ring's write
// counter. The age is fixed at creation and never changes.
type Cursor struct {
	ring *Ring
	age  int
	c    Counter
}

// RingBytes returns the backing storage size required for a ring of the
// given lane width and depth.
func RingBytes(width, depth int) int {
	return (width + 1) * depth
}

// NewRing wraps buf as a circular buffer of depth slots of the given lane
// width. The buffer must be exactly RingBytes(width, depth) long.
func NewRing(buf []byte, width, depth int) (*Ring, error) {
	if width < 1 || depth < 1 {
		return nil, fmt.Errorf("invalid ring shape %dx%d", width, depth)
	}
	if len(buf) != RingBytes(width, depth) {
		return nil, fmt.Errorf("ring buffer is %d bytes, need %d", len(buf), RingBytes(width, depth))
	}
	r := &Ring{
		buf:   buf,
		width: width,
		depth: depth,
		slot:  width + 1,
		w:     NewCounter(depth),
	}
	r.Reset()
	return r, nil
}

// Width returns the lane count per slot.
func (r *Ring) Width() int { return r.width }

// Depth returns the slot count.
func (r *Ring) Depth() int { return r.depth }

// Cursor creates a read cursor that observes the slot written age pushes
// ago. Age must lie in [1, depth]. Before the ring has seen age pushes
// the cursor reads the reset default: zero lanes, invalid.
func (r *Ring) Cursor(age int) (*Cursor, error) {
	if age < 1 || age > r.depth {
		return nil, fmt.Errorf("cursor age %d outside [1, %d]", age, r.depth)
	}
	cur := &Cursor{
		ring: r,
		age:  age,
		c:    NewCounterAt(r.depth, -age),
	}
	r.cursors = append(r.cursors, cur)
	return cur, nil
}

// Push writes one vector into the current write slot, then advances the
// write counter and every cursor. Called exactly once per tick by the
// owning stage.
func (r *Ring) Push(lanes []Sample, valid bool) error {
	if len(lanes) != r.width {
		return errors.New("lane width mismatch on ring push")
	}
	off := r.w.Value() * r.slot
	for i, s := range lanes {
		r.buf[off+i] = byte(s)
	}
	if valid {
		r.buf[off+r.width] = 1
	} else {
		r.buf[off+r.width] = 0
	}
	r.w.Tick()
	for _, cur := range r.cursors {
		cur.c.Tick()
	}
	r.pushes++
	return nil
}

// Reset zeroes all slots (to the invalid default) and rewinds every
// counter to its starting phase.
func (r *Ring) Reset() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.w.Reset()
	r.pushes = 0
	for _, cur := range r.cursors {
		cur.c = NewCounterAt(r.depth, -cur.age)
	}
}

// Read copies the cursor's slot into dst and reports its valid flag.
// dst must have the ring's lane width.
func (c *Cursor) Read(dst []Sample) bool {
	off := c.c.Value() * c.ring.slot
	for i := range dst {
		dst[i] = Sample(c.ring.buf[off+i])
	}
	return c.ring.buf[off+c.ring.width] != 0
}

// Age returns the fixed distance behind the write counter.
func (c *Cursor) Age() int { return c.age }
