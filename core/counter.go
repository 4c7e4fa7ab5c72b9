package core

// Counter is a free-running modulo counter advanced once per tick. Each
// counter is owned by exactly one stage; the single-writer rule for all
// pipeline state is enforced through ownership, not synchronization.
type Counter struct {
	n   int
	mod int
}

// NewCounter returns a counter over [0, mod). A modulus below 1 is
// clamped to 1, which yields a counter that is always zero.
func NewCounter(mod int) Counter {
	if mod < 1 {
		mod = 1
	}
	return Counter{mod: mod}
}

// NewCounterAt returns a counter starting at start modulo mod. Staggered
// start values are how ring cursors maintain a fixed age gap behind the
// write pointer without any pointer arithmetic.
func NewCounterAt(mod, start int) Counter {
	c := NewCounter(mod)
	c.n = ((start % c.mod) + c.mod) % c.mod
	return c
}

// Value returns the current count.
func (c *Counter) Value() int {
	return c.n
}

// Mod returns the counter modulus.
func (c *Counter) Mod() int {
	return c.mod
}

// Tick advances the counter by one, wrapping at the modulus.
func (c *Counter) Tick() {
	c.n++
	if c.n == c.mod {
		c.n = 0
	}
}

// Reset returns the counter to zero.
func (c *Counter) Reset() {
	c.n = 0
}
