package kernels

import (
	"fmt"

	"github.com/sbl8/strobe/core"
)

// LUT is a small constant look-up table addressed by a free-running
// modulo counter, the mechanism behind per-position filter coefficients.
// The table holds rows of one vector width each; the counter selects the
// current row and advances once per tick. Each LUT is owned by exactly
// one constant stage.
type LUT struct {
	vals  []core.Sample
	width int
	ctr   core.Counter
}

// NewLUT builds a table over vals, which must hold a whole number of rows
// of the given width. A one-row table behaves as a plain constant.
func NewLUT(width int, vals []core.Sample) (*LUT, error) {
	if width < 1 {
		return nil, fmt.Errorf("lut width %d", width)
	}
	if len(vals) == 0 || len(vals)%width != 0 {
		return nil, fmt.Errorf("lut holds %d values, not a multiple of width %d", len(vals), width)
	}
	return &LUT{
		vals:  vals,
		width: width,
		ctr:   core.NewCounter(len(vals) / width),
	}, nil
}

// Width returns the row width.
func (l *LUT) Width() int { return l.width }

// Rows returns the table depth.
func (l *LUT) Rows() int { return l.ctr.Mod() }

// ReadInto copies the current row into dst.
func (l *LUT) ReadInto(dst []core.Sample) {
	off := l.ctr.Value() * l.width
	copy(dst, l.vals[off:off+l.width])
}

// Tick advances the row counter. Called once per pipeline tick by the
// owning stage.
func (l *LUT) Tick() {
	l.ctr.Tick()
}

// Reset rewinds the row counter to the first row.
func (l *LUT) Reset() {
	l.ctr.Reset()
}
