// Package core provides the fundamental signal primitives for the Strobe
// streaming pipeline engine.
//
// Everything that travels through a Strobe pipeline is a fixed set of
// parallel lanes carrying 8-bit samples, accompanied by a single valid
// flag. Stages always transform lane data speculatively; a consumer may
// only attach meaning to a value whose valid flag is set for the same
// tick. This "always compute, gate on valid" discipline is what lets the
// pipeline advance every tick without stalls.
//
// Key components:
//   - Sample: 8-bit unsigned pixel value with wraparound arithmetic
//   - Token / Vector: value-plus-valid units for scalar and lane paths
//   - Counter: free-running modulo counter owned by exactly one stage
//   - Ring: circular buffer addressed by counters, backed by arena memory
//   - Alignment helpers shared with the runtime allocator
package core

// Sample is one 8-bit unsigned pixel value. All arithmetic on Samples is
// wraparound (two's-complement truncation), never saturating.
type Sample uint8

// Token pairs a scalar value with its validity flag for one tick.
type Token struct {
	Value Sample
	Valid bool
}

// Vector transports a fixed number of parallel lanes plus one shared
// valid flag. Lane order is positional and significant.
type Vector struct {
	Lanes []Sample
	Valid bool
}

// NewVector returns a zeroed, invalid vector of the given width.
func NewVector(width int) Vector {
	return Vector{Lanes: make([]Sample, width)}
}

// Width returns the lane count.
func (v *Vector) Width() int {
	return len(v.Lanes)
}

// Reset zeroes all lanes and clears the valid flag.
func (v *Vector) Reset() {
	for i := range v.Lanes {
		v.Lanes[i] = 0
	}
	v.Valid = false
}

// CopyFrom copies lane data and validity from src. Widths must match;
// mismatches indicate a miswired pipeline and are not tolerated.
func (v *Vector) CopyFrom(src Vector) {
	copy(v.Lanes, src.Lanes)
	v.Valid = src.Valid
}

// CombineValid implements the convergence rule for valid flags: a stage
// with multiple upstream inputs is valid only when every input is.
func CombineValid(valids ...bool) bool {
	for _, ok := range valids {
		if !ok {
			return false
		}
	}
	return true
}
