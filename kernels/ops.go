// Package kernels provides the elementary 8-bit lane operations consumed
// by the Strobe pipeline runtime.
//
// Every operation is a pure, combinational function over lane vectors:
// given one output slice and a fixed number of same-width input slices it
// computes each output lane from the corresponding input lanes, with zero
// allocations and zero-cycle latency. Registered behavior (delays,
// latches, windows) lives in the runtime; kernels never hold state.
//
// Arithmetic is fixed-width uint8 with wraparound (two's-complement
// truncation). There is no saturation anywhere: 0 - 1 is 255 and
// 255 + 1 is 0 by definition.
//
// All operations are registered in the Catalog array for dispatch by the
// opcode byte carried in compiled stage records.
package kernels

import "github.com/sbl8/strobe/core"

// ALUFn computes one output vector from its input vectors, lane-wise and
// in place, with zero allocations. All slices share the same width.
type ALUFn func(dst []core.Sample, srcs ...[]core.Sample)

// Combinational operation codes. The structural opcodes used by the model
// package live above 0x80 and never reach this catalog.
const (
	OpPass   = 0x00
	OpAdd    = 0x01
	OpSub    = 0x02
	OpNeg    = 0x03
	OpShr    = 0x04
	OpLtU    = 0x05
	OpGtU    = 0x06
	OpSelect = 0x07
)

// Catalog maps opcodes to lane operations.
var Catalog = [256]ALUFn{
	OpPass:   pass,
	OpAdd:    add,
	OpSub:    sub,
	OpNeg:    neg,
	OpShr:    shr,
	OpLtU:    ltu,
	OpGtU:    gtu,
	OpSelect: sel,
}

// arity records the input count for each opcode; zero means the opcode is
// not a combinational operation.
var arity = [256]int{
	OpPass:   1,
	OpAdd:    2,
	OpSub:    2,
	OpNeg:    1,
	OpShr:    2,
	OpLtU:    2,
	OpGtU:    2,
	OpSelect: 3,
}

// Get returns the lane operation for the given opcode, or nil.
func Get(op uint8) ALUFn {
	return Catalog[op]
}

// Arity returns the number of inputs the opcode consumes, or zero if the
// opcode is not a combinational lane operation.
func Arity(op uint8) int {
	return arity[op]
}

// Binary reports whether the opcode is a two-input operation, the only
// kind a reduce tree may carry.
func Binary(op uint8) bool {
	return arity[op] == 2
}

func pass(dst []core.Sample, srcs ...[]core.Sample) {
	copy(dst, srcs[0])
}

func add(dst []core.Sample, srcs ...[]core.Sample) {
	a, b := srcs[0], srcs[1]
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}

func sub(dst []core.Sample, srcs ...[]core.Sample) {
	a, b := srcs[0], srcs[1]
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

func neg(dst []core.Sample, srcs ...[]core.Sample) {
	a := srcs[0]
	for i := range dst {
		dst[i] = -a[i]
	}
}

// shr shifts each lane of a right by the amount in the matching lane of
// b. Shift counts of 8 or more clear the lane, as a logical shift must.
func shr(dst []core.Sample, srcs ...[]core.Sample) {
	a, b := srcs[0], srcs[1]
	for i := range dst {
		dst[i] = a[i] >> b[i]
	}
}

func ltu(dst []core.Sample, srcs ...[]core.Sample) {
	a, b := srcs[0], srcs[1]
	for i := range dst {
		if a[i] < b[i] {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

func gtu(dst []core.Sample, srcs ...[]core.Sample) {
	a, b := srcs[0], srcs[1]
	for i := range dst {
		if a[i] > b[i] {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

// sel is the two-way mux: lane i takes srcs[1][i] when the condition lane
// srcs[0][i] is nonzero, srcs[2][i] otherwise.
func sel(dst []core.Sample, srcs ...[]core.Sample) {
	c, a, b := srcs[0], srcs[1], srcs[2]
	for i := range dst {
		if c[i] != 0 {
			dst[i] = a[i]
		} else {
			dst[i] = b[i]
		}
	}
}
