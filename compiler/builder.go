// Package compiler turns pipeline descriptions into validated stage
// graphs. Two front ends produce the same model: the Builder API for
// programmatic construction, and the .strs text format for pipelines
// authored as files.
package compiler

import (
	"errors"
	"fmt"

	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/model"
)

// Tap describes one window tap. LaneShift is zero or negative: a shift
// of -s reads s lanes to the left, borrowing underflowed lanes from one
// tick earlier. TickDelay reads the vector from that many ticks ago.
type Tap struct {
	LaneShift int
	TickDelay int
}

// Signal is a handle to a stage output, carrying the timing information
// the builder needs to keep convergence points aligned.
type Signal struct {
	id       uint16
	width    uint16
	latency  int
	wildcard bool
}

// Width returns the signal's lane count.
func (s Signal) Width() int { return int(s.width) }

// Builder accumulates stages for one pipeline. Errors are sticky: the
// first failure poisons the builder and every later call is a no-op, so
// construction code can chain calls and check once at Build.
//
// The builder balances latency automatically. Whenever signals converge
// on a stage, shorter paths get synthetic delay lines inserted so every
// input arrives registered the same number of ticks. Constant signals
// are wildcards and align with anything. If balancing still cannot make
// the paths agree, Build fails; a mismatch is never deferred to runtime.
type Builder struct {
	lanes  uint16
	nextID uint16
	stages []model.Stage
	coeff  []byte
	err    error

	hasInput  bool
	hasOutput bool
}

// NewBuilder starts a pipeline with the given external lane width.
func NewBuilder(lanes int) *Builder {
	b := &Builder{lanes: uint16(lanes)}
	if lanes <= 0 || lanes > 0xFFFF {
		b.fail(fmt.Errorf("invalid lane count %d", lanes))
	}
	return b
}

func (b *Builder) fail(err error) Signal {
	if b.err == nil {
		b.err = err
	}
	return Signal{wildcard: true}
}

// Err returns the first error encountered, if any.
func (b *Builder) Err() error { return b.err }

func (b *Builder) add(s model.Stage) uint16 {
	s.ID = b.nextID
	b.nextID++
	b.stages = append(b.stages, s)
	return s.ID
}

// check rejects signals from a different or poisoned builder.
func (b *Builder) check(sigs ...Signal) bool {
	if b.err != nil {
		return false
	}
	for _, s := range sigs {
		if s.width == 0 {
			b.fail(errors.New("use of zero or poisoned signal"))
			return false
		}
	}
	return true
}

// Input declares the pipeline's external input. Exactly one is allowed.
func (b *Builder) Input() Signal {
	if b.err != nil {
		return Signal{wildcard: true}
	}
	if b.hasInput {
		return b.fail(errors.New("pipeline already has an input"))
	}
	b.hasInput = true
	id := b.add(model.Stage{Op: model.OpInput, Width: b.lanes})
	return Signal{id: id, width: b.lanes}
}

// Const declares a coefficient source of the given width. vals holds one
// or more rows of width lanes; multi-row tables cycle per tick, giving
// per-position coefficients for interleaved streams.
func (b *Builder) Const(width int, vals []core.Sample) Signal {
	if b.err != nil {
		return Signal{wildcard: true}
	}
	if width <= 0 || len(vals) == 0 || len(vals)%width != 0 {
		return b.fail(fmt.Errorf("const table of %d values is not a multiple of width %d", len(vals), width))
	}
	off := uint32(len(b.coeff))
	for _, v := range vals {
		b.coeff = append(b.coeff, byte(v))
	}
	id := b.add(model.Stage{
		Op:       model.OpConst,
		Width:    uint16(width),
		CoeffOff: off,
		CoeffLen: uint32(len(vals)),
	})
	return Signal{id: id, width: uint16(width), wildcard: true}
}

// ConstSplat declares a constant holding the same value on every lane.
func (b *Builder) ConstSplat(width int, v core.Sample) Signal {
	vals := make([]core.Sample, width)
	for i := range vals {
		vals[i] = v
	}
	return b.Const(width, vals)
}

// balance pads shorter paths with synthetic delay lines so all concrete
// inputs arrive at the same cumulative latency, and returns that
// latency. Wildcard signals pass through untouched.
func (b *Builder) balance(sigs []Signal) ([]Signal, int) {
	target := 0
	concrete := false
	for _, s := range sigs {
		if s.wildcard {
			continue
		}
		concrete = true
		if s.latency > target {
			target = s.latency
		}
	}
	if !concrete {
		return sigs, 0
	}
	out := make([]Signal, len(sigs))
	for i, s := range sigs {
		if s.wildcard || s.latency == target {
			out[i] = s
			continue
		}
		depth := target - s.latency
		id := b.add(model.Stage{
			Op:     model.OpDelay,
			Width:  s.width,
			Flags:  model.FlagSynthetic,
			Inputs: []uint16{s.id},
			Args:   []uint16{uint16(depth)},
		})
		out[i] = Signal{id: id, width: s.width, latency: target}
	}
	return out, target
}

// Comb applies a combinational opcode to its inputs, balancing their
// latencies first. All inputs share one width, which the result keeps.
func (b *Builder) Comb(op uint8, ins ...Signal) Signal {
	if !b.check(ins...) {
		return Signal{wildcard: true}
	}
	if op >= model.Structural {
		return b.fail(fmt.Errorf("opcode 0x%02x is not combinational", op))
	}
	w := ins[0].width
	for _, in := range ins[1:] {
		if in.width != w {
			return b.fail(fmt.Errorf("combinational input widths differ: %d vs %d", w, in.width))
		}
	}
	ins, lat := b.balance(ins)
	ids := make([]uint16, len(ins))
	wild := true
	for i, in := range ins {
		ids[i] = in.id
		wild = wild && in.wildcard
	}
	id := b.add(model.Stage{Op: op, Width: w, Inputs: ids})
	return Signal{id: id, width: w, latency: lat, wildcard: wild}
}

// Reg inserts a one-tick register.
func (b *Builder) Reg(in Signal) Signal {
	if !b.check(in) {
		return Signal{wildcard: true}
	}
	id := b.add(model.Stage{Op: model.OpReg, Width: in.width, Inputs: []uint16{in.id}})
	return Signal{id: id, width: in.width, latency: in.latency + 1, wildcard: in.wildcard}
}

// Delay inserts a delay line of the given depth. Depth zero passes
// through.
func (b *Builder) Delay(depth int, in Signal) Signal {
	if !b.check(in) {
		return Signal{wildcard: true}
	}
	if depth < 0 || depth > 0xFFFF {
		return b.fail(fmt.Errorf("invalid delay depth %d", depth))
	}
	id := b.add(model.Stage{
		Op:     model.OpDelay,
		Width:  in.width,
		Inputs: []uint16{in.id},
		Args:   []uint16{uint16(depth)},
	})
	return Signal{id: id, width: in.width, latency: in.latency + depth, wildcard: in.wildcard}
}

// Window builds a tap window over the input stream. The output
// concatenates one input-width vector per tap, newest tap first in tap
// order. The newest tap defines the window's alignment; older taps add
// fill, which delays the first valid output, not latency.
func (b *Builder) Window(in Signal, taps ...Tap) Signal {
	if !b.check(in) {
		return Signal{wildcard: true}
	}
	if len(taps) == 0 {
		return b.fail(errors.New("window needs at least one tap"))
	}
	args := make([]uint16, 0, 2*len(taps))
	for _, t := range taps {
		if t.LaneShift > 0 {
			return b.fail(fmt.Errorf("window lane shift %d looks into the future", t.LaneShift))
		}
		if -t.LaneShift >= int(in.width) {
			return b.fail(fmt.Errorf("window lane shift %d exceeds width %d", t.LaneShift, in.width))
		}
		if t.TickDelay < 0 {
			return b.fail(fmt.Errorf("window tick delay %d looks into the future", t.TickDelay))
		}
		args = append(args, uint16(-t.LaneShift), uint16(t.TickDelay))
	}
	w := uint16(len(taps)) * in.width
	id := b.add(model.Stage{Op: model.OpWindow, Width: w, Inputs: []uint16{in.id}, Args: args})
	return Signal{id: id, width: w, latency: in.latency, wildcard: in.wildcard}
}

// Partition selects width lanes starting at offset.
func (b *Builder) Partition(in Signal, offset, width int) Signal {
	if !b.check(in) {
		return Signal{wildcard: true}
	}
	if width <= 0 || offset < 0 || offset+width > int(in.width) {
		return b.fail(fmt.Errorf("partition [%d:%d] exceeds width %d", offset, offset+width, in.width))
	}
	id := b.add(model.Stage{
		Op:     model.OpPartition,
		Width:  uint16(width),
		Inputs: []uint16{in.id},
		Args:   []uint16{uint16(offset), uint16(width)},
	})
	return Signal{id: id, width: uint16(width), latency: in.latency, wildcard: in.wildcard}
}

// Pack concatenates signals lane-wise after balancing their latencies.
func (b *Builder) Pack(ins ...Signal) Signal {
	if !b.check(ins...) {
		return Signal{wildcard: true}
	}
	if len(ins) == 0 {
		return b.fail(errors.New("pack needs at least one input"))
	}
	ins, lat := b.balance(ins)
	ids := make([]uint16, len(ins))
	total := 0
	wild := true
	for i, in := range ins {
		ids[i] = in.id
		total += int(in.width)
		wild = wild && in.wildcard
	}
	id := b.add(model.Stage{Op: model.OpPack, Width: uint16(total), Inputs: ids})
	return Signal{id: id, width: uint16(total), latency: lat, wildcard: wild}
}

// Reduce folds a packed signal of taps*W lanes down to W lanes with a
// binary opcode, associating to the right: tap0 op (tap1 op (... op
// tapN)). Right association keeps non-commutative opcodes well defined.
func (b *Builder) Reduce(op uint8, taps int, in Signal) Signal {
	if !b.check(in) {
		return Signal{wildcard: true}
	}
	if taps < 2 || int(in.width)%taps != 0 {
		return b.fail(fmt.Errorf("%d taps do not divide width %d", taps, in.width))
	}
	w := in.width / uint16(taps)
	id := b.add(model.Stage{
		Op:     model.OpReduce,
		Width:  w,
		Inputs: []uint16{in.id},
		Args:   []uint16{uint16(op), uint16(taps)},
	})
	return Signal{id: id, width: w, latency: in.latency, wildcard: in.wildcard}
}

// Map partitions a signal into parts equal slices, applies fn to each,
// and packs the results back together. The pack balances the branch
// latencies, so branches with different register depths still converge
// aligned, and the result is valid only when every branch is.
func (b *Builder) Map(in Signal, parts int, fn func(*Builder, Signal) Signal) Signal {
	if !b.check(in) {
		return Signal{wildcard: true}
	}
	if parts < 1 || int(in.width)%parts != 0 {
		return b.fail(fmt.Errorf("%d parts do not divide width %d", parts, in.width))
	}
	w := int(in.width) / parts
	outs := make([]Signal, parts)
	for p := 0; p < parts; p++ {
		outs[p] = fn(b, b.Partition(in, p*w, w))
	}
	return b.Pack(outs...)
}

// Output declares the pipeline's external output. Exactly one is
// allowed.
func (b *Builder) Output(in Signal) {
	if !b.check(in) {
		return
	}
	if b.hasOutput {
		b.fail(errors.New("pipeline already has an output"))
		return
	}
	if in.width != b.lanes {
		b.fail(fmt.Errorf("output width %d does not match lane count %d", in.width, b.lanes))
		return
	}
	b.hasOutput = true
	b.add(model.Stage{Op: model.OpOutput, Width: in.width, Inputs: []uint16{in.id}})
}

// Build finalizes the pipeline and runs full validation, including the
// timing pass. The returned graph is safe to serialize or execute.
func (b *Builder) Build() (*model.Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasInput {
		return nil, errors.New("pipeline has no input")
	}
	if !b.hasOutput {
		return nil, errors.New("pipeline has no output")
	}
	g := &model.Graph{
		Lanes:  b.lanes,
		Stages: b.stages,
		Coeff:  b.coeff,
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return g, nil
}
