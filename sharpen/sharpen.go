// Package sharpen builds the fixed-function image sharpening pipeline:
// a streaming 8-bit filter that takes four interleaved pixels per tick
// and adds a scaled gradient term back onto each sample.
//
// Per lane, writing b for the current sample and a for its left
// neighbor:
//
//	d   = b - a                    (mod-256 gradient)
//	m   = |d|                      (registered)
//	t   = m - bias
//	sel = t <u threshold
//	r   = (sel ? d : boost) >> gainShift
//	out = b + r
//
// All arithmetic wraps mod 256; there is no saturation. Lane 0 borrows
// its left neighbor from lane 3 of the previous tick, so the filter
// behaves as a single continuous scanline stream regardless of how
// pixels fall across tick boundaries.
//
// The pipeline has one register between gradient and add-back, so the
// output lags the input by one tick, and needs one tick of borrowed
// history, for a total fill latency of two ticks.
package sharpen

import (
	"github.com/sbl8/strobe/compiler"
	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/kernels"
	"github.com/sbl8/strobe/model"
	"github.com/sbl8/strobe/runtime"
)

// Build constructs the sharpening pipeline graph. The result is fully
// validated; a latency imbalance in this construction is a bug and
// surfaces here, never at runtime.
func Build() (*model.Graph, error) {
	b := compiler.NewBuilder(Lanes)

	in := b.Input()
	win := b.Window(in,
		compiler.Tap{LaneShift: 0, TickDelay: 0},
		compiler.Tap{LaneShift: -1, TickDelay: 0},
	)

	// Gradient: current minus left neighbor, per lane. Subtraction is
	// not commutative, so the fold direction matters.
	d := b.Reduce(kernels.OpSub, 2, win)
	cur := b.Partition(win, 0, Lanes)

	// Absolute gradient via compare-and-select, registered one tick.
	nd := b.Comb(kernels.OpNeg, d)
	big := b.Comb(kernels.OpGtU, d, nd)
	m := b.Reg(b.Comb(kernels.OpSelect, big, nd, d))

	bias := b.Const(Lanes, biasTable)
	thresh := b.Const(Lanes, edgeThreshold)
	boost := b.Const(Lanes, flatBoost)
	shift := b.Const(Lanes, gainShift)

	t := b.Comb(kernels.OpSub, m, bias)
	sel := b.Comb(kernels.OpLtU, t, thresh)

	// The raw gradient re-joins the registered comparison path, so it
	// crosses a matching one-tick delay line.
	dd := b.Delay(1, d)
	chosen := b.Comb(kernels.OpSelect, sel, dd, boost)
	r := b.Comb(kernels.OpShr, chosen, shift)

	bd := b.Delay(1, cur)
	out := b.Comb(kernels.OpAdd, bd, r)
	b.Output(out)

	return b.Build()
}

// Filter is the four-lane driver around one pipeline instance. Not safe
// for concurrent use.
type Filter struct {
	eng *runtime.Engine
}

// NewFilter builds the pipeline and an engine to run it.
func NewFilter() (*Filter, error) {
	return NewFilterWithOptions(nil)
}

// NewFilterWithOptions builds the pipeline with explicit engine options.
func NewFilterWithOptions(opts *runtime.EngineOptions) (*Filter, error) {
	g, err := Build()
	if err != nil {
		return nil, err
	}
	eng, err := runtime.NewEngine(g, opts)
	if err != nil {
		return nil, err
	}
	return &Filter{eng: eng}, nil
}

// Process advances the filter one tick with four pixels and returns the
// four output pixels. The output is meaningful only when ok is true;
// during the initial fill, and after a Reset, ok stays false.
func (f *Filter) Process(in [Lanes]core.Sample) (out [Lanes]core.Sample, ok bool) {
	res, valid, err := f.eng.Tick(in[:], true)
	if err != nil {
		// Tick only fails on lane width mismatch, which the array
		// signature rules out.
		return out, false
	}
	copy(out[:], res)
	return out, valid
}

// FillLatency returns the ticks before the first valid output.
func (f *Filter) FillLatency() int {
	return f.eng.FillLatency()
}

// Run streams a pixel buffer through the filter and returns the
// sharpened stream. len(in) must be a multiple of Lanes.
func (f *Filter) Run(in []core.Sample) ([]core.Sample, error) {
	return f.eng.Run(in)
}

// Reset returns the filter to its power-on state.
func (f *Filter) Reset() {
	f.eng.Reset()
}

// Engine exposes the underlying engine, mainly for stats.
func (f *Filter) Engine() *runtime.Engine {
	return f.eng
}
