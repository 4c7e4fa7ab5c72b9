// Package runtime executes compiled pipeline models tick by tick.
//
// This package provides the execution engine for .strb pipeline files.
// The engine walks the stage graph in a fixed topological order once per
// tick, in two phases: every stage first computes its output from the
// outputs its inputs currently present, then every stateful stage
// latches its pending input. The split means stage order within a phase
// can never change results, which is what makes the pipeline equivalent
// to a single-clock synchronous circuit.
//
// Key components:
//   - Engine: per-tick execution over an immutable stage graph
//   - Arena: zero-allocation memory management for all mutable state
//   - delayLine, windowState: the two kinds of registered stage state
//
// The engine follows a strict zero-allocation policy during execution.
// All buffers are planned at construction; Tick touches only
// preallocated memory.
//
// Validity is data, not control. Stages always compute, and a tick's
// output is marked valid only when every contributing sample was valid.
// Garbage values ripple through the datapath exactly as they would in
// hardware, and are discarded by the valid flag at the output.
package runtime

import (
	"errors"
	"fmt"

	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/kernels"
	"github.com/sbl8/strobe/model"
)

// EngineOptions configures engine behavior.
type EngineOptions struct {
	ArenaSize   uintptr // 0 auto-sizes from the graph
	EnableStats bool

	// StrictValid makes Run treat an invalid output after the pipeline
	// has filled as an error instead of silently dropping the tick.
	// Useful when the input stream is known to be gap-free.
	StrictValid bool
}

// DefaultEngineOptions provides sensible runtime defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{}
}

// ExecutionStats tracks runtime counters. OpExecutions counts evaluate
// calls per opcode across all ticks.
type ExecutionStats struct {
	Ticks            uint64
	ValidTicks       uint64
	OpExecutions     map[uint8]uint64
	ArenaUtilization float64
}

// stageState is the live counterpart of one model.Stage. The out vector
// is allocated once; downstream stages hold direct references to it, so
// evaluation is slice reads and writes with no per-tick indirection.
type stageState struct {
	stage  *model.Stage
	inputs []int

	out core.Vector

	fn     kernels.ALUFn   // combinational opcodes
	srcs   [][]core.Sample // prebound input lane slices for fn
	delay  delayLine       // OpReg, OpDelay
	window *windowState    // OpWindow
	lut    *kernels.LUT    // OpConst

	reduceFn kernels.ALUFn // OpReduce
	reduceW  int
	scratch  []core.Sample
}

// Engine executes one pipeline instance. It is not safe for concurrent
// use; drive each stream from a single goroutine, one engine per stream.
type Engine struct {
	graph  *model.Graph
	arena  *Arena
	states []stageState
	order  []int

	outputIdx int
	fill      int

	inBuf    []core.Sample // staging for byte-oriented callers
	outBytes []byte

	opts  EngineOptions
	stats ExecutionStats
}

// NewEngine validates the graph and plans all runtime state. Every
// structural or timing defect surfaces here; once an engine exists,
// Tick cannot fail on well-shaped input.
func NewEngine(graph *model.Graph, opts *EngineOptions) (*Engine, error) {
	if graph == nil {
		return nil, errors.New("graph cannot be nil")
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("engine rejects graph: %w", err)
	}
	o := DefaultEngineOptions()
	if opts != nil {
		o = *opts
	}

	a, err := graph.Analyze()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		graph: graph,
		order: a.Order,
		opts:  o,
	}
	if o.EnableStats {
		e.stats.OpExecutions = make(map[uint8]uint64)
	}

	idx := make(map[uint16]int, len(graph.Stages))
	for i, s := range graph.Stages {
		idx[s.ID] = i
	}

	stateSize := uintptr(0)
	for i := range graph.Stages {
		s := &graph.Stages[i]
		switch s.Op {
		case model.OpReg:
			stateSize += delayStateBytes(int(s.Width), 1)
		case model.OpDelay:
			if depth := s.Latency(); depth > 0 {
				stateSize += delayStateBytes(int(s.Width), depth)
			}
		case model.OpWindow:
			inW := graph.Stages[idx[s.Inputs[0]]].Width
			stateSize += windowStateBytes(s, int(inW))
		}
		stateSize += DefaultAlignment // per-allocation alignment slack
	}
	e.arena, err = NewArena(graph, stateSize, uintptr(graph.Lanes), o.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("arena setup: %w", err)
	}

	if err := e.initStages(idx); err != nil {
		return nil, err
	}

	e.fill, err = graph.FillLatency()
	if err != nil {
		return nil, err
	}
	e.inBuf = make([]core.Sample, graph.Lanes)
	e.outBytes = make([]byte, graph.Lanes)
	e.stats.ArenaUtilization = float64(e.arena.UsedSize()) / float64(e.arena.TotalSize())
	return e, nil
}

// initStages builds the live state for every stage in topological order,
// so input references always resolve to already-initialized states.
func (e *Engine) initStages(idx map[uint16]int) error {
	e.states = make([]stageState, len(e.graph.Stages))

	for i := range e.graph.Stages {
		s := &e.graph.Stages[i]
		st := &e.states[i]
		st.stage = s
		st.out = core.NewVector(int(s.Width))
		for _, in := range s.Inputs {
			st.inputs = append(st.inputs, idx[in])
		}
	}

	for _, i := range e.order {
		s := &e.graph.Stages[i]
		st := &e.states[i]

		switch {
		case s.Op < model.Structural:
			st.fn = kernels.Get(s.Op)
			for _, j := range st.inputs {
				st.srcs = append(st.srcs, e.states[j].out.Lanes)
			}

		case s.Op == model.OpOutput:
			e.outputIdx = i

		case s.Op == model.OpConst:
			raw, err := e.arena.Coeff(s.CoeffOff, s.CoeffLen)
			if err != nil {
				return fmt.Errorf("stage %d: %w", s.ID, err)
			}
			vals := make([]core.Sample, len(raw))
			for k, b := range raw {
				vals[k] = core.Sample(b)
			}
			lut, err := kernels.NewLUT(int(s.Width), vals)
			if err != nil {
				return fmt.Errorf("stage %d: %w", s.ID, err)
			}
			st.lut = lut

		case s.Op == model.OpReg:
			dl, err := newDelayLine(e.arena, int(s.Width), 1)
			if err != nil {
				return fmt.Errorf("stage %d: %w", s.ID, err)
			}
			st.delay = dl

		case s.Op == model.OpDelay:
			if depth := s.Latency(); depth > 0 {
				dl, err := newDelayLine(e.arena, int(s.Width), depth)
				if err != nil {
					return fmt.Errorf("stage %d: %w", s.ID, err)
				}
				st.delay = dl
			}

		case s.Op == model.OpWindow:
			inW := int(e.graph.Stages[st.inputs[0]].Width)
			w, err := newWindowState(e.arena, s, inW)
			if err != nil {
				return fmt.Errorf("stage %d: %w", s.ID, err)
			}
			st.window = w

		case s.Op == model.OpReduce:
			st.reduceFn = kernels.Get(uint8(s.Args[0]))
			st.reduceW = int(s.Width)
			st.scratch = make([]core.Sample, s.Width)
		}
	}
	return nil
}

// Graph returns the engine's underlying graph.
func (e *Engine) Graph() *model.Graph {
	return e.graph
}

// FillLatency returns the number of ticks before the first valid output.
func (e *Engine) FillLatency() int {
	return e.fill
}

// Lanes returns the external lane width.
func (e *Engine) Lanes() int {
	return int(e.graph.Lanes)
}

// ArenaBytes returns the total arena capacity.
func (e *Engine) ArenaBytes() int {
	return int(e.arena.TotalSize())
}

// Stats returns a copy of the execution counters.
func (e *Engine) Stats() ExecutionStats {
	return e.stats
}

// Tick advances the pipeline one clock. in must carry Lanes() samples;
// inValid marks whether they are real data. The returned slice is the
// output vector for this tick, valid only when outValid is true. The
// slice aliases engine state and is overwritten by the next Tick.
func (e *Engine) Tick(in []core.Sample, inValid bool) ([]core.Sample, bool, error) {
	if len(in) != int(e.graph.Lanes) {
		return nil, false, fmt.Errorf("input has %d lanes, pipeline has %d", len(in), e.graph.Lanes)
	}

	// Phase 1: evaluate every stage against the outputs currently
	// presented by its inputs. Registered stages present latched state
	// here and ignore their pending input until phase 2.
	for _, i := range e.order {
		st := &e.states[i]
		s := st.stage

		switch {
		case s.Op < model.Structural:
			valid := true
			for _, j := range st.inputs {
				valid = valid && e.states[j].out.Valid
			}
			st.fn(st.out.Lanes, st.srcs...)
			st.out.Valid = valid

		case s.Op == model.OpInput:
			copy(st.out.Lanes, in)
			st.out.Valid = inValid

		case s.Op == model.OpOutput:
			st.out.CopyFrom(e.states[st.inputs[0]].out)

		case s.Op == model.OpConst:
			st.lut.ReadInto(st.out.Lanes)
			st.out.Valid = true

		case s.Op == model.OpReg:
			st.out.Valid = st.delay.read(st.out.Lanes)

		case s.Op == model.OpDelay:
			if st.delay == nil {
				st.out.CopyFrom(e.states[st.inputs[0]].out)
			} else {
				st.out.Valid = st.delay.read(st.out.Lanes)
			}

		case s.Op == model.OpWindow:
			src := &e.states[st.inputs[0]].out
			st.out.Valid = st.window.evaluate(src.Lanes, src.Valid, st.out.Lanes)

		case s.Op == model.OpPartition:
			src := &e.states[st.inputs[0]].out
			off := int(s.Args[0])
			copy(st.out.Lanes, src.Lanes[off:off+int(s.Width)])
			st.out.Valid = src.Valid

		case s.Op == model.OpPack:
			valid := true
			off := 0
			for _, j := range st.inputs {
				src := &e.states[j].out
				copy(st.out.Lanes[off:], src.Lanes)
				off += len(src.Lanes)
				valid = valid && src.Valid
			}
			st.out.Valid = valid

		case s.Op == model.OpReduce:
			src := &e.states[st.inputs[0]].out
			e.reduce(st, src)
		}

		if e.opts.EnableStats {
			e.stats.OpExecutions[s.Op]++
		}
	}

	// Phase 2: latch. Every registered stage absorbs the input computed
	// this tick; it becomes visible at the next evaluate phase.
	for _, i := range e.order {
		st := &e.states[i]
		switch st.stage.Op {
		case model.OpReg, model.OpDelay:
			if st.delay == nil {
				continue
			}
			src := &e.states[st.inputs[0]].out
			if err := st.delay.push(src.Lanes, src.Valid); err != nil {
				return nil, false, err
			}
		case model.OpWindow:
			src := &e.states[st.inputs[0]].out
			if err := st.window.latch(src.Lanes, src.Valid); err != nil {
				return nil, false, err
			}
		case model.OpConst:
			st.lut.Tick()
		}
	}

	out := &e.states[e.outputIdx].out
	e.stats.Ticks++
	if out.Valid {
		e.stats.ValidTicks++
	}
	return out.Lanes, out.Valid, nil
}

// reduce folds taps*W lanes into W, associating to the right so the
// fold is well defined for non-commutative opcodes: the result is
// tap0 op (tap1 op (... op tapN)).
func (e *Engine) reduce(st *stageState, src *core.Vector) {
	w := st.reduceW
	taps := len(src.Lanes) / w

	copy(st.out.Lanes, src.Lanes[(taps-1)*w:])
	for t := taps - 2; t >= 0; t-- {
		st.reduceFn(st.scratch, src.Lanes[t*w:(t+1)*w], st.out.Lanes)
		copy(st.out.Lanes, st.scratch)
	}
	st.out.Valid = src.Valid
}

// Reset returns the pipeline to its power-on state: registers and rings
// invalid, coefficient cursors at row zero, counters cleared.
func (e *Engine) Reset() {
	for i := range e.states {
		st := &e.states[i]
		st.out.Reset()
		if st.delay != nil {
			st.delay.reset()
		}
		if st.window != nil {
			st.window.reset()
		}
		if st.lut != nil {
			st.lut.Reset()
		}
	}
	e.stats.Ticks = 0
	e.stats.ValidTicks = 0
	if e.opts.EnableStats {
		e.stats.OpExecutions = make(map[uint8]uint64)
	}
}

// TickBytes is Tick for byte-oriented callers: in is staged through the
// arena's streaming window, and the output is returned as raw bytes.
// The returned slice is overwritten by the next call.
func (e *Engine) TickBytes(in []byte, inValid bool) ([]byte, bool, error) {
	if len(in) != int(e.graph.Lanes) {
		return nil, false, fmt.Errorf("input has %d lanes, pipeline has %d", len(in), e.graph.Lanes)
	}
	if err := e.arena.WriteToStreaming(in); err != nil {
		return nil, false, err
	}
	window, err := e.arena.StreamingWindow()
	if err != nil {
		return nil, false, err
	}
	for i := range e.inBuf {
		e.inBuf[i] = core.Sample(window[i])
	}
	res, valid, err := e.Tick(e.inBuf, inValid)
	if err != nil {
		return nil, false, err
	}
	for i, s := range res {
		e.outBytes[i] = byte(s)
	}
	return e.outBytes, valid, nil
}

// Run streams a sample buffer through the pipeline, Lanes() samples per
// tick, and returns every valid output in order. After the input is
// exhausted the pipeline is drained with invalid ticks so outputs still
// in flight come out. len(in) must be a multiple of Lanes().
func (e *Engine) Run(in []core.Sample) ([]core.Sample, error) {
	lanes := e.Lanes()
	if len(in)%lanes != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d lanes", len(in), lanes)
	}

	out := make([]core.Sample, 0, len(in))
	for off := 0; off < len(in); off += lanes {
		res, valid, err := e.Tick(in[off:off+lanes], true)
		if err != nil {
			return nil, err
		}
		if valid {
			out = append(out, res...)
		} else if e.opts.StrictValid && e.stats.Ticks > uint64(e.fill) {
			return nil, fmt.Errorf("invalid output at tick %d, after the pipeline filled", e.stats.Ticks-1)
		}
	}

	drained, err := e.Drain()
	if err != nil {
		return nil, err
	}
	return append(out, drained...), nil
}

// Drain ticks with invalid input until the output goes invalid,
// collecting any in-flight valid outputs. Bounded by the fill latency.
func (e *Engine) Drain() ([]core.Sample, error) {
	blank := make([]core.Sample, e.Lanes())
	var out []core.Sample
	for i := 0; i < e.fill; i++ {
		res, valid, err := e.Tick(blank, false)
		if err != nil {
			return nil, err
		}
		if !valid {
			break
		}
		out = append(out, res...)
	}
	return out, nil
}
