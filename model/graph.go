// Package model defines the static stage-graph representation for Strobe
// pipelines.
//
// A pipeline is a directed acyclic graph of stages. Each stage names an
// opcode, an output lane width, the IDs of its upstream stages, and any
// opcode-specific parameters. Combinational opcodes (below 0x80) are
// dispatched to the kernels catalog; structural opcodes describe the
// registered and shape-changing machinery: registers, delay lines,
// windows, partitions, packs, and reduce trees.
//
// The graph is immutable after compilation. Validation proves the
// properties the runtime relies on and refuses to hand over anything
// else:
//   - stage IDs are unique and every input reference resolves
//   - the graph is acyclic with exactly one input and one output stage
//   - lane widths are consistent with each opcode's shape rules
//   - every convergence point sees equal cumulative registered latency
//     on all of its inputs
//
// The last property is the load-bearing one. A latency mismatch does not
// crash at runtime; it silently combines samples from different ticks
// while still reporting valid output. It is therefore treated as a fatal
// construction-time error, never a runtime check.
package model

import (
	"errors"
	"fmt"

	"github.com/sbl8/strobe/kernels"
)

// Structural opcodes. Values below Structural are combinational lane
// operations resolved through the kernels catalog.
const (
	Structural = 0x80

	OpConst     = 0x80 // Args: none; Coeff slice holds the LUT rows
	OpReg       = 0x81 // 1-tick register
	OpDelay     = 0x82 // Args[0]: depth in ticks
	OpWindow    = 0x83 // Args: (laneBack, tickDelay) pair per tap
	OpPartition = 0x84 // Args[0]: lane offset, Args[1]: width
	OpPack      = 0x85 // concatenates inputs lane-wise
	OpReduce    = 0x86 // Args[0]: binary opcode, Args[1]: tap count
	OpInput     = 0x8E
	OpOutput    = 0x8F
)

// Stage flags.
const (
	// FlagSynthetic marks delay lines inserted by the latency balancer
	// rather than declared by the pipeline author.
	FlagSynthetic = 1 << 0
)

// Stage is one node of the pipeline graph.
type Stage struct {
	ID       uint16
	Op       uint8
	Width    uint16
	Flags    uint32
	Inputs   []uint16
	Args     []uint16
	CoeffOff uint32
	CoeffLen uint32
}

// Latency returns the stage's own registered latency in ticks.
func (s *Stage) Latency() int {
	switch s.Op {
	case OpReg:
		return 1
	case OpDelay:
		if len(s.Args) > 0 {
			return int(s.Args[0])
		}
		return 0
	default:
		return 0
	}
}

// Taps returns a window stage's tap descriptors as (laneBack, tickDelay)
// pairs. laneBack is the magnitude of the (always non-positive) lane
// shift; lanes that underflow borrow from one tick earlier.
func (s *Stage) Taps() [][2]int {
	taps := make([][2]int, 0, len(s.Args)/2)
	for i := 0; i+1 < len(s.Args); i += 2 {
		taps = append(taps, [2]int{int(s.Args[i]), int(s.Args[i+1])})
	}
	return taps
}

// fill returns the ticks of history a window tap set reaches back. A tap
// with a lane borrow needs one tick more than its declared delay.
func (s *Stage) fill() int {
	if s.Op != OpWindow {
		return 0
	}
	max := 0
	for _, tap := range s.Taps() {
		need := tap[1]
		if tap[0] > 0 {
			need++
		}
		if need > max {
			max = need
		}
	}
	return max
}

// Graph is the immutable pipeline representation.
type Graph struct {
	Lanes  uint16
	Stages []Stage
	Coeff  []byte
}

// StageCount returns the number of stages.
func (g *Graph) StageCount() int {
	return len(g.Stages)
}

// index maps stage IDs to positions in g.Stages, rejecting duplicates.
func (g *Graph) index() (map[uint16]int, error) {
	idx := make(map[uint16]int, len(g.Stages))
	for i, s := range g.Stages {
		if _, dup := idx[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stage ID %d", s.ID)
		}
		idx[s.ID] = i
	}
	return idx, nil
}

// TopoOrder returns stage indices in dependency order, or an error if
// the graph contains a cycle or a dangling input reference.
func (g *Graph) TopoOrder() ([]int, error) {
	idx, err := g.index()
	if err != nil {
		return nil, err
	}

	adj := make(map[int][]int)
	inDegree := make([]int, len(g.Stages))
	for i, s := range g.Stages {
		for _, in := range s.Inputs {
			j, ok := idx[in]
			if !ok {
				return nil, fmt.Errorf("stage %d references unknown stage %d", s.ID, in)
			}
			adj[j] = append(adj[j], i)
			inDegree[i]++
		}
	}

	// Kahn's algorithm
	queue := make([]int, 0, len(g.Stages))
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(g.Stages))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range adj[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Stages) {
		return nil, errors.New("cycle detected in pipeline graph")
	}
	return order, nil
}

// Analysis carries the per-stage results of the static timing pass,
// indexed like g.Stages. A latency of Unconstrained means the stage is
// fed only by constants and aligns with any path.
type Analysis struct {
	Latency []int
	Fill    []int
	Order   []int
}

// Unconstrained marks latencies on constant-only paths.
const Unconstrained = -1

// Analyze runs the static timing pass: cumulative registered latency and
// fill per stage, with the convergence rule enforced at every stage that
// combines two or more inputs. Window taps are exempt: reaching into
// past ticks is a window's purpose, and the skew it introduces is
// accounted to fill, which gates valid, not to value alignment.
func (g *Graph) Analyze() (*Analysis, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	idx, _ := g.index()

	a := &Analysis{
		Latency: make([]int, len(g.Stages)),
		Fill:    make([]int, len(g.Stages)),
		Order:   order,
	}

	for _, i := range order {
		s := &g.Stages[i]

		base := Unconstrained
		fill := 0
		for _, in := range s.Inputs {
			j := idx[in]
			if f := a.Fill[j]; f > fill {
				fill = f
			}
			l := a.Latency[j]
			if l == Unconstrained {
				continue
			}
			if base == Unconstrained {
				base = l
				continue
			}
			if l != base {
				return nil, fmt.Errorf("latency mismatch at stage %d: inputs arrive at %d and %d ticks", s.ID, base, l)
			}
		}

		switch s.Op {
		case OpInput:
			a.Latency[i] = 0
			a.Fill[i] = 0
		case OpConst:
			a.Latency[i] = Unconstrained
			a.Fill[i] = 0
		default:
			if base == Unconstrained {
				a.Latency[i] = Unconstrained
			} else {
				a.Latency[i] = base + s.Latency()
			}
			a.Fill[i] = fill + s.Latency() + s.fill()
		}
	}
	return a, nil
}

// FillLatency returns the pipeline depth L: the number of ticks before
// the output stage can first assert valid.
func (g *Graph) FillLatency() (int, error) {
	a, err := g.Analyze()
	if err != nil {
		return 0, err
	}
	for i, s := range g.Stages {
		if s.Op == OpOutput {
			return a.Fill[i], nil
		}
	}
	return 0, errors.New("graph has no output stage")
}

// Validate checks graph consistency, including the shape rules for every
// opcode and the latency-matching invariant. A graph that fails here
// must never reach the runtime.
func (g *Graph) Validate() error {
	if len(g.Stages) == 0 {
		return errors.New("graph has no stages")
	}
	if g.Lanes == 0 {
		return errors.New("graph has zero lanes")
	}

	idx, err := g.index()
	if err != nil {
		return err
	}

	inputs, outputs := 0, 0
	for i := range g.Stages {
		s := &g.Stages[i]
		switch s.Op {
		case OpInput:
			inputs++
		case OpOutput:
			outputs++
		}
		if err := g.validateStage(s, idx); err != nil {
			return err
		}
	}
	if inputs != 1 {
		return fmt.Errorf("graph needs exactly one input stage, has %d", inputs)
	}
	if outputs != 1 {
		return fmt.Errorf("graph needs exactly one output stage, has %d", outputs)
	}

	// The timing pass also proves acyclicity and latency matching.
	_, err = g.Analyze()
	return err
}

// validateStage checks one stage's shape against its opcode.
func (g *Graph) validateStage(s *Stage, idx map[uint16]int) error {
	inWidth := func(n int) (uint16, error) {
		if len(s.Inputs) != n {
			return 0, fmt.Errorf("stage %d: op 0x%02x takes %d inputs, has %d", s.ID, s.Op, n, len(s.Inputs))
		}
		w := g.Stages[idx[s.Inputs[0]]].Width
		for _, in := range s.Inputs[1:] {
			if g.Stages[idx[in]].Width != w {
				return 0, fmt.Errorf("stage %d: input widths differ", s.ID)
			}
		}
		return w, nil
	}
	for _, in := range s.Inputs {
		if _, ok := idx[in]; !ok {
			return fmt.Errorf("stage %d references unknown stage %d", s.ID, in)
		}
	}

	if s.Op < Structural {
		n := kernels.Arity(s.Op)
		if n == 0 {
			return fmt.Errorf("stage %d: unknown opcode 0x%02x", s.ID, s.Op)
		}
		w, err := inWidth(n)
		if err != nil {
			return err
		}
		if s.Width != w {
			return fmt.Errorf("stage %d: width %d does not match input width %d", s.ID, s.Width, w)
		}
		return nil
	}

	switch s.Op {
	case OpInput:
		if len(s.Inputs) != 0 {
			return fmt.Errorf("stage %d: input stage takes no inputs", s.ID)
		}
		if s.Width != g.Lanes {
			return fmt.Errorf("stage %d: input width %d does not match lane count %d", s.ID, s.Width, g.Lanes)
		}
	case OpOutput:
		w, err := inWidth(1)
		if err != nil {
			return err
		}
		if s.Width != w {
			return fmt.Errorf("stage %d: output width %d does not match input width %d", s.ID, s.Width, w)
		}
	case OpConst:
		if len(s.Inputs) != 0 {
			return fmt.Errorf("stage %d: const stage takes no inputs", s.ID)
		}
		if s.CoeffLen == 0 || s.CoeffLen%uint32(s.Width) != 0 {
			return fmt.Errorf("stage %d: coeff length %d is not a multiple of width %d", s.ID, s.CoeffLen, s.Width)
		}
		if int(s.CoeffOff)+int(s.CoeffLen) > len(g.Coeff) {
			return fmt.Errorf("stage %d: coeff slice [%d:%d] exceeds payload size %d", s.ID, s.CoeffOff, s.CoeffOff+s.CoeffLen, len(g.Coeff))
		}
	case OpReg:
		w, err := inWidth(1)
		if err != nil {
			return err
		}
		if s.Width != w {
			return fmt.Errorf("stage %d: register width mismatch", s.ID)
		}
	case OpDelay:
		w, err := inWidth(1)
		if err != nil {
			return err
		}
		if s.Width != w {
			return fmt.Errorf("stage %d: delay width mismatch", s.ID)
		}
		if len(s.Args) != 1 {
			return fmt.Errorf("stage %d: delay needs a depth argument", s.ID)
		}
	case OpWindow:
		w, err := inWidth(1)
		if err != nil {
			return err
		}
		taps := s.Taps()
		if len(taps) == 0 || len(s.Args)%2 != 0 {
			return fmt.Errorf("stage %d: window needs (laneBack, tickDelay) pairs", s.ID)
		}
		for _, tap := range taps {
			if tap[0] >= int(w) {
				return fmt.Errorf("stage %d: lane borrow %d exceeds input width %d", s.ID, tap[0], w)
			}
		}
		if int(s.Width) != len(taps)*int(w) {
			return fmt.Errorf("stage %d: window width %d, want taps*%d = %d", s.ID, s.Width, w, len(taps)*int(w))
		}
	case OpPartition:
		w, err := inWidth(1)
		if err != nil {
			return err
		}
		if len(s.Args) != 2 {
			return fmt.Errorf("stage %d: partition needs offset and width arguments", s.ID)
		}
		off, pw := int(s.Args[0]), int(s.Args[1])
		if pw == 0 || off+pw > int(w) {
			return fmt.Errorf("stage %d: partition [%d:%d] exceeds input width %d", s.ID, off, off+pw, w)
		}
		if int(s.Width) != pw {
			return fmt.Errorf("stage %d: partition width mismatch", s.ID)
		}
	case OpPack:
		if len(s.Inputs) == 0 {
			return fmt.Errorf("stage %d: pack needs at least one input", s.ID)
		}
		total := 0
		for _, in := range s.Inputs {
			total += int(g.Stages[idx[in]].Width)
		}
		if int(s.Width) != total {
			return fmt.Errorf("stage %d: pack width %d, inputs total %d", s.ID, s.Width, total)
		}
	case OpReduce:
		w, err := inWidth(1)
		if err != nil {
			return err
		}
		if len(s.Args) != 2 {
			return fmt.Errorf("stage %d: reduce needs opcode and tap count arguments", s.ID)
		}
		op, taps := uint8(s.Args[0]), int(s.Args[1])
		if !kernels.Binary(op) {
			return fmt.Errorf("stage %d: reduce opcode 0x%02x is not a binary operation", s.ID, op)
		}
		if taps < 2 || int(w)%taps != 0 {
			return fmt.Errorf("stage %d: %d taps do not divide input width %d", s.ID, taps, w)
		}
		if int(s.Width) != int(w)/taps {
			return fmt.Errorf("stage %d: reduce width %d, want %d", s.ID, s.Width, int(w)/taps)
		}
	default:
		return fmt.Errorf("stage %d: unknown opcode 0x%02x", s.ID, s.Op)
	}
	return nil
}

// Optimize reorders stages into dependency order so the runtime can
// evaluate them front to back without indirection.
func (g *Graph) Optimize() error {
	order, err := g.TopoOrder()
	if err != nil {
		return err
	}
	reordered := make([]Stage, 0, len(g.Stages))
	for _, i := range order {
		reordered = append(reordered, g.Stages[i])
	}
	g.Stages = reordered
	return nil
}
