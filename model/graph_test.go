package model

import (
	"strings"
	"testing"

	"github.com/sbl8/strobe/kernels"
)

// chain builds input -> body stages -> output for a given lane width.
func chain(lanes uint16, body ...Stage) *Graph {
	stages := []Stage{{ID: 0, Op: OpInput, Width: lanes}}
	stages = append(stages, body...)
	last := stages[len(stages)-1]
	stages = append(stages, Stage{ID: 100, Op: OpOutput, Width: last.Width, Inputs: []uint16{last.ID}})
	return &Graph{Lanes: lanes, Stages: stages}
}

func TestValidatePassThrough(t *testing.T) {
	t.Parallel()
	g := chain(4, Stage{ID: 1, Op: kernels.OpPass, Width: 4, Inputs: []uint16{0}})
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsLatencyMismatch(t *testing.T) {
	t.Parallel()
	// The registered path and the direct path converge on the adder one
	// tick apart.
	g := chain(2,
		Stage{ID: 1, Op: OpReg, Width: 2, Inputs: []uint16{0}},
		Stage{ID: 2, Op: kernels.OpAdd, Width: 2, Inputs: []uint16{0, 1}},
	)
	err := g.Validate()
	if err == nil {
		t.Fatal("Validate accepted mismatched convergence")
	}
	if !strings.Contains(err.Error(), "latency mismatch") {
		t.Errorf("error %q does not name the latency mismatch", err)
	}
}

func TestValidateAcceptsBalancedConvergence(t *testing.T) {
	t.Parallel()
	g := chain(2,
		Stage{ID: 1, Op: OpReg, Width: 2, Inputs: []uint16{0}},
		Stage{ID: 2, Op: OpDelay, Width: 2, Inputs: []uint16{0}, Args: []uint16{1}},
		Stage{ID: 3, Op: kernels.OpAdd, Width: 2, Inputs: []uint16{1, 2}},
	)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConstAlignsWithAnyLatency(t *testing.T) {
	t.Parallel()
	g := chain(2,
		Stage{ID: 1, Op: OpReg, Width: 2, Inputs: []uint16{0}},
		Stage{ID: 2, Op: OpConst, Width: 2, CoeffOff: 0, CoeffLen: 2},
		Stage{ID: 3, Op: kernels.OpAdd, Width: 2, Inputs: []uint16{1, 2}},
	)
	g.Coeff = []byte{7, 7}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	t.Parallel()
	g := &Graph{
		Lanes: 1,
		Stages: []Stage{
			{ID: 0, Op: OpInput, Width: 1},
			{ID: 1, Op: kernels.OpAdd, Width: 1, Inputs: []uint16{0, 2}},
			{ID: 2, Op: kernels.OpPass, Width: 1, Inputs: []uint16{1}},
			{ID: 3, Op: OpOutput, Width: 1, Inputs: []uint16{2}},
		},
	}
	if err := g.Validate(); err == nil {
		t.Fatal("Validate accepted a cyclic graph")
	}
}

func TestValidateShapeErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		g    *Graph
	}{
		{
			"dangling input reference",
			chain(1, Stage{ID: 1, Op: kernels.OpPass, Width: 1, Inputs: []uint16{42}}),
		},
		{
			"duplicate stage ID",
			chain(1,
				Stage{ID: 1, Op: kernels.OpPass, Width: 1, Inputs: []uint16{0}},
				Stage{ID: 1, Op: kernels.OpPass, Width: 1, Inputs: []uint16{0}},
			),
		},
		{
			"width mismatch",
			chain(2, Stage{ID: 1, Op: kernels.OpPass, Width: 3, Inputs: []uint16{0}}),
		},
		{
			"wrong arity",
			chain(1, Stage{ID: 1, Op: kernels.OpAdd, Width: 1, Inputs: []uint16{0}}),
		},
		{
			"unknown opcode",
			chain(1, Stage{ID: 1, Op: 0x7F, Width: 1, Inputs: []uint16{0}}),
		},
		{
			"coeff out of bounds",
			chain(1, Stage{ID: 1, Op: OpConst, Width: 1, CoeffOff: 0, CoeffLen: 4}),
		},
		{
			"partition out of bounds",
			chain(4, Stage{ID: 1, Op: OpPartition, Width: 2, Inputs: []uint16{0}, Args: []uint16{3, 2}}),
		},
		{
			"reduce with non-binary opcode",
			chain(4, Stage{ID: 1, Op: OpReduce, Width: 2, Inputs: []uint16{0}, Args: []uint16{uint16(kernels.OpSelect), 2}}),
		},
		{
			"reduce taps do not divide",
			chain(4, Stage{ID: 1, Op: OpReduce, Width: 1, Inputs: []uint16{0}, Args: []uint16{uint16(kernels.OpSub), 3}}),
		},
		{
			"window lane borrow too wide",
			chain(2, Stage{ID: 1, Op: OpWindow, Width: 2, Inputs: []uint16{0}, Args: []uint16{2, 0}}),
		},
		{
			"window width mismatch",
			chain(2, Stage{ID: 1, Op: OpWindow, Width: 2, Inputs: []uint16{0}, Args: []uint16{0, 0, 1, 0}}),
		},
		{
			"no stages",
			&Graph{Lanes: 1},
		},
		{
			"two inputs",
			&Graph{Lanes: 1, Stages: []Stage{
				{ID: 0, Op: OpInput, Width: 1},
				{ID: 1, Op: OpInput, Width: 1},
				{ID: 2, Op: OpOutput, Width: 1, Inputs: []uint16{0}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.g.Validate(); err == nil {
				t.Error("Validate succeeded, want error")
			}
		})
	}
}

func TestFillLatency(t *testing.T) {
	t.Parallel()
	// A window reaching one tick back plus a register: fill 2, even
	// though registered latency on the output path is only 1.
	g := chain(4,
		Stage{ID: 1, Op: OpWindow, Width: 8, Inputs: []uint16{0}, Args: []uint16{0, 0, 1, 0}},
		Stage{ID: 2, Op: OpReduce, Width: 4, Inputs: []uint16{1}, Args: []uint16{uint16(kernels.OpSub), 2}},
		Stage{ID: 3, Op: OpReg, Width: 4, Inputs: []uint16{2}},
	)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	fill, err := g.FillLatency()
	if err != nil {
		t.Fatalf("FillLatency: %v", err)
	}
	if fill != 2 {
		t.Errorf("FillLatency = %d, want 2", fill)
	}
}

func TestAnalyzeLatencies(t *testing.T) {
	t.Parallel()
	g := chain(1,
		Stage{ID: 1, Op: OpReg, Width: 1, Inputs: []uint16{0}},
		Stage{ID: 2, Op: OpDelay, Width: 1, Inputs: []uint16{1}, Args: []uint16{3}},
	)
	a, err := g.Analyze()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := []int{0, 1, 4, 4} // input, reg, delay, output
	for i, w := range want {
		if a.Latency[i] != w {
			t.Errorf("stage %d latency = %d, want %d", i, a.Latency[i], w)
		}
	}
}

func TestOptimizeOrdersStages(t *testing.T) {
	t.Parallel()
	// Stages deliberately listed backwards.
	g := &Graph{
		Lanes: 1,
		Stages: []Stage{
			{ID: 3, Op: OpOutput, Width: 1, Inputs: []uint16{2}},
			{ID: 2, Op: kernels.OpPass, Width: 1, Inputs: []uint16{1}},
			{ID: 1, Op: kernels.OpPass, Width: 1, Inputs: []uint16{0}},
			{ID: 0, Op: OpInput, Width: 1},
		},
	}
	if err := g.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	for i, want := range []uint16{0, 1, 2, 3} {
		if g.Stages[i].ID != want {
			t.Errorf("position %d holds stage %d, want %d", i, g.Stages[i].ID, want)
		}
	}
}

func TestStageLatency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    Stage
		want int
	}{
		{Stage{Op: OpReg}, 1},
		{Stage{Op: OpDelay, Args: []uint16{5}}, 5},
		{Stage{Op: OpDelay, Args: []uint16{0}}, 0},
		{Stage{Op: kernels.OpAdd}, 0},
		{Stage{Op: OpWindow}, 0},
	}
	for _, tt := range tests {
		if got := tt.s.Latency(); got != tt.want {
			t.Errorf("op 0x%02x Latency() = %d, want %d", tt.s.Op, got, tt.want)
		}
	}
}
