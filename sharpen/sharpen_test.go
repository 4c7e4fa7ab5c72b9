package sharpen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/model"
)

func TestBuildValidates(t *testing.T) {
	t.Parallel()
	g, err := Build()
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.Equal(t, uint16(Lanes), g.Lanes)

	fill, err := g.FillLatency()
	require.NoError(t, err)
	assert.Equal(t, 2, fill)
}

func TestBuildNeedsNoSyntheticDelays(t *testing.T) {
	t.Parallel()
	// The construction declares its own balancing delay lines; if the
	// builder has to insert one, the declared timing is wrong.
	g, err := Build()
	require.NoError(t, err)
	for _, s := range g.Stages {
		assert.Zero(t, s.Flags&model.FlagSynthetic,
			"stage %d needed a synthetic delay", s.ID)
	}
}

func TestFillLatency(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)
	assert.Equal(t, 2, f.FillLatency())

	flat := [Lanes]core.Sample{10, 10, 10, 10}
	_, ok := f.Process(flat)
	assert.False(t, ok, "tick 0 valid")
	_, ok = f.Process(flat)
	assert.False(t, ok, "tick 1 valid")
	_, ok = f.Process(flat)
	assert.True(t, ok, "tick 2 invalid")
}

func TestFlatRegionGetsUnitLift(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)

	flat := [Lanes]core.Sample{50, 50, 50, 50}
	for i := 0; i < 2; i++ {
		f.Process(flat)
	}
	for i := 0; i < 8; i++ {
		out, ok := f.Process(flat)
		require.True(t, ok, "tick %d", i)
		assert.Equal(t, [Lanes]core.Sample{51, 51, 51, 51}, out, "tick %d", i)
	}
}

func TestFlatLiftWrapsAt255(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)

	flat := [Lanes]core.Sample{255, 255, 255, 255}
	for i := 0; i < 2; i++ {
		f.Process(flat)
	}
	out, ok := f.Process(flat)
	require.True(t, ok)
	assert.Equal(t, [Lanes]core.Sample{0, 0, 0, 0}, out, "mod-256 add-back must wrap, not saturate")
}

func TestStepEdge(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)

	// Flat run of 10s, then a step up to 200 inside one vector.
	inputs := [][Lanes]core.Sample{
		{10, 10, 10, 10},
		{10, 10, 10, 10},
		{10, 10, 10, 10},
		{10, 10, 200, 200},
		{200, 200, 200, 200},
	}
	var outs [][Lanes]core.Sample
	for _, in := range inputs {
		if out, ok := f.Process(in); ok {
			outs = append(outs, out)
		}
	}
	require.Len(t, outs, 3)

	// Flat ticks lift by one.
	assert.Equal(t, [Lanes]core.Sample{11, 11, 11, 11}, outs[0])
	assert.Equal(t, [Lanes]core.Sample{11, 11, 11, 11}, outs[1])

	// The step vector: lane 2 sees gradient 190, |d| = 66, biased 60,
	// under the threshold, so the raw gradient is scaled (190 >> 1 =
	// 95) and added back: 200 + 95 wraps to 39. Lane 3's neighbor is
	// also 200, so it takes the flat path.
	assert.Equal(t, [Lanes]core.Sample{11, 11, 39, 201}, outs[2])
}

func TestLaneZeroBorrowsAcrossTick(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)

	// The step lands exactly on a tick boundary: lane 0's gradient
	// must come from lane 3 of the previous vector.
	inputs := [][Lanes]core.Sample{
		{10, 10, 10, 10},
		{10, 10, 10, 10},
		{10, 10, 10, 10},
		{200, 200, 200, 200},
		{200, 200, 200, 200},
	}
	var outs [][Lanes]core.Sample
	for _, in := range inputs {
		if out, ok := f.Process(in); ok {
			outs = append(outs, out)
		}
	}
	require.Len(t, outs, 3)

	// Lane 0 of the step vector: d = 200 - 10 = 190, edge path,
	// 200 + (190 >> 2) = 247. Lanes 1..3 are flat at 200.
	assert.Equal(t, [Lanes]core.Sample{247, 201, 201, 201}, outs[2])
}

func TestRunStreamsWholeBuffer(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)

	in := make([]core.Sample, 64)
	for i := range in {
		in[i] = 80
	}
	out, err := f.Run(in)
	require.NoError(t, err)
	// One tick of output stays in flight behind the register stage.
	assert.Len(t, out, 60)
	for i, s := range out {
		assert.Equal(t, core.Sample(81), s, "sample %d", i)
	}
}

func TestResetRestoresFill(t *testing.T) {
	t.Parallel()
	f, err := NewFilter()
	require.NoError(t, err)

	flat := [Lanes]core.Sample{30, 30, 30, 30}
	for i := 0; i < 3; i++ {
		f.Process(flat)
	}
	_, ok := f.Process(flat)
	require.True(t, ok)

	f.Reset()
	_, ok = f.Process(flat)
	assert.False(t, ok, "fill must restart after Reset")
}

func TestDeterministicAcrossInstances(t *testing.T) {
	t.Parallel()
	run := func() []core.Sample {
		f, err := NewFilter()
		require.NoError(t, err)
		in := make([]core.Sample, 128)
		for i := range in {
			in[i] = core.Sample(i*i + 3)
		}
		out, err := f.Run(in)
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, run(), run())
}

// An input perturbed at a single tick must leave every earlier output
// untouched and surface exactly fill ticks later, nothing sooner.
func TestPerturbedTickSurfacesAtItsOutputTick(t *testing.T) {
	t.Parallel()
	const ticks = 20
	const divergeAt = 5

	feed := func(perturb bool) [][Lanes]core.Sample {
		f, err := NewFilter()
		require.NoError(t, err)
		var outs [][Lanes]core.Sample
		for tick := 0; tick < ticks; tick++ {
			in := [Lanes]core.Sample{
				core.Sample(tick * 3), core.Sample(tick * 5),
				core.Sample(tick * 7), core.Sample(tick * 11),
			}
			if perturb && tick == divergeAt {
				in[2] += 90
			}
			out, ok := f.Process(in)
			if ok {
				outs = append(outs, out)
			}
		}
		return outs
	}

	base := feed(false)
	perturbed := feed(true)
	require.Len(t, perturbed, len(base))

	f, err := NewFilter()
	require.NoError(t, err)
	fill := f.FillLatency()

	// Output index i carries tick i+fill. A lane-2 perturbation reaches
	// the output only through the newest window tap, one registered tick
	// later, so exactly the divergeAt+1 output moves.
	hit := divergeAt + 1 - fill
	for i := range base {
		if i == hit {
			assert.NotEqual(t, base[i], perturbed[i], "output %d should feel the perturbed tick", i)
		} else {
			assert.Equal(t, base[i], perturbed[i], "output %d", i)
		}
	}
}

func BenchmarkFilter(b *testing.B) {
	f, err := NewFilter()
	if err != nil {
		b.Fatal(err)
	}
	var in [Lanes]core.Sample

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in[0] = core.Sample(i)
		f.Process(in)
	}
}
