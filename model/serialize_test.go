package model

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sbl8/strobe/kernels"
)

// testGraph exercises every record field: inputs, args, coeff slices,
// and flags.
func testGraph() *Graph {
	return &Graph{
		Lanes: 4,
		Coeff: []byte{8, 6, 6, 8, 96, 112, 112, 96},
		Stages: []Stage{
			{ID: 0, Op: OpInput, Width: 4},
			{ID: 1, Op: OpWindow, Width: 8, Inputs: []uint16{0}, Args: []uint16{0, 0, 1, 0}},
			{ID: 2, Op: OpReduce, Width: 4, Inputs: []uint16{1}, Args: []uint16{uint16(kernels.OpSub), 2}},
			{ID: 3, Op: OpConst, Width: 4, CoeffOff: 0, CoeffLen: 4},
			{ID: 4, Op: OpReg, Width: 4, Inputs: []uint16{2}},
			{ID: 5, Op: kernels.OpAdd, Width: 4, Inputs: []uint16{4, 3}},
			{ID: 6, Op: OpDelay, Width: 4, Inputs: []uint16{5}, Args: []uint16{2}, Flags: FlagSynthetic},
			{ID: 7, Op: OpOutput, Width: 4, Inputs: []uint16{6}},
		},
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	g := testGraph()
	data, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeRejectsCorruption(t *testing.T) {
	t.Parallel()
	data, err := testGraph().Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	// Flip one byte in the stage table, past the header.
	corrupt := make([]byte, len(data))
	copy(corrupt, data)
	corrupt[30] ^= 0xFF
	if _, err := Deserialize(corrupt); err == nil {
		t.Error("Deserialize accepted a corrupted body")
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	t.Parallel()
	data, _ := testGraph().Serialize()
	data[0] = 'X'
	if _, err := Deserialize(data); err == nil {
		t.Error("Deserialize accepted bad magic")
	}
}

func TestDeserializeRejectsTruncation(t *testing.T) {
	t.Parallel()
	data, _ := testGraph().Serialize()
	for _, n := range []int{0, 3, 10, len(data) / 2} {
		if _, err := Deserialize(data[:n]); err == nil {
			t.Errorf("Deserialize accepted %d-byte prefix", n)
		}
	}
}

func TestDeserializeValidates(t *testing.T) {
	t.Parallel()
	// Structurally well-formed container around a graph with a timing
	// defect: loading must fail, not defer the problem to the runtime.
	g := &Graph{
		Lanes: 2,
		Stages: []Stage{
			{ID: 0, Op: OpInput, Width: 2},
			{ID: 1, Op: OpReg, Width: 2, Inputs: []uint16{0}},
			{ID: 2, Op: kernels.OpAdd, Width: 2, Inputs: []uint16{0, 1}},
			{ID: 3, Op: OpOutput, Width: 2, Inputs: []uint16{2}},
		},
	}
	data, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if _, err := Deserialize(data); err == nil {
		t.Error("Deserialize accepted a graph with mismatched latencies")
	}
}

func TestSaveLoadFile(t *testing.T) {
	t.Parallel()
	g := testGraph()
	path := filepath.Join(t.TempDir(), "pipeline.strb")
	if err := g.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("file round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGobRoundTrip(t *testing.T) {
	t.Parallel()
	g := testGraph()
	data, err := g.SerializeGob()
	if err != nil {
		t.Fatalf("SerializeGob: %v", err)
	}
	got, err := DeserializeGob(data)
	if err != nil {
		t.Fatalf("DeserializeGob: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("gob round trip mismatch (-want +got):\n%s", diff)
	}
}

func BenchmarkSerialize(b *testing.B) {
	g := testGraph()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Serialize(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDeserialize(b *testing.B) {
	data, err := testGraph().Serialize()
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Deserialize(data); err != nil {
			b.Fatal(err)
		}
	}
}
