package runtime

import (
	"errors"
	"fmt"

	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/model"
)

// ArenaRegion represents a distinct memory region within the Arena.
type ArenaRegion struct {
	Offset uintptr
	Size   uintptr
	Name   string
}

// Arena manages one pre-allocated byte slice for all mutable runtime
// state. Region layout, front to back:
//  1. Coefficient tables (copied from the model, then read-only)
//  2. Stage state (registers, delay rings, window rings)
//  3. Streaming window (current input batch staging)
//  4. Free tail (head-room for growth and hot-swap)
//
// All per-tick work reads and writes inside this buffer; after
// construction the engine performs no heap allocation.
type Arena struct {
	buffer  []byte
	regions map[string]ArenaRegion

	coeff      ArenaRegion
	coeffLen   uintptr // actual table bytes, before region alignment
	stageState ArenaRegion
	streaming  ArenaRegion
	freeTail   ArenaRegion

	stateOffset uintptr // bump allocator for the stage state region
}

// DefaultAlignment is used for allocations within the arena.
const DefaultAlignment = 8

// NewArena lays out an arena for the given graph. stateSize is the
// total stage state requirement, streamSize the staging window size,
// and totalSize an optional override that must cover the minimum.
func NewArena(g *model.Graph, stateSize, streamSize, totalSize uintptr) (*Arena, error) {
	if g == nil {
		return nil, errors.New("graph cannot be nil")
	}

	coeffSize := core.AlignedSize(uintptr(len(g.Coeff)))
	minSize := coeffSize + core.AlignedSize(stateSize) + core.AlignedSize(streamSize)
	minSize = core.AlignedSize(minSize)

	size := minSize
	if totalSize != 0 {
		size = core.AlignedSize(totalSize)
		if size < minSize {
			return nil, fmt.Errorf("arena size %d is below minimum %d", totalSize, minSize)
		}
	}
	if size == 0 {
		return nil, errors.New("cannot create zero-size arena")
	}

	a := &Arena{
		buffer:  core.AlignedBytes(int(size)),
		regions: make(map[string]ArenaRegion),
	}

	off := uintptr(0)
	off = a.layout(&a.coeff, "Coeff", off, coeffSize)
	off = a.layout(&a.stageState, "StageState", off, core.AlignedSize(stateSize))
	off = a.layout(&a.streaming, "Streaming", off, core.AlignedSize(streamSize))
	a.layout(&a.freeTail, "FreeTail", off, size-off)

	a.stateOffset = a.stageState.Offset
	a.coeffLen = uintptr(len(g.Coeff))
	copy(a.buffer[a.coeff.Offset:], g.Coeff)
	return a, nil
}

// layout records one region and returns the offset past it.
func (a *Arena) layout(r *ArenaRegion, name string, off, size uintptr) uintptr {
	*r = ArenaRegion{Offset: off, Size: size, Name: name}
	a.regions[name] = *r
	return off + size
}

// Region returns the named ArenaRegion.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	r, ok := a.regions[name]
	return r, ok
}

// Coeff returns the coefficient table slice for a stage.
func (a *Arena) Coeff(off, length uint32) ([]byte, error) {
	if uintptr(off)+uintptr(length) > a.coeffLen {
		return nil, fmt.Errorf("coeff slice [%d:%d] exceeds table size %d", off, off+length, a.coeffLen)
	}
	base := a.coeff.Offset + uintptr(off)
	return a.buffer[base : base+uintptr(length)], nil
}

// AllocStageState bump-allocates from the stage state region. Not
// thread-safe without external locking.
func (a *Arena) AllocStageState(size, alignment uintptr) ([]byte, error) {
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	off := (a.stateOffset + alignment - 1) &^ (alignment - 1)
	if off+size > a.stageState.Offset+a.stageState.Size {
		return nil, fmt.Errorf("stage state region exhausted: requested %d, %d remain", size, a.stageState.Offset+a.stageState.Size-off)
	}
	out := a.buffer[off : off+size]
	a.stateOffset = off + size
	return out, nil
}

// ResetStageState rewinds the stage state bump allocator.
func (a *Arena) ResetStageState() {
	a.stateOffset = a.stageState.Offset
}

// StreamingWindow returns the input staging slice.
func (a *Arena) StreamingWindow() ([]byte, error) {
	if a.streaming.Size == 0 {
		return nil, errors.New("no streaming region defined")
	}
	return a.buffer[a.streaming.Offset : a.streaming.Offset+a.streaming.Size], nil
}

// WriteToStreaming copies data into the streaming window.
func (a *Arena) WriteToStreaming(data []byte) error {
	window, err := a.StreamingWindow()
	if err != nil {
		return err
	}
	if len(data) > len(window) {
		return fmt.Errorf("data size %d exceeds streaming window size %d", len(data), len(window))
	}
	copy(window, data)
	return nil
}

// TotalSize returns the total capacity of the arena's buffer.
func (a *Arena) TotalSize() uintptr {
	return uintptr(len(a.buffer))
}

// UsedSize returns the committed size up to the start of the free tail.
func (a *Arena) UsedSize() uintptr {
	return a.freeTail.Offset
}

// RemainingSize returns the size of the free tail.
func (a *Arena) RemainingSize() uintptr {
	return a.freeTail.Size
}

// ZeroRegion sets all bytes in a named region to zero.
func (a *Arena) ZeroRegion(name string) error {
	r, ok := a.regions[name]
	if !ok {
		return fmt.Errorf("region %s not found", name)
	}
	for i := r.Offset; i < r.Offset+r.Size; i++ {
		a.buffer[i] = 0
	}
	return nil
}
