package runtime

import (
	"fmt"

	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/model"
)

// windowTap is one resolved tap of a window stage. laneBack lanes of the
// output come from one tick further in the past than the rest: a stream
// carrying W interleaved positions per tick wraps position j-s into
// lane W+(j-s) of the previous tick whenever j-s underflows.
type windowTap struct {
	laneBack int
	delay    int
}

// windowState assembles tap vectors from the input stream's history. It
// owns one ring over raw input vectors plus a read cursor per distinct
// age any tap needs. The newest tap (delay 0, no borrow) is the live
// input of the current tick and never touches the ring.
//
// A window has zero latency relative to its newest tap. Older taps only
// affect fill: until the ring holds real history the slots read as
// invalid, which poisons the window's valid and gates the output.
type windowState struct {
	taps  []windowTap
	width int // input lane count

	ring    *core.Ring
	cursors map[int]*core.Cursor

	scratch []core.Sample // one input vector, reused across taps
	borrow  []core.Sample
}

// windowStateBytes returns the arena requirement for a window stage.
func windowStateBytes(s *model.Stage, inWidth int) uintptr {
	depth := windowDepth(s)
	if depth == 0 {
		return 0
	}
	return uintptr(core.RingBytes(inWidth, depth))
}

// windowDepth returns the ring depth a window needs: the oldest age any
// tap reads, or zero when every tap is live.
func windowDepth(s *model.Stage) int {
	depth := 0
	for _, tap := range s.Taps() {
		need := tap[1]
		if tap[0] > 0 {
			need++
		}
		if need > depth {
			depth = need
		}
	}
	return depth
}

// newWindowState builds the ring and cursors for one window stage.
func newWindowState(a *Arena, s *model.Stage, inWidth int) (*windowState, error) {
	w := &windowState{
		width:   inWidth,
		cursors: make(map[int]*core.Cursor),
		scratch: make([]core.Sample, inWidth),
		borrow:  make([]core.Sample, inWidth),
	}
	for _, tap := range s.Taps() {
		w.taps = append(w.taps, windowTap{laneBack: tap[0], delay: tap[1]})
	}

	depth := windowDepth(s)
	if depth == 0 {
		return w, nil
	}

	buf, err := a.AllocStageState(uintptr(core.RingBytes(inWidth, depth)), 0)
	if err != nil {
		return nil, err
	}
	w.ring, err = core.NewRing(buf, inWidth, depth)
	if err != nil {
		return nil, err
	}
	for _, tap := range w.taps {
		ages := []int{tap.delay}
		if tap.laneBack > 0 {
			ages = append(ages, tap.delay+1)
		}
		for _, age := range ages {
			if age == 0 {
				continue
			}
			if _, ok := w.cursors[age]; ok {
				continue
			}
			cur, err := w.ring.Cursor(age)
			if err != nil {
				return nil, fmt.Errorf("window cursor: %w", err)
			}
			w.cursors[age] = cur
		}
	}
	return w, nil
}

// vectorAt fetches the input vector from age ticks ago into dst. Age
// zero is the live input. Cursors are read before the latch-phase push,
// so age n is the input of tick t-n.
func (w *windowState) vectorAt(age int, live []core.Sample, liveValid bool, dst []core.Sample) bool {
	if age == 0 {
		copy(dst, live)
		return liveValid
	}
	return w.cursors[age].Read(dst)
}

// borrowAt fetches the single lane a shifted tap borrows from one tick
// further back, paired with that vector's validity.
func (w *windowState) borrowAt(age, lane int, live []core.Sample, liveValid bool) core.Token {
	ok := w.vectorAt(age, live, liveValid, w.borrow)
	return core.Token{Value: w.borrow[lane], Valid: ok}
}

// evaluate assembles the window output: one input-width vector per tap,
// concatenated in tap order. The result is valid only when every vector
// any tap touched was valid.
func (w *windowState) evaluate(live []core.Sample, liveValid bool, out []core.Sample) bool {
	valid := true
	for t, tap := range w.taps {
		base := t * w.width
		ok := w.vectorAt(tap.delay, live, liveValid, w.scratch)
		valid = valid && ok

		if tap.laneBack == 0 {
			copy(out[base:base+w.width], w.scratch)
			continue
		}

		// Shifted tap: lane j reads lane j-s, borrowing the top lanes
		// of the vector one tick older for the underflowed positions.
		for j := 0; j < w.width; j++ {
			src := j - tap.laneBack
			if src >= 0 {
				out[base+j] = w.scratch[src]
				continue
			}
			tok := w.borrowAt(tap.delay+1, w.width+src, live, liveValid)
			out[base+j] = tok.Value
			valid = valid && tok.Valid
		}
	}
	return valid
}

// latch pushes the current input vector into the ring.
func (w *windowState) latch(live []core.Sample, liveValid bool) error {
	if w.ring == nil {
		return nil
	}
	return w.ring.Push(live, liveValid)
}

// reset clears the ring back to the invalid pre-fill state.
func (w *windowState) reset() {
	if w.ring != nil {
		w.ring.Reset()
	}
	for i := range w.scratch {
		w.scratch[i] = 0
	}
	for i := range w.borrow {
		w.borrow[i] = 0
	}
}
