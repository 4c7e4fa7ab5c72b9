package sharpen

import "github.com/sbl8/strobe/core"

// Lanes is the filter's stream width: four interleaved pixel positions
// per tick.
const Lanes = 4

// Per-lane coefficient tables. The lanes carry interleaved positions of
// a repeating 4-pixel phase, and each phase gets its own bias,
// threshold, fallback, and gain. The outer lanes (0 and 3) sit at phase
// boundaries and use the stronger settings.
var (
	// biasTable is subtracted from the absolute gradient before the
	// edge threshold is applied.
	biasTable = []core.Sample{8, 6, 6, 8}

	// edgeThreshold classifies the biased gradient: below it the lane
	// is treated as an edge and the gradient itself feeds the add-back.
	edgeThreshold = []core.Sample{96, 112, 112, 96}

	// gainShift scales the add-back term by a right shift.
	gainShift = []core.Sample{2, 1, 1, 2}

	// flatBoost replaces the gradient on non-edge lanes, giving flat
	// regions a small fixed lift after the gain shift.
	flatBoost = []core.Sample{4, 2, 2, 4}
)
