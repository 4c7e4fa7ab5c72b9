package runtime

import (
	"fmt"

	"github.com/sbl8/strobe/model"
)

// Load reads a compiled .strb file and builds an engine for it with
// default options.
func Load(path string) (*Engine, error) {
	return LoadWithOptions(path, nil)
}

// LoadWithOptions reads a compiled .strb file and builds an engine with
// the given options.
func LoadWithOptions(path string, opts *EngineOptions) (*Engine, error) {
	g, err := model.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return NewEngine(g, opts)
}
