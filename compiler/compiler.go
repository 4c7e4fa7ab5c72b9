package compiler

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sbl8/strobe/model"
)

// Compile turns a .strs text spec into a binary .strb file.
func Compile(src, out string) error {
	return CompileWithOptions(src, out, DefaultOptions())
}

// CompileOptions configures the compilation process.
type CompileOptions struct {
	OptimizeLayout bool // Reorder stages into execution order
	ValidateGraph  bool // Run the full structural and timing checks
	DebugOutput    bool // Also write a gob sidecar for inspection
	Verbose        bool // Print progress to stdout
}

// DefaultOptions provides sensible compilation defaults.
func DefaultOptions() CompileOptions {
	return CompileOptions{
		OptimizeLayout: true,
		ValidateGraph:  true,
	}
}

// CompileWithOptions reads a .strs spec, parses and checks it, and
// writes the .strb container.
func CompileWithOptions(src, out string, opts CompileOptions) error {
	if opts.Verbose {
		fmt.Printf("Compiling %s -> %s\n", src, out)
	}

	spec, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	g, err := ParseSpec(spec)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	if opts.Verbose {
		fmt.Printf("Parsed %d stages, %d lanes, %d coefficient bytes\n",
			len(g.Stages), g.Lanes, len(g.Coeff))
	}

	if opts.ValidateGraph {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("validation error: %w", err)
		}
		if opts.Verbose {
			fmt.Println("Graph validation passed")
		}
	}

	if opts.OptimizeLayout {
		if err := g.Optimize(); err != nil {
			return fmt.Errorf("layout error: %w", err)
		}
		if opts.Verbose {
			fmt.Println("Stages reordered into execution order")
		}
	}

	if err := g.SaveFile(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if opts.DebugOutput {
		data, err := g.SerializeGob()
		if err != nil {
			return fmt.Errorf("encode debug sidecar: %w", err)
		}
		if err := os.WriteFile(out+".gob", data, 0o644); err != nil {
			return fmt.Errorf("write debug sidecar: %w", err)
		}
		if opts.Verbose {
			fmt.Printf("Wrote debug sidecar %s.gob\n", out)
		}
	}

	if opts.Verbose {
		fmt.Printf("Successfully compiled to %s\n", out)
	}
	return nil
}

// --- .strs parser ---
//
// Line-oriented format. Blank lines and # comments are skipped.
//
//	lanes <n>
//	coeff <hex>
//	stage <id> <op> <width> [in=a,b,...] [args=x,y,...] [coeff=off,len] [flags=f]
//	iterate <var> <start> <end> { ... }
//
// iterate expands its block once per value, substituting bare tokens
// equal to <var>. Numbers accept any base strconv understands, so
// opcodes are usually written in hex.

// ParseSpec parses .strs source into an unvalidated graph.
func ParseSpec(src []byte) (*model.Graph, error) {
	lines := strings.Split(string(src), "\n")
	p := &specParser{g: &model.Graph{}}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var err error
		i, err = p.parseLine(lines, i)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", i+1, err)
		}
	}
	return p.g, nil
}

// specParser holds parse state for one file.
type specParser struct {
	g *model.Graph
}

// parseLine processes a single line and returns the next line index.
func (p *specParser) parseLine(lines []string, idx int) (int, error) {
	line := strings.TrimSpace(lines[idx])
	fields := strings.Fields(line)

	if fields[0] == "iterate" {
		return p.parseIterateBlock(lines, idx, fields)
	}
	return idx, p.processSimpleLine(fields)
}

// processSimpleLine handles lanes, coeff, and stage directives.
func (p *specParser) processSimpleLine(fields []string) error {
	switch fields[0] {
	case "lanes":
		return p.parseLanesLine(fields)
	case "coeff":
		return p.parseCoeffLine(fields)
	case "stage":
		return p.parseStageLine(fields)
	default:
		return fmt.Errorf("unknown directive: %s", fields[0])
	}
}

func (p *specParser) parseLanesLine(fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("lanes directive needs one value")
	}
	n, err := strconv.ParseUint(fields[1], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid lane count %q: %v", fields[1], err)
	}
	p.g.Lanes = uint16(n)
	return nil
}

func (p *specParser) parseCoeffLine(fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("coeff directive needs hex data")
	}
	data, err := hex.DecodeString(fields[1])
	if err != nil {
		return fmt.Errorf("invalid coeff data %q: %v", fields[1], err)
	}
	p.g.Coeff = append(p.g.Coeff, data...)
	return nil
}

// parseStageLine parses a stage directive into a Stage record.
func (p *specParser) parseStageLine(fields []string) error {
	if len(fields) < 4 {
		return fmt.Errorf("stage needs at least id, op, and width")
	}

	id, err := strconv.ParseUint(fields[1], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid stage id %q: %v", fields[1], err)
	}
	op, err := strconv.ParseUint(fields[2], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid opcode %q: %v", fields[2], err)
	}
	width, err := strconv.ParseUint(fields[3], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid width %q: %v", fields[3], err)
	}

	s := model.Stage{ID: uint16(id), Op: uint8(op), Width: uint16(width)}
	for _, opt := range fields[4:] {
		if err := parseStageOption(&s, opt); err != nil {
			return err
		}
	}
	p.g.Stages = append(p.g.Stages, s)
	return nil
}

// parseStageOption handles key=value stage options.
func parseStageOption(s *model.Stage, opt string) error {
	key, val, ok := strings.Cut(opt, "=")
	if !ok {
		return fmt.Errorf("malformed stage option %q", opt)
	}
	switch key {
	case "in":
		list, err := parseUint16List(val)
		if err != nil {
			return fmt.Errorf("invalid in list %q: %v", val, err)
		}
		s.Inputs = list
	case "args":
		list, err := parseUint16List(val)
		if err != nil {
			return fmt.Errorf("invalid args list %q: %v", val, err)
		}
		s.Args = list
	case "coeff":
		list, err := parseUint16List(val)
		if err != nil || len(list) != 2 {
			return fmt.Errorf("coeff option needs off,len")
		}
		s.CoeffOff = uint32(list[0])
		s.CoeffLen = uint32(list[1])
	case "flags":
		f, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid flags %q: %v", val, err)
		}
		s.Flags = uint32(f)
	default:
		return fmt.Errorf("unknown stage option %q", key)
	}
	return nil
}

func parseUint16List(val string) ([]uint16, error) {
	parts := strings.Split(val, ",")
	out := make([]uint16, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseUint(part, 0, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

// parseIterateBlock handles iterate constructs.
func (p *specParser) parseIterateBlock(lines []string, idx int, fields []string) (int, error) {
	if len(fields) < 4 {
		return idx, fmt.Errorf("invalid iterate spec: %s", strings.Join(fields, " "))
	}

	varName := fields[1]
	start, err := strconv.Atoi(fields[2])
	if err != nil {
		return idx, fmt.Errorf("invalid iterate start %q: %v", fields[2], err)
	}
	end, err := strconv.Atoi(fields[3])
	if err != nil {
		return idx, fmt.Errorf("invalid iterate end %q: %v", fields[3], err)
	}

	blockStart := idx
	if fields[len(fields)-1] != "{" {
		blockStart++
		for blockStart < len(lines) && strings.TrimSpace(lines[blockStart]) == "" {
			blockStart++
		}
		if blockStart >= len(lines) || strings.TrimSpace(lines[blockStart]) != "{" {
			return idx, fmt.Errorf("missing '{' after iterate")
		}
	}

	block, blockEnd, err := collectBlockLines(lines, blockStart)
	if err != nil {
		return idx, err
	}

	for v := start; v <= end; v++ {
		for _, line := range block {
			expanded := expandVariable(line, varName, v)
			if err := p.processSimpleLine(strings.Fields(expanded)); err != nil {
				return idx, fmt.Errorf("iterate expansion: %v", err)
			}
		}
	}
	return blockEnd, nil
}

// collectBlockLines gathers lines within braces.
func collectBlockLines(lines []string, startIdx int) ([]string, int, error) {
	var block []string
	for i := startIdx + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "}" {
			return block, i, nil
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			block = append(block, line)
		}
	}
	return nil, len(lines), fmt.Errorf("unterminated iterate block")
}

// expandVariable replaces bare occurrences of varName with value.
func expandVariable(line, varName string, value int) string {
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == varName {
			fields[i] = strconv.Itoa(value)
		}
	}
	return strings.Join(fields, " ")
}
