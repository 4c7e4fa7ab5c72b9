package model

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/klauspost/compress/zstd"
)

// .strb container layout, little-endian throughout:
//
//	magic    [4]byte  "STRB"
//	version  uint16
//	lanes    uint16
//	stages   uint32
//	rawLen   uint32   coefficient payload size before compression
//	compLen  uint32   coefficient payload size on disk
//	crc      uint32   IEEE CRC-32 of stage records + compressed payload
//	stage records, then the zstd-compressed coefficient payload
//
// Stage record:
//
//	id uint16, op uint8, pad uint8, width uint16, nInputs uint16,
//	nArgs uint16, flags uint32, coeffOff uint32, coeffLen uint32,
//	inputs [nInputs]uint16, args [nArgs]uint16
var strbMagic = [4]byte{'S', 'T', 'R', 'B'}

const strbVersion uint16 = 1

// Serialize encodes the graph into the .strb container format. The
// coefficient payload is zstd-compressed; the stage table stays raw so
// a corrupted file fails the CRC before any stage is interpreted.
func (g *Graph) Serialize() ([]byte, error) {
	var body bytes.Buffer
	for i := range g.Stages {
		s := &g.Stages[i]
		if len(s.Inputs) > 0xFFFF || len(s.Args) > 0xFFFF {
			return nil, fmt.Errorf("stage %d: too many inputs or arguments", s.ID)
		}
		fields := []any{
			s.ID, s.Op, uint8(0), s.Width,
			uint16(len(s.Inputs)), uint16(len(s.Args)),
			s.Flags, s.CoeffOff, s.CoeffLen,
		}
		for _, f := range fields {
			if err := binary.Write(&body, binary.LittleEndian, f); err != nil {
				return nil, err
			}
		}
		for _, in := range s.Inputs {
			if err := binary.Write(&body, binary.LittleEndian, in); err != nil {
				return nil, err
			}
		}
		for _, a := range s.Args {
			if err := binary.Write(&body, binary.LittleEndian, a); err != nil {
				return nil, err
			}
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init compressor: %w", err)
	}
	comp := enc.EncodeAll(g.Coeff, nil)
	enc.Close()
	body.Write(comp)

	var out bytes.Buffer
	out.Write(strbMagic[:])
	header := []any{
		strbVersion, g.Lanes,
		uint32(len(g.Stages)),
		uint32(len(g.Coeff)), uint32(len(comp)),
		crc32.ChecksumIEEE(body.Bytes()),
	}
	for _, f := range header {
		if err := binary.Write(&out, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Deserialize decodes a .strb container, verifying magic, version, and
// CRC before touching the stage table.
func Deserialize(data []byte) (*Graph, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != strbMagic {
		return nil, fmt.Errorf("not a pipeline model file")
	}
	var version, lanes uint16
	var stageCount, rawLen, compLen, crc uint32
	for _, f := range []any{&version, &lanes, &stageCount, &rawLen, &compLen, &crc} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("truncated header: %w", err)
		}
	}
	if version != strbVersion {
		return nil, fmt.Errorf("unsupported model version %d", version)
	}

	body := data[len(data)-r.Len():]
	if crc32.ChecksumIEEE(body) != crc {
		return nil, fmt.Errorf("model checksum mismatch")
	}

	g := &Graph{
		Lanes:  lanes,
		Stages: make([]Stage, 0, stageCount),
	}
	for i := uint32(0); i < stageCount; i++ {
		var s Stage
		var pad uint8
		var nInputs, nArgs uint16
		fields := []any{
			&s.ID, &s.Op, &pad, &s.Width,
			&nInputs, &nArgs,
			&s.Flags, &s.CoeffOff, &s.CoeffLen,
		}
		for _, f := range fields {
			if err := binary.Read(r, binary.LittleEndian, f); err != nil {
				return nil, fmt.Errorf("truncated stage table: %w", err)
			}
		}
		if nInputs > 0 {
			s.Inputs = make([]uint16, nInputs)
			for j := range s.Inputs {
				if err := binary.Read(r, binary.LittleEndian, &s.Inputs[j]); err != nil {
					return nil, fmt.Errorf("truncated stage table: %w", err)
				}
			}
		}
		if nArgs > 0 {
			s.Args = make([]uint16, nArgs)
			for j := range s.Args {
				if err := binary.Read(r, binary.LittleEndian, &s.Args[j]); err != nil {
					return nil, fmt.Errorf("truncated stage table: %w", err)
				}
			}
		}
		g.Stages = append(g.Stages, s)
	}

	comp := make([]byte, compLen)
	if _, err := r.Read(comp); err != nil && compLen > 0 {
		return nil, fmt.Errorf("truncated coefficient payload: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init decompressor: %w", err)
	}
	defer dec.Close()
	g.Coeff, err = dec.DecodeAll(comp, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("decompress coefficients: %w", err)
	}
	if len(g.Coeff) != int(rawLen) {
		return nil, fmt.Errorf("coefficient payload is %d bytes, header says %d", len(g.Coeff), rawLen)
	}
	if rawLen == 0 {
		g.Coeff = nil
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("validate loaded model: %w", err)
	}
	return g, nil
}

// SaveFile serializes the graph and writes it to path.
func (g *Graph) SaveFile(path string) error {
	data, err := g.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads and deserializes a .strb file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

// SerializeGob encodes the graph with encoding/gob. Debug interchange
// only; the .strb container is the canonical format.
func (g *Graph) SerializeGob() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeGob decodes a gob-encoded graph.
func DeserializeGob(data []byte) (*Graph, error) {
	var g Graph
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
