// Package strobe is a streaming synchronous-dataflow runtime for 8-bit
// sample pipelines.
//
// A pipeline is a fixed circuit of stages driven by a single logical
// clock. Every tick, a vector of samples enters, every stage computes,
// registered stages latch, and a vector leaves. Values are unsigned
// 8-bit with mod-256 wraparound; each vector carries a valid flag, and
// stages always compute while validity decides what counts downstream.
//
// Architecture:
//
//	.strs spec ──strobec──> .strb model ──stroberun──> sample stream
//	     │                        │
//	  compiler                 runtime
//	  (builder, parser,        (engine, arena,
//	   latency balancing)       delay lines, windows)
//
// Package layout:
//   - core: samples, tokens, modulo counters, counter-addressed rings
//   - kernels: the combinational opcode catalog and coefficient LUTs
//   - model: the stage graph, validation, timing analysis, .strb codec
//   - compiler: the Builder API and the .strs text front end
//   - runtime: the two-phase tick engine and its arena
//   - sharpen: the built-in four-lane image sharpening pipeline
//
// Timing discipline: paths that reconverge must have passed through the
// same number of registers. The compiler balances them automatically
// with synthetic delay lines and fails construction when balance cannot
// be achieved, so a running pipeline never mixes samples from different
// ticks.
package strobe
