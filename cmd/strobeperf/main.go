// Command strobeperf measures pipeline throughput in ticks per second.
//
// It runs either the built-in sharpening pipeline or a compiled .strb
// model against synthetic input for a fixed number of ticks. The
// summary is registered as an exit hook so it is printed even when the
// run is cut short with an interrupt.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sbl8/strobe/core"
	"github.com/sbl8/strobe/runtime"
	"github.com/sbl8/strobe/sharpen"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "strobeperf:", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func newRootCmd() *cobra.Command {
	var (
		modelPath string
		ticks     int
	)

	root := &cobra.Command{
		Use:           "strobeperf [--model pipeline.strb] [--ticks n]",
		Short:         "Measure pipeline throughput",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(modelPath)
			if err != nil {
				return err
			}
			return measure(eng, ticks)
		},
	}
	root.Flags().StringVar(&modelPath, "model", "", "compiled .strb pipeline (default: built-in sharpen)")
	root.Flags().IntVar(&ticks, "ticks", 10_000_000, "ticks to execute")
	return root
}

func buildEngine(modelPath string) (*runtime.Engine, error) {
	opts := runtime.EngineOptions{EnableStats: true}
	if modelPath != "" {
		return runtime.LoadWithOptions(modelPath, &opts)
	}
	g, err := sharpen.Build()
	if err != nil {
		return nil, err
	}
	return runtime.NewEngine(g, &opts)
}

func measure(eng *runtime.Engine, ticks int) error {
	lanes := eng.Lanes()
	in := make([]core.Sample, lanes)

	start := time.Now()
	done := 0
	atexit.Register(func() {
		elapsed := time.Since(start)
		s := eng.Stats()
		rate := float64(done) / elapsed.Seconds()
		fmt.Printf("ticks=%d valid=%d elapsed=%s rate=%.0f ticks/s (%.1f MB/s)\n",
			done, s.ValidTicks, elapsed.Round(time.Millisecond), rate,
			rate*float64(lanes)/1e6)
	})

	for ; done < ticks; done++ {
		for j := range in {
			in[j] = core.Sample(done + j)
		}
		if _, _, err := eng.Tick(in, true); err != nil {
			return err
		}
	}
	return nil
}
