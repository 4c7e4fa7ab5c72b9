// Command strobec compiles .strs pipeline specs into .strb binaries.
//
// Usage:
//
//	strobec [flags] input.strs output.strb
//	strobec emit-sharpen output.strb
//
// emit-sharpen writes the built-in sharpening pipeline, which is
// constructed programmatically rather than from a spec file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbl8/strobe/compiler"
	"github.com/sbl8/strobe/sharpen"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "strobec:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := compiler.DefaultOptions()

	root := &cobra.Command{
		Use:           "strobec input.strs output.strb",
		Short:         "Compile pipeline specs to binary models",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compiler.CompileWithOptions(args[0], args[1], opts)
		},
	}
	root.Flags().BoolVarP(&opts.OptimizeLayout, "optimize", "O", opts.OptimizeLayout, "reorder stages into execution order")
	root.Flags().BoolVar(&opts.ValidateGraph, "validate", opts.ValidateGraph, "run structural and timing checks")
	root.Flags().BoolVar(&opts.DebugOutput, "debug", false, "write a gob sidecar next to the output")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print compilation progress")

	root.AddCommand(newEmitSharpenCmd(&opts.Verbose))
	return root
}

func newEmitSharpenCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "emit-sharpen output.strb",
		Short: "Write the built-in sharpening pipeline model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := sharpen.Build()
			if err != nil {
				return err
			}
			if *verbose {
				fl, _ := g.FillLatency()
				fmt.Printf("Built sharpening pipeline: %d stages, %d lanes, fill latency %d\n",
					g.StageCount(), g.Lanes, fl)
			}
			return g.SaveFile(args[0])
		},
	}
}
