// Command stroberun streams raw bytes through a compiled pipeline.
//
// It reads Lanes bytes per tick from the input, ticks the engine, and
// writes each valid output vector to the output. With no --in/--out it
// filters stdin to stdout. Settings can also come from STROBE_*
// environment variables, so the model path does not need to be repeated
// on every invocation of a processing script.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sbl8/strobe/runtime"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stroberun:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("strobe")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "stroberun --model pipeline.strb [--in raw] [--out raw]",
		Short:         "Stream raw samples through a compiled pipeline",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, cmd.OutOrStdout())
		},
	}

	flags := root.Flags()
	flags.String("model", "", "compiled .strb pipeline")
	flags.String("in", "", "input file (default stdin)")
	flags.String("out", "", "output file (default stdout)")
	flags.Bool("stats", false, "print execution stats to stderr")
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	return root
}

func run(v *viper.Viper, stdout io.Writer) error {
	modelPath := v.GetString("model")
	if modelPath == "" {
		return fmt.Errorf("no pipeline model given (--model or STROBE_MODEL)")
	}

	opts := runtime.EngineOptions{EnableStats: v.GetBool("stats")}
	eng, err := runtime.LoadWithOptions(modelPath, &opts)
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if path := v.GetString("in"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	out := stdout
	if path := v.GetString("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := stream(eng, in, out); err != nil {
		return err
	}

	if opts.EnableStats {
		s := eng.Stats()
		fmt.Fprintf(os.Stderr, "ticks=%d valid=%d arena=%dB util=%.2f\n",
			s.Ticks, s.ValidTicks, eng.ArenaBytes(), s.ArenaUtilization)
	}
	return nil
}

// stream drives the engine one vector per tick until the input is
// exhausted, then drains the in-flight outputs with invalid ticks. A
// trailing partial vector is zero-padded; its lanes carry real data and
// stay part of the valid stream.
func stream(eng *runtime.Engine, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)
	defer w.Flush()

	lanes := eng.Lanes()
	buf := make([]byte, lanes)
	for {
		n, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			for i := n; i < lanes; i++ {
				buf[i] = 0
			}
		} else if err != nil {
			return err
		}

		res, valid, terr := eng.TickBytes(buf, true)
		if terr != nil {
			return terr
		}
		if valid {
			if _, err := w.Write(res); err != nil {
				return err
			}
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	for i := 0; i < eng.FillLatency(); i++ {
		for j := range buf {
			buf[j] = 0
		}
		res, valid, err := eng.TickBytes(buf, false)
		if err != nil {
			return err
		}
		if !valid {
			break
		}
		if _, err := w.Write(res); err != nil {
			return err
		}
	}
	return nil
}
