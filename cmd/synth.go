package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ColonelBlimp/vibemon/internal/source"
	"github.com/spf13/cobra"
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Write a deterministic synthetic sample log",
	Long: `Generates the same synthetic signal the monitor uses and writes it as a
sample log ("ms,ax,ay,az,mag,hp_abs,rms,label"), labelled with the active
thresholds. The output can be fed back with "monitor --replay".`,
	Args: cobra.NoArgs,
	RunE: runSynth,
}

func init() {
	f := synthCmd.Flags()
	f.Float64("seconds", 30, "duration in seconds")
	f.Float64("rate", 100, "sample rate in Hz")
	f.StringP("out", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	seconds, err := f.GetFloat64("seconds")
	if err != nil {
		return err
	}
	rate, err := f.GetFloat64("rate")
	if err != nil {
		return err
	}
	out, err := f.GetString("out")
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	samples, err := source.Synthesize(seconds, rate, a.loadThresholds())
	if err != nil {
		return err
	}

	if out == "" {
		return writeSamples(cmd.OutOrStdout(), samples)
	}
	file, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeSamples(file, samples); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeSamples(w io.Writer, samples []source.Sample) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, source.LogHeader)
	for _, s := range samples {
		fmt.Fprintln(bw, source.FormatRow(s))
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return nil
}
