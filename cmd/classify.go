package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/source"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [rms...]",
	Short: "Classify RMS values against the active thresholds",
	Long: `Prints the severity class of each RMS value given on the command line, or
with --log classifies every row of a sample log and reports how often the
result differs from the label the device recorded.`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().String("log", "", "sample log to classify")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	logPath, err := cmd.Flags().GetString("log")
	if err != nil {
		return err
	}
	if len(args) == 0 && logPath == "" {
		return fmt.Errorf("pass RMS values or --log")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	th := a.loadThresholds()
	w := cmd.OutOrStdout()

	for _, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid rms %q: %w", arg, err)
		}
		fmt.Fprintf(w, "%s %s\n", arg, th.Classify(v))
	}

	if logPath == "" {
		return nil
	}
	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	lines, err := source.ReadLines(f)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	samples, skipped := source.ParseRows(lines)

	var counts, agree [severity.NumClasses]int
	for _, s := range samples {
		c := th.Classify(s.RMS)
		counts[c]++
		if s.HasLabel && s.Label == c {
			agree[c]++
		}
	}
	fmt.Fprintf(w, "%d samples, %d rows skipped\n", len(samples), skipped)
	fmt.Fprintln(w, "class     count  agree")
	for _, c := range severity.All() {
		fmt.Fprintf(w, "%-8s %6d %6d\n", c, counts[c], agree[c])
	}
	return nil
}
