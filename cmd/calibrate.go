// cmd/calibrate.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ColonelBlimp/vibemon/internal/calib"
	"github.com/ColonelBlimp/vibemon/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Solve thresholds from labelled calibration data",
	Long: `Reads calibration CSV files ("rms,label" rows) and/or sample logs recorded
under a known class, fits a decision stump between each pair of adjacent
classes, and writes the resulting thresholds.

Examples:
  vibemon calibrate --in session1.csv --in session2.csv
  vibemon calibrate --from-log CALM=calm.log --from-log JUMP=jump.log --dry-run`,
	Args: cobra.NoArgs,
	RunE: runCalibrate,
}

func init() {
	f := calibrateCmd.Flags()
	f.StringArray("in", nil, "calibration CSV file (repeatable)")
	f.StringArray("from-log", nil, "CLASS=path sample log whose rms column is imported into CLASS (repeatable)")
	f.String("out", "", "thresholds file to write (default: configured thresholds file)")
	f.String("export", "", "write the merged calibration data to this CSV file")
	f.Int("min-samples", 30, "valid samples each class needs")
	f.Bool("dry-run", false, "print the solution without writing it")

	rootCmd.AddCommand(calibrateCmd)
}

type calibrateOptions struct {
	inputs []string
	logs   []string
	out    string
	export string
	dryRun bool
}

func calibrateFlags(cmd *cobra.Command) (calibrateOptions, error) {
	f := cmd.Flags()
	var o calibrateOptions
	var err error
	if o.inputs, err = f.GetStringArray("in"); err != nil {
		return o, err
	}
	if o.logs, err = f.GetStringArray("from-log"); err != nil {
		return o, err
	}
	if o.out, err = f.GetString("out"); err != nil {
		return o, err
	}
	if o.export, err = f.GetString("export"); err != nil {
		return o, err
	}
	if o.dryRun, err = f.GetBool("dry-run"); err != nil {
		return o, err
	}
	if len(o.inputs) == 0 && len(o.logs) == 0 {
		return o, errors.New("nothing to calibrate: pass --in or --from-log")
	}
	return o, nil
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	opts, err := calibrateFlags(cmd)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	buf := calib.NewBuffer()
	for _, path := range opts.inputs {
		rep, err := importFile(path, func(r io.Reader) (calib.Report, error) {
			return calib.ImportCSV(r, buf)
		})
		if err != nil {
			return err
		}
		a.log.Info("calibration file imported", zap.String("path", path), zap.Int("added", rep.Added), zap.Int("skipped", rep.Skipped))
	}
	for _, arg := range opts.logs {
		class, path, err := parseClassPath(arg)
		if err != nil {
			return err
		}
		buf.SetActiveClass(class)
		rep, err := importFile(path, func(r io.Reader) (calib.Report, error) {
			return calib.ImportLog(r, buf)
		})
		if err != nil {
			return err
		}
		a.log.Info("sample log imported", zap.Stringer("class", class), zap.String("path", path),
			zap.Int("added", rep.Added), zap.Int("skipped", rep.Skipped))
	}

	if opts.export != "" {
		if err := writeCalibration(opts.export, buf); err != nil {
			return err
		}
	}

	solver, err := calib.NewSolver(a.settings.MinSamplesPerClass, a.settings.Limits())
	if err != nil {
		return err
	}
	sol, err := solver.SolveBuffer(buf)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	w := cmd.OutOrStdout()
	printSolution(w, sol)
	if opts.dryRun {
		return nil
	}
	out := opts.out
	if out == "" {
		out = a.settings.ThresholdsPath()
	}
	if err := store.SaveFile(out, sol.Thresholds); err != nil {
		return err
	}
	fmt.Fprintf(w, "saved to %s\n", out)
	return nil
}

func importFile(path string, fn func(io.Reader) (calib.Report, error)) (calib.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return calib.Report{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	rep, err := fn(f)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}
