// cmd/monitor.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ColonelBlimp/vibemon/internal/calib"
	"github.com/ColonelBlimp/vibemon/internal/pipeline"
	"github.com/ColonelBlimp/vibemon/internal/recovery"
	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/source"
	"github.com/ColonelBlimp/vibemon/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// finishTimeout bounds the post-replay flush and calibration steps
const finishTimeout = 10 * time.Second

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream samples through the pipeline and classify them",
	Long: `Replays a recorded sample log (--replay) or a synthetic signal through the
ingestion pipeline, classifying every sample against the active thresholds.
With --capture the stream is also recorded for calibration; --calibrate
solves new thresholds at the end and --save writes them to the thresholds file.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	f := monitorCmd.Flags()
	f.String("replay", "", "sample log to replay (default: synthetic signal)")
	f.Float64("rate", 100, "sample rate in Hz")
	f.Float64("seconds", 30, "synthetic signal duration in seconds")
	f.Float64("speed", 1, "replay speed multiplier")
	f.Bool("loop", false, "restart the replay when it ends")
	f.Bool("recompute-rms", false, "derive RMS from hp_abs instead of the device value")
	f.Bool("watch", true, "reload thresholds when the file changes")
	f.String("capture", "", "record samples under this class for calibration")
	f.Bool("calibrate", false, "solve thresholds from the captured data at the end")
	f.Bool("save", false, "write calibrated thresholds to the thresholds file")
	f.String("export", "", "write the calibration buffer to this CSV file at the end")
	f.Duration("stats-interval", 5*time.Second, "log pipeline statistics at this interval (0 disables)")

	rootCmd.AddCommand(monitorCmd)
}

type monitorOptions struct {
	replay        string
	speed         float64
	capture       string
	calibrate     bool
	save          bool
	export        string
	statsInterval time.Duration
}

func monitorFlags(cmd *cobra.Command) (monitorOptions, error) {
	f := cmd.Flags()
	var o monitorOptions
	var err error
	if o.replay, err = f.GetString("replay"); err != nil {
		return o, err
	}
	if o.speed, err = f.GetFloat64("speed"); err != nil {
		return o, err
	}
	if o.capture, err = f.GetString("capture"); err != nil {
		return o, err
	}
	if o.calibrate, err = f.GetBool("calibrate"); err != nil {
		return o, err
	}
	if o.save, err = f.GetBool("save"); err != nil {
		return o, err
	}
	if o.export, err = f.GetString("export"); err != nil {
		return o, err
	}
	if o.statsInterval, err = f.GetDuration("stats-interval"); err != nil {
		return o, err
	}
	if o.speed <= 0 {
		return o, fmt.Errorf("speed must be positive, got %v", o.speed)
	}
	if o.save && !o.calibrate {
		return o, fmt.Errorf("--save requires --calibrate")
	}
	return o, nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	opts, err := monitorFlags(cmd)
	if err != nil {
		return err
	}
	var captureClass severity.Class
	if opts.capture != "" {
		if captureClass, err = severity.Parse(opts.capture); err != nil {
			return err
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	th := a.loadThresholds()
	p, err := pipeline.New(a.pipelineConfig(th), a.log)
	if err != nil {
		return err
	}
	p.AddSink(pipeline.NewLogSink(a.log))
	counter := &pipeline.ClassCounter{}
	p.AddSink(counter)

	samples, name, err := monitorSamples(a, opts, th)
	if err != nil {
		return err
	}
	replay, err := source.NewReplay(source.ReplayConfig{
		Name:   name,
		RateHz: a.settings.SimRateHz * opts.speed,
		Loop:   a.settings.SimLoop,
	}, samples, p.Enqueue)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The pipeline outlives the producer so the capture can be flushed and
	// calibrated after an interrupt.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var g errgroup.Group
	g.Go(func() error {
		defer recovery.HandlePanicLog(a.log, cancelRun)
		return p.Run(runCtx)
	})

	if a.settings.WatchThresholds {
		path := a.settings.ThresholdsPath()
		g.Go(func() error {
			defer recovery.HandlePanicLog(a.log, nil)
			return store.Watch(runCtx, path,
				func() {
					if _, err := p.ReloadThresholds(runCtx, path); err != nil {
						a.log.Debug("threshold reload skipped", zap.Error(err))
					}
				},
				func(err error) {
					a.log.Warn("threshold watcher", zap.Error(err))
				})
		})
	}

	g.Go(func() error {
		defer recovery.HandlePanicLog(a.log, nil)
		defer cancelRun()
		if opts.capture != "" {
			if _, err := p.BeginCapture(runCtx, captureClass); err != nil {
				return err
			}
		}
		if err := replay.Start(ctx); err != nil {
			return err
		}
		a.log.Info("monitor started",
			zap.String("source", name),
			zap.Int("samples", len(samples)),
			zap.Float64("rate_hz", a.settings.SimRateHz*opts.speed),
			zap.Bool("loop", a.settings.SimLoop),
		)
		waitReplay(runCtx, p, replay, opts.statsInterval, a.log)

		finishCtx, cancel := context.WithTimeout(runCtx, finishTimeout)
		defer cancel()
		if err := p.Flush(finishCtx); err != nil {
			return fmt.Errorf("flush pipeline: %w", err)
		}
		return finishMonitor(finishCtx, cmd.OutOrStdout(), a, p, counter, opts)
	})

	return g.Wait()
}

// monitorSamples loads the replay file or synthesizes a signal.
func monitorSamples(a *app, opts monitorOptions, th severity.Thresholds) ([]source.Sample, string, error) {
	if opts.replay == "" {
		samples, err := source.Synthesize(a.settings.SimSeconds, a.settings.SimRateHz, th)
		if err != nil {
			return nil, "", fmt.Errorf("synthesize: %w", err)
		}
		return samples, "synthetic", nil
	}

	f, err := os.Open(opts.replay)
	if err != nil {
		return nil, "", fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	lines, err := source.ReadLines(f)
	if err != nil {
		return nil, "", fmt.Errorf("read replay: %w", err)
	}
	samples, skipped := source.ParseRows(lines)
	if skipped > 0 {
		a.log.Warn("replay rows skipped", zap.String("path", opts.replay), zap.Int("skipped", skipped))
	}
	if len(samples) == 0 {
		return nil, "", fmt.Errorf("%s: %w", opts.replay, source.ErrNoSamples)
	}
	return samples, filepath.Base(opts.replay), nil
}

// waitReplay blocks until the replay ends, logging statistics periodically.
func waitReplay(ctx context.Context, p *pipeline.Pipeline, r *source.Replay, interval time.Duration, log *zap.Logger) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-r.Done():
			return
		case <-ctx.Done():
			return
		case <-tick:
			st, err := p.Stats(ctx)
			if err != nil {
				continue
			}
			log.Info("pipeline stats", statsFields(st)...)
		}
	}
}

func finishMonitor(ctx context.Context, w io.Writer, a *app, p *pipeline.Pipeline, counter *pipeline.ClassCounter, opts monitorOptions) error {
	if opts.capture != "" {
		if err := p.EndCapture(ctx); err != nil {
			return err
		}
	}

	st, err := p.Stats(ctx)
	if err != nil {
		return err
	}
	var classes [severity.NumClasses]int
	var mismatches int
	if err := p.Do(ctx, func(*pipeline.State) {
		classes = counter.Counts
		mismatches = counter.Mismatches
	}); err != nil {
		return err
	}
	printSummary(w, st, classes, mismatches)

	if opts.export != "" {
		snap, err := p.CalibrationSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := writeCalibration(opts.export, snap); err != nil {
			return err
		}
		a.log.Info("calibration exported", zap.String("path", opts.export), zap.Int("values", snap.Len()))
	}

	if opts.calibrate {
		sol, err := p.Calibrate(ctx)
		if err != nil {
			return fmt.Errorf("calibrate: %w", err)
		}
		printSolution(w, sol)
		if opts.save {
			path := a.settings.ThresholdsPath()
			if err := store.SaveFile(path, sol.Thresholds); err != nil {
				return err
			}
			a.log.Info("thresholds saved", zap.String("path", path))
		}
	}
	return nil
}

func writeCalibration(path string, b *calib.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := calib.ExportCSV(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func statsFields(st pipeline.Stats) []zap.Field {
	fields := []zap.Field{
		zap.Uint64("processed", st.Processed),
		zap.Uint64("dropped", st.Dropped),
		zap.Int("queued", st.Queued),
		zap.Float64("rate_hz", st.Telemetry.RateHz),
	}
	if st.Telemetry.LatencyValid {
		fields = append(fields,
			zap.Float64("latency_mean_ms", st.Telemetry.LatencyMean),
			zap.Float64("latency_p95_ms", st.Telemetry.LatencyP95),
		)
	}
	if st.Telemetry.ArrivalValid {
		fields = append(fields, zap.Float64("arrival_hz", st.Telemetry.ArrivalRate))
	}
	if st.Capturing {
		fields = append(fields, zap.Stringer("capturing", st.Active), zap.Int("captured", st.Counts[st.Active]))
	}
	return fields
}

func printSummary(w io.Writer, st pipeline.Stats, classes [severity.NumClasses]int, mismatches int) {
	fmt.Fprintf(w, "processed %d, dropped %d, rate %.1f Hz\n", st.Processed, st.Dropped, st.Telemetry.RateHz)
	if st.Telemetry.LatencyValid {
		fmt.Fprintf(w, "latency mean %.1f ms, p95 %.1f ms, max %.1f ms\n",
			st.Telemetry.LatencyMean, st.Telemetry.LatencyP95, st.Telemetry.LatencyMax)
	}
	fmt.Fprintln(w, "class     seen  captured")
	for _, c := range severity.All() {
		fmt.Fprintf(w, "%-8s %5d %9d\n", c, classes[c], st.Counts[c])
	}
	fmt.Fprintf(w, "device label mismatches: %d\n", mismatches)
}

func printSolution(w io.Writer, sol calib.Solution) {
	fmt.Fprintln(w, "boundary        cut       errors")
	for _, b := range sol.Boundaries {
		fmt.Fprintf(w, "%-6s/%-7s %.6f %6d\n", b.Lower, b.Higher, b.Cut, b.Errors)
	}
	fmt.Fprint(w, store.Save(sol.Thresholds))
}
