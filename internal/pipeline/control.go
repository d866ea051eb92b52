// internal/pipeline/control.go
package pipeline

import (
	"context"
	"fmt"

	"github.com/ColonelBlimp/vibemon/internal/calib"
	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/store"
	"github.com/ColonelBlimp/vibemon/internal/telemetry"
	"go.uber.org/zap"
)

// Stats is a point-in-time view of consumer state.
type Stats struct {
	Telemetry  telemetry.Summary
	Thresholds severity.Thresholds
	Counts     [severity.NumClasses]int
	Capturing  bool
	Active     severity.Class
	Session    string
	Processed  uint64
	Dropped    uint64
	Queued     int
}

// BeginCapture starts calibration capture into class c and returns the
// new session id.
func (p *Pipeline) BeginCapture(ctx context.Context, c severity.Class) (string, error) {
	if !c.Valid() {
		return "", fmt.Errorf("%w: %d", severity.ErrUnknownClass, c)
	}
	var session string
	err := p.Do(ctx, func(s *State) {
		session = s.Calib.BeginCapture(c)
	})
	if err != nil {
		return "", err
	}
	p.log.Info("calibration capture started",
		zap.Stringer("class", c),
		zap.String("session", session),
	)
	return session, nil
}

// EndCapture stops calibration capture.
func (p *Pipeline) EndCapture(ctx context.Context) error {
	var counts [severity.NumClasses]int
	err := p.Do(ctx, func(s *State) {
		s.Calib.EndCapture()
		counts = s.Calib.Counts()
	})
	if err != nil {
		return err
	}
	p.log.Info("calibration capture stopped", countFields(counts)...)
	return nil
}

// SetActiveClass switches the class new captures are stored under.
func (p *Pipeline) SetActiveClass(ctx context.Context, c severity.Class) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %d", severity.ErrUnknownClass, c)
	}
	return p.Do(ctx, func(s *State) {
		s.Calib.SetActiveClass(c)
	})
}

// ClearCalibration empties the calibration buffer.
func (p *Pipeline) ClearCalibration(ctx context.Context) error {
	return p.Do(ctx, func(s *State) {
		s.Calib.Clear()
	})
}

// ImportPairs adds labelled values to the calibration buffer.
func (p *Pipeline) ImportPairs(ctx context.Context, pairs []calib.Pair) (calib.Report, error) {
	var rep calib.Report
	err := p.Do(ctx, func(s *State) {
		rep = s.Calib.ImportPairs(pairs)
	})
	return rep, err
}

// ImportBulk adds unlabelled values to the active class.
func (p *Pipeline) ImportBulk(ctx context.Context, values []float64) (calib.Report, error) {
	var rep calib.Report
	err := p.Do(ctx, func(s *State) {
		rep = s.Calib.ImportBulkIntoActive(values)
	})
	return rep, err
}

// CalibrationSnapshot returns a copy of the calibration buffer that is safe
// to use outside the consumer.
func (p *Pipeline) CalibrationSnapshot(ctx context.Context) (*calib.Buffer, error) {
	var snap *calib.Buffer
	err := p.Do(ctx, func(s *State) {
		snap = s.Calib.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Calibrate solves thresholds from the calibration buffer and installs
// them. On failure the active thresholds are left unchanged.
func (p *Pipeline) Calibrate(ctx context.Context) (calib.Solution, error) {
	var (
		sol      calib.Solution
		solveErr error
	)
	err := p.Do(ctx, func(s *State) {
		sol, solveErr = p.solver.SolveBuffer(s.Calib)
		if solveErr == nil {
			sol.Thresholds = s.SetThresholds(sol.Thresholds)
		}
	})
	if err != nil {
		return calib.Solution{}, err
	}
	if solveErr != nil {
		p.log.Warn("calibration failed, thresholds unchanged", zap.Error(solveErr))
		return calib.Solution{}, solveErr
	}
	p.log.Info("calibration applied", thresholdFields(sol.Thresholds)...)
	return sol, nil
}

// ReplaceThresholds normalizes th and installs it as the active set.
func (p *Pipeline) ReplaceThresholds(ctx context.Context, th severity.Thresholds) (severity.Thresholds, error) {
	var applied severity.Thresholds
	err := p.Do(ctx, func(s *State) {
		applied = s.SetThresholds(th)
	})
	if err != nil {
		return severity.Thresholds{}, err
	}
	p.log.Info("thresholds replaced", thresholdFields(applied)...)
	return applied, nil
}

// ReloadThresholds reads a threshold file on top of the active set and
// installs the result. Keys missing from the file keep their current value.
func (p *Pipeline) ReloadThresholds(ctx context.Context, path string) (store.Report, error) {
	var (
		rep     store.Report
		loadErr error
		applied severity.Thresholds
	)
	err := p.Do(ctx, func(s *State) {
		var th severity.Thresholds
		th, rep, loadErr = store.LoadFile(path, s.Thresholds(), p.config.Limits)
		if loadErr == nil {
			applied = s.SetThresholds(th)
		}
	})
	if err != nil {
		return store.Report{}, err
	}
	if loadErr != nil {
		p.log.Warn("threshold reload failed", zap.String("path", path), zap.Error(loadErr))
		return rep, loadErr
	}
	fields := append(thresholdFields(applied),
		zap.String("path", path),
		zap.Strings("applied", rep.Applied),
		zap.Int("skipped", rep.Skipped),
	)
	p.log.Info("thresholds reloaded", fields...)
	return rep, nil
}

// Stats collects a snapshot of consumer state.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.Do(ctx, func(s *State) {
		st.Telemetry = s.Rate.Summary()
		st.Counts = s.Calib.Counts()
		st.Capturing = s.Calib.Capturing()
		st.Active = s.Calib.ActiveClass()
		st.Session = s.Calib.Session()
	})
	if err != nil {
		return Stats{}, err
	}
	st.Thresholds = p.Thresholds()
	st.Processed = p.Processed()
	st.Dropped = p.Dropped()
	st.Queued = p.QueueLen()
	return st, nil
}

func thresholdFields(th severity.Thresholds) []zap.Field {
	return []zap.Field{
		zap.Float64("struct", th.Struct),
		zap.Float64("foot", th.Foot),
		zap.Float64("kid", th.Kid),
		zap.Float64("jump", th.Jump),
	}
}

func countFields(counts [severity.NumClasses]int) []zap.Field {
	fields := make([]zap.Field, 0, len(counts))
	for _, c := range severity.All() {
		fields = append(fields, zap.Int(c.String(), counts[c]))
	}
	return fields
}
