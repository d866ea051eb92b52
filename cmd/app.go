package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/ColonelBlimp/vibemon/internal/config"
	"github.com/ColonelBlimp/vibemon/internal/logging"
	"github.com/ColonelBlimp/vibemon/internal/pipeline"
	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/store"
	"go.uber.org/zap"
)

// app bundles the validated settings and logger shared by subcommands
type app struct {
	settings *config.Settings
	log      *zap.Logger
}

func newApp() (*app, error) {
	s, err := config.Get()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(s.EffectiveLogLevel(), s.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &app{settings: s, log: log}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

// loadThresholds reads the thresholds file over the defaults. A missing file
// is not an error; a read failure keeps whatever parsed before it.
func (a *app) loadThresholds() severity.Thresholds {
	path := a.settings.ThresholdsPath()
	th, rep, err := store.LoadFile(path, severity.DefaultThresholds(), a.settings.Limits())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.log.Debug("no thresholds file, using defaults", zap.String("path", path))
		return th
	case err != nil:
		a.log.Warn("thresholds file read failed", zap.String("path", path),
			zap.Strings("keys", rep.Applied), zap.Error(err))
		return th
	}
	if rep.Skipped > 0 {
		a.log.Warn("thresholds file has ignored lines", zap.String("path", path), zap.Int("skipped", rep.Skipped))
	}
	a.log.Debug("thresholds loaded", zap.String("path", path), zap.Strings("keys", rep.Applied))
	return th
}

func (a *app) pipelineConfig(th severity.Thresholds) pipeline.Config {
	s := a.settings
	return pipeline.Config{
		TickInterval: s.TickInterval,
		BatchSize:    s.BatchSize,
		QueueSize:    s.QueueSize,
		RMSWindow:    s.RMSWindow,
		RecomputeRMS: s.RecomputeRMS,
		Rate:         s.RateConfig(),
		MinSamples:   s.MinSamplesPerClass,
		Limits:       s.Limits(),
		Thresholds:   th,
	}
}

// parseClassPath splits "CLASS=path".
func parseClassPath(arg string) (severity.Class, string, error) {
	label, path, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(path) == "" {
		return 0, "", fmt.Errorf("expected CLASS=path, got %q", arg)
	}
	c, err := severity.Parse(label)
	if err != nil {
		return 0, "", err
	}
	return c, strings.TrimSpace(path), nil
}
