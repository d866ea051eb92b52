// Package telemetry estimates sample rate and delivery latency of the
// incoming vibration stream.
package telemetry

import (
	"errors"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Estimator defaults
const (
	// DefaultInitialRateHz seeds the EMA before the first timestamp delta arrives
	DefaultInitialRateHz = 100.0
	// DefaultSmoothing is the weight given to each new instantaneous rate (EMA alpha)
	DefaultSmoothing = 0.1
	// DefaultHistorySize bounds the latency and arrival histories
	DefaultHistorySize = 1000
)

var (
	// ErrInvalidSmoothing indicates smoothing must be in (0, 1]
	ErrInvalidSmoothing = errors.New("rate smoothing must be in (0.0, 1.0]")
	// ErrInvalidInitialRate indicates the seed rate must be positive
	ErrInvalidInitialRate = errors.New("initial rate must be positive")
	// ErrInvalidHistorySize indicates history capacity must be positive
	ErrInvalidHistorySize = errors.New("history size must be positive")
)

// RateConfig holds configuration for the rate estimator.
type RateConfig struct {
	// InitialRateHz seeds the EMA (from config: initial_rate_hz)
	InitialRateHz float64
	// Smoothing is the EMA weight of a new sample (from config: rate_smoothing)
	Smoothing float64
	// HistorySize bounds latency/arrival histories (from config: latency_history)
	HistorySize int
}

// DefaultRateConfig returns the estimator defaults.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		InitialRateHz: DefaultInitialRateHz,
		Smoothing:     DefaultSmoothing,
		HistorySize:   DefaultHistorySize,
	}
}

// RateEstimator tracks an EMA of the device sampling rate and a one-way
// latency estimate. Latency assumes the device clock and the local clock
// are aligned; no skew correction is applied.
//
// It is not safe for concurrent use; the ingestion pipeline owns it.
type RateEstimator struct {
	config RateConfig

	lastMS  uint64
	hasLast bool
	rate    float64

	latency  *History // ms
	arrivals *History // local receive time, unix seconds
}

// NewRateEstimator creates an estimator with the given configuration.
func NewRateEstimator(cfg RateConfig) (*RateEstimator, error) {
	if !(cfg.Smoothing > 0 && cfg.Smoothing <= 1) {
		return nil, ErrInvalidSmoothing
	}
	if !(cfg.InitialRateHz > 0) {
		return nil, ErrInvalidInitialRate
	}
	if cfg.HistorySize <= 0 {
		return nil, ErrInvalidHistorySize
	}
	return &RateEstimator{
		config:   cfg,
		rate:     cfg.InitialRateHz,
		latency:  NewHistory(cfg.HistorySize),
		arrivals: NewHistory(cfg.HistorySize),
	}, nil
}

// Observe records one sample and returns the current rate estimate (Hz) and
// the latency of this sample in milliseconds.
//
// A device timestamp of zero is treated as absent: the rate is untouched and
// latency is reported as zero. Duplicate or backwards timestamps leave the
// rate unchanged but still become the reference for the next delta, so a
// wrapped or reset device clock recovers on the following sample.
func (e *RateEstimator) Observe(deviceMS uint64, received time.Time) (rateHz, latencyMS float64) {
	e.arrivals.Add(float64(received.UnixNano()) / 1e9)

	if deviceMS == 0 {
		e.latency.Add(0)
		return e.rate, 0
	}

	if e.hasLast && deviceMS > e.lastMS {
		inst := 1000.0 / float64(deviceMS-e.lastMS)
		e.rate = (1-e.config.Smoothing)*e.rate + e.config.Smoothing*inst
	}
	e.lastMS = deviceMS
	e.hasLast = true

	localMS := float64(received.UnixNano()) / 1e6
	latencyMS = localMS - float64(deviceMS)
	if latencyMS < 0 {
		latencyMS = 0
	}
	e.latency.Add(latencyMS)

	return e.rate, latencyMS
}

// Rate returns the current EMA rate estimate in Hz.
func (e *RateEstimator) Rate() float64 {
	return e.rate
}

// Reset clears timing history and reseeds the rate.
func (e *RateEstimator) Reset() {
	e.hasLast = false
	e.lastMS = 0
	e.rate = e.config.InitialRateHz
	e.latency.Reset()
	e.arrivals.Reset()
}

// Summary is a point-in-time view of the estimator's statistics.
type Summary struct {
	RateHz float64 // EMA of device sample rate

	// Latency statistics in ms; only valid when LatencyValid is set
	LatencyValid  bool
	LatencyLast   float64
	LatencyMean   float64
	LatencyMin    float64
	LatencyMax    float64
	LatencyStdDev float64
	LatencyP95    float64
	LatencyCount  int

	// ArrivalRate is messages per second from local receive times; only
	// valid when ArrivalValid is set
	ArrivalValid bool
	ArrivalRate  float64
}

// Summary computes latency and throughput statistics over the histories.
// Latency statistics need at least two samples, arrival rate three.
func (e *RateEstimator) Summary() Summary {
	s := Summary{RateHz: e.rate}

	if last, ok := e.latency.Last(); ok {
		s.LatencyLast = last
	}
	lat := e.latency.Values()
	s.LatencyCount = len(lat)
	if len(lat) >= 2 {
		s.LatencyValid = true
		s.LatencyMean = stat.Mean(lat, nil)
		s.LatencyStdDev = stat.StdDev(lat, nil)
		s.LatencyMin = floats.Min(lat)
		s.LatencyMax = floats.Max(lat)
		sorted := append([]float64(nil), lat...)
		sort.Float64s(sorted)
		s.LatencyP95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}

	arr := e.arrivals.Values()
	if len(arr) >= 3 {
		diffs := make([]float64, len(arr)-1)
		for i := 1; i < len(arr); i++ {
			diffs[i-1] = arr[i] - arr[i-1]
		}
		if mean := stat.Mean(diffs, nil); mean > 0 {
			s.ArrivalRate = 1 / mean
		}
		s.ArrivalValid = true
	}

	return s
}
