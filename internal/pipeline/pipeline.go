// Package pipeline implements the ingestion loop: producers enqueue decoded
// frames without blocking, and a single consumer drains the queue on a fixed
// tick, updating rate, RMS, calibration and classification state.
//
// All consumer-owned state is mutated only inside a tick. Other goroutines
// reach it through Do, which runs a function inside the next tick, or read
// the current thresholds through the lock-free Thresholds accessor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/vibemon/internal/calib"
	"github.com/ColonelBlimp/vibemon/internal/dsp"
	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/ColonelBlimp/vibemon/internal/source"
	"github.com/ColonelBlimp/vibemon/internal/telemetry"
	"go.uber.org/zap"
)

// Pipeline defaults
const (
	// DefaultTickInterval is the consumer period (~60 Hz)
	DefaultTickInterval = 16 * time.Millisecond
	// DefaultBatchSize bounds the frames drained per tick
	DefaultBatchSize = 500
	// DefaultQueueSize is the capacity of the inbound queue
	DefaultQueueSize = 4096
	// DefaultRMSWindow is the window length when RMS is recomputed locally
	DefaultRMSWindow = 25

	controlQueueSize = 16
)

var (
	// ErrAlreadyRunning indicates Run was called twice
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrInvalidTickInterval indicates the tick period must be positive
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
	// ErrInvalidBatchSize indicates the batch size must be positive
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	// ErrInvalidQueueSize indicates the queue size must be positive
	ErrInvalidQueueSize = errors.New("queue size must be positive")
)

// Config holds configuration for the pipeline.
type Config struct {
	// TickInterval is the consumer period (from config: tick_interval)
	TickInterval time.Duration
	// BatchSize is the maximum frames processed per tick (from config: batch_size)
	BatchSize int
	// QueueSize is the inbound queue capacity (from config: queue_size)
	QueueSize int
	// RMSWindow is the local RMS window length (from config: rms_window)
	RMSWindow int
	// RecomputeRMS derives RMS from HPAbs locally instead of trusting the
	// device value (from config: recompute_rms)
	RecomputeRMS bool
	// Rate configures the rate/latency estimator
	Rate telemetry.RateConfig
	// MinSamples is the calibration minimum per class (from config: min_samples_per_class)
	MinSamples int
	// Limits bounds solved and loaded thresholds (from config: threshold_epsilon)
	Limits severity.Limits
	// Thresholds is the initial threshold set
	Thresholds severity.Thresholds
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: DefaultTickInterval,
		BatchSize:    DefaultBatchSize,
		QueueSize:    DefaultQueueSize,
		RMSWindow:    DefaultRMSWindow,
		Rate:         telemetry.DefaultRateConfig(),
		MinSamples:   calib.MinSamplesPerClass,
		Limits:       severity.DefaultLimits(),
		Thresholds:   severity.DefaultThresholds(),
	}
}

// Event is emitted for every processed frame.
type Event struct {
	Frame     source.Frame
	RMS       float64        // RMS used for classification
	Class     severity.Class // local classification
	RateHz    float64
	LatencyMS float64
	Captured  bool // stored in the calibration buffer
}

// Sink receives events on the consumer goroutine. Emit must be fast and
// must not block.
type Sink interface {
	Emit(Event)
}

// State is the consumer-owned state. It is only valid inside a function
// passed to Do and must not be retained.
type State struct {
	Calib *calib.Buffer
	Rate  *telemetry.RateEstimator
	RMS   *dsp.RMSWindow

	p *Pipeline
}

// Thresholds returns the active threshold set.
func (s *State) Thresholds() severity.Thresholds {
	return s.p.Thresholds()
}

// SetThresholds normalizes th and installs it as the active set.
func (s *State) SetThresholds(th severity.Thresholds) severity.Thresholds {
	th = th.Normalize(s.p.config.Limits)
	s.p.thresholds.Store(&th)
	return th
}

type command struct {
	fn   func(*State)
	done chan struct{}
}

// Pipeline is the single-consumer ingestion loop.
type Pipeline struct {
	config Config
	log    *zap.Logger
	solver *calib.Solver

	queue   chan source.Frame
	control chan command

	state      State
	thresholds atomic.Pointer[severity.Thresholds]

	sinksMu sync.RWMutex
	sinks   []Sink

	running   atomic.Bool
	processed atomic.Uint64
	dropped   atomic.Uint64

	droppedReported uint64 // consumer only
}

// New creates a pipeline. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) (*Pipeline, error) {
	if cfg.TickInterval <= 0 {
		return nil, ErrInvalidTickInterval
	}
	if cfg.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if cfg.QueueSize <= 0 {
		return nil, ErrInvalidQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	solver, err := calib.NewSolver(cfg.MinSamples, cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("calibration solver: %w", err)
	}
	rate, err := telemetry.NewRateEstimator(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("rate estimator: %w", err)
	}
	rms, err := dsp.NewRMSWindow(cfg.RMSWindow)
	if err != nil {
		return nil, fmt.Errorf("rms window: %w", err)
	}

	p := &Pipeline{
		config:  cfg,
		log:     log,
		solver:  solver,
		queue:   make(chan source.Frame, cfg.QueueSize),
		control: make(chan command, controlQueueSize),
	}
	p.state = State{
		Calib: calib.NewBuffer(),
		Rate:  rate,
		RMS:   rms,
		p:     p,
	}
	th := cfg.Thresholds.Normalize(cfg.Limits)
	p.thresholds.Store(&th)
	return p, nil
}

// AddSink registers a sink. Sinks added while running see subsequent events.
func (p *Pipeline) AddSink(s Sink) {
	p.sinksMu.Lock()
	defer p.sinksMu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Enqueue hands a frame to the consumer without blocking. It returns false
// and counts a drop when the queue is full. Safe for concurrent use; its
// signature matches source.EnqueueFunc.
func (p *Pipeline) Enqueue(f source.Frame) bool {
	select {
	case p.queue <- f:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Thresholds returns a copy of the active threshold set. Safe from any goroutine.
func (p *Pipeline) Thresholds() severity.Thresholds {
	return *p.thresholds.Load()
}

// Classify classifies rms against the active thresholds. Safe from any goroutine.
func (p *Pipeline) Classify(rms float64) severity.Class {
	return p.Thresholds().Classify(rms)
}

// QueueLen returns the number of frames waiting.
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}

// Processed returns the number of frames processed so far.
func (p *Pipeline) Processed() uint64 {
	return p.processed.Load()
}

// Dropped returns the number of frames rejected by Enqueue.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Run drives Tick every TickInterval until ctx is cancelled. It returns nil
// on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	p.log.Debug("pipeline started",
		zap.Duration("tick", p.config.TickInterval),
		zap.Int("batch", p.config.BatchSize),
		zap.Int("queue", p.config.QueueSize),
	)
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("pipeline stopped",
				zap.Uint64("processed", p.Processed()),
				zap.Uint64("dropped", p.Dropped()),
			)
			return nil
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick processes up to BatchSize queued frames and then every pending
// control command. It returns the number of frames processed. Hosts that
// drive their own loop may call Tick directly, but never concurrently with
// Run or another Tick.
func (p *Pipeline) Tick() int {
	n := 0
	for n < p.config.BatchSize {
		select {
		case f := <-p.queue:
			p.process(f)
			n++
			continue
		default:
		}
		break
	}

	for {
		select {
		case c := <-p.control:
			c.fn(&p.state)
			close(c.done)
			continue
		default:
		}
		break
	}

	if d := p.dropped.Load(); d != p.droppedReported {
		p.log.Warn("queue full, frames dropped",
			zap.Uint64("dropped", d-p.droppedReported),
			zap.Uint64("total_dropped", d),
		)
		p.droppedReported = d
	}
	return n
}

func (p *Pipeline) process(f source.Frame) {
	s := f.Sample
	rate, latency := p.state.Rate.Observe(s.DeviceMS, f.ReceivedAt)

	rms := s.RMS
	if p.config.RecomputeRMS {
		rms = p.state.RMS.Push(s.HPAbs)
	}

	ev := Event{
		Frame:     f,
		RMS:       rms,
		Class:     p.Thresholds().Classify(rms),
		RateHz:    rate,
		LatencyMS: latency,
		Captured:  p.state.Calib.Observe(rms),
	}
	p.processed.Add(1)

	p.sinksMu.RLock()
	sinks := p.sinks
	p.sinksMu.RUnlock()
	for _, sink := range sinks {
		sink.Emit(ev)
	}
}

// Do runs fn inside the next consumer tick and waits for it to complete.
// It blocks until the pipeline ticks (via Run or Tick) or ctx is done. If
// ctx ends after fn was queued, fn may still run later.
func (p *Pipeline) Do(ctx context.Context, fn func(*State)) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case p.control <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until the queue has been drained by the consumer.
func (p *Pipeline) Flush(ctx context.Context) error {
	for {
		if err := p.Do(ctx, func(*State) {}); err != nil {
			return err
		}
		if p.QueueLen() == 0 {
			return nil
		}
	}
}
