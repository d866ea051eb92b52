// internal/source/replay.go
package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/vibemon/internal/recovery"
)

var (
	// ErrAlreadyRunning indicates Start was called on a running replay
	ErrAlreadyRunning = errors.New("replay already running")
	// ErrNotRunning indicates Stop was called on an idle replay
	ErrNotRunning = errors.New("replay not running")
	// ErrNoSamples indicates there is nothing to replay
	ErrNoSamples = errors.New("no samples to replay")
	// ErrEnqueueRequired indicates an enqueue function is required
	ErrEnqueueRequired = errors.New("enqueue function is required")
)

// MinReplayRateHz is the slowest replay rate accepted.
const MinReplayRateHz = 1.0

// EnqueueFunc hands a frame to the consumer. It must not block; it reports
// whether the frame was accepted.
type EnqueueFunc func(Frame) bool

// ReplayConfig holds configuration for sample playback.
type ReplayConfig struct {
	// Name is stamped on each frame as its Source
	Name string
	// RateHz is the playback rate, clamped to at least MinReplayRateHz (from config: sim_rate_hz)
	RateHz float64
	// Loop restarts from the first sample after the last (from config: sim_loop)
	Loop bool
}

// Replay plays a fixed set of samples into the pipeline at a steady rate.
// It only builds frames and enqueues them; all processing happens on the
// consumer side.
type Replay struct {
	config  ReplayConfig
	samples []Sample
	enqueue EnqueueFunc

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewReplay creates a replay producer. samples is not copied and must not be
// modified while the replay runs.
func NewReplay(cfg ReplayConfig, samples []Sample, enqueue EnqueueFunc) (*Replay, error) {
	if enqueue == nil {
		return nil, ErrEnqueueRequired
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if cfg.RateHz < MinReplayRateHz {
		cfg.RateHz = MinReplayRateHz
	}
	if cfg.Name == "" {
		cfg.Name = "replay"
	}
	done := make(chan struct{})
	close(done)
	return &Replay{
		config:  cfg,
		samples: samples,
		enqueue: enqueue,
		done:    done,
	}, nil
}

// Start begins playback in a new goroutine. Playback ends when the samples
// run out (unless looping), when Stop is called or when ctx is cancelled.
func (r *Replay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	done := r.done
	go func() {
		defer recovery.HandlePanicFunc(func() {
			close(done)
		})
		r.run(ctx)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		cancel()
		close(done)
	}()
	return nil
}

func (r *Replay) run(ctx context.Context) {
	period := time.Duration(float64(time.Second) / r.config.RateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	i := 0
	for {
		if i >= len(r.samples) {
			if !r.config.Loop {
				return
			}
			i = 0
		}
		frame := Frame{
			Sample:     r.samples[i],
			Source:     r.config.Name,
			ReceivedAt: time.Now(),
		}
		if r.enqueue(frame) {
			r.sent.Add(1)
		} else {
			r.dropped.Add(1)
		}
		i++

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends playback and waits for the goroutine to exit.
func (r *Replay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Done returns a channel closed when the current playback has finished.
func (r *Replay) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// IsRunning returns true while playback is active.
func (r *Replay) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Stats returns how many frames were accepted and rejected by the consumer.
func (r *Replay) Stats() (sent, dropped uint64) {
	return r.sent.Load(), r.dropped.Load()
}
