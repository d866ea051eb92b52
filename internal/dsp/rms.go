// Package dsp implements the signal conditioning used on vibration samples.
package dsp

import (
	"errors"
	"math"
)

// resyncInterval is the number of evictions after which the running sum of
// squares is recomputed from the window contents to shed accumulated
// floating point error.
const resyncInterval = 1 << 16

var (
	// ErrInvalidWindow indicates the RMS window capacity must be positive
	ErrInvalidWindow = errors.New("rms window capacity must be positive")
)

// RMSWindow keeps the most recent values in a fixed-capacity ring and
// maintains their root-mean-square in O(1) per push.
type RMSWindow struct {
	buf   []float64
	pos   int // next write position
	count int // min(capacity, values accepted)

	sumSq     float64
	rms       float64
	evictions int
}

// NewRMSWindow creates a window holding up to capacity values (from config: rms_window).
func NewRMSWindow(capacity int) (*RMSWindow, error) {
	if capacity <= 0 {
		return nil, ErrInvalidWindow
	}
	return &RMSWindow{buf: make([]float64, capacity)}, nil
}

// Push adds a value and returns the RMS of the window. NaN and infinite
// values are rejected without touching the window; the previous RMS is
// returned.
func (w *RMSWindow) Push(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return w.rms
	}

	if w.count == len(w.buf) {
		old := w.buf[w.pos]
		w.sumSq -= old * old
		w.evictions++
	} else {
		w.count++
	}
	w.buf[w.pos] = v
	w.sumSq += v * v
	w.pos = (w.pos + 1) % len(w.buf)

	if w.evictions >= resyncInterval {
		w.resync()
	}
	if w.sumSq < 0 {
		w.sumSq = 0
	}

	w.rms = math.Sqrt(w.sumSq / float64(w.count))
	return w.rms
}

func (w *RMSWindow) resync() {
	var s float64
	for i := 0; i < w.count; i++ {
		s += w.buf[i] * w.buf[i]
	}
	w.sumSq = s
	w.evictions = 0
}

// RMS returns the current RMS without modifying the window.
func (w *RMSWindow) RMS() float64 {
	return w.rms
}

// Len returns the number of values currently in the window.
func (w *RMSWindow) Len() int {
	return w.count
}

// Capacity returns the maximum number of values held.
func (w *RMSWindow) Capacity() int {
	return len(w.buf)
}

// Values returns a copy of the window contents, oldest first.
func (w *RMSWindow) Values() []float64 {
	out := make([]float64, w.count)
	if w.count < len(w.buf) {
		copy(out, w.buf[:w.count])
		return out
	}
	n := copy(out, w.buf[w.pos:])
	copy(out[n:], w.buf[:w.pos])
	return out
}

// Reset empties the window.
func (w *RMSWindow) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.pos = 0
	w.count = 0
	w.sumSq = 0
	w.rms = 0
	w.evictions = 0
}
