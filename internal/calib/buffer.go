// Package calib collects operator-labelled RMS observations and solves the
// severity thresholds that best separate them.
package calib

import (
	"math"

	"github.com/ColonelBlimp/vibemon/internal/severity"
	"github.com/google/uuid"
)

// Pair is one labelled observation.
type Pair struct {
	Value float64
	Class severity.Class
}

// RawPair is a labelled observation before validation, as read from an
// external file.
type RawPair struct {
	Value string
	Label string
}

// Report counts the outcome of an import.
type Report struct {
	Added   int
	Skipped int
}

// Buffer holds one bucket of RMS observations per severity class. Capture is
// off by default; while it is on, Observe appends into the active class.
//
// Buffer is a single-writer structure. Use Snapshot to hand a copy to another
// goroutine.
type Buffer struct {
	buckets   [severity.NumClasses][]float64
	capturing bool
	active    severity.Class
	session   string
}

// NewBuffer returns an empty buffer with capture off and CALM active.
func NewBuffer() *Buffer {
	return &Buffer{active: severity.Calm}
}

// acceptable reports whether v may enter a bucket.
func acceptable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 1
}

// BeginCapture turns capture on for class c and starts a new capture session.
func (b *Buffer) BeginCapture(c severity.Class) string {
	if c.Valid() {
		b.active = c
	}
	b.capturing = true
	b.session = uuid.NewString()
	return b.session
}

// EndCapture turns capture off. Buckets are kept.
func (b *Buffer) EndCapture() {
	b.capturing = false
}

// Capturing reports whether capture is on.
func (b *Buffer) Capturing() bool {
	return b.capturing
}

// Session returns the id of the most recent capture session, or "" if
// capture has never been started.
func (b *Buffer) Session() string {
	return b.session
}

// SetActiveClass selects the bucket for subsequent captured and bulk
// imported values. Safe to call while capturing. Invalid classes are ignored.
func (b *Buffer) SetActiveClass(c severity.Class) {
	if c.Valid() {
		b.active = c
	}
}

// ActiveClass returns the currently selected bucket.
func (b *Buffer) ActiveClass() severity.Class {
	return b.active
}

// Observe appends rms to the active bucket when capturing. It reports whether
// the value was stored; values outside [0,1] or non-finite are dropped.
func (b *Buffer) Observe(rms float64) bool {
	if !b.capturing || !acceptable(rms) {
		return false
	}
	b.buckets[b.active] = append(b.buckets[b.active], rms)
	return true
}

// Add appends a single value to class c regardless of capture state.
func (b *Buffer) Add(c severity.Class, v float64) bool {
	if !c.Valid() || !acceptable(v) {
		return false
	}
	b.buckets[c] = append(b.buckets[c], v)
	return true
}

// Clear empties every bucket.
func (b *Buffer) Clear() {
	for i := range b.buckets {
		b.buckets[i] = nil
	}
}

// Counts returns the number of values held per class.
func (b *Buffer) Counts() [severity.NumClasses]int {
	var n [severity.NumClasses]int
	for i, bucket := range b.buckets {
		n[i] = len(bucket)
	}
	return n
}

// Len returns the total number of values held.
func (b *Buffer) Len() int {
	total := 0
	for _, bucket := range b.buckets {
		total += len(bucket)
	}
	return total
}

// Values returns a copy of the bucket for class c.
func (b *Buffer) Values(c severity.Class) []float64 {
	if !c.Valid() {
		return nil
	}
	return append([]float64(nil), b.buckets[c]...)
}

// Buckets returns a deep copy of all buckets, indexed by class.
func (b *Buffer) Buckets() [severity.NumClasses][]float64 {
	var out [severity.NumClasses][]float64
	for i, bucket := range b.buckets {
		out[i] = append([]float64(nil), bucket...)
	}
	return out
}

// Snapshot returns an independent copy of the buffer.
func (b *Buffer) Snapshot() *Buffer {
	return &Buffer{
		buckets:   b.Buckets(),
		capturing: b.capturing,
		active:    b.active,
		session:   b.session,
	}
}

// ImportPairs appends already-typed pairs, skipping invalid entries.
func (b *Buffer) ImportPairs(pairs []Pair) Report {
	var r Report
	for _, p := range pairs {
		if b.Add(p.Class, p.Value) {
			r.Added++
		} else {
			r.Skipped++
		}
	}
	return r
}

// ImportRawPairs validates and appends textual pairs. A pair with an
// unparseable value or an unknown label is skipped.
func (b *Buffer) ImportRawPairs(pairs []RawPair) Report {
	var r Report
	for _, p := range pairs {
		v, err := parseValue(p.Value)
		if err != nil {
			r.Skipped++
			continue
		}
		c, err := severity.Parse(p.Label)
		if err != nil {
			r.Skipped++
			continue
		}
		if b.Add(c, v) {
			r.Added++
		} else {
			r.Skipped++
		}
	}
	return r
}

// ImportBulkIntoActive appends values into the active class only.
func (b *Buffer) ImportBulkIntoActive(values []float64) Report {
	var r Report
	for _, v := range values {
		if b.Add(b.active, v) {
			r.Added++
		} else {
			r.Skipped++
		}
	}
	return r
}

// Pairs flattens the buffer into (value, class) pairs in class order.
func (b *Buffer) Pairs() []Pair {
	out := make([]Pair, 0, b.Len())
	for _, c := range severity.All() {
		for _, v := range b.buckets[c] {
			out = append(out, Pair{Value: v, Class: c})
		}
	}
	return out
}
