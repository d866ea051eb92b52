package telemetry

// History is a fixed-capacity ring of float64 samples. When full, the oldest
// sample is overwritten.
type History struct {
	data  []float64
	pos   int
	count int
}

// NewHistory creates a ring holding up to capacity samples. A non-positive
// capacity yields a ring of one.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{data: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest when full.
func (h *History) Add(v float64) {
	h.data[h.pos] = v
	h.pos = (h.pos + 1) % len(h.data)
	if h.count < len(h.data) {
		h.count++
	}
}

// Len returns the number of samples held.
func (h *History) Len() int {
	return h.count
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.data)
}

// Last returns the most recent sample.
func (h *History) Last() (float64, bool) {
	if h.count == 0 {
		return 0, false
	}
	i := (h.pos - 1 + len(h.data)) % len(h.data)
	return h.data[i], true
}

// Values returns a copy of the samples, oldest first.
func (h *History) Values() []float64 {
	if h.count == 0 {
		return nil
	}
	out := make([]float64, h.count)
	if h.count < len(h.data) {
		copy(out, h.data[:h.count])
		return out
	}
	n := copy(out, h.data[h.pos:])
	copy(out[n:], h.data[:h.pos])
	return out
}

// Reset drops all samples.
func (h *History) Reset() {
	h.pos = 0
	h.count = 0
}
