package severity

import (
	"errors"
	"fmt"
	"math"
)

// Default threshold values in g, used until a calibration or a thresholds
// file replaces them.
const (
	DefaultStruct = 0.03
	DefaultFoot   = 0.10
	DefaultKid    = 0.20
	DefaultJump   = 0.35

	// DefaultEpsilon is the minimum gap enforced between consecutive thresholds
	DefaultEpsilon = 0.005
	// DefaultMin is the smallest value any threshold may take
	DefaultMin = 0.001
	// DefaultMax caps the three lower thresholds
	DefaultMax = 0.6
	// DefaultJumpMax caps the jump threshold, which may sit above the plot range
	DefaultJumpMax = 1.0
)

var (
	// ErrInvalidEpsilon indicates the threshold gap must be positive
	ErrInvalidEpsilon = errors.New("threshold epsilon must be positive")
	// ErrInvalidRange indicates the threshold bounds cannot hold four ordered values
	ErrInvalidRange = errors.New("threshold range cannot hold four ordered thresholds")
)

// Thresholds is the ordered set of four decision boundaries. A value equal to
// a boundary belongs to the higher class.
type Thresholds struct {
	Struct float64 // CALM -> STRUCT
	Foot   float64 // STRUCT -> FOOT
	Kid    float64 // FOOT -> PLAY
	Jump   float64 // PLAY -> JUMP
}

// DefaultThresholds returns the factory threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Struct: DefaultStruct,
		Foot:   DefaultFoot,
		Kid:    DefaultKid,
		Jump:   DefaultJump,
	}
}

// Limits bounds the values a threshold set may take.
type Limits struct {
	Epsilon float64
	Min     float64
	Max     float64
	JumpMax float64
}

// DefaultLimits returns the limits used by calibration and the thresholds file.
func DefaultLimits() Limits {
	return Limits{
		Epsilon: DefaultEpsilon,
		Min:     DefaultMin,
		Max:     DefaultMax,
		JumpMax: DefaultJumpMax,
	}
}

// Validate checks that the limits leave room for four strictly increasing values.
func (l Limits) Validate() error {
	if !(l.Epsilon > 0) || math.IsInf(l.Epsilon, 0) {
		return ErrInvalidEpsilon
	}
	if l.Min < 0 || l.Max-l.Min < 3*l.Epsilon || l.JumpMax < l.Max {
		return fmt.Errorf("%w: min=%v max=%v jump_max=%v epsilon=%v",
			ErrInvalidRange, l.Min, l.Max, l.JumpMax, l.Epsilon)
	}
	return nil
}

// Values returns the thresholds in ascending class order.
func (t Thresholds) Values() [4]float64 {
	return [4]float64{t.Struct, t.Foot, t.Kid, t.Jump}
}

// FromValues builds a threshold set from values in ascending class order.
func FromValues(v [4]float64) Thresholds {
	return Thresholds{Struct: v[0], Foot: v[1], Kid: v[2], Jump: v[3]}
}

// Lower returns the threshold a value must reach to be classified as c.
// Calm has no lower threshold and returns 0.
func (t Thresholds) Lower(c Class) float64 {
	if c == Calm || !c.Valid() {
		return 0
	}
	return t.Values()[c-1]
}

// Classify maps an RMS value to its severity class.
func (t Thresholds) Classify(rms float64) Class {
	switch {
	case rms >= t.Jump:
		return Jump
	case rms >= t.Kid:
		return Play
	case rms >= t.Foot:
		return Foot
	case rms >= t.Struct:
		return Struct
	default:
		return Calm
	}
}

// Ordered reports whether every threshold exceeds its predecessor by at least eps.
func (t Thresholds) Ordered(eps float64) bool {
	v := t.Values()
	if !(v[0] > 0) {
		return false
	}
	for i := 1; i < len(v); i++ {
		// tolerate rounding from prev+eps arithmetic
		if v[i]-v[i-1] < eps-1e-12 {
			return false
		}
	}
	return true
}

// Normalize walks the thresholds in ascending order and pushes each one
// forward to at least previous+Epsilon, then clamps it into range. The upper
// clamp of the lower three thresholds is staggered by Epsilon so the result is
// strictly increasing even when the solver lands on the ceiling.
func (t Thresholds) Normalize(l Limits) Thresholds {
	v := t.Values()
	prev := math.Inf(-1)
	for i := range v {
		x := v[i]
		if math.IsNaN(x) {
			x = prev
		}
		if i > 0 && x < prev+l.Epsilon {
			x = prev + l.Epsilon
		}
		hi := l.Max - float64(2-i)*l.Epsilon
		if i == len(v)-1 {
			hi = l.JumpMax
		}
		x = clamp(x, l.Min, hi)
		v[i] = x
		prev = x
	}
	return FromValues(v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
