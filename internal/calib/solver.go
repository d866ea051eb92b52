package calib

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ColonelBlimp/vibemon/internal/severity"
)

const (
	// MinSamplesPerClass is the default minimum number of valid values each
	// class needs before a calibration is attempted
	MinSamplesPerClass = 30

	// edgeOffset places the two half-line candidates just outside the data
	edgeOffset = 1e-6
	// distinctTolerance merges values closer than this into one candidate
	distinctTolerance = 1e-12
)

var (
	// ErrInsufficientData indicates some class has too few valid samples
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrUnsolvable indicates an adjacent class pair could not be separated
	ErrUnsolvable = errors.New("adjacent classes could not be separated")
	// ErrInvalidMinSamples indicates the minimum sample count must be positive
	ErrInvalidMinSamples = errors.New("minimum samples per class must be positive")
)

// InsufficientDataError names the first class that failed the minimum.
type InsufficientDataError struct {
	Class severity.Class
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient calibration data: %s has %d valid samples, need %d", e.Class, e.Have, e.Need)
}

// Is makes errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Boundary is the decision stump fitted between two adjacent classes.
type Boundary struct {
	Lower  severity.Class
	Higher severity.Class
	Cut    float64 // value at or above which Higher is predicted
	Errors int     // training samples on the wrong side of Cut
	OK     bool
}

// Solution is the outcome of a successful calibration.
type Solution struct {
	Thresholds severity.Thresholds
	Boundaries [severity.NumClasses - 1]Boundary
	Counts     [severity.NumClasses]int // valid samples used per class
}

// Solver derives thresholds from labelled buckets.
type Solver struct {
	// MinSamples per class (from config: min_samples_per_class)
	MinSamples int
	// Limits applied to the solved thresholds (from config: threshold_epsilon)
	Limits severity.Limits
}

// NewSolver creates a solver with the given minimum and limits.
func NewSolver(minSamples int, limits severity.Limits) (*Solver, error) {
	if minSamples <= 0 {
		return nil, ErrInvalidMinSamples
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Solver{MinSamples: minSamples, Limits: limits}, nil
}

// DefaultSolver returns a solver with MinSamplesPerClass and default limits.
func DefaultSolver() *Solver {
	return &Solver{MinSamples: MinSamplesPerClass, Limits: severity.DefaultLimits()}
}

// SolveBuffer solves the buckets currently held by b. b is only read.
func (s *Solver) SolveBuffer(b *Buffer) (Solution, error) {
	return s.Solve(b.Buckets())
}

// Solve fits one boundary per adjacent class pair and returns the resulting
// ordered threshold set. The input is not modified. On error the returned
// Solution is zero and must not be applied.
func (s *Solver) Solve(buckets [severity.NumClasses][]float64) (Solution, error) {
	var sol Solution
	var clean [severity.NumClasses][]float64

	for _, c := range severity.All() {
		clean[c] = cleanValues(buckets[c])
		sol.Counts[c] = len(clean[c])
	}
	for _, c := range severity.All() {
		if sol.Counts[c] < s.MinSamples {
			return Solution{}, &InsufficientDataError{Class: c, Have: sol.Counts[c], Need: s.MinSamples}
		}
	}

	var cuts [severity.NumClasses - 1]float64
	for i := 0; i < severity.NumClasses-1; i++ {
		lower, higher := severity.Class(i), severity.Class(i+1)
		cut, errs, ok := FitStump(clean[lower], clean[higher])
		sol.Boundaries[i] = Boundary{Lower: lower, Higher: higher, Cut: cut, Errors: errs, OK: ok}
		if !ok {
			return Solution{}, fmt.Errorf("%w: %s/%s", ErrUnsolvable, lower, higher)
		}
		cuts[i] = cut
	}

	sol.Thresholds = severity.FromValues(cuts).Normalize(s.Limits)
	return sol, nil
}

// cleanValues returns the finite values of in that lie in [0,1].
func cleanValues(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	for _, v := range in {
		if acceptable(v) {
			out = append(out, v)
		}
	}
	return out
}

// FitStump finds the cut that minimises the number of lower values strictly
// above it plus higher values at or below it. Candidates, in ascending order,
// are a point just below the smallest value, the midpoint of every pair of
// consecutive distinct values and a point just above the largest value. Ties
// go to the first candidate. ok is false when either side is empty.
func FitStump(lower, higher []float64) (cut float64, errs int, ok bool) {
	if len(lower) == 0 || len(higher) == 0 {
		return 0, 0, false
	}

	a := append([]float64(nil), lower...)
	b := append([]float64(nil), higher...)
	sort.Float64s(a)
	sort.Float64s(b)

	uniq := mergeDistinct(a, b)

	// cumA[i], cumB[i]: samples <= uniq[i]
	cumA := make([]int, len(uniq))
	cumB := make([]int, len(uniq))
	ia, ib := 0, 0
	for i, v := range uniq {
		for ia < len(a) && a[ia] <= v {
			ia++
		}
		for ib < len(b) && b[ib] <= v {
			ib++
		}
		cumA[i] = ia
		cumB[i] = ib
	}

	// everything is above the cut: all of lower is wrong, none of higher
	best := len(a)
	cut = uniq[0] - edgeOffset

	last := len(uniq) - 1
	for i := 0; i <= last; i++ {
		var t float64
		if i == last {
			t = uniq[i] + edgeOffset
		} else {
			t = 0.5 * (uniq[i] + uniq[i+1])
		}
		e := (len(a) - cumA[i]) + cumB[i]
		if e < best {
			best = e
			cut = t
		}
	}

	return cut, best, true
}

// mergeDistinct merges two sorted slices into their sorted distinct values.
func mergeDistinct(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	push := func(v float64) {
		if n := len(out); n == 0 || v-out[n-1] > distinctTolerance {
			out = append(out, v)
		}
	}
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if j >= len(b) || (i < len(a) && a[i] <= b[j]) {
			push(a[i])
			i++
		} else {
			push(b[j])
			j++
		}
	}
	return out
}
