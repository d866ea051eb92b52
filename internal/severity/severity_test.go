package severity

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClass_StringAndParse(t *testing.T) {
	for _, c := range All() {
		t.Run(c.String(), func(t *testing.T) {
			got, err := Parse(c.String())
			require.NoError(t, err)
			assert.Equal(t, c, got)
		})
	}

	got, err := Parse("  play ")
	require.NoError(t, err)
	assert.Equal(t, Play, got)

	_, err = Parse("KID")
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = Parse("")
	assert.ErrorIs(t, err, ErrUnknownClass)

	assert.Equal(t, "Class(9)", Class(9).String())
	assert.False(t, Class(5).Valid())
}

func TestClass_Ordering(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1], all[i])
	}
}

func TestClass_TextRoundTrip(t *testing.T) {
	b, err := Jump.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "JUMP", string(b))

	var c Class
	require.NoError(t, c.UnmarshalText([]byte("foot")))
	assert.Equal(t, Foot, c)

	_, err = Class(7).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestClassify_TopDown(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		rms  float64
		want Class
	}{
		{"zero", 0, Calm},
		{"below struct", 0.0299, Calm},
		{"at struct", th.Struct, Struct},
		{"at foot", th.Foot, Foot},
		{"between foot and kid", 0.15, Foot},
		{"at kid", th.Kid, Play},
		{"at jump", th.Jump, Jump},
		{"far above", 5, Jump},
		{"negative", -1, Calm},
		{"nan", math.NaN(), Calm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.rms))
		})
	}
}

func TestClassify_Monotonic(t *testing.T) {
	th := DefaultThresholds()
	r := rand.New(rand.NewPCG(7, 11))
	values := make([]float64, 2000)
	for i := range values {
		values[i] = r.Float64() * 0.6
	}
	for i := range values {
		for j := i + 1; j < len(values) && j < i+20; j++ {
			lo, hi := values[i], values[j]
			if lo > hi {
				lo, hi = hi, lo
			}
			assert.LessOrEqual(t, th.Classify(lo), th.Classify(hi))
		}
	}
}

func TestThresholds_Lower(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, 0.0, th.Lower(Calm))
	assert.Equal(t, th.Struct, th.Lower(Struct))
	assert.Equal(t, th.Jump, th.Lower(Jump))
	all := All()
	for _, c := range all[1:] {
		assert.Equal(t, c, th.Classify(th.Lower(c)))
	}
}

func TestNormalize(t *testing.T) {
	l := DefaultLimits()

	tests := []struct {
		name string
		in   Thresholds
		want Thresholds
	}{
		{
			name: "already ordered",
			in:   DefaultThresholds(),
			want: DefaultThresholds(),
		},
		{
			name: "equal values pushed forward",
			in:   Thresholds{0.1, 0.1, 0.1, 0.1},
			want: Thresholds{0.1, 0.105, 0.11, 0.115},
		},
		{
			name: "reversed values pushed forward",
			in:   Thresholds{0.3, 0.2, 0.1, 0.05},
			want: Thresholds{0.3, 0.305, 0.31, 0.315},
		},
		{
			name: "below minimum",
			in:   Thresholds{-1, 0.0, 0.05, 0.1},
			want: Thresholds{0.001, 0.006, 0.05, 0.1},
		},
		{
			name: "ceiling stays strictly ordered",
			in:   Thresholds{0.9, 0.9, 0.9, 0.9},
			want: Thresholds{0.59, 0.595, 0.6, 0.9},
		},
		{
			name: "jump may exceed max",
			in:   Thresholds{0.1, 0.2, 0.3, 0.8},
			want: Thresholds{0.1, 0.2, 0.3, 0.8},
		},
		{
			name: "jump capped",
			in:   Thresholds{0.1, 0.2, 0.3, 4},
			want: Thresholds{0.1, 0.2, 0.3, 1.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize(l)
			assert.InDelta(t, tt.want.Struct, got.Struct, 1e-12)
			assert.InDelta(t, tt.want.Foot, got.Foot, 1e-12)
			assert.InDelta(t, tt.want.Kid, got.Kid, 1e-12)
			assert.InDelta(t, tt.want.Jump, got.Jump, 1e-12)
			assert.True(t, got.Ordered(l.Epsilon), "normalized set must be ordered: %+v", got)
		})
	}
}

func TestNormalize_NaN(t *testing.T) {
	got := Thresholds{math.NaN(), 0.1, math.NaN(), 0.3}.Normalize(DefaultLimits())
	assert.InDelta(t, 0.001, got.Struct, 1e-12)
	assert.InDelta(t, 0.1, got.Foot, 1e-12)
	assert.InDelta(t, 0.105, got.Kid, 1e-12)
	assert.InDelta(t, 0.3, got.Jump, 1e-12)
}

func TestLimits_Validate(t *testing.T) {
	require.NoError(t, DefaultLimits().Validate())

	l := DefaultLimits()
	l.Epsilon = 0
	assert.ErrorIs(t, l.Validate(), ErrInvalidEpsilon)

	l = DefaultLimits()
	l.Max = l.Min + l.Epsilon
	assert.ErrorIs(t, l.Validate(), ErrInvalidRange)

	l = DefaultLimits()
	l.JumpMax = l.Max / 2
	assert.ErrorIs(t, l.Validate(), ErrInvalidRange)
}
