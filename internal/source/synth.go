package source

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/ColonelBlimp/vibemon/internal/dsp"
	"github.com/ColonelBlimp/vibemon/internal/severity"
)

// Synthetic signal shape
const (
	// SynthWindow is the RMS window length used for synthetic samples
	SynthWindow = 25
	// synthBurstHz is the frequency of the slow vibration envelope
	synthBurstHz = 1.2
	// synthTransientEvery injects a transient on every Nth sample
	synthTransientEvery = 777
	synthTransient      = 0.15
	synthNoise          = 0.01
	synthMaxHP          = 0.6
	synthSeed           = 1
)

var (
	// ErrInvalidDuration indicates the synthetic duration must be positive
	ErrInvalidDuration = errors.New("synthetic duration must be positive")
	// ErrInvalidRate indicates the sample rate must be positive
	ErrInvalidRate = errors.New("sample rate must be positive")
)

// Synthesize generates a deterministic vibration trace of the given length.
// The high-pass magnitude is a 1.2 Hz burst with random amplitude plus noise
// and periodic transients; RMS is maintained with a dsp.RMSWindow and each
// sample is labelled with th.
func Synthesize(seconds, rateHz float64, th severity.Thresholds) ([]Sample, error) {
	if !(seconds > 0) {
		return nil, ErrInvalidDuration
	}
	if !(rateHz > 0) {
		return nil, ErrInvalidRate
	}

	total := int(seconds * rateHz)
	if total < 1 {
		total = 1
	}
	win, err := dsp.NewRMSWindow(SynthWindow)
	if err != nil {
		return nil, err
	}
	rnd := rand.New(rand.NewPCG(synthSeed, 0))

	out := make([]Sample, 0, total)
	for i := 1; i <= total; i++ {
		t := float64(i) / rateHz
		burst := math.Sin(2*math.Pi*synthBurstHz*t) * (0.05 + 0.05*rnd.Float64())
		transient := 0.0
		if i%synthTransientEvery == 0 {
			transient = synthTransient
		}
		noise := (rnd.Float64() - 0.5) * synthNoise

		hp := math.Abs(burst+transient) + math.Abs(noise)
		hp = math.Min(math.Max(hp, 0), synthMaxHP)
		rms := win.Push(hp)

		ax, ay, az := noise, noise, 1.0+noise
		out = append(out, Sample{
			DeviceMS: uint64(math.Round(float64(i) * 1000.0 / rateHz)),
			AX:       ax,
			AY:       ay,
			AZ:       az,
			Mag:      math.Sqrt(ax*ax + ay*ay + az*az),
			HPAbs:    hp,
			RMS:      rms,
			Label:    th.Classify(rms),
			HasLabel: true,
		})
	}
	return out, nil
}
