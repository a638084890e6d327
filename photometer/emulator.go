package photometer

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/labdisplay/gammacal/stimulus"
	"github.com/labdisplay/gammacal/util"
)

const (
	// DefaultLmax is the emulated peak luminance
	DefaultLmax = 250.0

	// DefaultGamma is the emulated panel response exponent
	DefaultGamma = 2.4
)

// relative luminance of the R, G, and B primaries
var primaries = [3]float64{0.2126, 0.7152, 0.0722}

// Emulator produces plausible readings for a panel following
// Lv = Lmax * (level/255)^Gamma, with jittered chromaticity near D65
type Emulator struct {
	// Source is the panel the emulated meter is pointed at
	Source stimulus.ColorSource

	Lmax  float64
	Gamma float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEmulator returns an Emulator.  Equal seeds give equal reading sequences.
func NewEmulator(src stimulus.ColorSource, lmax, gamma float64, seed int64) *Emulator {
	if lmax <= 0 {
		lmax = DefaultLmax
	}
	if gamma <= 0 {
		gamma = DefaultGamma
	}
	return &Emulator{Source: src, Lmax: lmax, Gamma: gamma, rng: rand.New(rand.NewSource(seed))}
}

// Open is a no-op
func (e *Emulator) Open(ctx context.Context) error { return nil }

// Close is a no-op
func (e *Emulator) Close() error { return nil }

// Luminance is the noiseless emulated luminance of a color
func (e *Emulator) Luminance(c stimulus.RGB) float64 {
	if c.R == c.G && c.G == c.B {
		return e.Lmax * math.Pow(float64(c.R)/255, e.Gamma)
	}
	var lv float64
	for i, v := range [3]uint8{c.R, c.G, c.B} {
		lv += primaries[i] * math.Pow(float64(v)/255, e.Gamma)
	}
	return util.Clamp(e.Lmax*lv, 0, e.Lmax)
}

// Measure reads the emulated panel
func (e *Emulator) Measure(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	var c stimulus.RGB
	if e.Source != nil {
		c = e.Source.Current()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Reading{
		Lv:  e.Luminance(c),
		X:   0.30 + e.rng.Float64()*0.02,
		Y:   0.32 + e.rng.Float64()*0.02,
		T:   float64(6500 + e.rng.Intn(400) - 200),
		Duv: e.rng.Float64() * 0.01,
	}, nil
}
