package validate

import (
	"math"

	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/mathx"
)

const (
	// MinIdealLevels is the number of gray levels the ideal curve comparison needs
	MinIdealLevels = 16

	// FallbackLmax is the peak luminance assumed when nothing brighter than 0 was measured
	FallbackLmax = 250.0
)

// IdealPoint compares one measurement to the ideal power-law curve
type IdealPoint struct {
	Gray     int     `json:"gray"`
	Measured float64 `json:"measured"`
	Ideal    float64 `json:"ideal"`
	RelError float64 `json:"relError"`
	Pass     bool    `json:"pass"`
}

// IdealComparison is the point-by-point check of a single channel sweep
// against Lmax * (gray/255)^target
type IdealComparison struct {
	Target    float64      `json:"targetGamma"`
	Tolerance float64      `json:"tolerance"`
	Lmax      float64      `json:"lmax"`
	Points    []IdealPoint `json:"points"`
	Pass      bool         `json:"pass"`
}

// CompareIdeal checks every measured luminance against the ideal curve scaled
// to the brightest measurement.  tolerance is relative: |meas-ideal|/ideal.
// Ideal values are truncated to 3 decimals, the precision of the gray table.
func CompareIdeal(levels []int, lum []float64, target, tolerance float64) (IdealComparison, error) {
	cmp := IdealComparison{Target: target, Tolerance: tolerance}
	if len(levels) != len(lum) {
		return cmp, errors.Wrapf(ErrMalformedInput, "%d gray levels but %d luminance values", len(levels), len(lum))
	}
	if len(lum) < MinIdealLevels {
		return cmp, errors.Wrapf(ErrMalformedInput, "ideal curve comparison needs at least %d luminance values, got %d", MinIdealLevels, len(lum))
	}
	for i, g := range levels {
		if g < 0 || g > gamma.MaxGray {
			return cmp, errors.Wrapf(ErrMalformedInput, "gray level %d at row %d outside [0,%d]", g, i, gamma.MaxGray)
		}
	}

	lmax := lum[0]
	for _, l := range lum[1:] {
		lmax = math.Max(lmax, l)
	}
	if lmax == 0 {
		lmax = FallbackLmax
	}
	cmp.Lmax = lmax
	cmp.Pass = true
	cmp.Points = make([]IdealPoint, len(lum))
	for i := range lum {
		v := float64(levels[i]) / gamma.MaxGray
		ideal := mathx.Truncate(math.Pow(v, target)*lmax, 0.001)
		denom := ideal
		if denom == 0 {
			denom = 1
		}
		rel := math.Abs(lum[i]-ideal) / denom
		p := IdealPoint{Gray: levels[i], Measured: lum[i], Ideal: ideal, RelError: rel, Pass: rel <= tolerance}
		cmp.Pass = cmp.Pass && p.Pass
		cmp.Points[i] = p
	}
	return cmp, nil
}
