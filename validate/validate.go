// Package validate classifies fitted gamma responses and white point
// chromaticity against operator tolerances and per-SKU spec windows.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/gamma"
)

var (
	// ErrMalformedInput is generated when a sample set cannot produce a meaningful verdict
	ErrMalformedInput = gamma.ErrMalformedInput
)

const (
	// ReasonSpecNotFound marks a white point check whose SKU has no window
	ReasonSpecNotFound = "sku not found in spec table"

	// ReasonNoWhiteSamples marks a white point check with no W channel data
	ReasonNoWhiteSamples = "no white channel samples"

	// ReasonOutOfWindow marks a white point outside its window
	ReasonOutOfWindow = "chromaticity outside spec window"

	// ReasonOutOfTolerance marks a gamma further than the tolerance from target
	ReasonOutOfTolerance = "gamma outside tolerance"
)

// Validator holds the target exponent and the allowed absolute deviation
type Validator struct {
	Target    float64 `json:"targetGamma"`
	Tolerance float64 `json:"tolerance"`
}

var (
	// DefaultSingle is used for single channel gray sweeps
	DefaultSingle = Validator{Target: 2.2, Tolerance: 0.1}

	// DefaultMulti is used for RGBW sweeps
	DefaultMulti = Validator{Target: 2.2, Tolerance: 0.3}
)

// CheckResolution rejects a search grid too coarse to resolve the tolerance
func (v Validator) CheckResolution(s gamma.Search) error {
	if r := s.Resolution(); r > v.Tolerance/10 {
		return errors.Errorf("validate: search resolution %v is coarser than tolerance/10 (%v)", r, v.Tolerance/10)
	}
	return nil
}

// GammaVerdict is the pass/fail classification of one channel
type GammaVerdict struct {
	Channel   gamma.Channel `json:"channel"`
	Gamma     float64       `json:"gamma"`
	RMSError  float64       `json:"rmsError"`
	YBlack    float64       `json:"yBlack"`
	YWhite    float64       `json:"yWhite"`
	Target    float64       `json:"target"`
	Tolerance float64       `json:"tolerance"`
	Deviation float64       `json:"deviation"`
	Pass      bool          `json:"pass"`
	Reason    string        `json:"reason,omitempty"`
}

// Result returns PASS or FAIL
func (gv GammaVerdict) Result() string {
	return passFail(gv.Pass)
}

func (gv GammaVerdict) String() string {
	if math.IsNaN(gv.Gamma) {
		return fmt.Sprintf("%s: FAIL (%s) Yblack=%.4f Ywhite=%.4f", gv.Channel, gv.Reason, gv.YBlack, gv.YWhite)
	}
	return fmt.Sprintf("%s: %s gamma=%.3f (target %.2f ±%.2f, dev %.3f) rms=%.6f",
		gv.Channel, gv.Result(), gv.Gamma, gv.Target, gv.Tolerance, gv.Deviation, gv.RMSError)
}

// Gamma classifies each fit result
func (v Validator) Gamma(results []gamma.FitResult) []GammaVerdict {
	out := make([]GammaVerdict, len(results))
	for i, r := range results {
		gv := GammaVerdict{
			Channel:   r.Channel,
			Gamma:     r.Gamma,
			RMSError:  r.RMSError,
			YBlack:    r.YBlack,
			YWhite:    r.YWhite,
			Target:    v.Target,
			Tolerance: v.Tolerance,
			Deviation: math.NaN(),
		}
		switch {
		case !r.Fittable || math.IsNaN(r.Gamma):
			gv.Reason = r.Reason
			if gv.Reason == "" {
				gv.Reason = "unfittable"
			}
		default:
			gv.Deviation = math.Abs(r.Gamma - v.Target)
			gv.Pass = gv.Deviation <= v.Tolerance
			if !gv.Pass {
				gv.Reason = ReasonOutOfTolerance
			}
		}
		out[i] = gv
	}
	return out
}

// Report is the verdict of a whole run
type Report struct {
	Target     float64            `json:"targetGamma"`
	Tolerance  float64            `json:"tolerance"`
	Gamma      []GammaVerdict     `json:"gamma"`
	WhitePoint *WhitePointVerdict `json:"whitePoint,omitempty"`
	Pass       bool               `json:"pass"`
}

// Report combines per-channel fits and an optional white point verdict.
// The run passes only if every channel and the white point (when checked) pass.
func (v Validator) Report(results []gamma.FitResult, wp *WhitePointVerdict) Report {
	rep := Report{
		Target:     v.Target,
		Tolerance:  v.Tolerance,
		Gamma:      v.Gamma(results),
		WhitePoint: wp,
		Pass:       len(results) > 0,
	}
	for _, gv := range rep.Gamma {
		rep.Pass = rep.Pass && gv.Pass
	}
	if wp != nil {
		rep.Pass = rep.Pass && wp.Pass
	}
	return rep
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "target gamma %.2f, tolerance ±%.2f\n", r.Target, r.Tolerance)
	for _, gv := range r.Gamma {
		fmt.Fprintln(&b, gv.String())
	}
	if r.WhitePoint != nil {
		fmt.Fprintln(&b, r.WhitePoint.String())
	}
	fmt.Fprintf(&b, "RESULT: %s", passFail(r.Pass))
	return b.String()
}

// CheckSamples returns ErrMalformedInput if any sample is out of range,
// or if no channel has enough points to be fit
func CheckSamples(samples []gamma.Sample) error {
	if len(samples) == 0 {
		return errors.Wrap(ErrMalformedInput, "no samples")
	}
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return errors.Wrap(ErrMalformedInput, err.Error())
		}
	}
	for _, cs := range gamma.GroupByChannel(samples) {
		usable := 0
		for _, s := range cs.Samples {
			if s.Gray > 0 {
				usable++
			}
		}
		if usable >= 2 {
			return nil
		}
	}
	return errors.Wrap(ErrMalformedInput, "no channel has 2 or more samples above gray 0")
}

// Run checks, fits, and classifies a sample set.  When lookup is non-nil the
// white point of the W channel is checked against the window of sku.
func (v Validator) Run(f gamma.Fitter, samples []gamma.Sample, sku string, lookup SpecLookup) (Report, []gamma.FitResult, error) {
	if err := CheckSamples(samples); err != nil {
		return Report{}, nil, err
	}
	if err := f.Validate(); err != nil {
		return Report{}, nil, errors.Wrap(ErrMalformedInput, err.Error())
	}
	results := f.FitAll(samples)
	var wp *WhitePointVerdict
	if lookup != nil {
		w := WhitePoint(sku, lookup, samples)
		wp = &w
	}
	return v.Report(results, wp), results, nil
}

func passFail(b bool) string {
	if b {
		return "PASS"
	}
	return "FAIL"
}
