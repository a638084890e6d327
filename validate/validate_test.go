package validate_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/validate"
)

var spec = validate.SpecTable{
	"PANEL-A": {XMin: 0.28, XMax: 0.32, YMin: 0.30, YMax: 0.34},
}

func sweep(ch gamma.Channel, g, black, white float64, grays ...int) []gamma.Sample {
	out := make([]gamma.Sample, len(grays))
	for i, gray := range grays {
		v := float64(gray) / gamma.MaxGray
		out[i] = gamma.Sample{
			Index:     i,
			Channel:   ch,
			Gray:      gray,
			Luminance: black + (white-black)*math.Pow(v, g),
			X:         0.30,
			Y:         0.32,
		}
	}
	return out
}

func TestWhitePointInsideWindowPasses(t *testing.T) {
	samples := sweep(gamma.W, 2.2, 0.5, 250, 0, 128, 255)
	wp := validate.WhitePoint("PANEL-A", spec, samples)
	if !wp.Applicable || !wp.Pass {
		t.Fatalf("expected applicable PASS, got %+v", wp)
	}
	if wp.Sample.Gray != 255 {
		t.Errorf("expected the brightest sample (gray 255) to be used, got gray %d", wp.Sample.Gray)
	}
}

func TestWhitePointOutsideWindowFails(t *testing.T) {
	samples := sweep(gamma.W, 2.2, 0.5, 250, 0, 128, 255)
	samples[2].X = 0.40
	wp := validate.WhitePoint("PANEL-A", spec, samples)
	if !wp.Applicable || wp.Pass {
		t.Fatalf("expected applicable FAIL, got %+v", wp)
	}
	if wp.Reason != validate.ReasonOutOfWindow {
		t.Errorf("expected reason %q, got %q", validate.ReasonOutOfWindow, wp.Reason)
	}
}

func TestWhitePointWindowEdgesAreInclusive(t *testing.T) {
	w := spec["PANEL-A"]
	if !w.Contains(0.28, 0.34) || !w.Contains(0.32, 0.30) {
		t.Error("expected window edges to be inside the window")
	}
	if w.Contains(0.3201, 0.32) {
		t.Error("expected a point past x_max to be outside the window")
	}
}

func TestWhitePointUnknownSKUIsNotApplicable(t *testing.T) {
	wp := validate.WhitePoint("PANEL-Z", spec, sweep(gamma.W, 2.2, 0, 250, 255))
	if wp.Applicable || wp.Pass {
		t.Fatalf("expected not applicable FAIL, got %+v", wp)
	}
	if wp.Reason != validate.ReasonSpecNotFound {
		t.Errorf("expected reason %q, got %q", validate.ReasonSpecNotFound, wp.Reason)
	}
}

func TestWhitePointWithoutWhiteSamplesIsNotApplicable(t *testing.T) {
	wp := validate.WhitePoint("PANEL-A", spec, sweep(gamma.R, 2.2, 0, 80, 0, 255))
	if wp.Applicable || wp.Pass {
		t.Fatalf("expected not applicable FAIL, got %+v", wp)
	}
	if wp.Reason != validate.ReasonNoWhiteSamples {
		t.Errorf("expected reason %q, got %q", validate.ReasonNoWhiteSamples, wp.Reason)
	}
}

func TestWhitePointTieKeepsFirstSample(t *testing.T) {
	samples := []gamma.Sample{
		{Index: 0, Channel: gamma.W, Gray: 250, Luminance: 240, X: 0.30, Y: 0.32},
		{Index: 1, Channel: gamma.W, Gray: 255, Luminance: 240, X: 0.50, Y: 0.50},
	}
	wp := validate.WhitePoint("PANEL-A", spec, samples)
	if wp.Sample.Index != 0 || !wp.Pass {
		t.Errorf("expected the first of equally bright samples, got %+v", wp.Sample)
	}
}

func TestSpecTableLookupIgnoresCase(t *testing.T) {
	if _, ok := spec.Lookup(" panel-a "); !ok {
		t.Error("expected case insensitive lookup to find PANEL-A")
	}
}

func TestSpecTableLookupCaseCollisionIsStable(t *testing.T) {
	st := validate.SpecTable{
		"abc": {XMin: 0.1, XMax: 0.2, YMin: 0.1, YMax: 0.2},
		"ABC": {XMin: 0.3, XMax: 0.4, YMin: 0.3, YMax: 0.4},
		"Abd": {XMin: 0.5, XMax: 0.6, YMin: 0.5, YMax: 0.6},
	}
	for i := 0; i < 50; i++ {
		w, ok := st.Lookup("aBc")
		if !ok || w.XMin != 0.3 {
			t.Fatalf("lookup %d: expected the ABC window, got %+v", i, w)
		}
	}
}

func TestRunFiveLevelGraySweepPasses(t *testing.T) {
	samples := sweep(gamma.Gray, 2.2, 0.5, 250, 0, 64, 128, 192, 255)
	rep, results, err := validate.DefaultSingle.Run(gamma.Fitter{}, samples, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Fittable {
		t.Fatalf("expected one fittable channel, got %+v", results)
	}
	if !rep.Pass {
		t.Errorf("expected PASS, got\n%s", rep)
	}
	if rep.WhitePoint != nil {
		t.Error("expected no white point verdict without a spec lookup")
	}
}

func TestRunOutOfToleranceFails(t *testing.T) {
	samples := sweep(gamma.Gray, 2.6, 0.5, 250, 0, 64, 128, 192, 255)
	rep, _, err := validate.DefaultSingle.Run(gamma.Fitter{}, samples, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pass || rep.Gamma[0].Reason != validate.ReasonOutOfTolerance {
		t.Errorf("expected FAIL out of tolerance, got %+v", rep.Gamma[0])
	}
}

func TestUnfittableChannelNeverPasses(t *testing.T) {
	samples := append(
		sweep(gamma.R, 2.2, 0.2, 60, 0, 64, 128, 192, 255),
		gamma.Sample{Index: 5, Channel: gamma.G, Gray: 255, Luminance: 150},
	)
	v := validate.Validator{Target: 2.2, Tolerance: 100}
	rep, _, err := v.Run(gamma.Fitter{}, samples, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pass {
		t.Fatal("expected a run with an unfittable channel to FAIL")
	}
	g := rep.Gamma[1]
	if g.Channel != gamma.G || g.Pass || !math.IsNaN(g.Gamma) {
		t.Errorf("expected G to be an unfittable FAIL, got %+v", g)
	}
}

func TestRunRGBWWithWhitePoint(t *testing.T) {
	var samples []gamma.Sample
	for _, ch := range []gamma.Channel{gamma.R, gamma.G, gamma.B, gamma.W} {
		samples = append(samples, sweep(ch, 2.3, 0.3, 200, 0, 32, 64, 96, 128, 160, 192, 224, 255)...)
	}
	rep, results, err := validate.DefaultMulti.Run(gamma.Fitter{}, samples, "panel-a", spec)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(results))
	}
	if !rep.Pass {
		t.Errorf("expected PASS, got\n%s", rep)
	}

	samples[len(samples)-1].Y = 0.40
	rep, _, err = validate.DefaultMulti.Run(gamma.Fitter{}, samples, "panel-a", spec)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pass || rep.WhitePoint.Pass {
		t.Error("expected a white point outside its window to fail the run")
	}
	for _, gv := range rep.Gamma {
		if !gv.Pass {
			t.Errorf("expected gamma of %s to still pass", gv.Channel)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	samples := sweep(gamma.Gray, 2.2, 0.5, 250, 0, 16, 48, 64, 128, 192, 255)
	a, _, err := validate.DefaultSingle.Run(gamma.Fitter{}, samples, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := validate.DefaultSingle.Run(gamma.Fitter{}, samples, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("repeated runs differ (-first +second):\n%s", diff)
	}
}

func TestRunRejectsMalformedInput(t *testing.T) {
	cases := map[string][]gamma.Sample{
		"empty":        nil,
		"bad gray":     {{Channel: gamma.Gray, Gray: 300, Luminance: 1}},
		"negative lv":  {{Channel: gamma.Gray, Gray: 10, Luminance: -1}, {Channel: gamma.Gray, Gray: 20, Luminance: 2}},
		"black only":   {{Channel: gamma.Gray, Gray: 0, Luminance: 0.1}},
		"single point": {{Channel: gamma.Gray, Gray: 0, Luminance: 0.1}, {Channel: gamma.Gray, Gray: 255, Luminance: 200}},
	}
	for name, samples := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := validate.DefaultSingle.Run(gamma.Fitter{}, samples, "", nil)
			if errors.Cause(err) != validate.ErrMalformedInput {
				t.Errorf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}

func TestCheckResolution(t *testing.T) {
	if err := validate.DefaultSingle.CheckResolution(gamma.DefaultSearch); err != nil {
		t.Errorf("expected the default grid to resolve ±0.1, got %v", err)
	}
	coarse := gamma.Search{Min: 1, Max: 3.5, Steps: 10}
	if err := validate.DefaultSingle.CheckResolution(coarse); err == nil {
		t.Error("expected a 0.25 step grid to be rejected")
	}
}

func idealSweep(g, lmax float64) ([]int, []float64) {
	levels := make([]int, 16)
	lum := make([]float64, 16)
	for i := range levels {
		levels[i] = i * 17
		lum[i] = lmax * math.Pow(float64(levels[i])/gamma.MaxGray, g)
	}
	return levels, lum
}

func TestCompareIdealOnPerfectCurve(t *testing.T) {
	levels, lum := idealSweep(2.2, 250)
	res, err := validate.CompareIdeal(levels, lum, 2.2, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pass || res.Lmax != lum[15] {
		t.Errorf("expected PASS scaled to the brightest value, got %+v", res)
	}
}

func TestCompareIdealFlagsDeviatingPoint(t *testing.T) {
	levels, lum := idealSweep(2.2, 250)
	lum[8] *= 1.5
	res, err := validate.CompareIdeal(levels, lum, 2.2, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pass || res.Points[8].Pass {
		t.Error("expected the 50% bright point to fail")
	}
	if !res.Points[7].Pass {
		t.Error("expected neighbouring points to pass")
	}
}

func TestCompareIdealFallsBackWhenDark(t *testing.T) {
	levels, _ := idealSweep(2.2, 250)
	res, err := validate.CompareIdeal(levels, make([]float64, 16), 2.2, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if res.Lmax != validate.FallbackLmax {
		t.Errorf("expected Lmax %v, got %v", validate.FallbackLmax, res.Lmax)
	}
}

func TestCompareIdealNeeds16Values(t *testing.T) {
	levels, lum := idealSweep(2.2, 250)
	_, err := validate.CompareIdeal(levels[:15], lum[:15], 2.2, 0.05)
	if errors.Cause(err) != validate.ErrMalformedInput {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func ExampleGammaVerdict_Result() {
	v := validate.Validator{Target: 2.2, Tolerance: 0.1}
	for _, g := range []float64{2.25, 2.35} {
		gv := v.Gamma([]gamma.FitResult{{Channel: gamma.Gray, Gamma: g, Fittable: true}})[0]
		fmt.Println(gv.Result())
	}
	// Output:
	// PASS
	// FAIL
}
