package validate

import (
	"fmt"
	"strings"

	"github.com/labdisplay/gammacal/gamma"
)

// Window is a rectangular region of CIE 1931 xy chromaticity
type Window struct {
	XMin float64 `json:"xMin" yaml:"x_min"`
	XMax float64 `json:"xMax" yaml:"x_max"`
	YMin float64 `json:"yMin" yaml:"y_min"`
	YMax float64 `json:"yMax" yaml:"y_max"`
}

// Contains reports if (x, y) lies inside the window, edges included
func (w Window) Contains(x, y float64) bool {
	return x >= w.XMin && x <= w.XMax && y >= w.YMin && y <= w.YMax
}

func (w Window) String() string {
	return fmt.Sprintf("x=[%.4f, %.4f], y=[%.4f, %.4f]", w.XMin, w.XMax, w.YMin, w.YMax)
}

// SpecLookup finds the white point window of a SKU
type SpecLookup interface {
	Lookup(sku string) (Window, bool)
}

// SpecTable maps SKU names to windows.  Lookups ignore case.
type SpecTable map[string]Window

// Lookup satisfies SpecLookup
func (st SpecTable) Lookup(sku string) (Window, bool) {
	sku = strings.TrimSpace(sku)
	if w, ok := st[sku]; ok {
		return w, true
	}
	// keys differing only by case resolve to the first in sort order
	var (
		best  string
		found bool
	)
	for k := range st {
		if strings.EqualFold(strings.TrimSpace(k), sku) && (!found || k < best) {
			best, found = k, true
		}
	}
	if !found {
		return Window{}, false
	}
	return st[best], true
}

// WhitePointVerdict is the result of checking the brightest white sample.
// Applicable is false when the check could not be performed at all; such a
// verdict never passes.
type WhitePointVerdict struct {
	SKU        string       `json:"sku"`
	Sample     gamma.Sample `json:"sample"`
	Window     Window       `json:"window"`
	Applicable bool         `json:"applicable"`
	Pass       bool         `json:"pass"`
	Reason     string       `json:"reason,omitempty"`
}

// Result returns PASS or FAIL
func (wp WhitePointVerdict) Result() string {
	return passFail(wp.Pass)
}

func (wp WhitePointVerdict) String() string {
	if !wp.Applicable {
		return fmt.Sprintf("white point (%s): FAIL, not applicable: %s", wp.SKU, wp.Reason)
	}
	return fmt.Sprintf("white point (%s): %s gray=%d Lv=%.2f x=%.4f y=%.4f spec %s",
		wp.SKU, wp.Result(), wp.Sample.Gray, wp.Sample.Luminance, wp.Sample.X, wp.Sample.Y, wp.Window)
}

// WhitePoint checks the chromaticity of the brightest W channel sample
// against the window of sku.  The first of equally bright samples is used.
func WhitePoint(sku string, lookup SpecLookup, samples []gamma.Sample) WhitePointVerdict {
	wp := WhitePointVerdict{SKU: sku}
	win, ok := lookup.Lookup(sku)
	if !ok {
		wp.Reason = ReasonSpecNotFound
		return wp
	}
	wp.Window = win

	found := false
	for _, s := range samples {
		if s.Channel != gamma.W {
			continue
		}
		if !found || s.Luminance > wp.Sample.Luminance {
			wp.Sample = s
			found = true
		}
	}
	if !found {
		wp.Reason = ReasonNoWhiteSamples
		return wp
	}
	wp.Applicable = true
	wp.Pass = win.Contains(wp.Sample.X, wp.Sample.Y)
	if !wp.Pass {
		wp.Reason = ReasonOutOfWindow
	}
	return wp
}
