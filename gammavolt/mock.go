package gammavolt

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/records"
)

// Mock is an Engine for benches without the vendor helper.  It records the
// calls it receives and scales each gamma tap by the ratio of the measured
// luminance to the brightest tap.
type Mock struct {
	Calls []string

	vcom records.VCOM
	p    [Taps]int
	l    [Taps]float64
}

// LoadVCOM records the call
func (m *Mock) LoadVCOM(ctx context.Context, v records.VCOM) error {
	m.Calls = append(m.Calls, "LoadVCOM")
	m.vcom = v
	return nil
}

// LoadGammaParams records the call
func (m *Mock) LoadGammaParams(ctx context.Context, p [Taps]int) error {
	m.Calls = append(m.Calls, "LoadGammaParams")
	m.p = p
	return nil
}

// CalcVoltage records the call
func (m *Mock) CalcVoltage(ctx context.Context) error {
	m.Calls = append(m.Calls, "CalcVoltage")
	return nil
}

// LoadLuminance records the call
func (m *Mock) LoadLuminance(ctx context.Context, l [Taps]float64) error {
	m.Calls = append(m.Calls, "LoadLuminance")
	m.l = l
	return nil
}

// Calculate returns VCM, VRH and the scaled taps
func (m *Mock) Calculate(ctx context.Context) ([]int, error) {
	m.Calls = append(m.Calls, "Calculate")
	max := 0.
	for _, v := range m.l {
		max = math.Max(max, v)
	}
	if max <= 0 {
		return nil, errors.New("no luminance above zero")
	}
	out := []int{m.vcom.VCM, m.vcom.VRH}
	for i, p := range m.p {
		out = append(out, int(math.Round(float64(p)*m.l[i]/max)))
	}
	return out, nil
}
