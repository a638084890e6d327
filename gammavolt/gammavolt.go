/*Package gammavolt converts measured luminance into panel gamma registers.

The conversion itself belongs to the panel vendor and is opaque; this package
only fixes the contract around it.  An Engine is loaded in a strict order:

	LoadVCOM -> LoadGammaParams -> CalcVoltage -> LoadLuminance -> Calculate

with exactly Taps gamma parameters and Taps luminance values.  Calibrate
enforces that order and those lengths.
*/
package gammavolt

import (
	"context"

	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/records"
)

// Taps is the number of gamma taps the engine consumes
const Taps = records.Taps

// ErrTaps is generated when a parameter or luminance list is too short
var ErrTaps = errors.New("gamma voltage engine needs 16 values")

// Engine is the vendor's gamma voltage calculation
type Engine interface {
	LoadVCOM(ctx context.Context, v records.VCOM) error
	LoadGammaParams(ctx context.Context, params [Taps]int) error
	CalcVoltage(ctx context.Context) error
	LoadLuminance(ctx context.Context, lum [Taps]float64) error
	Calculate(ctx context.Context) ([]int, error)
}

// Calibrate runs the engine over one sweep.  Only the first Taps values of
// params and lum are used; extra values are ignored.
func Calibrate(ctx context.Context, e Engine, vcom records.VCOM, params []int, lum []float64) ([]int, error) {
	if len(params) < Taps {
		return nil, errors.Wrapf(ErrTaps, "%d gamma parameters", len(params))
	}
	if len(lum) < Taps {
		return nil, errors.Wrapf(ErrTaps, "%d luminance values", len(lum))
	}
	var (
		p [Taps]int
		l [Taps]float64
	)
	copy(p[:], params)
	copy(l[:], lum)

	if err := e.LoadVCOM(ctx, vcom); err != nil {
		return nil, errors.Wrap(err, "loading vcom")
	}
	if err := e.LoadGammaParams(ctx, p); err != nil {
		return nil, errors.Wrap(err, "loading gamma parameters")
	}
	if err := e.CalcVoltage(ctx); err != nil {
		return nil, errors.Wrap(err, "calculating gamma voltage")
	}
	if err := e.LoadLuminance(ctx, l); err != nil {
		return nil, errors.Wrap(err, "loading luminance")
	}
	out, err := e.Calculate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "calculating registers")
	}
	return out, nil
}
