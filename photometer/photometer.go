/*Package photometer reads luminance and chromaticity from a spot photometer.

The CA type speaks the ASCII remote protocol of Konica Minolta CA series
meters over RS232, a terminal server, or USB-TMC.  The Emulator stands in for
a meter when none is connected, and derives its readings from the color the
panel was last told to show.
*/
package photometer

import (
	"context"
	"fmt"
)

// Reading is one measurement
type Reading struct {
	// Lv is luminance in cd/m^2
	Lv float64 `json:"lv"`

	// X and Y are CIE 1931 chromaticity coordinates
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// T is correlated color temperature in K
	T float64 `json:"T"`

	// Duv is the distance from the Planckian locus
	Duv float64 `json:"duv"`
}

func (r Reading) String() string {
	return fmt.Sprintf("Lv=%.2f x=%.4f y=%.4f T=%.0f duv=%.4f", r.Lv, r.X, r.Y, r.T, r.Duv)
}

// Meter is a photometer with a connection lifecycle
type Meter interface {
	Open(context.Context) error
	Measure(context.Context) (Reading, error)
	Close() error
}
