/*Package stimulus drives the panel under test: the color it fills the screen
with and the backlight behind it.

The production target is the panel's factory console, a line oriented serial
shell.  Commands are \r\n terminated:

	fct-bl start
	fct-bl set-brightness <0..255>
	fct-lcd fill 0xRRGGBB
	fct-bl stop
*/
package stimulus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RGB is an 8 bit per component color
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Gray returns the color with all components equal to v
func Gray(v uint8) RGB {
	return RGB{R: v, G: v, B: v}
}

// Hex formats the color as 0xRRGGBB
func (c RGB) Hex() string {
	return fmt.Sprintf("0x%02X%02X%02X", c.R, c.G, c.B)
}

func (c RGB) String() string {
	return c.Hex()
}

// ParseHex parses 0xRRGGBB, #RRGGBB, or RRGGBB
func ParseHex(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), "#")
	if len(h) != 6 {
		return RGB{}, errors.Errorf("color %q is not 6 hex digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, errors.Wrapf(err, "parsing color %q", s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Panel is a display whose fill color and backlight can be commanded
type Panel interface {
	SetColor(context.Context, RGB) error
	Start(context.Context) error
	SetBrightness(context.Context, int) error
	Stop(context.Context) error
	Close() error
}

// ColorSource reports the color most recently commanded
type ColorSource interface {
	Current() RGB
}
