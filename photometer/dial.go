package photometer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/labdisplay/gammacal/stimulus"
)

// Config selects and parameterizes a meter
type Config struct {
	// Transport is one of serial, tcp, usb, or emulate
	Transport string `koanf:"transport" yaml:"transport"`

	// Addr is a serial port name or host:port
	Addr string `koanf:"addr" yaml:"addr"`

	Baud int `koanf:"baud" yaml:"baud"`

	USBVendor  int `koanf:"usbVendor" yaml:"usbVendor"`
	USBProduct int `koanf:"usbProduct" yaml:"usbProduct"`

	// Fallback switches to the emulator when the meter cannot be opened
	Fallback bool `koanf:"fallback" yaml:"fallback"`

	// Gamma, Lmax, and Seed parameterize the emulator
	Gamma float64 `koanf:"gamma" yaml:"gamma"`
	Lmax  float64 `koanf:"lmax" yaml:"lmax"`
	Seed  int64   `koanf:"seed" yaml:"seed"`
}

// DefaultConfig emulates a 250 cd/m^2, gamma 2.4 panel
var DefaultConfig = Config{
	Transport: "emulate",
	Baud:      DefaultBaud,
	USBVendor: MinoltaVID,
	Fallback:  true,
	Gamma:     DefaultGamma,
	Lmax:      DefaultLmax,
	Seed:      1,
}

// Dial builds the meter described by cfg and opens it.  src is the panel an
// emulator observes.  When the meter cannot be opened and cfg.Fallback is
// set, an opened emulator is returned instead, with a warning.
func Dial(ctx context.Context, cfg Config, src stimulus.ColorSource) (Meter, error) {
	emu := func() Meter { return NewEmulator(src, cfg.Lmax, cfg.Gamma, cfg.Seed) }
	var m Meter
	switch strings.ToLower(cfg.Transport) {
	case "", "emulate", "mock":
		return emu(), nil
	case "serial":
		m = NewCA(NewSerialLine(cfg.Addr, cfg.Baud))
	case "tcp":
		m = NewCA(NewTCPLine(cfg.Addr))
	case "usb":
		m = NewCA(NewUSBLine(uint16(cfg.USBVendor), uint16(cfg.USBProduct)))
	default:
		return nil, errors.Errorf("photometer: transport %q not understood", cfg.Transport)
	}
	err := m.Open(ctx)
	if err == nil {
		return m, nil
	}
	if !cfg.Fallback || ctx.Err() != nil {
		return nil, errors.Wrap(err, "photometer connection failed")
	}
	log.WithError(err).WithField("transport", cfg.Transport).Warn("photometer connection failed, switching to emulation mode")
	return emu(), nil
}
