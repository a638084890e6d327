package photometer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/labdisplay/gammacal/comm"
	"github.com/labdisplay/gammacal/usbtmc"
)

const (
	// DefaultBaud is the CA series RS232 baud rate
	DefaultBaud = 38400

	// MinoltaVID is the Konica Minolta USB vendor ID
	MinoltaVID = 0x0686
)

// CAError is a formatible error code from the meter
type CAError struct {
	Code int
	Cmd  string
}

// Error satisfies stdlib error interface
func (e CAError) Error() string {
	if s, ok := CAErrors[e.Code]; ok {
		return fmt.Sprintf("%s: ER%02d - %s", e.Cmd, e.Code, s)
	}
	return fmt.Sprintf("%s: ER%02d - UNKNOWN ERROR CODE", e.Cmd, e.Code)
}

var (
	// CAErrors maps CA remote error codes to strings
	CAErrors = map[int]string{
		0:  "COMMAND ERROR",
		1:  "PARAMETER ERROR",
		2:  "NOT IN REMOTE MODE",
		5:  "PROBE NOT CONNECTED",
		10: "OVER MEASUREMENT RANGE",
		11: "UNDER MEASUREMENT RANGE",
		19: "ZERO CALIBRATION REQUIRED",
		20: "MEMORY ERROR",
		30: "LOW BATTERY",
	}

	// ErrBadResponse is generated when a reply is neither OKnn nor ERnn
	ErrBadResponse = errors.New("unrecognized photometer response")
)

// Line is a command/response connection to a meter
type Line interface {
	Open(context.Context) error
	SendRecv([]byte) ([]byte, error)
	Close() error
}

func makeSerConf(addr string, baud int) *serial.Config {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        7,
		Parity:      serial.ParityEven,
		StopBits:    serial.Stop2,
		ReadTimeout: 3 * time.Second}
}

// NewSerialLine returns a Line over RS232 (38400 7E2 by default)
func NewSerialLine(addr string, baud int) Line {
	return comm.NewRemoteDevice(addr, true, nil, makeSerConf(addr, baud))
}

// NewTCPLine returns a Line over a terminal server
func NewTCPLine(addr string) Line {
	return comm.NewRemoteDevice(addr, false, nil, nil)
}

// usbLine opens the usbtmc device lazily so it has the same lifecycle as a RemoteDevice
type usbLine struct {
	vid, pid uint16
	dev      *usbtmc.Device
}

// NewUSBLine returns a Line over USB-TMC
func NewUSBLine(vid, pid uint16) Line {
	return &usbLine{vid: vid, pid: pid}
}

func (u *usbLine) Open(ctx context.Context) error {
	if u.dev != nil {
		return nil
	}
	if u.pid == 0 {
		return errors.New("photometer: usb product ID not configured")
	}
	dev, err := usbtmc.Open(u.vid, u.pid, '\r')
	if err != nil {
		return err
	}
	u.dev = dev
	return nil
}

func (u *usbLine) SendRecv(b []byte) ([]byte, error) {
	if u.dev == nil {
		return nil, comm.ErrNotConnected
	}
	return u.dev.SendRecv(b)
}

func (u *usbLine) Close() error {
	if u.dev == nil {
		return nil
	}
	err := u.dev.Close()
	u.dev = nil
	return err
}

// CA is a CA series photometer in remote mode
type CA struct {
	sync.Mutex

	line   Line
	remote bool
}

// NewCA creates a new CA instance on a line
func NewCA(line Line) *CA {
	return &CA{line: line}
}

// parse splits an OKnn reply into its values, or converts an ERnn reply into a CAError
func parse(cmd string, resp []byte) ([]string, error) {
	s := strings.TrimSpace(string(resp))
	if len(s) < 4 {
		return nil, errors.Wrapf(ErrBadResponse, "%s: %q", cmd, s)
	}
	head := strings.ToUpper(s[:4])
	code, err := strconv.Atoi(head[2:4])
	if err != nil {
		return nil, errors.Wrapf(ErrBadResponse, "%s: %q", cmd, s)
	}
	switch head[:2] {
	case "ER":
		return nil, CAError{Code: code, Cmd: cmd}
	case "OK":
	default:
		return nil, errors.Wrapf(ErrBadResponse, "%s: %q", cmd, s)
	}
	fields := strings.FieldsFunc(s[4:], func(r rune) bool { return r == ',' || r == ';' || r == ' ' })
	// drop the probe tag, P1 etc
	if len(fields) > 0 && strings.HasPrefix(strings.ToUpper(fields[0]), "P") {
		fields = fields[1:]
	}
	return fields, nil
}

func (c *CA) cmd(cmd string) ([]string, error) {
	resp, err := c.line.SendRecv([]byte(cmd))
	if err != nil {
		return nil, errors.Wrapf(err, "photometer %s", cmd)
	}
	return parse(cmd, resp)
}

func (c *CA) floats(cmd string, n int) ([]float64, error) {
	fields, err := c.cmd(cmd)
	if err != nil {
		return nil, err
	}
	if len(fields) < n {
		return nil, errors.Wrapf(ErrBadResponse, "%s: expected %d values, got %v", cmd, n, fields)
	}
	out := make([]float64, n)
	for i := range out {
		out[i], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadResponse, "%s: value %d %q", cmd, i, fields[i])
		}
	}
	return out, nil
}

// Open connects and puts the meter in remote mode
func (c *CA) Open(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()
	if c.remote {
		return nil
	}
	if err := c.line.Open(ctx); err != nil {
		return err
	}
	if _, err := c.cmd("COM,1"); err != nil {
		c.line.Close()
		return err
	}
	c.remote = true
	log.Debug("photometer in remote mode")
	return nil
}

// Measure takes an xyLv measurement followed by a TΔuv measurement
func (c *CA) Measure(ctx context.Context) (Reading, error) {
	c.Lock()
	defer c.Unlock()
	var r Reading
	if !c.remote {
		return r, CAError{Code: 2, Cmd: "MES"}
	}
	steps := []struct {
		cmd  string
		meas bool
	}{{"MDS,0", false}, {"MES", true}, {"MDS,1", false}, {"MES", true}}
	measured := 0
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return Reading{}, err
		}
		if !s.meas {
			if _, err := c.cmd(s.cmd); err != nil {
				return Reading{}, err
			}
			continue
		}
		v, err := c.floats(s.cmd, 3)
		if err != nil {
			return Reading{}, err
		}
		if measured == 0 {
			r.X, r.Y, r.Lv = v[0], v[1], v[2]
		} else {
			r.T, r.Duv = v[0], v[1]
		}
		measured++
	}
	return r, nil
}

// Raw sends a command and returns the reply verbatim
func (c *CA) Raw(s string) (string, error) {
	c.Lock()
	defer c.Unlock()
	resp, err := c.line.SendRecv([]byte(s))
	return string(resp), err
}

// Close leaves remote mode and releases the line
func (c *CA) Close() error {
	c.Lock()
	defer c.Unlock()
	var err error
	if c.remote {
		_, err = c.cmd("COM,0")
		c.remote = false
	}
	if cerr := c.line.Close(); err == nil {
		err = cerr
	}
	return err
}
