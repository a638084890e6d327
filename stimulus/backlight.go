package stimulus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/labdisplay/gammacal/comm"
	"github.com/labdisplay/gammacal/util"
)

// DefaultBaud is the factory console baud rate
const DefaultBaud = 115200

// ConsoleError is a rejection reported by the factory console
type ConsoleError struct {
	Cmd, Resp string
}

// Error satisfies stdlib error interface
func (e ConsoleError) Error() string {
	return fmt.Sprintf("console rejected %q: %s", e.Cmd, e.Resp)
}

func makeSerConf(addr string, baud int) *serial.Config {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// Backlight talks to the panel's factory console
type Backlight struct {
	*comm.RemoteDevice

	// AwaitAck makes every command wait for the console's one line reply
	AwaitAck bool

	mu      sync.Mutex
	current RGB
}

// NewBacklight creates a new Backlight instance.  addr is a serial port name
// (COM3, /dev/ttyUSB0) when serial is true, else host:port of a terminal server.
func NewBacklight(addr string, serial bool, baud int, awaitAck bool) *Backlight {
	rd := comm.NewRemoteDevice(addr, serial, &comm.CRLF, makeSerConf(addr, baud))
	return &Backlight{RemoteDevice: rd, AwaitAck: awaitAck}
}

// exec sends a command, reading and checking the reply if AwaitAck is set
func (b *Backlight) exec(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Open(ctx); err != nil {
		return err
	}
	log.WithField("cmd", cmd).Debug("console send")
	if !b.AwaitAck {
		return b.Send([]byte(cmd))
	}
	resp, err := b.SendRecv([]byte(cmd))
	if err != nil {
		return errors.Wrapf(err, "awaiting ack of %q", cmd)
	}
	r := strings.ToLower(string(resp))
	if strings.Contains(r, "error") || strings.Contains(r, "fail") || strings.Contains(r, "unknown") {
		return ConsoleError{Cmd: cmd, Resp: string(resp)}
	}
	return nil
}

// Start turns the backlight on
func (b *Backlight) Start(ctx context.Context) error {
	return b.exec(ctx, "fct-bl start")
}

// SetBrightness sets the backlight level, clamped to [0, 255]
func (b *Backlight) SetBrightness(ctx context.Context, level int) error {
	return b.exec(ctx, fmt.Sprintf("fct-bl set-brightness %d", util.ClampByte(level)))
}

// SetColor fills the screen with c
func (b *Backlight) SetColor(ctx context.Context, c RGB) error {
	if err := b.exec(ctx, "fct-lcd fill "+c.Hex()); err != nil {
		return err
	}
	b.mu.Lock()
	b.current = c
	b.mu.Unlock()
	return nil
}

// Stop turns the backlight off
func (b *Backlight) Stop(ctx context.Context) error {
	return b.exec(ctx, "fct-bl stop")
}

// Current returns the last color successfully commanded
func (b *Backlight) Current() RGB {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Raw sends a console command and returns the reply, or "" if AwaitAck is off
func (b *Backlight) Raw(s string) (string, error) {
	ctx := context.Background()
	if err := b.Open(ctx); err != nil {
		return "", err
	}
	if !b.AwaitAck {
		return "", b.Send([]byte(s))
	}
	resp, err := b.SendRecv([]byte(s))
	return string(resp), err
}
