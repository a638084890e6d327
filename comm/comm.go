/*Package comm provides an embeddable type for line oriented communication with
bench hardware over RS232 or TCP.

Most usages of this package will boil down to:
	1.  embed *RemoteDevice in a type that represents your hardware.
	2.  pass Terminators to NewRemoteDevice if the defaults (carriage return
		both ways) are not right for the instrument.
	3.  pass a *serial.Config if the device may be reached over RS232.
	4.  write methods that Open the device, SendRecv commands, and parse the
		responses.

A minimal example for a sensor that responds to "RD?" with a number:

	type MySensor struct {
		*comm.RemoteDevice
	}

	func (ms *MySensor) Read(ctx context.Context) (float64, error) {
		if err := ms.Open(ctx); err != nil {
			return 0, err
		}
		resp, err := ms.SendRecv([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when IsSerial is true but no serial.Config was given
	ErrNoSerialConf = errors.New("remote device is serial but has no serial config")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// DefaultTimeout bounds connect, read, and write on TCP connections
	DefaultTimeout = 3 * time.Second
)

// Terminators holds the transmission and receipt terminators.
// Tx may be several bytes, for example "\r\n"
type Terminators struct {
	Tx []byte
	Rx byte
}

// CR terminates both directions with a carriage return
var CR = Terminators{Tx: []byte{'\r'}, Rx: '\r'}

// CRLF transmits \r\n and reads up to \n
var CRLF = Terminators{Tx: []byte("\r\n"), Rx: '\n'}

// Sender has a Send method that passes along a byte slice
type Sender interface {
	Send([]byte) error
}

// Recver has a Recv method that gets a byte slice
type Recver interface {
	Recv() ([]byte, error)
}

// SendRecver can send and recieve, and provides a method that sends then recieves
type SendRecver interface {
	Sender
	Recver

	SendRecv([]byte) ([]byte, error)
}

// Opener can open ("establish a connection" but in io language)
type Opener interface {
	Open(context.Context) error
}

// A Communicator can Open, Send, Recv and Close
type Communicator interface {
	io.Closer
	Opener
	SendRecver
}

/*RemoteDevice has an address and implements Communicator

if IsSerial is true, a serial.Config must have been given to NewRemoteDevice.

the device is concurrent-safe; SendRecv holds an internal lock so a command
and its response are never interleaved with another caller's.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// Timeout is the per operation deadline on TCP connections
	Timeout time.Duration

	terms  Terminators
	serCfg *serial.Config
	br     *bufio.Reader
	mu     sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice instance.  term and serCfg may be nil,
// in which case CR terminators are used and the device is TCP only.
func NewRemoteDevice(addr string, serial bool, term *Terminators, serCfg *serial.Config) *RemoteDevice {
	t := CR
	if term != nil {
		t = *term
	}
	return &RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Timeout:  DefaultTimeout,
		terms:    t,
		serCfg:   serCfg}
}

// Open the connection, setting the Conn variable.  Opening an open device is a no-op.
func (rd *RemoteDevice) Open(ctx context.Context) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	// we use an exponential backoff, terminal servers
	// do not like being connection thrashed
	op := func() error {
		err := rd.open(ctx)
		if err == nil {
			return nil
		}
		errS := strings.ToLower(err.Error())
		if err == ErrNoSerialConf || strings.Contains(errS, "refused") || strings.Contains(errS, "no such") {
			return backoff.Permanent(err)
		}
		return err
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		return errors.Wrapf(err, "opening %s", rd.Addr)
	}
	return nil
}

func (rd *RemoteDevice) open(ctx context.Context) error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = TCPSetup(ctx, rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.br = bufio.NewReader(conn)
	return nil
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Close the connection, nil-ing the Conn variable.  Closing a closed device is a no-op.
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.br = nil
	return err
}

// Terminators returns the terminators in use
func (rd *RemoteDevice) Terminators() Terminators {
	return rd.terms
}

// Send writes data to the remote followed by the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.deadline()
	buf := make([]byte, 0, len(b)+len(rd.terms.Tx))
	buf = append(buf, b...)
	buf = append(buf, rd.terms.Tx...)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
// along with any trailing line ending
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.br == nil {
		rd.br = bufio.NewReader(rd.Conn)
	}
	rd.deadline()
	term := rd.terms.Rx
	buf, err := rd.br.ReadBytes(term)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimRight(buf, "\r\n"+string(term)), nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

func (rd *RemoteDevice) deadline() {
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(rd.timeout()))
	}
}

// TCPSetup opens a new TCP connection, bounded by timeout and ctx
func TCPSetup(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
