/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  It covers the bulk transfer mode used by
photometers that expose their ASCII command set over USB instead of RS232.

It does not include features to support multi-packet messaging, and thus
assumes a response fits in a single bulk-in transfer.  Photometer responses
are one short line, so this holds in practice.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read header and send it on the Out endpoint
2.  Read from the In endpoint
3.  Trim the payload to the transfer size in the response header

These are implemented as Write() and Read() on the Device type, and combined
in SendRecv.
*/
package usbtmc

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const (
	// reserved is the byte to insert in header padding
	reserved = 0x00

	headerLen = 12

	msgDevDepOut   = 0x01
	msgDevDepInReq = 0x02

	// bufSize bounds a single bulk-in read
	bufSize = 1500
)

// BTagger can generate bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator.  bTag 0 is reserved, so the
// sequence runs 1..255 and wraps.
type bTagGen struct {
	sync.Mutex

	value byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// BulkInResponse is the response from a bulk input read, split into header and payload
type BulkInResponse struct {
	// Header is the header bytes that are prepended to the data
	Header []byte

	// Data is the datagram body, trimmed to the transfer size of the header
	Data []byte
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, > 0
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // always end of message
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, the device is told to ignore termination characters
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerLen]byte {
	out := [headerLen]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 termination character enabled
	9 terminator byte
	10~11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgDevDepInReq
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// pad extends a message to a multiple of 4 bytes
func pad(b []byte) []byte {
	const alignment = 4
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	return b
}

// decodeBulkIn splits a raw bulk-in transfer into header and payload
func decodeBulkIn(buf []byte) (BulkInResponse, error) {
	var out BulkInResponse
	if len(buf) < headerLen {
		return out, errors.Errorf("usbtmc: only received %d bytes, need at least %d to form header", len(buf), headerLen)
	}
	out.Header = buf[:headerLen]
	if out.Header[2] != invbTag(out.Header[1]) {
		return out, errors.Errorf("usbtmc: corrupt header, bTag %#x inverse %#x", out.Header[1], out.Header[2])
	}
	size := int(binary.LittleEndian.Uint32(out.Header[4:8]))
	data := buf[headerLen:]
	if size < len(data) {
		data = data[:size]
	}
	out.Data = data
	return out, nil
}

// Device is a USBTMC instrument on the bus
type Device struct {
	mu     sync.Mutex
	tagger BTagger
	term   byte
	ctx    *gousb.Context
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	closer func()
}

// Open claims the first device on the bus with the given vendor and product ID.
// Responses are read up to term.
func Open(vid, pid uint16, term byte) (*Device, error) {
	d := &Device{tagger: newBTagGen(), term: term, ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, errors.Wrapf(err, "usbtmc: opening %04x:%04x", vid, pid)
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, errors.Errorf("usbtmc: no device %04x:%04x on the bus", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	var iface *gousb.Interface
	iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	if d.in, err = iface.InEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Read requests and reads one response
func (d *Device) Read() (BulkInResponse, error) {
	hdr := encBulkInHeader(d.tagger, bufSize, &d.term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return BulkInResponse{}, err
	}
	if n < headerLen {
		// attempt a second write of the remainder
		m, err := d.out.Write(hdr[n:])
		if err != nil {
			return BulkInResponse{}, err
		}
		if n+m != headerLen {
			return BulkInResponse{}, errors.Errorf("usbtmc: wrote %d bytes, not full %d required to transmit read request", n+m, headerLen)
		}
	}
	buf := make([]byte, bufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return BulkInResponse{}, err
	}
	return decodeBulkIn(buf[:n])
}

// Write sends one message
func (d *Device) Write(b []byte) error {
	hdr := encBulkOutHeader(d.tagger, len(b))
	msg := append(hdr[:], b...)
	_, err := d.out.Write(pad(msg))
	return err
}

// SendRecv writes a command and returns the response with the terminator stripped
func (d *Device) SendRecv(b []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Write(b); err != nil {
		return nil, err
	}
	resp, err := d.Read()
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(resp.Data, "\r\n"+string(d.term)), nil
}

// Close releases the interface, the device, and the USB context
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
