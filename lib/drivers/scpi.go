package drivers

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Device talks SCPI/ASCII over a byte link. It knows nothing about the
// transport beyond io.ReadWriter; serial, usbtmc character devices and
// TCP sockets all look the same from here.
type Device struct {
	rw        io.ReadWriter
	r         *bufio.Reader
	writeTerm byte
	readTerm  byte
}

// DeviceOption applies an option to the device.
type DeviceOption func(*Device)

// WithWriteTerminator sets the byte appended to every outgoing command.
func WithWriteTerminator(b byte) DeviceOption {
	return func(d *Device) { d.writeTerm = b }
}

// WithReadTerminator sets the byte that ends an instrument response.
func WithReadTerminator(b byte) DeviceOption {
	return func(d *Device) { d.readTerm = b }
}

// NewDevice wraps a link in a SCPI command/query layer. Both
// terminators default to newline.
func NewDevice(rw io.ReadWriter, opts ...DeviceOption) *Device {
	d := &Device{
		rw:        rw,
		writeTerm: '\n',
		readTerm:  '\n',
	}
	for _, opt := range opts {
		opt(d)
	}
	d.r = bufio.NewReader(rw)
	return d
}

// WriteString writes a string to the instrument. All leading and
// trailing whitespace is removed before the terminator is appended.
func (d *Device) WriteString(s string) (int, error) {
	return d.rw.Write([]byte(fmt.Sprintf("%s%c", strings.TrimSpace(s), d.writeTerm)))
}

// Command formats according to a format specifier if provided and sends
// a SCPI/ASCII command to the instrument.
func (d *Device) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	_, err := d.WriteString(cmd)
	return err
}

// Query sends the given SCPI/ASCII command and reads the response up to
// the read terminator. The cmd string does not need to include a
// terminator. Query satisfies the Querier interface of the query
// library, so typed reads go through query.Float64 and friends.
func (d *Device) Query(cmd string) (string, error) {
	if _, err := d.WriteString(cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	s, err := d.r.ReadString(d.readTerm)
	if err == io.EOF {
		// Some links report EOF together with the final bytes.
		return s, nil
	}
	return s, err
}
