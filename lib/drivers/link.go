package drivers

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/labdaq/lib/find"
	"go.bug.st/serial"
)

// Address schemes.
const (
	schemeSerial  = "serial"
	schemeUSBTMC  = "usbtmc"
	schemeTCP     = "tcp"
	schemeVirtual = "virtual"
)

const (
	defaultBaud    = 115200
	defaultTimeout = 5 * time.Second
)

// Address is a parsed instrument address of the form
// "scheme:target[?opt=val]". Targets: a device node for serial and
// usbtmc (or "auto" to discover the serial port through sysfs), a
// host:port for tcp, a device name for virtual.
type Address struct {
	Scheme string
	Target string
	Baud   int
	Serial string // USB serial number filter for serial:auto
}

// ParseAddress splits an instrument address into scheme, target and
// options.
func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok || scheme == "" || rest == "" {
		return Address{}, fmt.Errorf("malformed address %q (want scheme:target)", s)
	}
	addr := Address{Scheme: scheme, Baud: defaultBaud}

	target, opts, _ := strings.Cut(rest, "?")
	addr.Target = target
	if opts != "" {
		vals, err := url.ParseQuery(opts)
		if err != nil {
			return Address{}, fmt.Errorf("malformed address options %q: %w", opts, err)
		}
		if b := vals.Get("baud"); b != "" {
			baud, err := strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return Address{}, fmt.Errorf("invalid baud rate %q", b)
			}
			addr.Baud = baud
		}
		addr.Serial = vals.Get("serial")
	}

	switch addr.Scheme {
	case schemeSerial, schemeUSBTMC, schemeTCP, schemeVirtual:
	default:
		return Address{}, fmt.Errorf("unknown address scheme %q", addr.Scheme)
	}
	return addr, nil
}

// openLink opens the byte pipe an address names.
func openLink(addr Address) (io.ReadWriteCloser, error) {
	switch addr.Scheme {
	case schemeSerial:
		return openSerial(addr)
	case schemeUSBTMC:
		f, err := os.OpenFile(addr.Target, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("opening usbtmc device: %w", err)
		}
		return f, nil
	case schemeTCP:
		conn, err := net.DialTimeout("tcp", addr.Target, defaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("dialing instrument: %w", err)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("scheme %q has no link", addr.Scheme)
}

func openSerial(addr Address) (io.ReadWriteCloser, error) {
	target := addr.Target
	if target == "auto" {
		var filter find.Filter
		if addr.Serial != "" {
			filter = find.BySerial(addr.Serial)
		}
		found, err := find.Find(filter)
		if err != nil {
			return nil, fmt.Errorf("locating serial port: %w", err)
		}
		target = found
	}
	port, err := serial.Open(target, &serial.Mode{BaudRate: addr.Baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", target, err)
	}
	if err := port.SetReadTimeout(defaultTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting serial read timeout: %w", err)
	}
	return port, nil
}
