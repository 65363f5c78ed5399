// Package find locates USB serial ports through sysfs so a run
// description can say "serial:auto" instead of hard-coding a tty that
// moves around between replugs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const sysClassTTY = "/sys/class/tty/"

// Port describes a USB-attached serial device.
type Port struct {
	Dev       string // device name, e.g. ttyUSB0
	Path      string // resolved sysfs path
	VendorID  string
	ProductID string
	Mfg       string
	Product   string
	Serial    string
}

func (p Port) String() string {
	return fmt.Sprintf("dev %s vid/pid %s/%s mfg/prod %s/%s serial %s",
		p.Dev, p.VendorID, p.ProductID, p.Mfg, p.Product, p.Serial)
}

// Filter narrows the candidate ports; only ports for which it returns
// true stay in the running.
type Filter func(*Port) bool

// ByManufacturer matches ports whose USB manufacturer string contains s.
func ByManufacturer(s string) Filter {
	return func(p *Port) bool { return strings.Contains(p.Mfg, s) }
}

// ByProduct matches ports whose USB product string contains s.
func ByProduct(s string) Filter {
	return func(p *Port) bool { return strings.Contains(p.Product, s) }
}

// BySerial matches a port by its exact USB serial number.
func BySerial(s string) Filter {
	return func(p *Port) bool { return p.Serial == s }
}

// Find searches for a USB serial device and returns its device path
// (e.g. /dev/ttyUSB0). With a nil filter every port is a candidate; the
// search fails unless exactly one candidate remains.
func Find(filter Filter) (string, error) {
	ports, err := List()
	if err != nil {
		return "", err
	}
	dev, err := pick(ports, filter)
	if err != nil {
		return "", err
	}
	return "/dev/" + dev, nil
}

// pick applies the filter and insists on an unambiguous result. A
// filter that matches nothing leaves zero candidates; it never falls
// back to the unfiltered list.
func pick(ports []Port, filter Filter) (string, error) {
	if filter != nil {
		var kept []Port
		for i := range ports {
			if filter(&ports[i]) {
				kept = append(kept, ports[i])
			}
		}
		ports = kept
	}
	switch len(ports) {
	case 0:
		return "", fmt.Errorf("no matching usb serial ports")
	case 1:
		return ports[0].Dev, nil
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Dev
	}
	return "", fmt.Errorf("multiple usb serial ports: %s", strings.Join(names, ", "))
}

// List enumerates the USB serial ports by walking /sys/class/tty and
// keeping the entries that resolve into a USB device path.
func List() ([]Port, error) {
	var ports []Port
	entries, err := os.ReadDir(sysClassTTY)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		abs, err := filepath.EvalSymlinks(filepath.Join(sysClassTTY, e.Name()))
		if err != nil {
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		// The device symlink lands on the USB interface directory;
		// the ID and string files live one level up on the device.
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			continue
		}
		p := Port{Dev: e.Name(), Path: abs}
		readUSBInfo(filepath.Dir(dev), &p)
		ports = append(ports, p)
	}
	return ports, nil
}

func readUSBInfo(dir string, p *Port) {
	p.VendorID = readAttr(dir, "idVendor")
	p.ProductID = readAttr(dir, "idProduct")
	p.Mfg = readAttr(dir, "manufacturer")
	p.Product = readAttr(dir, "product")
	p.Serial = readAttr(dir, "serial")
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return strings.TrimSpace(string(b))
}
