// Package serialport opens the serial devices the arm talks to: the servo
// controller and the presence-sensor microcontroller.
package serialport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/ecobrazo/sortarm/internal/debug"
)

// Port is the part of a serial port the drivers use. Tests substitute
// FakePort.
type Port interface {
	io.ReadWriteCloser
}

// Options describes the line settings. Zero values take the 8N1 defaults.
type Options struct {
	BaudRate    int           `yaml:"baud" json:"baud"`
	DataBits    int           `yaml:"data_bits" json:"data_bits"`
	StopBits    int           `yaml:"stop_bits" json:"stop_bits"`
	Parity      string        `yaml:"parity" json:"parity"`
	ReadTimeout time.Duration `yaml:"-" json:"-"`
}

// Normalize validates the options and fills unset values.
func (o Options) Normalize() (Options, error) {
	opts := o
	if opts.BaudRate <= 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// Mode converts the options to a go.bug.st/serial mode.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// Open opens the device at path.
func Open(path string, opts Options) (Port, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, fmt.Errorf("serial %s: %w", path, err)
	}
	debug.Verbose("Opening serial port %s at %d baud", path, mode.BaudRate)

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if opts.ReadTimeout > 0 {
		if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
			p.Close()
			return nil, fmt.Errorf("serial %s: set read timeout: %w", path, err)
		}
	}
	return p, nil
}

// List returns the serial devices present on the host.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	var out []string
	for _, p := range ports {
		// Bluetooth ports on macOS never host the rig's controllers.
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
