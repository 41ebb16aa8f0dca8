// Package maestro drives a Pololu Maestro servo controller over its
// compact serial protocol.
package maestro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/serialport"
)

// Compact protocol command bytes.
const (
	cmdSetTarget   byte = 0x84
	cmdSetSpeed    byte = 0x87
	cmdGetPosition byte = 0x90
	cmdGoHome      byte = 0xA2
)

const (
	DefaultBaud = 115200
	Channels    = 12

	// Pulses outside this window are refused rather than sent; the servos
	// on the rig bind mechanically beyond it.
	MinPulseUs = 250.0
	MaxPulseUs = 2500.0
)

var (
	ErrChannel = errors.New("maestro: channel out of range")
	ErrPulse   = errors.New("maestro: pulse out of range")

	// ErrNoResponse is returned when the controller does not answer a query.
	ErrNoResponse = errors.New("maestro: no response")
)

const maxEmptyReads = 3

// Controller sends commands to one Maestro. It is safe for concurrent use;
// each frame is written atomically.
type Controller struct {
	mu   sync.Mutex
	port serialport.Port
}

// Open opens the controller on the serial device at path.
func Open(path string, opts serialport.Options) (*Controller, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaud
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 100 * time.Millisecond
	}
	p, err := serialport.Open(path, opts)
	if err != nil {
		return nil, err
	}
	debug.Info("Maestro servo controller on %s", path)
	return New(p), nil
}

// New wraps an already open port.
func New(p serialport.Port) *Controller {
	return &Controller{port: p}
}

// Target encodes pulseUs in the quarter-microsecond units the controller
// expects.
func Target(pulseUs float64) uint16 {
	return uint16(math.Round(pulseUs * 4))
}

// SetTargetFrame builds the compact Set Target frame for channel.
func SetTargetFrame(channel int, pulseUs float64) []byte {
	t := Target(pulseUs)
	return []byte{cmdSetTarget, byte(channel), byte(t & 0x7f), byte((t >> 7) & 0x7f)}
}

func checkChannel(channel int) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	return nil
}

// SetTarget moves channel to pulseUs.
func (c *Controller) SetTarget(channel int, pulseUs float64) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if math.IsNaN(pulseUs) || pulseUs < MinPulseUs || pulseUs > MaxPulseUs {
		return fmt.Errorf("%w: %.2f us on channel %d", ErrPulse, pulseUs, channel)
	}
	return c.write(SetTargetFrame(channel, pulseUs))
}

// SetSpeed limits how fast channel moves, in units of 0.25 us per 10 ms.
// Zero means unlimited.
func (c *Controller) SetSpeed(channel int, speed uint16) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	return c.write([]byte{cmdSetSpeed, byte(channel), byte(speed & 0x7f), byte((speed >> 7) & 0x7f)})
}

// Position reads the current target of channel in microseconds.
func (c *Controller) Position(channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := []byte{cmdGetPosition, byte(channel)}
	debug.Frame("tx", frame)
	if _, err := c.port.Write(frame); err != nil {
		return 0, fmt.Errorf("maestro get position: %w", err)
	}
	var resp [2]byte
	if err := readFull(c.port, resp[:]); err != nil {
		return 0, fmt.Errorf("maestro get position: %w", err)
	}
	debug.Frame("rx", resp[:])
	return float64(uint16(resp[0])|uint16(resp[1])<<8) / 4, nil
}

// GoHome sends every channel to its configured home position.
func (c *Controller) GoHome() error {
	return c.write([]byte{cmdGoHome})
}

// Issue implements the actuator gateway: the joint id is the channel.
func (c *Controller) Issue(ctx context.Context, j arm.Joint, pulseUs float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	debug.Command(j, pulseUs)
	return c.SetTarget(int(j), pulseUs)
}

func (c *Controller) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	debug.Frame("tx", frame)
	if _, err := c.port.Write(frame); err != nil {
		return fmt.Errorf("maestro write: %w", err)
	}
	return nil
}

// readFull is io.ReadFull for ports that report a read timeout as a
// zero-byte read.
func readFull(r io.Reader, buf []byte) error {
	n, empty := 0, 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		if err != nil {
			return err
		}
		if m == 0 {
			if empty++; empty >= maxEmptyReads {
				return ErrNoResponse
			}
			continue
		}
		n += m
	}
	return nil
}

// Close closes the serial port.
func (c *Controller) Close() error {
	return c.port.Close()
}
