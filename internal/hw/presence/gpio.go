package presence

import (
	"context"

	"github.com/ecobrazo/sortarm/internal/hw/gpio"
)

// GPIO reads a light-barrier output wired to an input pin.
type GPIO struct {
	drv       gpio.Driver
	pin       int
	activeLow bool
}

// NewGPIO configures pin as an input. With activeLow the pull-up is
// enabled and a low level means present.
func NewGPIO(drv gpio.Driver, pin int, activeLow bool) (*GPIO, error) {
	mode := gpio.Input
	if activeLow {
		mode = gpio.InputPullUp
	}
	if err := drv.SetupPin(pin, mode); err != nil {
		return nil, err
	}
	return &GPIO{drv: drv, pin: pin, activeLow: activeLow}, nil
}

func (s *GPIO) Present(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	level, err := s.drv.ReadPin(s.pin)
	if err != nil {
		return 0, false, err
	}
	if (level == gpio.High) != s.activeLow {
		return 1, true, nil
	}
	return 0, true, nil
}

// Close leaves the driver open; it is shared with other users.
func (s *GPIO) Close() error { return nil }
