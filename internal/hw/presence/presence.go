// Package presence reports whether an item is waiting at the pickup point.
package presence

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/hw/gpio"
	"github.com/ecobrazo/sortarm/internal/hw/serialport"
)

// Sensor returns the latest presence signal. ok is false until the sensor
// has produced a reading. A non-zero signal means an item is present.
type Sensor interface {
	Present(ctx context.Context) (signal int, ok bool, err error)
	io.Closer
}

// Sensor types accepted by New.
const (
	TypeSerial = "serial"
	TypeGPIO   = "gpio"
	TypeMock   = "mock"
)

// Config selects and configures a sensor.
type Config struct {
	Type      string `yaml:"type" json:"type"`
	Port      string `yaml:"port" json:"port"`
	Baud      int    `yaml:"baud" json:"baud"`
	Pin       int    `yaml:"pin" json:"pin"`
	ActiveLow bool   `yaml:"active_low" json:"active_low"`
	PollMs    int    `yaml:"poll_ms" json:"poll_ms"`
}

// PollInterval returns the configured poll period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

// New builds the sensor described by cfg. g is only used by the GPIO
// sensor and may be nil otherwise.
func New(cfg Config, g gpio.Driver) (Sensor, error) {
	switch cfg.Type {
	case TypeSerial:
		return OpenSerial(cfg.Port, serialport.Options{BaudRate: cfg.Baud})
	case TypeGPIO:
		if g == nil {
			return nil, fmt.Errorf("gpio presence sensor needs a gpio driver")
		}
		return NewGPIO(g, cfg.Pin, cfg.ActiveLow)
	case TypeMock, "":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported presence sensor type %q", cfg.Type)
	}
}

// Mock is a sensor whose signal is set by the caller.
type Mock struct {
	mu     sync.Mutex
	signal int
	ok     bool
	err    error
}

// NewMock returns a Mock with no reading yet.
func NewMock() *Mock { return &Mock{} }

// Set stores the next reading.
func (m *Mock) Set(signal int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signal, m.ok = signal, true
}

// SetErr makes Present fail with err until cleared with nil.
func (m *Mock) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mock) Present(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal, m.ok, m.err
}

func (m *Mock) Close() error { return nil }
