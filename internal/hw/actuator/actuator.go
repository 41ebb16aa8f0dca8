// Package actuator defines the single-command servo gateway and its
// implementations.
package actuator

import (
	"context"
	"fmt"
	"io"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/maestro"
	"github.com/ecobrazo/sortarm/internal/hw/serialport"
)

// Gateway executes one (joint, pulse) command. Issue blocks until the
// command has been handed to the hardware and reports any failure.
type Gateway interface {
	Issue(ctx context.Context, j arm.Joint, pulseUs float64) error
}

// Gateway types accepted by New.
const (
	TypeMaestro = "maestro"
	TypeProcess = "process"
	TypeMock    = "mock"
)

// Config selects and configures a gateway.
type Config struct {
	Type       string `yaml:"type" json:"type"`
	Port       string `yaml:"port" json:"port"`
	Baud       int    `yaml:"baud" json:"baud"`
	Executable string `yaml:"executable" json:"executable"`
}

// New builds the gateway described by cfg. The returned closer releases
// the underlying device and is never nil.
func New(cfg Config) (Gateway, io.Closer, error) {
	switch cfg.Type {
	case TypeMaestro:
		c, err := maestro.Open(cfg.Port, serialport.Options{BaudRate: cfg.Baud})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case TypeProcess:
		p, err := NewProcess(cfg.Executable)
		if err != nil {
			return nil, nil, err
		}
		return p, nopCloser{}, nil
	case TypeMock, "":
		debug.Info("Using MOCK actuator gateway (development mode)")
		return NewRecorder(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported actuator type %q", cfg.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
