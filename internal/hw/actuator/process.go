package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/debug"
)

// Process drives the servos through an external program invoked as
// "<exe> <joint> <pulse>" once per command. A non-zero exit is a failure.
type Process struct {
	exe string
}

// NewProcess checks that exe can be found.
func NewProcess(exe string) (*Process, error) {
	if exe == "" {
		return nil, errors.New("actuator: process executable is required")
	}
	path, err := exec.LookPath(exe)
	if err != nil {
		return nil, fmt.Errorf("actuator: %w", err)
	}
	debug.Info("Actuator process gateway: %s", path)
	return &Process{exe: path}, nil
}

// Args returns the command line arguments for one command.
func Args(j arm.Joint, pulseUs float64) []string {
	return []string{strconv.Itoa(int(j)), strconv.FormatFloat(pulseUs, 'f', -1, 64)}
}

// Issue runs the program and waits for it to exit.
func (p *Process) Issue(ctx context.Context, j arm.Joint, pulseUs float64) error {
	debug.Command(j, pulseUs)
	cmd := exec.CommandContext(ctx, p.exe, Args(j, pulseUs)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", p.exe, strings.Join(Args(j, pulseUs), " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", p.exe, strings.Join(Args(j, pulseUs), " "), err)
	}
	if msg := strings.TrimSpace(out.String()); msg != "" {
		debug.Verbose("%s: %s", p.exe, msg)
	}
	return nil
}
