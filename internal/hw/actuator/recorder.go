package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/debug"
)

// Command is one issued (joint, pulse) pair.
type Command struct {
	Joint   arm.Joint `json:"joint"`
	PulseUs float64   `json:"pulse_us"`
	At      time.Time `json:"at"`
}

// Recorder is the mock gateway: it logs and remembers every command.
// FailOn makes it fail a chosen joint, for exercising error paths.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	failOn   map[arm.Joint]error
	now      func() time.Time
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{failOn: make(map[arm.Joint]error), now: time.Now}
}

// FailOn makes every later command for j return err. A nil err clears it.
func (r *Recorder) FailOn(j arm.Joint, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failOn, j)
		return
	}
	r.failOn[j] = err
}

// Issue records the command.
func (r *Recorder) Issue(ctx context.Context, j arm.Joint, pulseUs float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[j]; err != nil {
		return err
	}
	debug.Command(j, pulseUs)
	r.commands = append(r.commands, Command{Joint: j, PulseUs: pulseUs, At: r.now()})
	return nil
}

// Commands returns a copy of the successfully issued commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Joints returns the joint of every issued command, in order.
func (r *Recorder) Joints() []arm.Joint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]arm.Joint, len(r.commands))
	for i, c := range r.commands {
		out[i] = c.Joint
	}
	return out
}

// Reset forgets recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
