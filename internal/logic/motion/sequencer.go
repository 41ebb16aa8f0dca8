// Package motion turns solved poses into ordered, timed servo commands.
//
// A Sequencer does not serialize moves. Callers must ensure at most one
// move runs at a time; the sorter package provides that guarantee for
// the running system.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/actuator"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
)

// DefaultSettle is the wait before every arm command.
const DefaultSettle = 500 * time.Millisecond

// ErrInconsistent is returned for moves other than home while the arm's
// joint state is unknown after an interrupted or failed move.
var ErrInconsistent = errors.New("motion: arm state inconsistent, home the arm first")

// ActuatorError reports the command that failed and stopped a move.
type ActuatorError struct {
	Joint   arm.Joint
	PulseUs float64
	Err     error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s at %.2f us: %v", e.Joint, e.PulseUs, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// Kind names a move.
type Kind string

const (
	KindGrab    Kind = "grab"
	KindRelease Kind = "release"
	KindHome    Kind = "home"
)

// Step is one command of a move. Delay is waited before the command.
type Step struct {
	Joint   arm.Joint     `json:"joint"`
	PulseUs float64       `json:"pulse_us"`
	Delay   time.Duration `json:"delay"`
}

// Report describes a finished or aborted move.
type Report struct {
	Kind     Kind                `json:"kind"`
	Category Category            `json:"category,omitempty"`
	Solution kinematics.Solution `json:"solution"`
	Planned  []Step              `json:"planned"`
	Issued   []Step              `json:"issued"`

	// AuditErr is set when the solve's audit append failed; the move
	// still ran.
	AuditErr error `json:"-"`
}

// Complete reports whether every planned step was issued.
func (r Report) Complete() bool { return len(r.Issued) == len(r.Planned) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config wires a Sequencer.
type Config struct {
	Solver    *kinematics.Solver
	Gateway   actuator.Gateway
	Profiles  Profiles
	Placement *PlacementTable
	Settle    time.Duration // zero means DefaultSettle
	Sleep     Sleeper       // nil means SleepContext
}

// Sequencer plans and executes moves.
type Sequencer struct {
	solver    *kinematics.Solver
	gw        actuator.Gateway
	profiles  Profiles
	placement *PlacementTable
	settle    time.Duration
	sleep     Sleeper

	mu           sync.Mutex
	inconsistent bool
	lastErr      error
}

// New validates cfg and returns a Sequencer.
func New(cfg Config) (*Sequencer, error) {
	if cfg.Solver == nil || cfg.Gateway == nil {
		return nil, errors.New("motion: solver and gateway are required")
	}
	if err := cfg.Profiles.Validate(); err != nil {
		return nil, fmt.Errorf("motion profiles: %w", err)
	}
	if cfg.Placement == nil {
		cfg.Placement = MustRigPlacementTable()
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	return &Sequencer{
		solver:    cfg.Solver,
		gw:        cfg.Gateway,
		profiles:  cfg.Profiles,
		placement: cfg.Placement,
		settle:    cfg.Settle,
		sleep:     cfg.Sleep,
	}, nil
}

// Placement returns the table used by Place.
func (s *Sequencer) Placement() *PlacementTable { return s.placement }

// Profiles returns the move profiles.
func (s *Sequencer) Profiles() Profiles { return s.profiles }

// Consistent reports whether the arm's joint state is known: no move has
// failed or been interrupted since the last successful home move.
func (s *Sequencer) Consistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inconsistent
}

// LastError returns the error that left the arm inconsistent, if any.
func (s *Sequencer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// PlanPickPlace returns the steps of a grab or release move for sol.
func (s *Sequencer) PlanPickPlace(p Profile, sol kinematics.Solution) []Step {
	var steps []Step
	firstDelay := s.settle
	if p.PreGripperUs != nil {
		steps = append(steps, Step{Joint: arm.Gripper, PulseUs: *p.PreGripperUs})
		firstDelay += p.PreDelay
	}
	for i, j := range p.Order {
		pulse, _ := sol.Pulse(j)
		if j == p.LiftJoint {
			pulse += p.LiftUs
		}
		delay := s.settle
		if i == 0 {
			delay = firstDelay
		}
		steps = append(steps, Step{Joint: j, PulseUs: pulse, Delay: delay})
	}
	return append(steps, Step{Joint: arm.Gripper, PulseUs: p.GripperUs, Delay: p.FinalDelay})
}

// PlanHome returns the steps of the home move for sol.
func (s *Sequencer) PlanHome(sol kinematics.Solution) []Step {
	h := s.profiles.Home
	steps := make([]Step, 0, len(h.Order)+1)
	for _, j := range h.Order {
		pulse, _ := sol.Pulse(j)
		steps = append(steps, Step{Joint: j, PulseUs: pulse, Delay: s.settle})
	}
	return append(steps, Step{Joint: arm.Gripper, PulseUs: h.GripperUs, Delay: s.settle})
}

// Grab closes the gripper on the item at pose.
func (s *Sequencer) Grab(ctx context.Context, pose kinematics.TargetPose) (Report, error) {
	return s.pickPlace(ctx, KindGrab, s.profiles.Grab, pose, "")
}

// Release opens the gripper over pose.
func (s *Sequencer) Release(ctx context.Context, pose kinematics.TargetPose) (Report, error) {
	return s.pickPlace(ctx, KindRelease, s.profiles.Release, pose, "")
}

// Place releases the held item into the bin of category c.
func (s *Sequencer) Place(ctx context.Context, c Category) (Report, error) {
	p, err := s.placement.Lookup(c)
	if err != nil {
		return Report{Kind: KindRelease, Category: c}, err
	}
	debug.Live("Placing %s in bin %s", c, p.Bin)
	return s.pickPlace(ctx, KindRelease, s.profiles.Release, p.Pose(), c)
}

// Home moves the arm to its zero pose. It is always allowed and restores
// a consistent state when it completes.
func (s *Sequencer) Home(ctx context.Context) (Report, error) {
	rep := Report{Kind: KindHome}
	if err := s.solve(&rep, s.profiles.Home.Pose); err != nil {
		return rep, err
	}
	rep.Planned = s.PlanHome(rep.Solution)

	debug.Section("Home")
	if err := s.execute(ctx, &rep); err != nil {
		return rep, err
	}
	s.setConsistent()
	return rep, nil
}

func (s *Sequencer) pickPlace(ctx context.Context, kind Kind, p Profile, pose kinematics.TargetPose, c Category) (Report, error) {
	rep := Report{Kind: kind, Category: c}
	if !s.Consistent() {
		return rep, ErrInconsistent
	}
	if err := s.solve(&rep, pose); err != nil {
		return rep, err
	}
	rep.Planned = s.PlanPickPlace(p, rep.Solution)

	debug.Section(string(kind))
	return rep, s.execute(ctx, &rep)
}

// solve fills rep.Solution. An audit failure does not stop the move; it
// is kept in rep.AuditErr.
func (s *Sequencer) solve(rep *Report, pose kinematics.TargetPose) error {
	sol, err := s.solver.Solve(pose)
	switch {
	case err == nil:
	case errors.Is(err, kinematics.ErrAudit):
		debug.Warn("continuing move without audit record: %v", err)
		rep.AuditErr = err
	default:
		return err
	}
	rep.Solution = sol
	return nil
}

func (s *Sequencer) execute(ctx context.Context, rep *Report) error {
	for i, st := range rep.Planned {
		if err := s.sleep(ctx, st.Delay); err != nil {
			return s.abort(rep, err)
		}
		if err := ctx.Err(); err != nil {
			return s.abort(rep, err)
		}
		debug.Step(i+1, fmt.Sprintf("%s -> %.2f us", st.Joint, st.PulseUs))
		if err := s.gw.Issue(ctx, st.Joint, st.PulseUs); err != nil {
			return s.abort(rep, &ActuatorError{Joint: st.Joint, PulseUs: st.PulseUs, Err: err})
		}
		rep.Issued = append(rep.Issued, st)
	}
	return nil
}

// abort marks the arm inconsistent unless nothing moved yet.
func (s *Sequencer) abort(rep *Report, err error) error {
	var actErr *ActuatorError
	if len(rep.Issued) > 0 || errors.As(err, &actErr) {
		s.mu.Lock()
		s.inconsistent = true
		s.lastErr = err
		s.mu.Unlock()
		debug.Warn("%s move stopped after %d/%d commands: %v", rep.Kind, len(rep.Issued), len(rep.Planned), err)
	}
	return err
}

func (s *Sequencer) setConsistent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inconsistent = false
	s.lastErr = nil
}
