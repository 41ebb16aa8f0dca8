package kinematics

import (
	"errors"
	"fmt"
	"math"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/logic/audit"
	"github.com/ecobrazo/sortarm/internal/logic/calibration"
)

var (
	// ErrUnreachable is returned when the target fails the reachability
	// test. It is an expected outcome, not a malformed request.
	ErrUnreachable = errors.New("kinematics: target unreachable")

	// ErrInvalidPose is returned for poses with non-finite coordinates or a
	// zone outside 1..8.
	ErrInvalidPose = errors.New("kinematics: invalid pose")

	// ErrAudit wraps a failure to append the audit record. The solution
	// returned alongside it is complete and usable.
	ErrAudit = errors.New("kinematics: audit append failed")
)

const (
	MinZone = 1
	MaxZone = 8

	// domainTolerance absorbs rounding in acos/asin arguments that land a
	// hair outside [-1, 1] for poses on the workspace boundary.
	domainTolerance = 1e-12
	minHypotenuse   = 1e-9
)

// TargetPose is a requested fingertip position.
type TargetPose struct {
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Zone           int      `json:"zone"`
	OrientationDeg float64  `json:"orientation_deg"`
	ConveyorMode   bool     `json:"conveyor_mode"`
	OffsetOverride *float64 `json:"offset_override,omitempty"`
}

// Validate checks the pose is finite and names a known zone.
func (p TargetPose) Validate() error {
	for name, v := range map[string]float64{"x": p.X, "y": p.Y, "orientation_deg": p.OrientationDeg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidPose, name, v)
		}
	}
	if p.OffsetOverride != nil && (math.IsNaN(*p.OffsetOverride) || math.IsInf(*p.OffsetOverride, 0)) {
		return fmt.Errorf("%w: offset_override must be finite", ErrInvalidPose)
	}
	if p.Zone < MinZone || p.Zone > MaxZone {
		return fmt.Errorf("%w: zone must be %d..%d, got %d", ErrInvalidPose, MinZone, MaxZone, p.Zone)
	}
	return nil
}

// WithOffset returns a copy of p with the offset override set.
func (p TargetPose) WithOffset(offset float64) TargetPose {
	p.OffsetOverride = &offset
	return p
}

func (p TargetPose) auditInput() audit.Input {
	in := audit.Input{
		X:              p.X,
		Y:              p.Y,
		Zone:           p.Zone,
		OrientationDeg: p.OrientationDeg,
		ConveyorMode:   p.ConveyorMode,
	}
	if p.OffsetOverride != nil {
		v := *p.OffsetOverride
		in.OffsetOverride = &v
	}
	return in
}

// Clamp records a shoulder or elbow angle that was pulled back into its
// calibration range.
type Clamp struct {
	Joint        arm.Joint `json:"joint"`
	RequestedDeg float64   `json:"requested_deg"`
	AppliedDeg   float64   `json:"applied_deg"`
}

// Solution is the result of a successful solve. Index i of Angles,
// RawAngles and Pulses is joint arm.KinematicJoints()[i].
type Solution struct {
	Pose                 TargetPose  `json:"pose"`
	Angles               [5]float64  `json:"angles"`
	RawAngles            [5]float64  `json:"raw_angles"`
	Pulses               [5]float64  `json:"pulses"`
	WristCorrectionPulse float64     `json:"wrist_correction_pulse"`
	Clamped              []Clamp     `json:"clamped,omitempty"`
	Saturated            []arm.Joint `json:"saturated,omitempty"` // pulse pinned at a calibration bound
	RecordID             string      `json:"record_id,omitempty"`
}

// Pulse returns the pulse of kinematic joint j.
func (s Solution) Pulse(j arm.Joint) (float64, bool) {
	i := j.Index()
	if i < 0 {
		return 0, false
	}
	return s.Pulses[i], true
}

// Config wires a Solver.
type Config struct {
	Geometry Geometry
	Table    *calibration.Table
	Recorder audit.Log // nil disables auditing

	// GravityCompensation adds the calibration table's gravity delta to
	// joints that declare one.
	GravityCompensation bool
}

// Solver is safe for concurrent use. Its only side effect is the audit
// append, which the audit log serializes.
type Solver struct {
	geom     Geometry
	table    *calibration.Table
	recorder audit.Log
	gravity  bool
}

// NewSolver validates cfg and returns a Solver.
func NewSolver(cfg Config) (*Solver, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	if cfg.Table == nil {
		return nil, errors.New("kinematics: calibration table is required")
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Solver{geom: cfg.Geometry, table: cfg.Table, recorder: rec, gravity: cfg.GravityCompensation}, nil
}

// Geometry returns the link lengths the solver was built with.
func (s *Solver) Geometry() Geometry { return s.geom }

// Table returns the calibration table the solver converts with.
func (s *Solver) Table() *calibration.Table { return s.table }

// Solve computes joint angles and pulses for pose and appends an audit
// record. It returns ErrUnreachable when the arm cannot reach the pose.
// If only the audit append fails, the full solution is returned together
// with an error wrapping ErrAudit.
func (s *Solver) Solve(pose TargetPose) (Solution, error) {
	if err := pose.Validate(); err != nil {
		return Solution{}, err
	}

	raw, err := s.angles(pose)
	if err != nil {
		return Solution{}, err
	}

	sol := Solution{Pose: pose, RawAngles: raw, Angles: raw}
	for _, j := range []arm.Joint{arm.Shoulder, arm.Elbow} {
		i := j.Index()
		clamped, err := s.table.Clamp(j, raw[i])
		if err != nil {
			return Solution{}, err
		}
		if clamped != raw[i] {
			sol.Clamped = append(sol.Clamped, Clamp{Joint: j, RequestedDeg: raw[i], AppliedDeg: clamped})
			debug.Verbose("%s clamped %.3f -> %.3f deg", j, raw[i], clamped)
		}
		sol.Angles[i] = clamped
	}

	for i, j := range arm.KinematicJoints() {
		p, err := s.pulse(j, sol.Angles[i])
		if err != nil {
			return Solution{}, err
		}
		sol.Pulses[i] = p
		if !s.table.InRange(j, sol.Angles[i]) {
			sol.Saturated = append(sol.Saturated, j)
		}
	}

	sol.WristCorrectionPulse, err = s.table.AngleToPulse(arm.WristRoll, -sol.Angles[0])
	if err != nil {
		return Solution{}, err
	}

	debug.Trace("solve (%.2f, %.2f) -> q=%.3f pulses=%.2f", pose.X, pose.Y, sol.Angles, sol.Pulses)

	rec, err := s.recorder.Append(audit.Record{
		Input: pose.auditInput(),
		Angles: audit.JointAngles{
			Q1: sol.Angles[0], Q2: sol.Angles[1], Q3: sol.Angles[2], Q4: sol.Angles[3], Q5: sol.Angles[4],
		},
		Pulses:               sol.Pulses,
		WristCorrectionPulse: sol.WristCorrectionPulse,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAudit, err)
		debug.Error(err)
		return sol, err
	}
	sol.RecordID = rec.ID
	return sol, nil
}

// angles runs the closed-form solution. Every asin/acos argument is
// checked, so an unreachable pose never produces NaN.
func (s *Solver) angles(p TargetPose) ([5]float64, error) {
	g := s.geom
	offset := g.ConveyorOffset
	if p.OffsetOverride != nil {
		offset = *p.OffsetOverride
	}
	m := 0.0
	if p.ConveyorMode {
		m = offset
	}

	a := g.E4 + g.E5 + m - g.E1
	b := math.Hypot(p.X, p.Y)
	c := math.Hypot(a, b)

	if c < minHypotenuse || !(a < c && b < c) {
		return [5]float64{}, fmt.Errorf("%w: (%g, %g) a=%.4f b=%.4f c=%.4f", ErrUnreachable, p.X, p.Y, a, b, c)
	}

	alpha1, ok1 := asinChecked(a / c)
	alpha2, ok2 := acosChecked((c*c + g.E2*g.E2 - g.E3*g.E3) / (2 * c * g.E2))
	elbow, ok3 := acosChecked((g.E2*g.E2 + g.E3*g.E3 - c*c) / (2 * g.E2 * g.E3))
	beta1, ok4 := asinChecked(b / c)
	beta2, ok5 := acosChecked((c*c + g.E3*g.E3 - g.E2*g.E2) / (2 * c * g.E3))
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return [5]float64{}, fmt.Errorf("%w: (%g, %g) links cannot span c=%.4f", ErrUnreachable, p.X, p.Y, c)
	}

	return [5]float64{
		degrees(math.Atan2(p.Y, p.X)),
		degrees(alpha1 + alpha2),
		degrees(elbow),
		degrees(beta1 + beta2),
		p.OrientationDeg,
	}, nil
}

func (s *Solver) pulse(j arm.Joint, angleDeg float64) (float64, error) {
	if s.gravity {
		return s.table.CompensatedPulse(j, angleDeg)
	}
	return s.table.AngleToPulse(j, angleDeg)
}

func asinChecked(v float64) (float64, bool) {
	v, ok := unitDomain(v)
	return math.Asin(v), ok
}

func acosChecked(v float64) (float64, bool) {
	v, ok := unitDomain(v)
	return math.Acos(v), ok
}

func unitDomain(v float64) (float64, bool) {
	if math.IsNaN(v) || math.Abs(v) > 1+domainTolerance {
		return 0, false
	}
	return math.Max(-1, math.Min(1, v)), true
}
