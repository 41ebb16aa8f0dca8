// Package calibration converts joint angles to servo pulse widths using
// per-joint empirical calibration.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/ecobrazo/sortarm/internal/arm"
)

// PulsePrecision is the number of decimal digits pulses are rounded to.
const PulsePrecision = 5

// ErrUnknownJoint is returned for joints missing from the table.
var ErrUnknownJoint = errors.New("calibration: unknown joint")

// Breakpoint is one entry of a gravity-compensation table.
type Breakpoint struct {
	AngleDeg float64 `yaml:"angle_deg" json:"angle_deg"`
	DeltaUs  float64 `yaml:"delta_us" json:"delta_us"`
}

// JointCalibration maps a closed angle range linearly onto a pulse range.
// MinPulseUs may be greater than MaxPulseUs for joints mounted inverted.
type JointCalibration struct {
	MinAngleDeg float64      `yaml:"min_angle_deg" json:"min_angle_deg"`
	MaxAngleDeg float64      `yaml:"max_angle_deg" json:"max_angle_deg"`
	MinPulseUs  float64      `yaml:"min_pulse_us" json:"min_pulse_us"`
	MaxPulseUs  float64      `yaml:"max_pulse_us" json:"max_pulse_us"`
	OffsetDeg   float64      `yaml:"offset_deg" json:"offset_deg"` // reserved, always 0 on the current rig
	GravityComp []Breakpoint `yaml:"gravity_comp,omitempty" json:"gravity_comp,omitempty"`
}

// Validate checks the angle range is finite and non-empty.
func (c JointCalibration) Validate() error {
	for _, v := range []float64{c.MinAngleDeg, c.MaxAngleDeg, c.MinPulseUs, c.MaxPulseUs, c.OffsetDeg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite calibration value %v", v)
		}
	}
	if c.MinAngleDeg >= c.MaxAngleDeg {
		return fmt.Errorf("min_angle_deg (%g) must be < max_angle_deg (%g)", c.MinAngleDeg, c.MaxAngleDeg)
	}
	for _, bp := range c.GravityComp {
		if math.IsNaN(bp.AngleDeg) || math.IsNaN(bp.DeltaUs) {
			return fmt.Errorf("non-finite gravity breakpoint %+v", bp)
		}
	}
	return nil
}

// Clamp restricts angleDeg to [MinAngleDeg, MaxAngleDeg].
func (c JointCalibration) Clamp(angleDeg float64) float64 {
	return math.Max(c.MinAngleDeg, math.Min(angleDeg, c.MaxAngleDeg))
}

// Pulse interpolates the clamped angle onto the pulse range.
func (c JointCalibration) Pulse(angleDeg float64) float64 {
	a := c.Clamp(angleDeg + c.OffsetDeg)
	switch a {
	case c.MinAngleDeg:
		return c.MinPulseUs
	case c.MaxAngleDeg:
		return c.MaxPulseUs
	}
	t := (a - c.MinAngleDeg) / (c.MaxAngleDeg - c.MinAngleDeg)
	return scalar.Round(c.MinPulseUs+t*(c.MaxPulseUs-c.MinPulseUs), PulsePrecision)
}

// Angle is the inverse of Pulse. Pulses outside the range map to the
// nearest angle bound.
func (c JointCalibration) Angle(pulseUs float64) float64 {
	span := c.MaxPulseUs - c.MinPulseUs
	if span == 0 {
		return c.MinAngleDeg
	}
	t := math.Max(0, math.Min(1, (pulseUs-c.MinPulseUs)/span))
	return c.MinAngleDeg + t*(c.MaxAngleDeg-c.MinAngleDeg) - c.OffsetDeg
}

// Compensation returns the gravity pulse delta at angleDeg. Between
// breakpoints the delta is interpolated linearly; outside them the nearest
// end value holds.
func (c JointCalibration) Compensation(angleDeg float64) float64 {
	bps := c.GravityComp
	if len(bps) == 0 {
		return 0
	}
	if angleDeg <= bps[0].AngleDeg {
		return bps[0].DeltaUs
	}
	last := bps[len(bps)-1]
	if angleDeg >= last.AngleDeg {
		return last.DeltaUs
	}
	i := sort.Search(len(bps), func(i int) bool { return bps[i].AngleDeg >= angleDeg })
	lo, hi := bps[i-1], bps[i]
	t := (angleDeg - lo.AngleDeg) / (hi.AngleDeg - lo.AngleDeg)
	return lo.DeltaUs + t*(hi.DeltaUs-lo.DeltaUs)
}

// Table holds the calibration of every joint. It is immutable after
// NewTable and safe for concurrent use.
type Table struct {
	joints map[arm.Joint]JointCalibration
}

// NewTable validates and copies the given calibrations. All five kinematic
// joints are required; the gripper is optional.
func NewTable(joints map[arm.Joint]JointCalibration) (*Table, error) {
	t := &Table{joints: make(map[arm.Joint]JointCalibration, len(joints))}
	for j, c := range joints {
		if !j.Valid() {
			return nil, fmt.Errorf("calibration for invalid joint %d", int(j))
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("joint %s: %w", j, err)
		}
		bps := append([]Breakpoint(nil), c.GravityComp...)
		sort.Slice(bps, func(a, b int) bool { return bps[a].AngleDeg < bps[b].AngleDeg })
		for i := 1; i < len(bps); i++ {
			if bps[i].AngleDeg == bps[i-1].AngleDeg {
				return nil, fmt.Errorf("joint %s: duplicate gravity breakpoint at %g deg", j, bps[i].AngleDeg)
			}
		}
		c.GravityComp = bps
		t.joints[j] = c
	}
	for _, j := range arm.KinematicJoints() {
		if _, ok := t.joints[j]; !ok {
			return nil, fmt.Errorf("missing calibration for joint %s", j)
		}
	}
	return t, nil
}

// Joint returns the calibration of j.
func (t *Table) Joint(j arm.Joint) (JointCalibration, error) {
	c, ok := t.joints[j]
	if !ok {
		return JointCalibration{}, fmt.Errorf("%w: %s", ErrUnknownJoint, j)
	}
	return c, nil
}

// Joints returns a copy of the calibrations keyed by joint.
func (t *Table) Joints() map[arm.Joint]JointCalibration {
	out := make(map[arm.Joint]JointCalibration, len(t.joints))
	for j, c := range t.joints {
		out[j] = c
	}
	return out
}

// AngleToPulse converts an angle to a pulse width in microseconds.
// Angles outside the joint range are clamped first.
func (t *Table) AngleToPulse(j arm.Joint, angleDeg float64) (float64, error) {
	c, err := t.Joint(j)
	if err != nil {
		return 0, err
	}
	return c.Pulse(angleDeg), nil
}

// PulseToAngle converts a pulse width back to an angle.
func (t *Table) PulseToAngle(j arm.Joint, pulseUs float64) (float64, error) {
	c, err := t.Joint(j)
	if err != nil {
		return 0, err
	}
	return c.Angle(pulseUs), nil
}

// Clamp restricts angleDeg to the range of joint j.
func (t *Table) Clamp(j arm.Joint, angleDeg float64) (float64, error) {
	c, err := t.Joint(j)
	if err != nil {
		return 0, err
	}
	return c.Clamp(angleDeg), nil
}

// InRange reports whether angleDeg lies within the range of joint j.
func (t *Table) InRange(j arm.Joint, angleDeg float64) bool {
	c, ok := t.joints[j]
	return ok && angleDeg >= c.MinAngleDeg && angleDeg <= c.MaxAngleDeg
}

// Compensation returns the gravity delta of joint j at angleDeg, zero for
// joints that declare no table.
func (t *Table) Compensation(j arm.Joint, angleDeg float64) float64 {
	c, ok := t.joints[j]
	if !ok {
		return 0
	}
	return c.Compensation(angleDeg)
}

// CompensatedPulse is AngleToPulse plus the gravity delta.
func (t *Table) CompensatedPulse(j arm.Joint, angleDeg float64) (float64, error) {
	p, err := t.AngleToPulse(j, angleDeg)
	if err != nil {
		return 0, err
	}
	return scalar.Round(p+t.Compensation(j, angleDeg), PulsePrecision), nil
}
