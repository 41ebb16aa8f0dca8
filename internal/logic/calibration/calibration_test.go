package calibration

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/ecobrazo/sortarm/internal/arm"
)

// ---------- AngleToPulse ----------

func TestAngleToPulse_ExactAtBounds(t *testing.T) {
	tbl := MustRigTable()
	for j, c := range tbl.Joints() {
		lo, err := tbl.AngleToPulse(j, c.MinAngleDeg)
		if err != nil {
			t.Fatalf("%s: %v", j, err)
		}
		hi, _ := tbl.AngleToPulse(j, c.MaxAngleDeg)
		if lo != c.MinPulseUs {
			t.Errorf("%s: pulse at min angle = %v, want %v", j, lo, c.MinPulseUs)
		}
		if hi != c.MaxPulseUs {
			t.Errorf("%s: pulse at max angle = %v, want %v", j, hi, c.MaxPulseUs)
		}
	}
}

func TestAngleToPulse_AffineInsideRange(t *testing.T) {
	tbl := MustRigTable()
	rng := rand.New(rand.NewSource(1))
	for j, c := range tbl.Joints() {
		slope := (c.MaxPulseUs - c.MinPulseUs) / (c.MaxAngleDeg - c.MinAngleDeg)
		for i := 0; i < 200; i++ {
			a := c.MinAngleDeg + rng.Float64()*(c.MaxAngleDeg-c.MinAngleDeg)
			got, _ := tbl.AngleToPulse(j, a)
			want := c.MinPulseUs + slope*(a-c.MinAngleDeg)
			if math.Abs(got-want) > 1e-5 {
				t.Fatalf("%s: AngleToPulse(%v) = %v, want %v", j, a, got, want)
			}
		}
	}
}

func TestAngleToPulse_ClampsOutsideRange(t *testing.T) {
	tbl := MustRigTable()
	for j, c := range tbl.Joints() {
		for _, below := range []float64{c.MinAngleDeg - 0.001, c.MinAngleDeg - 90, -1e9} {
			got, _ := tbl.AngleToPulse(j, below)
			if got != c.MinPulseUs {
				t.Errorf("%s: AngleToPulse(%v) = %v, want %v", j, below, got, c.MinPulseUs)
			}
		}
		for _, above := range []float64{c.MaxAngleDeg + 0.001, c.MaxAngleDeg + 90, 1e9} {
			got, _ := tbl.AngleToPulse(j, above)
			if got != c.MaxPulseUs {
				t.Errorf("%s: AngleToPulse(%v) = %v, want %v", j, above, got, c.MaxPulseUs)
			}
		}
	}
}

func TestAngleToPulse_InvertedJoint(t *testing.T) {
	tbl := MustRigTable()
	// Elbow: 45..180 deg -> 1904..448 us, pulse decreases with angle.
	cases := []struct {
		angle float64
		want  float64
	}{
		{45, 1904},
		{180, 448},
		{112.5, 1176},
		{90, 1418.66667},
	}
	for _, tc := range cases {
		got, err := tbl.AngleToPulse(arm.Elbow, tc.angle)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("AngleToPulse(elbow, %v) = %v, want %v", tc.angle, got, tc.want)
		}
	}
}

func TestAngleToPulse_RoundsToFiveDecimals(t *testing.T) {
	tbl := MustRigTable()
	got, _ := tbl.AngleToPulse(arm.Base, 33.690067525979785)
	if got != 1846.76702 {
		t.Errorf("AngleToPulse(base, 33.69...) = %v, want 1846.76702", got)
	}
}

func TestAngleToPulse_UnknownJoint(t *testing.T) {
	joints := RigDefaults()
	delete(joints, arm.Gripper)
	tbl, err := NewTable(joints)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.AngleToPulse(arm.Gripper, 10); !errors.Is(err, ErrUnknownJoint) {
		t.Errorf("expected ErrUnknownJoint, got %v", err)
	}
}

// ---------- PulseToAngle ----------

func TestPulseToAngle_RoundTrip(t *testing.T) {
	tbl := MustRigTable()
	for j, c := range tbl.Joints() {
		for a := c.MinAngleDeg; a <= c.MaxAngleDeg; a += 5 {
			p, _ := tbl.AngleToPulse(j, a)
			back, err := tbl.PulseToAngle(j, p)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(back-a) > 1e-3 {
				t.Errorf("%s: %v -> %v -> %v", j, a, p, back)
			}
		}
	}
}

// ---------- Clamp ----------

func TestClamp(t *testing.T) {
	tbl := MustRigTable()
	cases := []struct {
		joint arm.Joint
		in    float64
		want  float64
	}{
		{arm.Shoulder, 125.6, 90},
		{arm.Shoulder, 10, 20},
		{arm.Shoulder, 43.2, 43.2},
		{arm.Elbow, 200, 180},
		{arm.Elbow, 0, 45},
	}
	for _, tc := range cases {
		got, err := tbl.Clamp(tc.joint, tc.in)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("Clamp(%s, %v) = %v, want %v", tc.joint, tc.in, got, tc.want)
		}
	}
	if !tbl.InRange(arm.Elbow, 90) || tbl.InRange(arm.Elbow, 44.9) {
		t.Error("InRange mismatch for elbow")
	}
}

// ---------- Gravity compensation ----------

func TestCompensation_Shoulder(t *testing.T) {
	tbl := MustRigTable()
	cases := []struct {
		angle float64
		want  float64
	}{
		{-5, 0},
		{0, 0},
		{5, 1},
		{10, 2},
		{25, 6.5},
		{30, 8},
		{75, 8},
	}
	for _, tc := range cases {
		if got := tbl.Compensation(arm.Shoulder, tc.angle); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Compensation(shoulder, %v) = %v, want %v", tc.angle, got, tc.want)
		}
	}
}

func TestCompensation_NoTable(t *testing.T) {
	tbl := MustRigTable()
	if got := tbl.Compensation(arm.Elbow, 90); got != 0 {
		t.Errorf("Compensation(elbow) = %v, want 0", got)
	}
	if got := tbl.Compensation(arm.Joint(12), 90); got != 0 {
		t.Errorf("Compensation(unknown) = %v, want 0", got)
	}
}

func TestCompensatedPulse(t *testing.T) {
	tbl := MustRigTable()
	base, _ := tbl.AngleToPulse(arm.Shoulder, 25)
	got, err := tbl.CompensatedPulse(arm.Shoulder, 25)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-(base+6.5)) > 1e-9 {
		t.Errorf("CompensatedPulse = %v, want %v", got, base+6.5)
	}
}

func TestNewTable_SortsBreakpoints(t *testing.T) {
	joints := RigDefaults()
	c := joints[arm.Shoulder]
	c.GravityComp = []Breakpoint{{30, 8}, {0, 0}, {20, 5}, {10, 2}}
	joints[arm.Shoulder] = c
	tbl, err := NewTable(joints)
	if err != nil {
		t.Fatal(err)
	}
	if got := tbl.Compensation(arm.Shoulder, 15); got != 3.5 {
		t.Errorf("Compensation(15) = %v, want 3.5", got)
	}
	// Input slice must not be reordered.
	if c.GravityComp[0].AngleDeg != 30 {
		t.Error("NewTable mutated caller's breakpoints")
	}
}

// ---------- Validation ----------

func TestNewTable_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[arm.Joint]JointCalibration)
	}{
		{"missing_kinematic_joint", func(m map[arm.Joint]JointCalibration) { delete(m, arm.Elbow) }},
		{"empty_angle_range", func(m map[arm.Joint]JointCalibration) {
			c := m[arm.Base]
			c.MaxAngleDeg = c.MinAngleDeg
			m[arm.Base] = c
		}},
		{"nan_pulse", func(m map[arm.Joint]JointCalibration) {
			c := m[arm.WristRoll]
			c.MaxPulseUs = math.NaN()
			m[arm.WristRoll] = c
		}},
		{"invalid_joint", func(m map[arm.Joint]JointCalibration) { m[arm.Joint(5)] = m[arm.Base] }},
		{"duplicate_breakpoint", func(m map[arm.Joint]JointCalibration) {
			c := m[arm.Shoulder]
			c.GravityComp = []Breakpoint{{10, 1}, {10, 2}}
			m[arm.Shoulder] = c
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			joints := RigDefaults()
			tc.mutate(joints)
			if _, err := NewTable(joints); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
