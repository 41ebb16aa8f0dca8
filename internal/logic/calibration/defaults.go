package calibration

import "github.com/ecobrazo/sortarm/internal/arm"

// RigDefaults returns the calibration measured on the sorting rig.
func RigDefaults() map[arm.Joint]JointCalibration {
	shoulderGravity := []Breakpoint{{0, 0}, {10, 2}, {20, 5}, {30, 8}}
	return map[arm.Joint]JointCalibration{
		arm.Base:       {MinAngleDeg: 0, MaxAngleDeg: 90, MinPulseUs: 1505, MaxPulseUs: 2418},
		arm.Shoulder:   {MinAngleDeg: 20, MaxAngleDeg: 90, MinPulseUs: 942, MaxPulseUs: 1250, GravityComp: shoulderGravity},
		arm.Elbow:      {MinAngleDeg: 45, MaxAngleDeg: 180, MinPulseUs: 1904, MaxPulseUs: 448},
		arm.WristPitch: {MinAngleDeg: 72, MaxAngleDeg: 110, MinPulseUs: 2464, MaxPulseUs: 2096},
		arm.WristRoll:  {MinAngleDeg: 0, MaxAngleDeg: 90, MinPulseUs: 946, MaxPulseUs: 1900},
		arm.Gripper:    {MinAngleDeg: 0, MaxAngleDeg: 90, MinPulseUs: 1008, MaxPulseUs: 2208},
	}
}

// MustRigTable builds a Table from RigDefaults and panics on error.
func MustRigTable() *Table {
	t, err := NewTable(RigDefaults())
	if err != nil {
		panic(err)
	}
	return t
}
