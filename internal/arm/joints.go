// Package arm names the controllable axes of the sorting arm.
package arm

import "fmt"

// Joint identifies a servo channel on the controller. Arm axes use even
// channel numbers.
type Joint int

// Joints of the sorting arm, in kinematic order.
const (
	Base       Joint = 0  // q1, rotation about the vertical axis
	Shoulder   Joint = 2  // q2
	Elbow      Joint = 4  // q3
	WristPitch Joint = 6  // q4
	WristRoll  Joint = 8  // q5, gripper rotation
	Gripper    Joint = 10 // open/close
)

// KinematicJoints returns the five joints solved by inverse kinematics,
// in q1..q5 order.
func KinematicJoints() []Joint {
	return []Joint{Base, Shoulder, Elbow, WristPitch, WristRoll}
}

// AllJoints returns every joint including the gripper.
func AllJoints() []Joint {
	return append(KinematicJoints(), Gripper)
}

// Index returns the q-index (0 for q1) of a kinematic joint, or -1.
func (j Joint) Index() int {
	if j < Base || j > WristRoll || j%2 != 0 {
		return -1
	}
	return int(j) / 2
}

// Valid reports whether j is one of the arm's channels.
func (j Joint) Valid() bool {
	return j >= Base && j <= Gripper && j%2 == 0
}

func (j Joint) String() string {
	switch j {
	case Base:
		return "base"
	case Shoulder:
		return "shoulder"
	case Elbow:
		return "elbow"
	case WristPitch:
		return "wrist_pitch"
	case WristRoll:
		return "wrist_roll"
	case Gripper:
		return "gripper"
	}
	return fmt.Sprintf("joint(%d)", int(j))
}

// ParseJoint resolves a joint by its name.
func ParseJoint(name string) (Joint, error) {
	for _, j := range AllJoints() {
		if j.String() == name {
			return j, nil
		}
	}
	return 0, fmt.Errorf("unknown joint %q", name)
}
