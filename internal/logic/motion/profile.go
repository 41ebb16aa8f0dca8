package motion

import (
	"fmt"
	"slices"
	"time"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
)

// Gripper pulses on the rig.
const (
	GripperOpenUs   = 1008.0
	GripperClosedUs = 1900.0
)

// Profile describes one pick or place move.
type Profile struct {
	// PreGripperUs, when set, is sent to the gripper before the arm moves,
	// followed by PreDelay.
	PreGripperUs *float64      `json:"pre_gripper_us,omitempty"`
	PreDelay     time.Duration `json:"pre_delay"`

	// Order lists the kinematic joints in issue order.
	Order []arm.Joint `json:"order"`

	// LiftUs is added to the pulse of LiftJoint so the gripper clears the
	// surface while the other joints travel.
	LiftJoint arm.Joint `json:"lift_joint"`
	LiftUs    float64   `json:"lift_us"`

	// FinalDelay is waited before the terminal gripper command.
	FinalDelay time.Duration `json:"final_delay"`
	GripperUs  float64       `json:"gripper_us"`
}

// HomeProfile describes the homing move.
type HomeProfile struct {
	Pose      kinematics.TargetPose `json:"pose"`
	Order     []arm.Joint           `json:"order"`
	GripperUs float64               `json:"gripper_us"`
}

// Profiles groups the three moves the sequencer performs.
type Profiles struct {
	Grab    Profile     `json:"grab"`
	Release Profile     `json:"release"`
	Home    HomeProfile `json:"home"`
}

// RigProfiles returns the hand-tuned profiles of the sorting rig.
func RigProfiles() Profiles {
	open := GripperOpenUs
	return Profiles{
		Grab: Profile{
			PreGripperUs: &open,
			PreDelay:     500 * time.Millisecond,
			Order:        []arm.Joint{arm.Base, arm.Elbow, arm.Shoulder, arm.WristPitch, arm.WristRoll},
			LiftJoint:    arm.Base,
			FinalDelay:   time.Second,
			GripperUs:    GripperClosedUs,
		},
		Release: Profile{
			Order:      []arm.Joint{arm.Base, arm.WristRoll, arm.WristPitch, arm.Elbow, arm.Shoulder},
			LiftJoint:  arm.Base,
			LiftUs:     -15,
			FinalDelay: time.Second,
			GripperUs:  GripperOpenUs,
		},
		Home: HomeProfile{
			Pose:      kinematics.TargetPose{X: 6, Y: 6, Zone: kinematics.MinZone, ConveyorMode: true}.WithOffset(14),
			Order:     HomeOrder(),
			GripperUs: GripperOpenUs,
		},
	}
}

// HomeOrder is the fixed joint order of the homing move.
func HomeOrder() []arm.Joint {
	return []arm.Joint{arm.Shoulder, arm.Elbow, arm.WristPitch, arm.WristRoll, arm.Base}
}

// RigGrabPose is where items wait on the conveyor.
func RigGrabPose() kinematics.TargetPose {
	return kinematics.TargetPose{X: 15, Y: 10, Zone: kinematics.MinZone, ConveyorMode: true}
}

func validateOrder(name string, order []arm.Joint) error {
	if len(order) != len(arm.KinematicJoints()) {
		return fmt.Errorf("%s order must list the %d kinematic joints, got %v", name, len(arm.KinematicJoints()), order)
	}
	seen := make(map[arm.Joint]bool)
	for _, j := range order {
		if j.Index() < 0 {
			return fmt.Errorf("%s order: %s is not a kinematic joint", name, j)
		}
		if seen[j] {
			return fmt.Errorf("%s order: %s listed twice", name, j)
		}
		seen[j] = true
	}
	return nil
}

// Validate checks the grab and release orders are permutations of the
// kinematic joints and the home order is HomeOrder.
func (p Profiles) Validate() error {
	if err := validateOrder("grab", p.Grab.Order); err != nil {
		return err
	}
	if err := validateOrder("release", p.Release.Order); err != nil {
		return err
	}
	if p.Grab.LiftJoint.Index() < 0 || p.Release.LiftJoint.Index() < 0 {
		return fmt.Errorf("lift joint must be a kinematic joint")
	}
	if !slices.Equal(p.Home.Order, HomeOrder()) {
		return fmt.Errorf("home order must be %v, got %v", HomeOrder(), p.Home.Order)
	}
	return p.Home.Pose.Validate()
}
