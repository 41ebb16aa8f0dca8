package arm

import "testing"

func TestJoint_Index(t *testing.T) {
	for i, j := range KinematicJoints() {
		if got := j.Index(); got != i {
			t.Errorf("%s.Index() = %d, want %d", j, got, i)
		}
	}
	if Gripper.Index() != -1 {
		t.Errorf("Gripper.Index() = %d, want -1", Gripper.Index())
	}
	if Joint(3).Index() != -1 {
		t.Error("odd channel should have no index")
	}
}

func TestJoint_Valid(t *testing.T) {
	for _, j := range AllJoints() {
		if !j.Valid() {
			t.Errorf("%s should be valid", j)
		}
	}
	for _, j := range []Joint{-2, 1, 7, 12} {
		if j.Valid() {
			t.Errorf("joint %d should be invalid", int(j))
		}
	}
}

func TestParseJoint(t *testing.T) {
	for _, j := range AllJoints() {
		got, err := ParseJoint(j.String())
		if err != nil {
			t.Fatalf("ParseJoint(%q): %v", j, err)
		}
		if got != j {
			t.Errorf("ParseJoint(%q) = %v, want %v", j, got, j)
		}
	}
	if _, err := ParseJoint("tail"); err == nil {
		t.Error("expected error for unknown joint name")
	}
}
