// Package kinematics solves the closed-form inverse kinematics of the
// sorting arm and converts the result to servo pulses.
package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Geometry holds the link lengths of the arm in centimetres.
//
// E1 is the shoulder height above the base, E2 the upper arm, E3 the
// forearm, and E4+E5 the wrist-to-fingertip drop. ConveyorOffset is the
// height of the conveyor surface above the work surface.
type Geometry struct {
	E1             float64 `yaml:"e1" json:"e1"`
	E2             float64 `yaml:"e2" json:"e2"`
	E3             float64 `yaml:"e3" json:"e3"`
	E4             float64 `yaml:"e4" json:"e4"`
	E5             float64 `yaml:"e5" json:"e5"`
	ConveyorOffset float64 `yaml:"conveyor_offset" json:"conveyor_offset"`
}

// RigGeometry returns the link lengths measured on the sorting rig.
func RigGeometry() Geometry {
	return Geometry{E1: 6, E2: 10, E3: 12, E4: 5, E5: 6, ConveyorOffset: 7.2}
}

// Validate checks every length is finite and the two arm links are positive.
func (g Geometry) Validate() error {
	vals := map[string]float64{
		"e1": g.E1, "e2": g.E2, "e3": g.E3, "e4": g.E4, "e5": g.E5,
		"conveyor_offset": g.ConveyorOffset,
	}
	for name, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %v", name, v)
		}
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %v", name, v)
		}
	}
	if g.E2 <= 0 || g.E3 <= 0 {
		return fmt.Errorf("e2 and e3 must be > 0, got %v and %v", g.E2, g.E3)
	}
	return nil
}

// Forward returns the fingertip position for joint angles q1..q4 in
// degrees. z is measured from the base plate.
func (g Geometry) Forward(q1, q2, q3, q4 float64) (x, y, z float64) {
	s := radians(q2)
	e := radians(q3)
	w := radians(q4)

	elbow := r2.Scale(g.E2, unit(s))
	wrist := r2.Add(elbow, r2.Scale(g.E3, unit(s+e-math.Pi)))
	tip := r2.Add(wrist, r2.Scale(g.E4+g.E5, unit(s+e+w)))

	base := radians(q1)
	return tip.X * math.Cos(base), tip.X * math.Sin(base), tip.Y + g.E1
}

func unit(theta float64) r2.Vec {
	return r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
