package motion

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
)

// ErrUnknownCategory is returned for labels outside the classifier's set.
var ErrUnknownCategory = errors.New("motion: unknown waste category")

// Category is a classifier label. The values are the labels the model
// emits and must match exactly.
type Category string

const (
	Batteries Category = "Baterias"
	Cardboard Category = "Carton"
	Metal     Category = "Metal"
	Paper     Category = "Papel"
	Plastic   Category = "Plastico"
	Glass     Category = "Vidrio"
)

// Categories returns every label in alphabetical order.
func Categories() []Category {
	return []Category{Batteries, Cardboard, Metal, Paper, Plastic, Glass}
}

// ParseCategory accepts exactly one of the classifier labels.
func ParseCategory(label string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == label {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, label)
}

// Placement is where a category is dropped. Categories that share a
// physical bin share a Bin name and coordinates.
type Placement struct {
	Bin    string  `yaml:"bin" json:"bin"`
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Offset float64 `yaml:"offset" json:"offset"`
}

// Pose returns the release target for p, over the conveyor-height bins.
func (p Placement) Pose() kinematics.TargetPose {
	return kinematics.TargetPose{X: p.X, Y: p.Y, Zone: kinematics.MinZone, ConveyorMode: true}.WithOffset(p.Offset)
}

func (p Placement) coords() [3]float64 { return [3]float64{p.X, p.Y, p.Offset} }

// PlacementTable maps every category to its bin. It is read-only after
// construction.
type PlacementTable struct {
	entries map[Category]Placement
}

// RigPlacement returns the bin positions of the sorting rig.
func RigPlacement() map[Category]Placement {
	paper := Placement{Bin: "paper_cardboard", X: 0, Y: 19, Offset: 6}
	metal := Placement{Bin: "metal_batteries", X: 18, Y: -6, Offset: 6}
	return map[Category]Placement{
		Paper:     paper,
		Cardboard: paper,
		Plastic:   {Bin: "plastic", X: 0, Y: 1, Offset: 13},
		Glass:     {Bin: "glass", X: 3, Y: -1, Offset: 13},
		Metal:     metal,
		Batteries: metal,
	}
}

// MustRigPlacementTable is NewPlacementTable(RigPlacement()).
func MustRigPlacementTable() *PlacementTable {
	t, err := NewPlacementTable(RigPlacement())
	if err != nil {
		panic(err)
	}
	return t
}

// NewPlacementTable checks that every category has exactly one entry with
// finite coordinates and that two bins never share coordinates. Categories
// may share a bin.
func NewPlacementTable(entries map[Category]Placement) (*PlacementTable, error) {
	t := &PlacementTable{entries: make(map[Category]Placement, len(entries))}
	for c, p := range entries {
		if _, err := ParseCategory(string(c)); err != nil {
			return nil, err
		}
		if p.Bin == "" {
			return nil, fmt.Errorf("placement %s: bin name is required", c)
		}
		for _, v := range p.coords() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("placement %s: coordinates must be finite, got %v", c, p.coords())
			}
		}
		t.entries[c] = p
	}
	for _, c := range Categories() {
		if _, ok := t.entries[c]; !ok {
			return nil, fmt.Errorf("placement for %s is missing", c)
		}
	}

	byCoords := make(map[[3]float64]string)
	byBin := make(map[string][3]float64)
	for _, c := range t.Categories() {
		p := t.entries[c]
		if bin, ok := byCoords[p.coords()]; ok && bin != p.Bin {
			return nil, fmt.Errorf("bins %q and %q share coordinates %v", bin, p.Bin, p.coords())
		}
		if xy, ok := byBin[p.Bin]; ok && xy != p.coords() {
			return nil, fmt.Errorf("bin %q has two positions %v and %v", p.Bin, xy, p.coords())
		}
		byCoords[p.coords()] = p.Bin
		byBin[p.Bin] = p.coords()
	}
	return t, nil
}

// Lookup returns the placement of c.
func (t *PlacementTable) Lookup(c Category) (Placement, error) {
	p, ok := t.entries[c]
	if !ok {
		return Placement{}, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return p, nil
}

// Len returns the number of entries.
func (t *PlacementTable) Len() int { return len(t.entries) }

// Categories returns the categories in the table, sorted.
func (t *PlacementTable) Categories() []Category {
	out := make([]Category, 0, len(t.entries))
	for c := range t.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns a copy of the table.
func (t *PlacementTable) Entries() map[Category]Placement {
	out := make(map[Category]Placement, len(t.entries))
	for c, p := range t.entries {
		out[c] = p
	}
	return out
}
