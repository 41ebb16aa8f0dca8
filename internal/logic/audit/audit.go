// Package audit keeps an append-only record of every kinematics solve.
package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ecobrazo/sortarm/internal/debug"
)

// ErrCorrupt reports that an existing log could not be parsed at load time.
// The log starts empty and the file is preserved.
var ErrCorrupt = errors.New("audit: existing log is corrupt")

// Input is the target pose that produced a record.
type Input struct {
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Zone           int      `json:"zone"`
	OrientationDeg float64  `json:"orientation_deg"`
	ConveyorMode   bool     `json:"conveyor_mode"`
	OffsetOverride *float64 `json:"offset_override,omitempty"`
}

// JointAngles holds q1..q5 in degrees.
type JointAngles struct {
	Q1 float64 `json:"q1"`
	Q2 float64 `json:"q2"`
	Q3 float64 `json:"q3"`
	Q4 float64 `json:"q4"`
	Q5 float64 `json:"q5"`
}

// Record is one solve. Records are never edited once appended.
type Record struct {
	ID                   string      `json:"id"`
	Timestamp            time.Time   `json:"timestamp"`
	Input                Input       `json:"input"`
	Angles               JointAngles `json:"angles"`
	Pulses               [5]float64  `json:"pulses"`
	WristCorrectionPulse float64     `json:"wrist_correction_pulse"`
}

// Log is an ordered, append-only store of records. Implementations are
// safe for concurrent use.
type Log interface {
	// Append stores rec, filling in ID and Timestamp when unset, and
	// returns the stored record.
	Append(rec Record) (Record, error)
	// Records returns all records in append order.
	Records() ([]Record, error)
	Close() error
}

func stamp(rec Record, now func() time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now()
	}
	return rec
}

// Nop discards records. It is used when auditing is disabled.
type Nop struct{}

func (Nop) Append(rec Record) (Record, error) { return stamp(rec, time.Now), nil }
func (Nop) Records() ([]Record, error)        { return nil, nil }
func (Nop) Close() error                      { return nil }

// setAside renames a corrupt store to <path>.corrupt-<timestamp> so the next
// write starts from an empty file.
func setAside(path string, now time.Time) error {
	aside := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405"))
	if err := os.Rename(path, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("preserve corrupt audit log: %w", err)
	}
	debug.Info("corrupt audit log preserved as %s", aside)
	return nil
}
