package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/hw/actuator"
	"github.com/ecobrazo/sortarm/internal/hw/presence"
	"github.com/ecobrazo/sortarm/internal/logic/audit"
	"github.com/ecobrazo/sortarm/internal/logic/calibration"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// MoveConfig describes a grab or release move. Joints are named as in
// arm.ParseJoint.
type MoveConfig struct {
	PreGripperUs *float64 `yaml:"pre_gripper_us,omitempty"` // gripper pulse sent before the arm moves
	PreDelayMs   int      `yaml:"pre_delay_ms"`             // extra wait after the pre-gripper command
	Order        []string `yaml:"order"`                    // issue order of the five kinematic joints
	LiftJoint    string   `yaml:"lift_joint"`
	LiftUs       float64  `yaml:"lift_us"`        // added to the lift joint's pulse
	FinalDelayMs int      `yaml:"final_delay_ms"` // wait before the terminal gripper command
	GripperUs    float64  `yaml:"gripper_us"`
}

// HomeConfig describes the rest pose.
type HomeConfig struct {
	X         float64  `yaml:"x"`
	Y         float64  `yaml:"y"`
	Offset    float64  `yaml:"offset"` // vertical offset replacing the conveyor offset
	Order     []string `yaml:"order"`
	GripperUs float64  `yaml:"gripper_us"`
}

// PointConfig is a planar target over the conveyor.
type PointConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// MotionConfig holds the move profiles.
type MotionConfig struct {
	SettleMs int         `yaml:"settle_ms"` // wait before every command
	GrabPose PointConfig `yaml:"grab_pose"` // where items wait on the conveyor
	Grab     MoveConfig  `yaml:"grab"`
	Release  MoveConfig  `yaml:"release"`
	Home     HomeConfig  `yaml:"home"`
}

// AuditConfig selects the result log.
type AuditConfig struct {
	Backend string `yaml:"backend"` // json, sqlite or none
	Path    string `yaml:"path"`
}

// SorterConfig tunes the sorting loop.
type SorterConfig struct {
	Category    string `yaml:"category"`      // label assigned by the fixed classifier
	HomeOnStart bool   `yaml:"home_on_start"` // home the arm before the first cycle
	CooldownMs  int    `yaml:"cooldown_ms"`   // pause after a sensor-triggered cycle
	BusyLEDPin  int    `yaml:"busy_led_pin"`  // BCM pin lit while moving, 0 = none
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Geometry            kinematics.Geometry                     `yaml:"geometry"`
	Joints              map[string]calibration.JointCalibration `yaml:"joints"`
	GravityCompensation bool                                    `yaml:"gravity_compensation"`
	Motion              MotionConfig                            `yaml:"motion"`
	Placement           map[string]motion.Placement             `yaml:"placement"`
	Actuator            actuator.Config                         `yaml:"actuator"`
	Presence            presence.Config                         `yaml:"presence"`
	Audit               AuditConfig                             `yaml:"audit"`
	Sorter              SorterConfig                            `yaml:"sorter"`
	Defaults            DefaultsConfig                          `yaml:"defaults"`
}

// Default returns the configuration of the sorting rig with mock hardware.
func Default() *Config {
	joints := make(map[string]calibration.JointCalibration)
	for j, c := range calibration.RigDefaults() {
		joints[j.String()] = c
	}
	placement := make(map[string]motion.Placement)
	for c, p := range motion.RigPlacement() {
		placement[string(c)] = p
	}

	p := motion.RigProfiles()
	grab := motion.RigGrabPose()
	return &Config{
		Geometry:  kinematics.RigGeometry(),
		Joints:    joints,
		Placement: placement,
		Motion: MotionConfig{
			SettleMs: int(motion.DefaultSettle / time.Millisecond),
			GrabPose: PointConfig{X: grab.X, Y: grab.Y},
			Grab:     moveConfig(p.Grab),
			Release:  moveConfig(p.Release),
			Home: HomeConfig{
				X:         p.Home.Pose.X,
				Y:         p.Home.Pose.Y,
				Offset:    *p.Home.Pose.OffsetOverride,
				Order:     jointNames(p.Home.Order),
				GripperUs: p.Home.GripperUs,
			},
		},
		Actuator: actuator.Config{Type: actuator.TypeMock},
		Presence: presence.Config{Type: presence.TypeMock, PollMs: 300},
		Audit:    AuditConfig{Backend: audit.BackendJSON, Path: "results.json"},
		Sorter:   SorterConfig{Category: string(motion.Plastic), CooldownMs: 1000},
		Defaults: DefaultsConfig{MockGPIO: true},
	}
}

func moveConfig(p motion.Profile) MoveConfig {
	return MoveConfig{
		PreGripperUs: p.PreGripperUs,
		PreDelayMs:   int(p.PreDelay / time.Millisecond),
		Order:        jointNames(p.Order),
		LiftJoint:    p.LiftJoint.String(),
		LiftUs:       p.LiftUs,
		FinalDelayMs: int(p.FinalDelay / time.Millisecond),
		GripperUs:    p.GripperUs,
	}
}

func jointNames(js []arm.Joint) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.String()
	}
	return out
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/
// directory, without parent-directory components.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file over the rig defaults and validates the result.
// A section present in the file replaces the default; a joint or bin
// listed in the file replaces that entry only.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and fills unset delays.
func (c *Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("geometry: %w", err)
	}
	if _, err := c.CalibrationTable(); err != nil {
		return err
	}
	if _, err := c.Profiles(); err != nil {
		return err
	}
	if _, err := c.PlacementTable(); err != nil {
		return fmt.Errorf("placement: %w", err)
	}
	if err := c.GrabPose().Validate(); err != nil {
		return fmt.Errorf("motion.grab_pose: %w", err)
	}

	if c.Motion.SettleMs <= 0 {
		c.Motion.SettleMs = int(motion.DefaultSettle / time.Millisecond)
	}
	if c.Presence.PollMs <= 0 {
		c.Presence.PollMs = 300
	}
	if c.Sorter.CooldownMs < 0 {
		return fmt.Errorf("sorter.cooldown_ms must be >= 0, got %d", c.Sorter.CooldownMs)
	}
	if _, err := motion.ParseCategory(c.Sorter.Category); err != nil {
		return fmt.Errorf("sorter.category: %w", err)
	}
	switch c.Audit.Backend {
	case audit.BackendJSON, audit.BackendSQLite, audit.BackendNone:
	case "":
		c.Audit.Backend = audit.BackendJSON
	default:
		return fmt.Errorf("audit.backend must be json, sqlite or none, got %q", c.Audit.Backend)
	}
	if c.Audit.Backend != audit.BackendNone && c.Audit.Path == "" {
		return errors.New("audit.path is required")
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// CalibrationTable builds the per-joint calibration.
func (c *Config) CalibrationTable() (*calibration.Table, error) {
	joints := make(map[arm.Joint]calibration.JointCalibration, len(c.Joints))
	for name, jc := range c.Joints {
		j, err := arm.ParseJoint(name)
		if err != nil {
			return nil, fmt.Errorf("joints: %w", err)
		}
		joints[j] = jc
	}
	t, err := calibration.NewTable(joints)
	if err != nil {
		return nil, fmt.Errorf("joints: %w", err)
	}
	return t, nil
}

// Profiles builds the move profiles.
func (c *Config) Profiles() (motion.Profiles, error) {
	grab, err := c.Motion.Grab.profile("grab")
	if err != nil {
		return motion.Profiles{}, err
	}
	release, err := c.Motion.Release.profile("release")
	if err != nil {
		return motion.Profiles{}, err
	}
	homeOrder, err := parseOrder("home", c.Motion.Home.Order)
	if err != nil {
		return motion.Profiles{}, err
	}
	h := c.Motion.Home
	p := motion.Profiles{
		Grab:    grab,
		Release: release,
		Home: motion.HomeProfile{
			Pose:      kinematics.TargetPose{X: h.X, Y: h.Y, Zone: kinematics.MinZone, ConveyorMode: true}.WithOffset(h.Offset),
			Order:     homeOrder,
			GripperUs: h.GripperUs,
		},
	}
	if err := p.Validate(); err != nil {
		return motion.Profiles{}, fmt.Errorf("motion: %w", err)
	}
	return p, nil
}

func (m MoveConfig) profile(name string) (motion.Profile, error) {
	order, err := parseOrder(name, m.Order)
	if err != nil {
		return motion.Profile{}, err
	}
	lift := arm.Base
	if m.LiftJoint != "" {
		if lift, err = arm.ParseJoint(m.LiftJoint); err != nil {
			return motion.Profile{}, fmt.Errorf("motion.%s.lift_joint: %w", name, err)
		}
	}
	if m.PreDelayMs < 0 || m.FinalDelayMs < 0 {
		return motion.Profile{}, fmt.Errorf("motion.%s: delays must be >= 0", name)
	}
	return motion.Profile{
		PreGripperUs: m.PreGripperUs,
		PreDelay:     time.Duration(m.PreDelayMs) * time.Millisecond,
		Order:        order,
		LiftJoint:    lift,
		LiftUs:       m.LiftUs,
		FinalDelay:   time.Duration(m.FinalDelayMs) * time.Millisecond,
		GripperUs:    m.GripperUs,
	}, nil
}

func parseOrder(name string, names []string) ([]arm.Joint, error) {
	out := make([]arm.Joint, 0, len(names))
	for _, n := range names {
		j, err := arm.ParseJoint(n)
		if err != nil {
			return nil, fmt.Errorf("motion.%s.order: %w", name, err)
		}
		out = append(out, j)
	}
	return out, nil
}

// PlacementTable builds the category to bin table.
func (c *Config) PlacementTable() (*motion.PlacementTable, error) {
	entries := make(map[motion.Category]motion.Placement, len(c.Placement))
	for label, p := range c.Placement {
		entries[motion.Category(label)] = p
	}
	return motion.NewPlacementTable(entries)
}

// GrabPose returns the conveyor pickup point.
func (c *Config) GrabPose() kinematics.TargetPose {
	return kinematics.TargetPose{X: c.Motion.GrabPose.X, Y: c.Motion.GrabPose.Y, Zone: kinematics.MinZone, ConveyorMode: true}
}

// Settle returns the wait before every command.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Motion.SettleMs) * time.Millisecond
}

// Cooldown returns the pause after a sensor-triggered cycle.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Sorter.CooldownMs) * time.Millisecond
}

// PollInterval returns the presence poll period.
func (c *Config) PollInterval() time.Duration {
	return c.Presence.PollInterval()
}
