// Package sorter runs the pick-and-place cycle. It owns the arm: every
// move, whether triggered by the presence sensor or requested over HTTP
// or the CLI, goes through the sorter's single request slot and runs on
// its goroutine, so two moves never overlap.
package sorter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/gpio"
	"github.com/ecobrazo/sortarm/internal/hw/presence"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
)

// ErrBusy is returned when a move is running or already queued.
var ErrBusy = errors.New("sorter: arm busy")

// ErrStopped is returned for requests submitted after Run returned.
var ErrStopped = errors.New("sorter: not running")

// State is the arm's activity.
type State int

const (
	Idle State = iota
	InMotion
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InMotion:
		return "in_motion"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "in_motion":
		*s = InMotion
	default:
		return fmt.Errorf("unknown sorter state %q", b)
	}
	return nil
}

// Kind selects what a request does.
type Kind string

const (
	KindCycle   Kind = "cycle"
	KindHome    Kind = "home"
	KindGrab    Kind = "grab"
	KindRelease Kind = "release"
	KindPlace   Kind = "place"
)

// Request asks the sorter for one move or a full cycle.
type Request struct {
	Kind Kind `json:"kind"`

	// Category is the bin for KindPlace. For KindCycle it overrides the
	// classifier when set.
	Category motion.Category `json:"category,omitempty"`

	// Pose is the target for KindGrab and KindRelease. A nil Pose grabs at
	// the conveyor pickup point.
	Pose *kinematics.TargetPose `json:"pose,omitempty"`
}

// Result is what a request produced. Reports holds one entry per move
// started, including the one that failed.
type Result struct {
	Reports        []motion.Report `json:"reports"`
	Classification *Classification `json:"classification,omitempty"`
	Err            error           `json:"-"`
}

// Status is a snapshot for observers.
type Status struct {
	State        State           `json:"state"`
	Consistent   bool            `json:"consistent"`
	Cycles       int             `json:"cycles"`
	LastCategory motion.Category `json:"last_category,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Config wires a Sorter.
type Config struct {
	Sequencer  *motion.Sequencer
	Classifier Classifier      // required for sensor-triggered cycles
	Sensor     presence.Sensor // nil disables sensor-triggered cycles

	GrabPose     kinematics.TargetPose
	PollInterval time.Duration // presence poll period, default 300ms
	Cooldown     time.Duration // pause after a cycle before polling again
	HomeOnStart  bool

	// BusyLED, when Driver is set, is driven high while the arm moves.
	LEDDriver gpio.Driver
	LEDPin    int

	// OnChange is called with every status change, on the sorter goroutine.
	OnChange func(Status)
}

type request struct {
	Request
	reply chan Result
}

// Sorter serializes every arm move.
type Sorter struct {
	seq        *motion.Sequencer
	classifier Classifier
	sensor     presence.Sensor
	grabPose   kinematics.TargetPose
	poll       time.Duration
	cooldown   time.Duration
	homeStart  bool
	led        gpio.Driver
	ledPin     int
	onChange   func(Status)

	requests chan request
	ready    chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	status Status
}

// New validates cfg and returns an idle Sorter. Call Run to start it.
func New(cfg Config) (*Sorter, error) {
	if cfg.Sequencer == nil {
		return nil, errors.New("sorter: sequencer is required")
	}
	if cfg.Sensor != nil && cfg.Classifier == nil {
		return nil, errors.New("sorter: sensor-triggered cycles need a classifier")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 300 * time.Millisecond
	}
	if cfg.GrabPose == (kinematics.TargetPose{}) {
		cfg.GrabPose = motion.RigGrabPose()
	}
	if err := cfg.GrabPose.Validate(); err != nil {
		return nil, fmt.Errorf("grab pose: %w", err)
	}
	if cfg.LEDDriver != nil {
		if err := cfg.LEDDriver.SetupPin(cfg.LEDPin, gpio.Output); err != nil {
			return nil, fmt.Errorf("busy led: %w", err)
		}
	}
	return &Sorter{
		seq:        cfg.Sequencer,
		classifier: cfg.Classifier,
		sensor:     cfg.Sensor,
		grabPose:   cfg.GrabPose,
		poll:       cfg.PollInterval,
		cooldown:   cfg.Cooldown,
		homeStart:  cfg.HomeOnStart,
		led:        cfg.LEDDriver,
		ledPin:     cfg.LEDPin,
		onChange:   cfg.OnChange,
		requests:   make(chan request, 1),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		status:     Status{State: Idle, Consistent: cfg.Sequencer.Consistent(), UpdatedAt: time.Now()},
	}, nil
}

// Status returns the current status.
func (s *Sorter) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ready is closed once Run has finished its start-up homing and accepts
// requests.
func (s *Sorter) Ready() <-chan struct{} { return s.ready }

// Sequencer returns the sequencer the sorter drives.
func (s *Sorter) Sequencer() *motion.Sequencer { return s.seq }

// Submit hands req to the running sorter and waits for its result. It
// returns ErrBusy without waiting when a move is already running or
// queued.
func (s *Sorter) Submit(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if s.Status().State != Idle {
		return Result{}, ErrBusy
	}
	r := request{Request: req, reply: make(chan Result, 1)}
	select {
	case <-s.done:
		return Result{}, ErrStopped
	default:
	}
	select {
	case s.requests <- r:
	default:
		return Result{}, ErrBusy
	}

	select {
	case res := <-r.reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		return Result{}, ErrStopped
	}
}

func validate(req Request) error {
	switch req.Kind {
	case KindHome, KindGrab:
	case KindRelease:
		if req.Pose == nil {
			return errors.New("sorter: release needs a pose")
		}
	case KindPlace:
		if _, err := motion.ParseCategory(string(req.Category)); err != nil {
			return err
		}
	case KindCycle:
		if req.Category != "" {
			if _, err := motion.ParseCategory(string(req.Category)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("sorter: unknown request kind %q", req.Kind)
	}
	if req.Pose != nil {
		return req.Pose.Validate()
	}
	return nil
}

// Run processes requests and, when a sensor is configured, starts a
// cycle whenever it reports an item. It returns when ctx is done.
func (s *Sorter) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.setLED(false)

	if s.homeStart {
		debug.Info("Homing arm on start")
		s.handle(ctx, Request{Kind: KindHome})
	}
	close(s.ready)

	var tick <-chan time.Time
	if s.sensor != nil {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.requests:
			r.reply <- s.handle(ctx, r.Request)
		case <-tick:
			signal, ok, err := s.sensor.Present(ctx)
			if err != nil {
				debug.Warn("presence sensor: %v", err)
				continue
			}
			if !ok || signal == 0 {
				continue
			}
			debug.Live("Item detected (signal %d)", signal)
			s.handle(ctx, Request{Kind: KindCycle})
			if s.cooldown > 0 {
				if err := motion.SleepContext(ctx, s.cooldown); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Sorter) handle(ctx context.Context, req Request) Result {
	s.transition(InMotion, nil, "")
	s.setLED(true)
	defer s.setLED(false)

	var res Result
	switch req.Kind {
	case KindCycle:
		res = s.cycle(ctx, req.Category)
	case KindHome:
		res = s.run(res, func() (motion.Report, error) { return s.seq.Home(ctx) })
	case KindGrab:
		pose := s.grabPose
		if req.Pose != nil {
			pose = *req.Pose
		}
		res = s.run(res, func() (motion.Report, error) { return s.seq.Grab(ctx, pose) })
	case KindRelease:
		res = s.run(res, func() (motion.Report, error) { return s.seq.Release(ctx, *req.Pose) })
	case KindPlace:
		res = s.run(res, func() (motion.Report, error) { return s.seq.Place(ctx, req.Category) })
	default:
		res.Err = fmt.Errorf("sorter: unknown request kind %q", req.Kind)
	}

	var category motion.Category
	if res.Classification != nil && req.Kind == KindCycle && res.Err == nil {
		category = res.Classification.Category
	}
	s.transition(Idle, res.Err, category)
	return res
}

// cycle grabs the waiting item, homes, drops it in its bin and homes
// again.
func (s *Sorter) cycle(ctx context.Context, category motion.Category) Result {
	var res Result
	cls := Classification{Category: category, Confidence: 1, OK: true}
	if category == "" {
		if s.classifier == nil {
			res.Err = errors.New("sorter: no classifier configured")
			return res
		}
		var err error
		cls, err = s.classifier.Classify(ctx)
		if err != nil {
			res.Err = fmt.Errorf("classify: %w", err)
			return res
		}
	}
	res.Classification = &cls
	if !cls.OK {
		debug.Info("Nothing recognised at the pickup point, skipping")
		return res
	}
	debug.Summary(fmt.Sprintf("Sorting %s (confidence %.2f)", cls.Category, cls.Confidence))

	steps := []func() (motion.Report, error){
		func() (motion.Report, error) { return s.seq.Grab(ctx, s.grabPose) },
		func() (motion.Report, error) { return s.seq.Home(ctx) },
		func() (motion.Report, error) { return s.seq.Place(ctx, cls.Category) },
		func() (motion.Report, error) { return s.seq.Home(ctx) },
	}
	for _, step := range steps {
		if res = s.run(res, step); res.Err != nil {
			return res
		}
	}
	return res
}

func (s *Sorter) run(res Result, move func() (motion.Report, error)) Result {
	rep, err := move()
	res.Reports = append(res.Reports, rep)
	res.Err = err
	return res
}

func (s *Sorter) transition(state State, err error, category motion.Category) {
	s.mu.Lock()
	s.status.State = state
	s.status.Consistent = s.seq.Consistent()
	s.status.UpdatedAt = time.Now()
	if state == Idle {
		if err != nil {
			s.status.LastError = err.Error()
		} else {
			s.status.LastError = ""
		}
		if category != "" {
			s.status.Cycles++
			s.status.LastCategory = category
		}
	}
	st := s.status
	s.mu.Unlock()

	debug.Verbose("sorter %s", state)
	if s.onChange != nil {
		s.onChange(st)
	}
}

func (s *Sorter) setLED(on bool) {
	if s.led == nil {
		return
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := s.led.WritePin(s.ledPin, level); err != nil {
		debug.Warn("busy led: %v", err)
	}
}
