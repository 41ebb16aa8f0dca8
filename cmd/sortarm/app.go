package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/ecobrazo/sortarm/internal/config"
	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/actuator"
	"github.com/ecobrazo/sortarm/internal/hw/gpio"
	"github.com/ecobrazo/sortarm/internal/hw/presence"
	"github.com/ecobrazo/sortarm/internal/logic/audit"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
	"github.com/ecobrazo/sortarm/internal/logic/sorter"
	"github.com/ecobrazo/sortarm/internal/web"
)

// app holds the wired components and everything that must be closed.
type app struct {
	cfg     *config.Config
	log     audit.Log
	solver  *kinematics.Solver
	seq     *motion.Sequencer
	sorter  *sorter.Sorter
	closers []io.Closer
}

type appOptions struct {
	watch       bool                // attach the presence sensor
	homeOnStart bool                // home before accepting requests
	onChange    func(sorter.Status) // sorter status observer, may be nil
}

// newApp builds the stack described by cfg. On error everything opened so
// far is closed.
func newApp(cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	debug.Step(1, "Opening result log")
	a.log, err = audit.Open(cfg.Audit.Backend, cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, a.log)
	if lerr := audit.LoadErr(a.log); lerr != nil {
		debug.Warn("Result log was unreadable and has been set aside: %v", lerr)
	}
	debug.Value("Audit backend", cfg.Audit.Backend)

	debug.Step(2, "Building kinematics")
	table, err := cfg.CalibrationTable()
	if err != nil {
		return nil, err
	}
	a.solver, err = kinematics.NewSolver(kinematics.Config{
		Geometry:            cfg.Geometry,
		Table:               table,
		Recorder:            a.log,
		GravityCompensation: cfg.GravityCompensation,
	})
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Geometry", cfg.Geometry)

	var gpioDriver gpio.Driver
	if cfg.Sorter.BusyLEDPin > 0 || (opts.watch && cfg.Presence.Type == presence.TypeGPIO) {
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err = gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return nil, fmt.Errorf("init GPIO failed: %w", err)
		}
		a.closers = append(a.closers, gpioDriver)
	}

	debug.Step(3, "Opening actuator gateway")
	gw, gwCloser, err := actuator.New(cfg.Actuator)
	if err != nil {
		return nil, fmt.Errorf("actuator: %w", err)
	}
	a.closers = append(a.closers, gwCloser)
	debug.Value("Actuator type", cfg.Actuator.Type)

	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	placement, err := cfg.PlacementTable()
	if err != nil {
		return nil, err
	}
	a.seq, err = motion.New(motion.Config{
		Solver:    a.solver,
		Gateway:   gw,
		Profiles:  profiles,
		Placement: placement,
		Settle:    cfg.Settle(),
	})
	if err != nil {
		return nil, err
	}

	scfg := sorter.Config{
		Sequencer:    a.seq,
		Classifier:   sorter.FixedClassifier{Category: motion.Category(cfg.Sorter.Category)},
		GrabPose:     cfg.GrabPose(),
		PollInterval: cfg.PollInterval(),
		Cooldown:     cfg.Cooldown(),
		HomeOnStart:  opts.homeOnStart,
		OnChange:     opts.onChange,
	}
	if opts.watch {
		debug.Step(4, "Opening presence sensor")
		sensor, err := presence.New(cfg.Presence, gpioDriver)
		if err != nil {
			return nil, fmt.Errorf("presence sensor: %w", err)
		}
		a.closers = append(a.closers, sensor)
		scfg.Sensor = sensor
		debug.Value("Presence sensor", cfg.Presence.Type)
	}
	if cfg.Sorter.BusyLEDPin > 0 {
		scfg.LEDDriver = gpioDriver
		scfg.LEDPin = cfg.Sorter.BusyLEDPin
	}
	a.sorter, err = sorter.New(scfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// configView is what the web UI shows under /config.
func (a *app) configView() web.ConfigView {
	return web.ConfigView{
		Geometry:  a.cfg.Geometry,
		Joints:    a.cfg.Joints,
		Placement: a.seq.Placement().Entries(),
		Profiles:  a.seq.Profiles(),
		GrabPose:  a.cfg.GrabPose(),
	}
}

// Close releases every opened device, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
