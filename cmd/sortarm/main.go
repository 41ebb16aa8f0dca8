package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ecobrazo/sortarm/internal/config"
	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/serialport"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
	"github.com/ecobrazo/sortarm/internal/logic/sorter"
	"github.com/ecobrazo/sortarm/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	solveArg := flag.String("solve", "", "solve a target without moving: x,y or x,y,offset (cm)")
	zone := flag.Int("zone", kinematics.MinZone, "target zone for -solve (1-8)")
	home := flag.Bool("home", false, "move the arm to its rest pose")
	grab := flag.Bool("grab", false, "grab at the conveyor pickup point")
	place := flag.String("place", "", "drop the held item in the bin of this category")
	sortOnce := flag.Bool("sort", false, "run one grab-home-place-home cycle")
	watch := flag.Bool("watch", false, "sort every item the presence sensor reports")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	debugLevel := flag.Int("debug", -1, "override debug level 0-4")
	flag.Parse()

	if *listPorts {
		ports, err := serialport.List()
		if err != nil {
			log.Fatal(err)
		}
		if len(ports) == 0 {
			fmt.Println(dimStyle.Render("No serial ports found."))
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *debugLevel >= 0 {
		cfg.Defaults.DebugLevel = *debugLevel
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	opts := appOptions{watch: *watch, homeOnStart: cfg.Sorter.HomeOnStart}
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		opts.onChange = broadcaster.PublishStatus
	}

	a, err := newApp(cfg, opts)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("closing devices failed: %v", err)
		}
	}()

	if *solveArg != "" {
		pose, err := parseSolveArg(*solveArg, *zone)
		if err != nil {
			log.Fatalf("invalid -solve: %v", err)
		}
		sol, err := a.solver.Solve(pose)
		if err != nil && !errors.Is(err, kinematics.ErrAudit) {
			log.Fatalf("solve failed: %v", err)
		}
		fmt.Print(renderSolution(sol))
		if err != nil {
			fmt.Println(warnStyle.Render(err.Error()))
		}
		return
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.sorter.Run(ctx) }()

	if port := webPort.port(); port > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), web.Deps{
			Broadcaster: broadcaster,
			Arm:         a.sorter,
			Solver:      a.solver,
			Log:         a.log,
			Config:      a.configView(),
		})
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		if err := srv.Run(ctx); err != nil {
			log.Printf("web server: %v", err)
		}
		cancel()
		<-runErr
		return
	}

	reqs, err := cliRequests(*home, *grab, *place, *sortOnce)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	// Moves wait for the start-up home move instead of finding the arm busy.
	select {
	case <-a.sorter.Ready():
	case <-ctx.Done():
	}
	failed := false
	for _, req := range reqs {
		res, err := a.sorter.Submit(ctx, req)
		for _, rep := range res.Reports {
			fmt.Print(renderReport(rep))
		}
		if err != nil {
			fmt.Println(errorStyle.Render(fmt.Sprintf("%s failed: %v", req.Kind, err)))
			failed = true
			break
		}
	}

	if *watch && !failed {
		debug.Section("Watching for items")
		<-ctx.Done()
	}
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("sorter: %v", err)
	}
	if failed {
		a.Close()
		os.Exit(1)
	}
	if *watch || len(reqs) > 0 {
		fmt.Println(successStyle.Render(fmt.Sprintf("Done: %d item(s) sorted", a.sorter.Status().Cycles)))
	}
}

// cliRequests turns the move flags into requests, in a fixed order.
func cliRequests(home, grab bool, place string, sortOnce bool) ([]sorter.Request, error) {
	var reqs []sorter.Request
	if grab {
		reqs = append(reqs, sorter.Request{Kind: sorter.KindGrab})
	}
	if place != "" {
		c, err := motion.ParseCategory(place)
		if err != nil {
			return nil, fmt.Errorf("-place: %w (known: %v)", err, motion.Categories())
		}
		reqs = append(reqs, sorter.Request{Kind: sorter.KindPlace, Category: c})
	}
	if sortOnce {
		reqs = append(reqs, sorter.Request{Kind: sorter.KindCycle})
	}
	if home {
		reqs = append(reqs, sorter.Request{Kind: sorter.KindHome})
	}
	return reqs, nil
}

// parseSolveArg parses "x,y" or "x,y,offset" into a conveyor-mode pose.
func parseSolveArg(s string, zone int) (kinematics.TargetPose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return kinematics.TargetPose{}, fmt.Errorf("want x,y or x,y,offset, got %q", s)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return kinematics.TargetPose{}, fmt.Errorf("parse %q: %w", p, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return kinematics.TargetPose{}, fmt.Errorf("%q is not finite", p)
		}
		vals[i] = v
	}
	pose := kinematics.TargetPose{X: vals[0], Y: vals[1], Zone: zone, ConveyorMode: true}
	if len(vals) == 3 {
		pose = pose.WithOffset(vals[2])
	}
	return pose, pose.Validate()
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
