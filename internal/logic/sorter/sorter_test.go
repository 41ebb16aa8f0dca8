package sorter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/hw/actuator"
	"github.com/ecobrazo/sortarm/internal/hw/gpio"
	"github.com/ecobrazo/sortarm/internal/hw/presence"
	"github.com/ecobrazo/sortarm/internal/logic/calibration"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newSequencer(t *testing.T, gw actuator.Gateway) *motion.Sequencer {
	t.Helper()
	solver, err := kinematics.NewSolver(kinematics.Config{
		Geometry: kinematics.RigGeometry(),
		Table:    calibration.MustRigTable(),
	})
	require.NoError(t, err)
	seq, err := motion.New(motion.Config{
		Solver:   solver,
		Gateway:  gw,
		Profiles: motion.RigProfiles(),
		Sleep:    noSleep,
	})
	require.NoError(t, err)
	return seq
}

// start runs s until the test ends.
func start(t *testing.T, s *Sorter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// gate blocks every Issue until released.
type gate struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) Issue(ctx context.Context, _ arm.Joint, _ float64) error {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSubmit_Home(t *testing.T) {
	rec := actuator.NewRecorder()
	s, err := New(Config{Sequencer: newSequencer(t, rec)})
	require.NoError(t, err)
	start(t, s)

	res, err := s.Submit(context.Background(), Request{Kind: KindHome})
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, motion.KindHome, res.Reports[0].Kind)
	assert.True(t, res.Reports[0].Complete())

	st := s.Status()
	assert.Equal(t, Idle, st.State)
	assert.True(t, st.Consistent)
	assert.Zero(t, st.Cycles, "a lone home is not a sorting cycle")
}

func TestSubmit_CycleWithCategory(t *testing.T) {
	rec := actuator.NewRecorder()
	s, err := New(Config{Sequencer: newSequencer(t, rec)})
	require.NoError(t, err)
	start(t, s)

	res, err := s.Submit(context.Background(), Request{Kind: KindCycle, Category: motion.Glass})
	require.NoError(t, err)

	var kinds []motion.Kind
	for _, r := range res.Reports {
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []motion.Kind{motion.KindGrab, motion.KindHome, motion.KindRelease, motion.KindHome}, kinds)
	assert.Equal(t, motion.Glass, res.Reports[2].Category)
	require.NotNil(t, res.Classification)
	assert.Equal(t, motion.Glass, res.Classification.Category)

	st := s.Status()
	assert.Equal(t, 1, st.Cycles)
	assert.Equal(t, motion.Glass, st.LastCategory)
	assert.Empty(t, st.LastError)
}

func TestSubmit_Grab_DefaultsToPickupPoint(t *testing.T) {
	rec := actuator.NewRecorder()
	s, err := New(Config{Sequencer: newSequencer(t, rec)})
	require.NoError(t, err)
	start(t, s)

	res, err := s.Submit(context.Background(), Request{Kind: KindGrab})
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, motion.RigGrabPose(), res.Reports[0].Solution.Pose)
}

func TestSubmit_Validation(t *testing.T) {
	s, err := New(Config{Sequencer: newSequencer(t, actuator.NewRecorder())})
	require.NoError(t, err)

	bad := []Request{
		{Kind: "dance"},
		{Kind: KindPlace, Category: "Madera"},
		{Kind: KindPlace},
		{Kind: KindRelease},
		{Kind: KindCycle, Category: "Madera"},
		{Kind: KindGrab, Pose: &kinematics.TargetPose{X: 1, Y: 1, Zone: 9}},
	}
	for _, req := range bad {
		_, err := s.Submit(context.Background(), req)
		assert.Error(t, err, "request %+v", req)
	}
}

func TestSubmit_BusyWhileMoving(t *testing.T) {
	g := newGate()
	drv := gpio.NewMockDriver()
	s, err := New(Config{Sequencer: newSequencer(t, g), LEDDriver: drv, LEDPin: 17})
	require.NoError(t, err)
	start(t, s)

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), Request{Kind: KindHome})
		first <- err
	}()
	<-g.started

	assert.Equal(t, InMotion, s.Status().State)
	assert.Equal(t, gpio.High, drv.Level(17), "busy led lit during motion")

	_, err = s.Submit(context.Background(), Request{Kind: KindPlace, Category: motion.Paper})
	assert.ErrorIs(t, err, ErrBusy)

	close(g.release)
	require.NoError(t, <-first)
	assert.Equal(t, Idle, s.Status().State)
	assert.Equal(t, gpio.Low, drv.Level(17))
}

func TestCycle_FailureIsReported(t *testing.T) {
	rec := actuator.NewRecorder()
	rec.FailOn(arm.Gripper, errors.New("servo stalled"))
	s, err := New(Config{Sequencer: newSequencer(t, rec)})
	require.NoError(t, err)
	start(t, s)

	res, err := s.Submit(context.Background(), Request{Kind: KindCycle, Category: motion.Metal})
	var aerr *motion.ActuatorError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, arm.Gripper, aerr.Joint)
	assert.Len(t, res.Reports, 1, "the cycle stops at the failed grab")

	st := s.Status()
	assert.False(t, st.Consistent)
	assert.Contains(t, st.LastError, "servo stalled")
	assert.Zero(t, st.Cycles)
}

func TestCycle_NothingRecognised(t *testing.T) {
	rec := actuator.NewRecorder()
	s, err := New(Config{
		Sequencer:  newSequencer(t, rec),
		Classifier: classifierFunc(func(context.Context) (Classification, error) { return Classification{}, nil }),
	})
	require.NoError(t, err)
	start(t, s)

	res, err := s.Submit(context.Background(), Request{Kind: KindCycle})
	require.NoError(t, err)
	assert.Empty(t, res.Reports)
	assert.Empty(t, rec.Commands())
}

type classifierFunc func(context.Context) (Classification, error)

func (f classifierFunc) Classify(ctx context.Context) (Classification, error) { return f(ctx) }

func TestRun_SensorTriggersCycle(t *testing.T) {
	rec := actuator.NewRecorder()
	sensor := presence.NewMock()
	sensor.Set(1)

	var mu sync.Mutex
	var seen []Status
	s, err := New(Config{
		Sequencer:    newSequencer(t, rec),
		Classifier:   FixedClassifier{Category: motion.Plastic},
		Sensor:       sensor,
		PollInterval: 5 * time.Millisecond,
		OnChange: func(st Status) {
			if st.State == Idle {
				// The item has left the pickup point.
				sensor.Set(0)
			}
			mu.Lock()
			seen = append(seen, st)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	start(t, s)

	require.Eventually(t, func() bool { return s.Status().Cycles == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.Status().Cycles, "no new cycle without a new item")
	assert.Equal(t, motion.Plastic, s.Status().LastCategory)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, InMotion, seen[0].State)
	assert.Equal(t, Idle, seen[1].State)
}

func TestRun_HomeOnStart(t *testing.T) {
	rec := actuator.NewRecorder()
	s, err := New(Config{Sequencer: newSequencer(t, rec), HomeOnStart: true})
	require.NoError(t, err)
	start(t, s)

	require.Eventually(t, func() bool { return len(rec.Commands()) == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, arm.Gripper, rec.Joints()[5])
}

func TestRun_ReadyAfterStartupHoming(t *testing.T) {
	g := newGate()
	s, err := New(Config{Sequencer: newSequencer(t, g), HomeOnStart: true})
	require.NoError(t, err)
	start(t, s)
	<-g.started

	select {
	case <-s.Ready():
		t.Fatal("ready while the start-up home move is running")
	default:
	}
	_, err = s.Submit(context.Background(), Request{Kind: KindGrab})
	assert.ErrorIs(t, err, ErrBusy)

	close(g.release)
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("sorter never became ready")
	}
	_, err = s.Submit(context.Background(), Request{Kind: KindGrab})
	require.NoError(t, err)
	assert.Equal(t, Idle, s.Status().State)
}

func TestRun_ReadyWithoutHoming(t *testing.T) {
	s, err := New(Config{Sequencer: newSequencer(t, actuator.NewRecorder())})
	require.NoError(t, err)
	start(t, s)

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("sorter never became ready")
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	s, err := New(Config{Sequencer: newSequencer(t, actuator.NewRecorder())})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)

	_, err = s.Submit(context.Background(), Request{Kind: KindHome})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Sequencer: newSequencer(t, actuator.NewRecorder()), Sensor: presence.NewMock()})
	assert.Error(t, err, "sensor without classifier")

	_, err = New(Config{
		Sequencer: newSequencer(t, actuator.NewRecorder()),
		GrabPose:  kinematics.TargetPose{X: 1, Y: 1, Zone: 0},
	})
	assert.Error(t, err)
}

func TestFixedClassifier(t *testing.T) {
	c, err := FixedClassifier{Category: motion.Cardboard}.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Classification{Category: motion.Cardboard, Confidence: 1, OK: true}, c)

	_, err = FixedClassifier{Category: "Madera"}.Classify(context.Background())
	assert.ErrorIs(t, err, motion.ErrUnknownCategory)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "in_motion", InMotion.String())
	b, err := InMotion.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "in_motion", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("in_motion")))
	assert.Equal(t, InMotion, s)
	assert.Error(t, s.UnmarshalText([]byte("asleep")))
}
