package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// idlePolicy paces forever without moving
var idlePolicy = PolicyFunc{ID: "idle", Fn: func(ctx context.Context, r Robot) error {
	for {
		if err := r.Delay(); err != nil {
			return err
		}
	}
}}

// crawlPolicy moves 1cm per step until interrupted
var crawlPolicy = PolicyFunc{ID: "crawl", Fn: func(ctx context.Context, r Robot) error {
	for {
		r.Forward(1)
		if err := r.Delay(); err != nil {
			return err
		}
	}
}}

// goalPolicy drives straight until a sensor reads green
var goalPolicy = PolicyFunc{ID: "goal", Fn: func(ctx context.Context, r Robot) error {
	for i := 0; i < 1000; i++ {
		r.Forward(1)
		if r.IsOnGoal() {
			return nil
		}
		if err := r.Delay(); err != nil {
			return err
		}
	}
	return errors.New("goal not reached")
}}

func newTestEngine(t *testing.T, delay time.Duration, opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Delay = delay

	e, err := New(blankMap(t), cfg, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	e.Start(context.Background())
	t.Cleanup(e.Close)
	return e
}

func waitForStatus(t *testing.T, e *Engine, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for status %v, current %v", want, e.Status())
}

func TestNewEngine(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); !errors.Is(err, ErrNilMap) {
		t.Errorf("Expected ErrNilMap, got %v", err)
	}

	bad := DefaultConfig()
	bad.Physics.CmPerPixel = 0
	if _, err := New(blankMap(t), bad); err == nil {
		t.Error("Expected invalid config to be rejected")
	}

	e, err := New(blankMap(t), DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if e.Status() != Stopped {
		t.Errorf("Expected initial status stopped, got %v", e.Status())
	}
	tel := e.Telemetry()
	if tel.Pose != DefaultStart {
		t.Errorf("Expected default start pose, got %+v", tel.Pose)
	}
	if !tel.Visible || tel.Delay != DefaultDelay || tel.RobotSize != DefaultRobotSize {
		t.Errorf("Unexpected telemetry defaults: %+v", tel)
	}
	if len(tel.Sensors) != 3 {
		t.Errorf("Expected three sensor readings, got %d", len(tel.Sensors))
	}

	// Close without Start must not block
	e.Close()
}

func TestRequestsRejectedWhileStopped(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy))
	before := e.Telemetry()

	for i := 0; i < 3; i++ {
		if e.RequestStop() {
			t.Fatal("Expected stop to be rejected while stopped")
		}
		if e.RequestPause() {
			t.Fatal("Expected pause to be rejected while stopped")
		}
	}

	after := e.Telemetry()
	if after.Pose != before.Pose || after.Metrics != before.Metrics {
		t.Errorf("Expected rejected requests to leave pose and metrics, got %+v", after)
	}
	if e.Status() != Stopped {
		t.Errorf("Expected status stopped, got %v", e.Status())
	}
}

func TestPlayPauseStop(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(crawlPolicy))

	if !e.RequestPlay() {
		t.Fatal("Expected play to be accepted")
	}
	waitForStatus(t, e, Running)

	if !e.RequestPause() {
		t.Fatal("Expected pause to be accepted while running")
	}
	waitForStatus(t, e, Suspended)
	if e.RequestPause() {
		t.Error("Expected pause to be rejected while suspended")
	}

	paused := e.Telemetry()
	time.Sleep(20 * time.Millisecond)
	if e.Telemetry().Pose != paused.Pose {
		t.Error("Expected robot to stay still while suspended")
	}

	// resuming keeps pose and metrics
	if !e.RequestPlay() {
		t.Fatal("Expected play to be accepted while suspended")
	}
	waitForStatus(t, e, Running)
	if got := e.Telemetry().Metrics.DistanceTraveled; got < paused.Metrics.DistanceTraveled {
		t.Errorf("Expected metrics to carry over after resume, got %v < %v", got, paused.Metrics.DistanceTraveled)
	}

	if !e.RequestStop() {
		t.Fatal("Expected stop to be accepted while running")
	}
	waitForStatus(t, e, Stopped)
	if e.RequestStop() {
		t.Error("Expected repeated stop to be rejected")
	}
}

func TestStopFromSuspended(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy))

	e.RequestPlay()
	waitForStatus(t, e, Running)
	e.RequestPause()
	waitForStatus(t, e, Suspended)

	if !e.RequestStop() {
		t.Fatal("Expected stop to be accepted while suspended")
	}
	waitForStatus(t, e, Stopped)
}

func TestPlayFromStoppedReinitializes(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(crawlPolicy))

	e.RequestPlay()
	waitForStatus(t, e, Running)
	time.Sleep(10 * time.Millisecond)
	e.RequestStop()
	waitForStatus(t, e, Stopped)

	moved := e.Telemetry()
	if moved.Metrics.DistanceTraveled == 0 {
		t.Fatal("Expected the crawl policy to move")
	}

	e.SetPolicy(idlePolicy)
	e.RequestPlay()
	waitForStatus(t, e, Running)

	tel := e.Telemetry()
	if tel.Pose != DefaultStart {
		t.Errorf("Expected pose reset to start, got %+v", tel.Pose)
	}
	if tel.Metrics != (Metrics{}) {
		t.Errorf("Expected metrics reset, got %+v", tel.Metrics)
	}
}

func TestRepositionRoundTripFromRunning(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy))

	e.RequestPlay()
	waitForStatus(t, e, Running)
	heading := e.Telemetry().Pose.Heading

	e.BeginReposition()
	waitForStatus(t, e, Repositioning)

	if e.RequestPlay() {
		t.Error("Expected play to be rejected while repositioning")
	}
	if !e.UpdatePosition(40, 50) {
		t.Error("Expected update to be accepted while repositioning")
	}
	if !e.EndReposition(123.5, 77.25) {
		t.Fatal("Expected end to be accepted while repositioning")
	}
	waitForStatus(t, e, Running)

	want := Pose{X: 123.5, Y: 77.25, Heading: heading}
	if got := e.Telemetry().Pose; got != want {
		t.Errorf("Expected pose %+v, got %+v", want, got)
	}

	if e.UpdatePosition(1, 1) || e.EndReposition(1, 1) {
		t.Error("Expected reposition calls to be rejected outside a reposition")
	}
}

func TestRepositionFromSuspended(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy))

	e.RequestPlay()
	waitForStatus(t, e, Running)
	e.RequestPause()
	waitForStatus(t, e, Suspended)

	e.BeginReposition()
	waitForStatus(t, e, Repositioning)
	e.EndReposition(10, 20)
	waitForStatus(t, e, Suspended)
}

func TestRepositionFromStoppedKeepsPose(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy))

	e.BeginReposition()
	waitForStatus(t, e, Repositioning)
	e.EndReposition(10, 20)
	waitForStatus(t, e, Stopped)
	e.SetHeading(45)

	e.RequestPlay()
	waitForStatus(t, e, Running)

	want := Pose{X: 10, Y: 20, Heading: 45}
	if got := e.Telemetry().Pose; got != want {
		t.Errorf("Expected play to keep the placed pose %+v, got %+v", want, got)
	}
}

func TestRunToGoal(t *testing.T) {
	// green row at y in [20, 30)
	m := layoutMap(t, func(row, col int) byte {
		if row == 2 {
			return 'G'
		}
		return 'W'
	})

	var stops atomic.Int32
	results := make(chan RunResult, 1)
	hooks := Hooks{
		OnExternalStop: func() { stops.Add(1) },
		OnRunComplete:  func(r RunResult) { results <- r },
	}

	cfg := DefaultConfig()
	cfg.Delay = 0
	e, err := New(m, cfg, WithPolicy(goalPolicy), WithHooks(hooks), WithHidden())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	e.Start(context.Background())
	defer e.Close()

	e.RequestPlay()

	select {
	case r := <-results:
		if !r.Goal {
			t.Error("Expected the run to reach the goal")
		}
		if r.Err != nil {
			t.Errorf("Expected no error, got %v", r.Err)
		}
		if r.Policy != "goal" || r.Map != "test" {
			t.Errorf("Unexpected run identity: %+v", r)
		}
		if r.Metrics.DistanceTraveled <= 0 {
			t.Errorf("Expected distance traveled, got %+v", r.Metrics)
		}
		if r.EndedAt.Before(r.StartedAt) {
			t.Error("Expected end time after start time")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for run completion")
	}

	waitForStatus(t, e, Stopped)
	if stops.Load() != 1 {
		t.Errorf("Expected one external stop notification, got %d", stops.Load())
	}
}

func TestPolicyFailures(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"error", PolicyFunc{ID: "broken", Fn: func(ctx context.Context, r Robot) error {
			r.Forward(5)
			return errors.New("sensor fault")
		}}},
		{"panic", PolicyFunc{ID: "panicky", Fn: func(ctx context.Context, r Robot) error {
			r.Forward(5)
			panic("boom")
		}}},
		{"no policy", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan RunResult, 1)
			e := newTestEngine(t, 0, WithHooks(Hooks{
				OnRunComplete: func(r RunResult) { results <- r },
			}))
			if tt.policy != nil {
				e.SetPolicy(tt.policy)
			}

			e.RequestPlay()
			select {
			case r := <-results:
				if r.Err == nil {
					t.Error("Expected the run to report an error")
				}
				if tt.policy == nil && !errors.Is(r.Err, ErrNoPolicy) {
					t.Errorf("Expected ErrNoPolicy, got %v", r.Err)
				}
				if tt.policy != nil && r.Metrics.DistanceTraveled != 5 {
					t.Errorf("Expected committed metrics to survive, got %+v", r.Metrics)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for run completion")
			}
			waitForStatus(t, e, Stopped)
		})
	}
}

func TestPreemptedRunDoesNotComplete(t *testing.T) {
	var completed atomic.Int32
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy), WithHooks(Hooks{
		OnRunComplete:  func(RunResult) { completed.Add(1) },
		OnExternalStop: func() { completed.Add(1) },
	}))

	e.RequestPlay()
	waitForStatus(t, e, Running)
	e.RequestStop()
	waitForStatus(t, e, Stopped)

	if completed.Load() != 0 {
		t.Errorf("Expected no completion callbacks for a stopped run, got %d", completed.Load())
	}
}

func TestCloseDuringRunDoesNotComplete(t *testing.T) {
	var stops, completed atomic.Int32
	cfg := DefaultConfig()
	cfg.Delay = 50 * time.Millisecond
	e, err := New(blankMap(t), cfg, WithPolicy(idlePolicy), WithHooks(Hooks{
		OnExternalStop: func() { stops.Add(1) },
		OnRunComplete:  func(RunResult) { completed.Add(1) },
	}))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	e.Start(context.Background())

	e.RequestPlay()
	waitForStatus(t, e, Running)
	time.Sleep(30 * time.Millisecond)
	e.Close()

	if stops.Load() != 0 || completed.Load() != 0 {
		t.Errorf("Expected no callbacks on close, got stop=%d complete=%d", stops.Load(), completed.Load())
	}
	if e.Status() != Stopped {
		t.Errorf("Expected stopped after close, got %v", e.Status())
	}
}

func TestVisibilityAndRedraw(t *testing.T) {
	var redraws atomic.Int32
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy), WithHooks(Hooks{
		OnRedraw: func(Telemetry) { redraws.Add(1) },
	}))

	e.SetVisibility(false)
	if e.Visible() {
		t.Fatal("Expected engine to be hidden")
	}
	if redraws.Load() != 1 {
		t.Fatalf("Expected one redraw on toggle, got %d", redraws.Load())
	}

	e.RequestPlay()
	waitForStatus(t, e, Running)
	time.Sleep(20 * time.Millisecond)
	if redraws.Load() != 1 {
		t.Errorf("Expected no redraws while hidden, got %d", redraws.Load())
	}

	e.SetVisibility(true)
	time.Sleep(20 * time.Millisecond)
	if redraws.Load() < 3 {
		t.Errorf("Expected redraws to resume while visible, got %d", redraws.Load())
	}
}

func TestSpeedAndDelay(t *testing.T) {
	e := newTestEngine(t, time.Millisecond)

	if d := e.SetSpeed(MaxSpeedLevel); d != SpeedDelay(MaxSpeedLevel) || e.PacingDelay() != d {
		t.Errorf("Expected pacing delay %v, got %v", SpeedDelay(MaxSpeedLevel), e.PacingDelay())
	}
	e.SetDelay(-time.Second)
	if e.PacingDelay() != 0 {
		t.Errorf("Expected negative delay clamped to 0, got %v", e.PacingDelay())
	}
}

func TestPauseInterruptsLongDelay(t *testing.T) {
	e := newTestEngine(t, time.Hour, WithPolicy(idlePolicy))

	e.RequestPlay()
	waitForStatus(t, e, Running)

	start := time.Now()
	e.RequestPause()
	waitForStatus(t, e, Suspended)
	if time.Since(start) > time.Second {
		t.Error("Expected pause to interrupt the pacing delay")
	}
}

func TestReconfigure(t *testing.T) {
	e := newTestEngine(t, time.Millisecond, WithPolicy(idlePolicy))

	e.RequestPlay()
	waitForStatus(t, e, Running)
	if err := e.Reconfigure(blankMap(t), DefaultConfig()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while running, got %v", err)
	}

	e.RequestStop()
	waitForStatus(t, e, Stopped)

	cfg := ConfigFor("map1-rect")
	if err := e.Reconfigure(verticalLineMap(t), cfg); err != nil {
		t.Fatalf("Failed to reconfigure: %v", err)
	}
	if got := e.Telemetry().Pose; got != cfg.Start {
		t.Errorf("Expected start pose %+v, got %+v", cfg.Start, got)
	}
	if e.Config() != cfg {
		t.Error("Expected new config to be active")
	}
}

func TestConcurrentRequests(t *testing.T) {
	e := newTestEngine(t, 0, WithPolicy(crawlPolicy))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 4 {
				case 0:
					e.RequestPlay()
				case 1:
					e.RequestPause()
				case 2:
					e.RequestStop()
				case 3:
					_ = e.Telemetry()
				}
			}
		}(i)
	}
	wg.Wait()

	e.RequestPlay()
	waitForStatus(t, e, Running)
	e.RequestStop()
	waitForStatus(t, e, Stopped)
}
