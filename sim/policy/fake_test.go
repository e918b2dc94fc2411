package policy

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

// fakeRobot scripts sensor readings and records actuator calls
type fakeRobot struct {
	colors  func(step int) [3]world.Color
	onLine  bool
	goalAt  int
	steps   int
	actions []string
	resets  int
	delayFn func() error
}

func (f *fakeRobot) record(a string) { f.actions = append(f.actions, a) }

func (f *fakeRobot) Forward(cm float64)        { f.record("forward " + ftoa(cm)) }
func (f *fakeRobot) Backward(cm float64)       { f.record("backward " + ftoa(cm)) }
func (f *fakeRobot) Rotate(angle float64)      { f.record("rotate " + ftoa(angle)) }
func (f *fakeRobot) RotateRight(angle float64) { f.Rotate(angle) }
func (f *fakeRobot) RotateLeft(angle float64)  { f.Rotate(-angle) }

func (f *fakeRobot) Color(s engine.Sensor) world.Color {
	return f.colors(f.steps)[s]
}

func (f *fakeRobot) IsOnLine() bool { return f.onLine }

func (f *fakeRobot) IsOnGoal() bool { return f.goalAt > 0 && f.steps >= f.goalAt }

func (f *fakeRobot) Pose() engine.Pose       { return engine.Pose{} }
func (f *fakeRobot) Metrics() engine.Metrics { return engine.Metrics{} }
func (f *fakeRobot) Reset()                  { f.resets++ }

func (f *fakeRobot) Delay() error {
	f.steps++
	if f.delayFn != nil {
		return f.delayFn()
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func constant(a, b, c world.Color) func(int) [3]world.Color {
	return func(int) [3]world.Color { return [3]world.Color{a, b, c} }
}

func runPolicy(t *testing.T, p engine.Policy, r engine.Robot) error {
	t.Helper()
	errs := make(chan error, 1)
	go func() { errs <- p.Run(context.Background(), r) }()
	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for policy")
		return nil
	}
}
