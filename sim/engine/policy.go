package engine

import (
	"context"
	"errors"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

// ErrInterrupted is returned by Robot.Delay when a newer request
// preempts the running policy. Policies should return it unchanged.
var ErrInterrupted = errors.New("policy interrupted by request")

// Policy is a control algorithm driven by the engine. Run is invoked on
// the control goroutine when the engine enters Running and must call
// r.Delay at least once per logical step. Returning nil (typically
// after r.IsOnGoal reports true) ends the run; returning ErrInterrupted
// hands control back to the engine. Any other error or a panic is
// logged and ends the run.
type Policy interface {
	Name() string
	Run(ctx context.Context, r Robot) error
}

// PolicyFunc adapts a function to the Policy interface
type PolicyFunc struct {
	ID string
	Fn func(ctx context.Context, r Robot) error
}

// Name returns the policy identifier
func (p PolicyFunc) Name() string { return p.ID }

// Run calls the wrapped function
func (p PolicyFunc) Run(ctx context.Context, r Robot) error { return p.Fn(ctx, r) }

// Robot is the actuator and sensor handle given to a running policy.
// Every call except Delay is atomic with respect to interruption.
type Robot interface {
	Forward(cm float64)
	Backward(cm float64)
	Rotate(angle float64)
	RotateRight(angle float64)
	RotateLeft(angle float64)

	Color(s Sensor) world.Color
	IsOnLine() bool
	IsOnGoal() bool

	Pose() Pose
	Metrics() Metrics

	// Reset returns the robot to the start pose and clears metrics
	Reset()
	// Delay requests a redraw and sleeps for the pacing delay. It
	// returns ErrInterrupted as soon as a new request arrives.
	Delay() error
}

// control is the Robot handle for one policy run
type control struct {
	e   *Engine
	ctx context.Context
}

func (c *control) Forward(cm float64) {
	c.e.withBody(func(b *Body) { b.Forward(cm) })
}

func (c *control) Backward(cm float64) {
	c.e.withBody(func(b *Body) { b.Backward(cm) })
}

func (c *control) Rotate(angle float64) {
	c.e.withBody(func(b *Body) { b.Rotate(angle) })
}

func (c *control) RotateRight(angle float64) {
	c.Rotate(angle)
}

func (c *control) RotateLeft(angle float64) {
	c.Rotate(-angle)
}

func (c *control) Color(s Sensor) (color world.Color) {
	c.e.withBody(func(b *Body) { color = b.Color(s) })
	return
}

func (c *control) IsOnLine() (on bool) {
	c.e.withBody(func(b *Body) { on = b.IsOnLine() })
	return
}

// IsOnGoal checks the sensors for green and records a reached goal on
// the current run.
func (c *control) IsOnGoal() (goal bool) {
	c.e.withBody(func(b *Body) { goal = b.IsOnGoal() })
	if goal {
		c.e.markGoal()
	}
	return
}

func (c *control) Pose() (pose Pose) {
	c.e.withBody(func(b *Body) { pose = b.Pose() })
	return
}

func (c *control) Metrics() (m Metrics) {
	c.e.withBody(func(b *Body) { m = b.Metrics() })
	return
}

func (c *control) Reset() {
	c.e.withBody(func(b *Body) { b.Reset() })
}

func (c *control) Delay() error {
	if c.e.Visible() {
		c.e.redraw()
	}

	delay := c.e.PacingDelay()
	if delay <= 0 {
		select {
		case <-c.ctx.Done():
			return ErrInterrupted
		default:
			return nil
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}
