package policy

import (
	"context"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

const LineTracerName = "linetracer"

// Line tracer steering, in degrees and centimeters
const (
	correctionAngle = 10
	recoveryAngle   = 30
	recoveryForward = 10
	stepForward     = 1
)

type turn int

const (
	turnNone turn = iota
	turnRight
	turnLeft
)

// LineTracer follows a black line with the two outer sensors: a black
// right sensor steers right, a black left sensor steers left. When all
// three sensors read white it swings toward the side it last corrected
// to and lunges forward to reacquire the line.
type LineTracer struct{}

func NewLineTracer() *LineTracer {
	return &LineTracer{}
}

func (*LineTracer) Name() string { return LineTracerName }

func (*LineTracer) Run(ctx context.Context, r engine.Robot) error {
	last := turnNone
	for {
		if r.Color(engine.SensorA) == world.Black {
			last = turnRight
			r.RotateRight(correctionAngle)
		}
		if r.Color(engine.SensorC) == world.Black {
			last = turnLeft
			r.RotateLeft(correctionAngle)
		}

		if allWhite(r) {
			switch last {
			case turnRight:
				r.RotateRight(recoveryAngle)
			case turnLeft:
				r.RotateLeft(recoveryAngle)
			}
			r.Forward(recoveryForward)
		}

		r.Forward(stepForward)

		if err := r.Delay(); err != nil {
			return err
		}
		if r.IsOnGoal() {
			return nil
		}
	}
}

func allWhite(r engine.Robot) bool {
	for _, s := range engine.Sensors {
		if r.Color(s) != world.White {
			return false
		}
	}
	return true
}
