package engine

import (
	"math"

	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

// Body is the robot's physical model over a map: pose, travel metrics,
// actuators and sensors. Body is not safe for concurrent use; Engine
// serializes access to it.
type Body struct {
	world   *world.Map
	physics Physics
	start   Pose
	pose    Pose
	metrics Metrics
}

// NewBody places a robot at start on m
func NewBody(m *world.Map, physics Physics, start Pose) *Body {
	return &Body{
		world:   m,
		physics: physics,
		start:   start,
		pose:    start,
	}
}

// Reset returns the robot to its start pose and clears metrics
func (b *Body) Reset() {
	b.pose = b.start
	b.metrics = Metrics{}
}

// ResetMetrics clears metrics without moving the robot
func (b *Body) ResetMetrics() {
	b.metrics = Metrics{}
}

// Pose returns the current pose
func (b *Body) Pose() Pose {
	return b.pose
}

// Metrics returns the accumulated travel metrics
func (b *Body) Metrics() Metrics {
	return b.metrics
}

// Map returns the map the robot drives on
func (b *Body) Map() *world.Map {
	return b.world
}

// Place moves the robot without physics or metric changes
func (b *Body) Place(x, y float64) {
	b.pose.X = x
	b.pose.Y = y
}

// SetHeading sets the heading without physics or metric changes
func (b *Body) SetHeading(heading float64) {
	b.pose.Heading = heading
}

// Forward moves the robot cm centimeters along its heading; negative
// values move it backwards. Off-line distance is sampled every pixel
// along the path, while the final position is applied as one
// displacement from the original position. Zero and non-finite
// distances are ignored.
func (b *Body) Forward(cm float64) {
	if cm == 0 || math.IsNaN(cm) || math.IsInf(cm, 0) {
		return
	}

	rad := b.pose.Heading * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cmPerPixel := b.physics.CmPerPixel
	dist := math.Abs(cm)

	step := cmPerPixel
	if cm < 0 {
		step = -cmPerPixel
	}

	// walk a probe point along the path one pixel at a time
	x, y := b.pose.X, b.pose.Y
	curr := 0.0
	miss := 0.0
	for curr != cm {
		unit := step
		if math.Abs(curr+unit) < dist {
			curr += unit
		} else {
			unit = cm - curr
			curr = cm
		}
		x += sin * (unit / cmPerPixel)
		y -= cos * (unit / cmPerPixel)

		if !b.onLineAt(x, y) {
			miss += math.Abs(unit)
		}
	}
	if miss > dist {
		miss = dist
	}

	px := cm / cmPerPixel
	b.pose.X += sin * px
	b.pose.Y -= cos * px

	b.metrics.DistanceTraveled += dist
	b.metrics.DistanceOffLine += miss
}

// Backward moves the robot cm centimeters against its heading
func (b *Body) Backward(cm float64) {
	b.Forward(-cm)
}

// Rotate turns the robot in place by angle degrees, clockwise positive.
// The equivalent arc length at the turning radius counts as travel, and
// as off-line travel when the robot is not on the line.
func (b *Body) Rotate(angle float64) {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return
	}
	b.pose.Heading += angle

	arc := ArcLength(b.physics.TurningRadius, angle)
	b.metrics.DistanceTraveled += arc
	if !b.IsOnLine() {
		b.metrics.DistanceOffLine += arc
	}
}

// ArcLength returns the distance covered by a rotation of angle degrees
// at the given radius.
func ArcLength(radius, angle float64) float64 {
	return (2 * math.Pi * radius) * (math.Abs(angle) / 360)
}

// SensorPosition returns the map pixel a sensor currently reads
func (b *Body) SensorPosition(s Sensor) (int, int) {
	mount := b.physics.SensorMounts[s]
	rad := b.pose.Heading * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	x := b.pose.X + mount.X*cos - mount.Y*sin
	y := b.pose.Y + mount.X*sin + mount.Y*cos
	return int(math.Round(x)), int(math.Round(y))
}

// Color reads a sensor
func (b *Body) Color(s Sensor) world.Color {
	if s < SensorA || s > SensorC {
		return world.Unknown
	}
	x, y := b.SensorPosition(s)
	return b.world.ColorAt(x, y)
}

// IsOnGoal reports whether any sensor reads green
func (b *Body) IsOnGoal() bool {
	for _, s := range Sensors {
		if b.Color(s) == world.Green {
			return true
		}
	}
	return false
}

// IsOnLine reports whether the robot footprint touches a black pixel
func (b *Body) IsOnLine() bool {
	return b.onLineAt(b.pose.X, b.pose.Y)
}

// onLineAt probes a horizontal and a vertical line of points through
// (x, y). The probe is axis-aligned and does not follow the heading.
func (b *Body) onLineAt(x, y float64) bool {
	span, step := b.physics.ProbeSpan, b.physics.ProbeStep

	for dx := -span; dx != span; dx += step {
		if b.world.ColorAt(int(x+float64(dx)), int(y)) == world.Black {
			return true
		}
	}
	for dy := -span; dy != span; dy += step {
		if b.world.ColorAt(int(x), int(y+float64(dy))) == world.Black {
			return true
		}
	}
	return false
}
