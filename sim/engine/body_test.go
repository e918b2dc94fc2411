package engine

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/world"

	. "github.com/smartystreets/goconvey/convey"
)

// blankMap returns a 400x300 all-white map
func blankMap(t *testing.T) *world.Map {
	t.Helper()
	return layoutMap(t, func(row, col int) byte { return 'W' })
}

// layoutMap builds a 40x30 layout at scale 10 from a cell function
func layoutMap(t *testing.T, cell func(row, col int) byte) *world.Map {
	t.Helper()
	rows := make([]string, 30)
	for r := range rows {
		var b strings.Builder
		for c := 0; c < 40; c++ {
			b.WriteByte(cell(r, c))
		}
		rows[r] = b.String()
	}
	m, err := world.FromLayout("test", rows, 10)
	if err != nil {
		t.Fatalf("Failed to build map: %v", err)
	}
	return m
}

// verticalLineMap has a black column covering x in [200, 210)
func verticalLineMap(t *testing.T) *world.Map {
	return layoutMap(t, func(row, col int) byte {
		if col == 20 {
			return 'B'
		}
		return 'W'
	})
}

func TestForwardEndToEnd(t *testing.T) {
	body := NewBody(blankMap(t), DefaultPhysics(), Pose{X: 200, Y: 200, Heading: 0})

	body.Forward(100)

	pose := body.Pose()
	if pose.X != 200 {
		t.Errorf("Expected x 200, got %v", pose.X)
	}
	if want := 200 - 100/DefaultCmPerPixel; pose.Y != want {
		t.Errorf("Expected y %v, got %v", want, pose.Y)
	}
	if pose.Heading != 0 {
		t.Errorf("Expected heading unchanged, got %v", pose.Heading)
	}

	m := body.Metrics()
	if m.DistanceTraveled != 100 {
		t.Errorf("Expected distance traveled 100, got %v", m.DistanceTraveled)
	}
	if m.DistanceOffLine > m.DistanceTraveled || m.DistanceOffLine < 99.99 {
		t.Errorf("Expected almost all of the path off line, got %v", m.DistanceOffLine)
	}
}

func TestForwardHeadings(t *testing.T) {
	tests := []struct {
		name    string
		heading float64
		wantX   float64
		wantY   float64
	}{
		{"up", 0, 200, 200 - 10/DefaultCmPerPixel},
		{"right", 90, 200 + 10/DefaultCmPerPixel, 200},
		{"down", 180, 200, 200 + 10/DefaultCmPerPixel},
		{"left", 270, 200 - 10/DefaultCmPerPixel, 200},
		{"accumulated heading", 450, 200 + 10/DefaultCmPerPixel, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewBody(blankMap(t), DefaultPhysics(), Pose{X: 200, Y: 200, Heading: tt.heading})
			body.Forward(10)

			pose := body.Pose()
			if math.Abs(pose.X-tt.wantX) > 1e-9 || math.Abs(pose.Y-tt.wantY) > 1e-9 {
				t.Errorf("Expected (%v, %v), got (%v, %v)", tt.wantX, tt.wantY, pose.X, pose.Y)
			}
		})
	}
}

func TestBackward(t *testing.T) {
	body := NewBody(blankMap(t), DefaultPhysics(), Pose{X: 200, Y: 200, Heading: 0})
	body.Backward(9)

	if want := 200 + 9/DefaultCmPerPixel; math.Abs(body.Pose().Y-want) > 1e-9 {
		t.Errorf("Expected y %v, got %v", want, body.Pose().Y)
	}
	if body.Metrics().DistanceTraveled != 9 {
		t.Errorf("Expected backward travel to count as 9, got %v", body.Metrics().DistanceTraveled)
	}
}

func TestForwardAlongLine(t *testing.T) {
	body := NewBody(verticalLineMap(t), DefaultPhysics(), Pose{X: 205, Y: 250, Heading: 0})
	body.Forward(20)

	m := body.Metrics()
	if m.DistanceTraveled != 20 {
		t.Errorf("Expected distance traveled 20, got %v", m.DistanceTraveled)
	}
	if m.DistanceOffLine != 0 {
		t.Errorf("Expected no off-line distance along the line, got %v", m.DistanceOffLine)
	}
}

func TestRotate(t *testing.T) {
	arc := ArcLength(DefaultTurningRadius, 90)
	if want := 2 * math.Pi * DefaultTurningRadius / 4; math.Abs(arc-want) > 1e-12 {
		t.Fatalf("Expected arc %v, got %v", want, arc)
	}

	tests := []struct {
		name        string
		m           func(t *testing.T) *world.Map
		angle       float64
		wantHeading float64
		wantOffLine float64
	}{
		{"clockwise off line", blankMap, 90, 90, arc},
		{"counterclockwise off line", blankMap, -90, -90, arc},
		{"on line", verticalLineMap, 90, 90, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewBody(tt.m(t), DefaultPhysics(), Pose{X: 205, Y: 150, Heading: 0})
			body.Rotate(tt.angle)

			if body.Pose().Heading != tt.wantHeading {
				t.Errorf("Expected heading %v, got %v", tt.wantHeading, body.Pose().Heading)
			}
			m := body.Metrics()
			if m.DistanceTraveled != arc {
				t.Errorf("Expected distance traveled %v, got %v", arc, m.DistanceTraveled)
			}
			if m.DistanceOffLine != tt.wantOffLine {
				t.Errorf("Expected off-line distance %v, got %v", tt.wantOffLine, m.DistanceOffLine)
			}
		})
	}
}

func TestNonFiniteMovesIgnored(t *testing.T) {
	start := Pose{X: 200, Y: 200, Heading: 30}
	values := []float64{math.NaN(), math.Inf(1), math.Inf(-1)}

	for _, v := range values {
		body := NewBody(blankMap(t), DefaultPhysics(), start)
		done := make(chan struct{})
		go func() {
			body.Forward(v)
			body.Backward(v)
			body.Rotate(v)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("Move by %v did not return", v)
		}
		if body.Pose() != start || body.Metrics() != (Metrics{}) {
			t.Errorf("Expected move by %v to be ignored, got %+v %+v", v, body.Pose(), body.Metrics())
		}
	}
}

func TestHeadingNotNormalized(t *testing.T) {
	body := NewBody(blankMap(t), DefaultPhysics(), Pose{X: 200, Y: 200})
	for i := 0; i < 5; i++ {
		body.Rotate(90)
	}
	if body.Pose().Heading != 450 {
		t.Errorf("Expected heading 450, got %v", body.Pose().Heading)
	}
}

func TestSensorPosition(t *testing.T) {
	tests := []struct {
		name    string
		heading float64
		sensor  Sensor
		wantX   int
		wantY   int
	}{
		{"A facing up", 0, SensorA, 210, 180},
		{"B facing up", 0, SensorB, 200, 180},
		{"C facing up", 0, SensorC, 190, 180},
		{"A facing right", 90, SensorA, 220, 210},
		{"B facing right", 90, SensorB, 220, 200},
		{"C facing right", 90, SensorC, 220, 190},
		{"B facing down", 180, SensorB, 200, 220},
		{"A facing left", -90, SensorA, 180, 190},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewBody(blankMap(t), DefaultPhysics(), Pose{X: 200, Y: 200, Heading: tt.heading})
			x, y := body.SensorPosition(tt.sensor)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("Expected (%d, %d), got (%d, %d)", tt.wantX, tt.wantY, x, y)
			}
		})
	}
}

func TestSensorColor(t *testing.T) {
	// green goal row at y in [170, 180), black line at x in [200, 210)
	m := layoutMap(t, func(row, col int) byte {
		switch {
		case row == 17:
			return 'G'
		case col == 20:
			return 'B'
		case col == 30:
			return 'R'
		default:
			return 'W'
		}
	})

	tests := []struct {
		name   string
		pose   Pose
		sensor Sensor
		want   world.Color
	}{
		{"center on line", Pose{X: 205, Y: 250}, SensorB, world.Black},
		{"right of line", Pose{X: 205, Y: 250}, SensorA, world.White},
		{"left sensor on line", Pose{X: 215, Y: 250}, SensorC, world.Black},
		{"goal row", Pose{X: 100, Y: 195}, SensorB, world.Green},
		{"unknown color", Pose{X: 305, Y: 250}, SensorB, world.Unknown},
		{"out of bounds", Pose{X: -100, Y: -100}, SensorB, world.White},
		{"invalid sensor", Pose{X: 205, Y: 250}, Sensor(7), world.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewBody(m, DefaultPhysics(), tt.pose)
			if got := body.Color(tt.sensor); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	body := NewBody(m, DefaultPhysics(), Pose{X: 100, Y: 195})
	if !body.IsOnGoal() {
		t.Error("Expected robot to be on goal")
	}
	body.Place(100, 250)
	if body.IsOnGoal() {
		t.Error("Expected robot not to be on goal")
	}
}

func TestIsOnLine(t *testing.T) {
	m := verticalLineMap(t)

	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"centered", 205, 150, true},
		{"probe reaches line from the left", 175, 150, true},
		{"just out of reach on the left", 170, 150, false},
		{"probe reaches line from the right", 239, 150, true},
		{"just out of reach on the right", 240, 150, false},
		{"far away", 50, 150, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := NewBody(m, DefaultPhysics(), Pose{X: tt.x, Y: tt.y, Heading: 45})
			if got := body.IsOnLine(); got != tt.want {
				t.Errorf("Expected on-line %v at (%v, %v), got %v", tt.want, tt.x, tt.y, got)
			}
		})
	}
}

func TestResetAndPlace(t *testing.T) {
	start := Pose{X: 120, Y: 80, Heading: 30}
	body := NewBody(blankMap(t), DefaultPhysics(), start)

	body.Forward(10)
	body.Rotate(45)
	body.Place(10, 20)
	body.SetHeading(5)

	if body.Pose() != (Pose{X: 10, Y: 20, Heading: 5}) {
		t.Errorf("Expected placed pose, got %+v", body.Pose())
	}
	before := body.Metrics()
	if before.DistanceTraveled == 0 {
		t.Fatal("Expected metrics to accumulate")
	}

	body.ResetMetrics()
	if body.Metrics() != (Metrics{}) || body.Pose().X != 10 {
		t.Errorf("Expected metrics cleared and pose kept, got %+v %+v", body.Metrics(), body.Pose())
	}

	body.Forward(1)
	body.Reset()
	if body.Pose() != start || body.Metrics() != (Metrics{}) {
		t.Errorf("Expected start pose and zero metrics, got %+v %+v", body.Pose(), body.Metrics())
	}
}

func TestMetricProperties(t *testing.T) {
	Convey("Given a robot driving random forward and rotate sequences", t, func() {
		rng := rand.New(rand.NewSource(42))
		physics := DefaultPhysics()
		maps := []struct {
			name string
			m    *world.Map
		}{
			{"blank", blankMap(t)},
			{"line", verticalLineMap(t)},
		}

		for _, tm := range maps {
			Convey("On the "+tm.name+" map", func() {
				body := NewBody(tm.m, physics, Pose{X: 205, Y: 150})
				expected := 0.0

				for i := 0; i < 200; i++ {
					before := body.Metrics()
					if rng.Intn(2) == 0 {
						cm := rng.Float64()*40 - 20
						body.Forward(cm)
						expected += math.Abs(cm)
					} else {
						angle := rng.Float64()*180 - 90
						body.Rotate(angle)
						expected += ArcLength(physics.TurningRadius, angle)
					}
					after := body.Metrics()

					traveled := after.DistanceTraveled - before.DistanceTraveled
					offLine := after.DistanceOffLine - before.DistanceOffLine
					So(offLine, ShouldBeLessThanOrEqualTo, traveled+1e-9)
					So(offLine, ShouldBeGreaterThanOrEqualTo, 0)
				}

				Convey("Distance traveled is the sum of every call's magnitude", func() {
					So(body.Metrics().DistanceTraveled, ShouldEqual, expected)
				})
			})
		}
	})
}
