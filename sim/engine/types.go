package engine

import (
	"fmt"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

// Status is the engine execution state
type Status int

const (
	Stopped Status = iota
	Running
	Suspended
	Repositioning
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Repositioning:
		return "repositioning"
	default:
		return "invalid"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{Stopped, Running, Suspended, Repositioning} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Request is a pending control request
type Request int

const (
	RequestNone Request = iota
	RequestPlay
	RequestPause
	RequestStop
	RequestReposition
)

// String returns the request name
func (r Request) String() string {
	switch r {
	case RequestNone:
		return "none"
	case RequestPlay:
		return "play"
	case RequestPause:
		return "pause"
	case RequestStop:
		return "stop"
	case RequestReposition:
		return "reposition"
	default:
		return "invalid"
	}
}

// Sensor identifies one of the three color sensors
type Sensor int

const (
	SensorA Sensor = iota // right
	SensorB               // center
	SensorC               // left
)

// Sensors lists all sensors in mount order
var Sensors = [...]Sensor{SensorA, SensorB, SensorC}

// String returns the sensor label
func (s Sensor) String() string {
	switch s {
	case SensorA:
		return "A"
	case SensorB:
		return "B"
	case SensorC:
		return "C"
	default:
		return "?"
	}
}

// Pose is the robot position in pixels and heading in degrees,
// clockwise positive with 0 pointing up. Heading is never normalized.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Metrics accumulates travel distances in centimeters
type Metrics struct {
	DistanceTraveled float64 `json:"distance_traveled"`
	DistanceOffLine  float64 `json:"distance_off_line"`
}

// Point is a pixel offset relative to the robot center
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Telemetry is a consistent snapshot of the engine for display
type Telemetry struct {
	Pose      Pose                   `json:"pose"`
	Metrics   Metrics                `json:"metrics"`
	OnLine    bool                   `json:"on_line"`
	Sensors   map[string]world.Color `json:"sensors"`
	Status    Status                 `json:"status"`
	Visible   bool                   `json:"visible"`
	Delay     time.Duration          `json:"delay"`
	Map       string                 `json:"map"`
	Policy    string                 `json:"policy,omitempty"`
	RobotSize int                    `json:"robot_size"`
}

// RunResult describes one policy execution
type RunResult struct {
	Policy    string    `json:"policy"`
	Map       string    `json:"map"`
	Metrics   Metrics   `json:"metrics"`
	Goal      bool      `json:"goal"`
	Err       error     `json:"-"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Hooks are callbacks invoked by the engine outside its lock
type Hooks struct {
	// OnRedraw is called from Delay when the view is visible, and after
	// manual pose changes.
	OnRedraw func(Telemetry)
	// OnExternalStop is called when a policy finishes without a pending
	// request, so the controller can reset its toggle state.
	OnExternalStop func()
	// OnRunComplete is called when a run ends without being preempted by
	// a request: goal reached, policy returned, failed or panicked.
	OnRunComplete func(RunResult)
}
