package service

import (
	"context"
	"errors"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/config"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/policy"
	"github.com/wricardo/mcp-training/linetracer/sim/runlog"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

var (
	ErrNotRepositioning = errors.New("no reposition in progress")
	ErrNoMaps           = errors.New("no map available")
	ErrRejected         = errors.New("request rejected in the current state")
)

// SimulationService defines all simulation operations
type SimulationService interface {
	// Lifecycle
	Start(ctx context.Context)
	Close()

	// Control
	Play(ctx context.Context) (*ControlResult, error)
	Pause(ctx context.Context) (*ControlResult, error)
	Stop(ctx context.Context) (*ControlResult, error)
	RunToCompletion(ctx context.Context) (*runlog.Run, error)

	// Manual placement and display
	BeginReposition(ctx context.Context) (*engine.Telemetry, error)
	UpdatePosition(ctx context.Context, x, y float64) (*engine.Telemetry, error)
	EndReposition(ctx context.Context, x, y float64) (*engine.Telemetry, error)
	SetHeading(ctx context.Context, heading float64) (*engine.Telemetry, error)
	SetVisibility(ctx context.Context, visible bool) (*engine.Telemetry, error)
	SetSpeed(ctx context.Context, level int) (*engine.Telemetry, error)
	Telemetry(ctx context.Context) (*engine.Telemetry, error)

	// Maps and policies
	ListMaps(ctx context.Context) ([]*config.MapInfo, error)
	LoadMap(ctx context.Context, name string) (*engine.Telemetry, error)
	ListPolicies(ctx context.Context) ([]*PolicyInfo, error)
	SelectPolicy(ctx context.Context, name string) (*engine.Telemetry, error)

	// Runs
	ListRuns(ctx context.Context, filter runlog.Filter) ([]runlog.Run, error)
	GetRun(ctx context.Context, id string) (*runlog.Run, error)
}

// MapLoader loads map configurations
type MapLoader interface {
	LoadMap(name string) (*world.Map, engine.Config, error)
	ListConfigs() ([]*config.MapInfo, error)
	GetDefault() string
}

// RunStore persists run results
type RunStore interface {
	Record(ctx context.Context, result engine.RunResult) (*runlog.Run, error)
	List(ctx context.Context, filter runlog.Filter) ([]runlog.Run, error)
	Get(ctx context.Context, id string) (*runlog.Run, error)
}

// Broadcaster receives redraws and simulation events. Both methods are
// called from the engine's control goroutine and must not block.
type Broadcaster interface {
	BroadcastTelemetry(tel engine.Telemetry)
	BroadcastEvent(event string, data interface{})
}

// Broadcast event names
const (
	EventStopped     = "stopped"
	EventRunComplete = "run_complete"
	EventMapLoaded   = "map_loaded"
	EventPolicy      = "policy_selected"
)

// Options configures the service at construction
type Options struct {
	// MapName is the initial map; the loader default when empty
	MapName string
	// PolicyName is the initial policy
	PolicyName string
	// Policy carries the training settings for learning policies
	Policy policy.Config
	// Delay is the initial pacing delay
	Delay time.Duration
	// Hidden disables redraws from the start
	Hidden bool
	// Broadcaster receives redraws and events; nil discards them
	Broadcaster Broadcaster
}

// DefaultOptions returns the interactive defaults
func DefaultOptions() Options {
	return Options{
		PolicyName: policy.LineTracerName,
		Policy:     policy.DefaultConfig(),
		Delay:      engine.DefaultDelay,
	}
}

// ControlResult reports the outcome of a control request
type ControlResult struct {
	Request  string            `json:"request"`
	Accepted bool              `json:"accepted"`
	Status   engine.Status     `json:"status"`
	Message  string            `json:"message"`
	State    *engine.Telemetry `json:"state"`
}

// PolicyInfo describes a selectable policy
type PolicyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}
